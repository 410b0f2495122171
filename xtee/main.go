package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/syscheme/xtee"
	"github.com/syscheme/xtee/shared/logger"
	"github.com/syscheme/xtee/shared/units"
)

type cmdXtee struct {
	flagCommands  []string
	flagLinks     []string
	flagNoFile    bool
	flagAppend    bool
	flagKbps      int64
	flagSkipBytes string
	flagSkipSecs  int
	flagDuration  int
	flagTimeout   int
	flagVerbose   int
}

func (c *cmdXtee) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "xtee [flags] [<file>...]"
	cmd.Short = "Fan standard input and child command streams out across an arbitrary graph"
	cmd.Long = `xtee - a tee with child commands

xtee reads from its standard input and fans the bytes out to files and to
the standard streams of child commands, with optional skip, duration and
bitrate policies applied on the way in.

Examples:
  The following results the same as running "ls -l | sort" and
  "ls -l | grep txt", but the output of a single round of "ls -l" is taken
  by both the "sort" and the "grep" commands:
    xtee -c "ls -l" -c "sort" -c "grep txt" -l 2:1.1 -l 3:1.1

  The following equal commands download from a web site at a limited speed
  of 3.75Mbps, zip and save as a file:
    xtee -c "wget -O - http://a.site/file" -c "zip - -o file.zip" -l 0:1.1 -l 2.0:1 -n -s 3750
    wget -O - http://a.site/file | xtee -c "zip - -o file.zip" -l 1.0:1 -n -s 3750
    wget -O - http://a.site/file | xtee -n -s 3750 | zip - -o file.zip`
	cmd.RunE = c.run
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	flags := cmd.Flags()
	flags.StringArrayVarP(&c.flagCommands, "command", "c", nil, "Child command line to execute (repeatable)")
	flags.StringArrayVarP(&c.flagLinks, "link", "l", nil, "Link streams as <TARGET>:<SOURCE>, each side being [<cmdNo>.]<fd>")
	flags.BoolVarP(&c.flagNoFile, "no-file", "n", false, "No output file other than stdout")
	flags.BoolVarP(&c.flagAppend, "append", "a", false, "Append to the output files")
	flags.Int64VarP(&c.flagKbps, "bitrate", "s", -1, "Limit the transfer bitrate at reading from stdin, in kbps")
	flags.StringVarP(&c.flagSkipBytes, "skip-bytes", "k", "", "Skip leading bytes at reading from stdin, plain or suffixed like 4KiB")
	flags.IntVarP(&c.flagSkipSecs, "skip-secs", "t", -1, "Skip the leading seconds of data read from stdin")
	flags.IntVarP(&c.flagDuration, "duration", "d", -1, "Duration in seconds to run")
	flags.IntVarP(&c.flagTimeout, "timeout", "q", -1, "Timeout in seconds when no more data can be read from stdin")
	flags.IntVarP(&c.flagVerbose, "verbose", "v", 4, "Verbose level, 4 and above logs progress onto stderr")

	return cmd
}

func (c *cmdXtee) run(cmd *cobra.Command, args []string) error {
	mask := uint(0)
	switch {
	case c.flagVerbose >= 4:
		mask = logger.CatTrace | logger.CatError
	case c.flagVerbose >= 1:
		mask = logger.CatError
	}

	logger.Init(os.Stderr, mask)

	opts := xtee.DefaultOptions()
	opts.NoOutFile = c.flagNoFile
	opts.Append = c.flagAppend
	opts.Kbps = c.flagKbps
	opts.SecsToSkip = c.flagSkipSecs
	opts.SecsDuration = c.flagDuration
	opts.SecsTimeout = c.flagTimeout
	opts.OutFiles = args

	if c.flagSkipBytes != "" {
		bytes, err := units.ParseByteSizeString(c.flagSkipBytes)
		if err != nil {
			return fmt.Errorf("bad value for -k: %w", err)
		}

		opts.BytesToSkip = bytes
	}

	x := xtee.New(opts, nil)
	for _, command := range c.flagCommands {
		x.PushCommand(command)
	}

	for _, link := range c.flagLinks {
		x.PushLink(link)
	}

	err := x.Init()
	if err != nil {
		return err
	}

	// The core only exposes a stop signal; register the OS glue here.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		x.Stop()
	}()

	return x.Run()
}

func main() {
	xteeCmd := cmdXtee{}
	app := xteeCmd.command()

	if len(os.Args) < 2 {
		_ = app.Help()
		os.Exit(-1)
	}

	err := app.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if errors.Is(err, xtee.ErrSpawnFailed) {
			os.Exit(-100)
		}

		os.Exit(-1)
	}
}
