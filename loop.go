package xtee

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sys/unix"

	"github.com/syscheme/xtee/shared/linkspec"
	"github.com/syscheme/xtee/shared/logger"
)

// buildLinks resolves every declared link specification into graph edges.
// Invalid specifications are logged and skipped; they never abort the run.
func (x *Xtee) buildLinks() {
	for _, raw := range x.links {
		spec, err := linkspec.Parse(raw)
		if err == nil {
			err = spec.Validate(len(x.children))
		}

		if err != nil {
			x.log.Error("skip invalid link", logger.Ctx{"spec": raw, "err": err})
			continue
		}

		destFD := x.stdinFD
		if spec.Target.Cmd > 0 {
			destFD = x.children[spec.Target.Cmd-1].stdinFD
		}

		var srcFD int
		switch {
		case spec.Source.Cmd > 0:
			child := x.children[spec.Source.Cmd-1]
			srcFD = child.stdoutFD
			if spec.Source.FD == 2 {
				srcFD = child.stderrFD
			}

			if !x.graph.link(srcFD, destFD) {
				x.log.Error("skip invalid link", logger.Ctx{"spec": raw})
				continue
			}

			if destFD == x.stdinFD {
				x.childrenFeedingStdin++
				x.everFedStdin = true
			}

		case spec.Source.FD == 1:
			// the harness input acts as the source when forwarded
			srcFD = x.stdinFD
			if !x.graph.link(srcFD, destFD) {
				x.log.Error("skip invalid link", logger.Ctx{"spec": raw})
				continue
			}

		default:
			// the harness's own error stream cannot be re-read
			x.log.Error("skip invalid link", logger.Ctx{"spec": raw})
			continue
		}

		x.log.Trace("linked", logger.Ctx{"spec": spec.String(), "src": srcFD, "dest": destFD})
	}
}

// openOutFiles opens every named output file and links it from the harness
// input, teeing the input to the harness output as well.
func (x *Xtee) openOutFiles() error {
	if x.opts.NoOutFile || len(x.opts.OutFiles) == 0 {
		return nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if x.opts.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	for _, name := range x.opts.OutFiles {
		f, err := os.OpenFile(name, flags, 0644)
		if err != nil {
			return fmt.Errorf("cannot open output file %q: %w", name, err)
		}

		fd := x.graph.register(f)
		x.graph.link(x.stdinFD, fd)
		x.log.Trace("linked output file", logger.Ctx{"file": name, "fd": fd})
	}

	x.graph.link(x.stdinFD, x.stdoutFD)
	return nil
}

// linkOrphans auto-links every child endpoint not present in the graph:
// the child's output to the harness output and the child's error to the
// harness error. The harness input is never auto-linked to a child.
func (x *Xtee) linkOrphans() {
	for _, child := range x.children {
		if !x.graph.hasDests(child.stdoutFD) {
			x.graph.link(child.stdoutFD, x.stdoutFD)
			x.log.Trace("linked orphan output", logger.Ctx{"child": child.idx, "fd": child.stdoutFD})
		}

		if !x.graph.hasDests(child.stderrFD) {
			x.graph.link(child.stderrFD, x.stderrFD)
			x.log.Trace("linked orphan error", logger.Ctx{"child": child.idx, "fd": child.stderrFD})
		}
	}
}

// printLinks dumps the link graph to the trace log, with a rendered table
// when tracing is on.
func (x *Xtee) printLinks() {
	x.log.Trace("links", logger.Ctx{"graph": x.graph.summary()})

	if !logger.TraceEnabled() {
		return
	}

	table := tablewriter.NewWriter(x.stderr)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"SOURCE", "DESTINATIONS"})
	table.AppendBulk(x.graph.rows())
	table.Render()
}

// Run spawns the children, installs the links and drives the readiness
// loop until a termination predicate fires. It returns nil on a clean
// termination.
func (x *Xtee) Run() error {
	err := x.spawnChildren()
	if err != nil {
		return err
	}

	x.buildLinks()

	err = x.openOutFiles()
	if err != nil {
		return err
	}

	x.linkOrphans()
	x.printLinks()

	maxTimeouts := -1
	if x.opts.SecsTimeout > 0 {
		maxTimeouts = x.opts.SecsTimeout * measuresPerSec
	}

	var runErr error
	childCheckNeeded := false
	idles := 0
	liveChildren := 0
	buf := make([]byte, blockSize)

	for timeouts := 0; !x.quitRequested() && (maxTimeouts < 0 || timeouts < maxTimeouts); {
		if childCheckNeeded || idles > idleChecksBeforeReap {
			liveChildren = x.reapChildren()
			childCheckNeeded = false
			idles = 0
		}

		// the harness input is always watched, plus every current source
		var rset, eset unix.FdSet
		rset.Set(x.stdinFD)
		eset.Set(x.stdinFD)
		maxFD := x.stdinFD
		childSources := 0
		for _, fd := range x.graph.sourceFDs() {
			rset.Set(fd)
			eset.Set(fd)
			if fd > maxFD {
				maxFD = fd
			}

			if fd != x.stdinFD {
				childSources++
			}
		}

		if len(x.children) > 0 && childSources == 0 {
			x.log.Trace("stopping as no more alive child", logger.Ctx{"live": liveChildren})
			x.setQuit()
			break
		}

		tv := unix.Timeval{Sec: 0, Usec: measureIntervalMsec * 1000}
		ready, err := unix.Select(maxFD+1, &rset, nil, &eset, &tv)
		if x.quitRequested() {
			break
		}

		if err != nil {
			if err == unix.EINTR {
				continue
			}

			x.log.Error("quitting due to readiness error", logger.Ctx{"err": err})
			runErr = err
			break
		}

		if ready == 0 {
			timeouts++
			childCheckNeeded = true
			continue
		}

		bytesMoved := 0

		if rset.IsSet(x.stdinFD) {
			n, rerr := x.stdin.Read(buf)
			if n > 0 {
				x.ingressQoS(buf[:n])
				bytesMoved += n
			}

			if rerr != nil || n == 0 {
				x.setQuit()
			}
		}

		if x.childrenFeedingStdin <= 0 && eset.IsSet(x.stdinFD) {
			x.setQuit()
		}

		for _, child := range x.children {
			if x.quitRequested() {
				break
			}

			n := x.checkAndForward(&child.stdoutFD, child.idx, &rset, &eset, buf)
			if n < 0 {
				childCheckNeeded = true
			} else {
				bytesMoved += n
			}

			n = x.checkAndForward(&child.stderrFD, child.idx, &rset, &eset, buf)
			if n < 0 {
				childCheckNeeded = true
			} else {
				bytesMoved += n
			}
		}

		if bytesMoved <= 0 {
			idles++
		}
	}

	x.log.Trace("end of loop, cleaning up children", logger.Ctx{"children": len(x.children)})

	x.reapChildren()
	for _, child := range x.children {
		x.closePipesToChild(child)
	}

	x.reportChildren()

	// release any output-file endpoints still linked from the input
	x.graph.closeSource(x.stdinFD)

	_ = x.stdout.Sync()
	_ = x.stderr.Sync()

	return runErr
}
