// Package xtee implements a stdio fan-out/fan-in harness: it launches child
// commands and routes byte streams between the harness's own standard
// descriptors and each child's, while applying quality-of-service policies
// to the harness's input.
package xtee

import (
	"errors"
	"os"
	"time"

	"github.com/syscheme/xtee/shared/cancel"
	"github.com/syscheme/xtee/shared/linkspec"
	"github.com/syscheme/xtee/shared/logger"
)

const (
	// measuresPerSec is the number of readiness ticks (and QoS measurement
	// windows) per second.
	measuresPerSec      = 10
	measureIntervalMsec = 1000 / measuresPerSec

	// blockSize bounds a single read from any source endpoint.
	blockSize = 4096

	// idleChecksBeforeReap forces a child check after about ten seconds
	// without any child I/O.
	idleChecksBeforeReap = measuresPerSec * 10
)

// Error kinds surfaced from a run. Invalid link specifications are logged
// and skipped rather than surfaced; ErrSpecInvalid is what the skipped
// entries wrap.
var (
	ErrSpecInvalid = linkspec.ErrInvalid
	ErrSpawnFailed = errors.New("failed to spawn child")
)

// Options configure a run. The quality-of-service policies are inactive
// unless set to a positive value.
type Options struct {
	NoOutFile bool
	Append    bool

	// Kbps caps the ingress bitrate in kilobits per second.
	Kbps int64

	// BytesToSkip discards that many leading bytes of the harness input.
	BytesToSkip int64

	// SecsToSkip discards the harness input for that many leading seconds.
	SecsToSkip int

	// SecsDuration fences the run to that many seconds of ingress.
	SecsDuration int

	// SecsTimeout ends the run once the readiness waits have timed out for
	// that many seconds in total; the count is not reset by later I/O.
	SecsTimeout int

	// OutFiles are output files to tee the harness input into.
	OutFiles []string
}

// DefaultOptions returns Options with every policy unset.
func DefaultOptions() Options {
	return Options{
		Kbps:         -1,
		BytesToSkip:  -1,
		SecsToSkip:   -1,
		SecsDuration: -1,
		SecsTimeout:  -1,
	}
}

// Xtee is the stream-routing engine. Construct with New, add commands and
// links, then Init and Run. All of its work happens on the calling
// goroutine; only Stop is safe to call concurrently.
type Xtee struct {
	opts Options

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	stdinFD  int
	stdoutFD int
	stderrFD int

	graph    *graph
	children []*childStub
	commands []string
	links    []string

	// childrenFeedingStdin counts live links from a child output onto the
	// harness input; it governs the EOF policy on that input.
	childrenFeedingStdin int
	everFedStdin         bool

	spawner Spawner
	quit    *cancel.Canceller
	log     logger.Logger

	epoch time.Time
	now   func() int64
	sleep func(time.Duration)

	// bitrate controller snapshot
	stampStart   int64
	stampLast    int64
	offsetOrigin int64
	offsetLast   int64
	kBpsLimit    int64
	lastV        int64
}

// New returns an engine bound to the process's standard streams. A nil
// spawner selects the default exec-based one.
func New(opts Options, spawner Spawner) *Xtee {
	x := &Xtee{
		opts:    opts,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		spawner: spawner,
		quit:    cancel.New(),
		log:     logger.Log,
		epoch:   time.Now(),
		sleep:   time.Sleep,
	}

	if x.spawner == nil {
		x.spawner = execSpawner{}
	}

	x.now = func() int64 {
		// never zero, so a zero stamp can mean unset
		return time.Since(x.epoch).Milliseconds() + 1
	}

	x.graph = newGraph()
	return x
}

// SetStdio replaces the three reserved harness endpoints. Must be called
// before Init.
func (x *Xtee) SetStdio(in, out, errOut *os.File) {
	x.stdin = in
	x.stdout = out
	x.stderr = errOut
}

// PushCommand declares a child command; returns the number declared so far.
func (x *Xtee) PushCommand(cmd string) int {
	if cmd != "" {
		x.commands = append(x.commands, cmd)
	}

	return len(x.commands)
}

// PushLink declares a raw link specification; returns the number declared.
func (x *Xtee) PushLink(link string) int {
	if link != "" {
		x.links = append(x.links, link)
	}

	return len(x.links)
}

// Stop requests a cooperative shutdown. Safe from signal handlers.
func (x *Xtee) Stop() {
	x.quit.Cancel()
}

func (x *Xtee) setQuit() {
	x.quit.Cancel()
}

func (x *Xtee) quitRequested() bool {
	return x.quit.Err() != nil
}

// Init anchors the QoS state and reserves the harness endpoints.
func (x *Xtee) Init() error {
	if x.opts.SecsToSkip > 0 {
		x.stampStart = int64(x.opts.SecsToSkip)*1000 + x.now()
	}

	if x.opts.Kbps > 0 {
		x.kBpsLimit = x.opts.Kbps >> 3
	}

	x.stdinFD = x.graph.reserve(x.stdin)
	x.stdoutFD = x.graph.reserve(x.stdout)
	x.stderrFD = x.graph.reserve(x.stderr)

	return nil
}
