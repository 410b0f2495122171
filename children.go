package xtee

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/syscheme/xtee/shared/cmdline"
	"github.com/syscheme/xtee/shared/logger"
)

// Child is a spawned process handle holding the parent-side pipe endpoints.
type Child struct {
	PID  int
	Proc *os.Process

	// Stdin is the write end feeding the child's input; Stdout and Stderr
	// are the read ends of the child's output and error streams.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Spawner creates a child process wired to three pipe endpoints.
type Spawner interface {
	Spawn(command string) (*Child, error)
}

// execSpawner is the production Spawner, tokenizing the command line and
// launching it through the exec layer. The exec layer closes every other
// inherited descriptor in the child.
type execSpawner struct{}

func (execSpawner) Spawn(command string) (*Child, error) {
	argv := cmdline.Tokenize(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command line %q", command)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		return nil, err
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		_ = inR.Close()
		_ = inW.Close()
		_ = outR.Close()
		_ = outW.Close()
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Start()

	// the child-side ends belong to the child now
	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()

	if err != nil {
		_ = inW.Close()
		_ = outR.Close()
		_ = errR.Close()
		return nil, err
	}

	return &Child{
		PID:    cmd.Process.Pid,
		Proc:   cmd.Process,
		Stdin:  inW,
		Stdout: outR,
		Stderr: errR,
	}, nil
}

// childStub tracks a spawned child for the lifetime of the run. The stub is
// retained after death for result reporting.
type childStub struct {
	idx    int
	cmd    string
	pid    int
	status unix.WaitStatus
	live   bool

	stdinFD  int
	stdoutFD int
	stderrFD int
}

// spawnChildren launches every declared command in order and registers the
// pipe endpoints. Any failure is fatal.
func (x *Xtee) spawnChildren() error {
	for i, command := range x.commands {
		child, err := x.spawner.Spawn(command)
		if err != nil {
			x.log.Error("failed to create child", logger.Ctx{"child": i + 1, "cmd": command, "err": err})
			return fmt.Errorf("%w: CH%02d [%s]: %v", ErrSpawnFailed, i+1, command, err)
		}

		stub := &childStub{
			idx:      i + 1,
			cmd:      command,
			pid:      child.PID,
			live:     true,
			stdinFD:  x.graph.register(child.Stdin),
			stdoutFD: x.graph.register(child.Stdout),
			stderrFD: x.graph.register(child.Stderr),
		}

		x.children = append(x.children, stub)
		x.log.Trace("created child", logger.Ctx{
			"child": stub.idx,
			"pid":   stub.pid,
			"in":    stub.stdinFD,
			"out":   stub.stdoutFD,
			"err":   stub.stderrFD,
			"cmd":   stub.cmd,
		})
	}

	return nil
}

// reapChildren non-blockingly waits on every live child and tears down the
// endpoints of the ones that exited or disappeared. Returns the number of
// children still alive.
func (x *Xtee) reapChildren() int {
	live := 0
	for _, child := range x.children {
		if !child.live {
			continue
		}

		var status unix.WaitStatus
		wpid, err := unix.Wait4(child.pid, &status, unix.WNOHANG|unix.WUNTRACED, nil)
		if err == nil && wpid == 0 {
			live++
			continue
		}

		if err == nil && wpid == child.pid {
			child.status = status
			x.log.Trace("child exited", logger.Ctx{"child": child.idx, "pid": child.pid, "status": fmt.Sprintf("0x%x", uint32(status)), "cmd": child.cmd})
		} else {
			x.log.Trace("child gone", logger.Ctx{"child": child.idx, "pid": child.pid, "cmd": child.cmd})
		}

		x.closePipesToChild(child)
		child.live = false
		child.pid = -1
	}

	return live
}

// closePipesToChild closes the child's three endpoints through the graph so
// that reference-counted peers clean up as well. When the last child
// feeding the harness input goes away, the input's forward edges are
// dropped too.
func (x *Xtee) closePipesToChild(child *childStub) {
	hadFeed := x.graph.hasSources(x.stdinFD)

	feeds := 0
	if x.graph.linked(child.stdoutFD, x.stdinFD) {
		feeds++
	}

	if x.graph.linked(child.stderrFD, x.stdinFD) {
		feeds++
	}

	var batch []string
	if child.stdinFD >= 0 {
		batch = append(batch, x.graph.closeDest(child.stdinFD))
		child.stdinFD = -1
	}

	if child.stdoutFD >= 0 {
		batch = append(batch, x.graph.closeSource(child.stdoutFD))
		child.stdoutFD = -1
	}

	if child.stderrFD >= 0 {
		batch = append(batch, x.graph.closeSource(child.stderrFD))
		child.stderrFD = -1
	}

	x.childrenFeedingStdin -= feeds
	if x.childrenFeedingStdin < 0 {
		x.childrenFeedingStdin = 0
	}

	// this was the last child feeding the harness input
	if x.everFedStdin && hadFeed && !x.graph.hasSources(x.stdinFD) {
		batch = append(batch, x.graph.closeSource(x.stdinFD))
	}

	x.log.Trace("closed links of child", logger.Ctx{"child": child.idx, "cmd": child.cmd, "batch": strings.Join(batch, ",")})
}

// reportChildren logs the last observed status of every child.
func (x *Xtee) reportChildren() {
	for _, child := range x.children {
		x.log.Trace("child result", logger.Ctx{
			"child":  child.idx,
			"cmd":    child.cmd,
			"live":   child.live,
			"status": fmt.Sprintf("0x%x", uint32(child.status)),
		})
	}
}
