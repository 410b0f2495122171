package xtee

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/syscheme/xtee/shared/eagain"
	"github.com/syscheme/xtee/shared/logger"
)

// checkAndForward reads one block from the source endpoint behind *fdp when
// the readiness sets report it, and broadcasts it to every destination
// linked from it. Returns the number of bytes read, or -1 after the source
// has been closed due to a read failure or error readiness.
func (x *Xtee) checkAndForward(fdp *int, childIdx int, rset, eset *unix.FdSet, buf []byte) int {
	fd := *fdp
	if fd < 0 {
		return 0
	}

	n := 0
	if rset.IsSet(fd) {
		f := x.graph.file(fd)
		if f == nil {
			*fdp = -1
			return 0
		}

		rn, err := eagain.Reader{Reader: f}.Read(buf)
		if rn > 0 {
			n = rn
			x.broadcast(fd, childIdx, buf[:rn])
		}

		// EOF and read errors both mean the endpoint is done
		if err != nil {
			x.log.Trace("closing drained descriptor", logger.Ctx{"fd": fd, "child": childIdx, "err": err})
			x.graph.closeSource(fd)
			*fdp = -1
			return -1
		}
	}

	if eset.IsSet(fd) {
		x.log.Trace("closing damaged descriptor", logger.Ctx{"fd": fd, "child": childIdx})
		x.graph.closeSource(fd)
		*fdp = -1
		return -1
	}

	return n
}

// broadcast fans one block out to every destination of src. A destination
// that is the harness input re-enters through the QoS path; the harness
// error stream gets a line diagnostic instead of raw bytes so binary child
// output cannot interleave with the log stream. Write failures are logged
// and the broadcast continues.
func (x *Xtee) broadcast(src, childIdx int, block []byte) {
	for _, dest := range x.graph.destinations(src) {
		if dest < 0 {
			continue
		}

		if dest == x.stdinFD {
			x.ingressQoS(block)
			continue
		}

		if dest == x.stderrFD && childIdx > 0 {
			x.log.Trace(fmt.Sprintf("CH%02d> %s", childIdx, strings.TrimRight(string(block), "\r\n")))
			continue
		}

		f := x.graph.file(dest)
		if f == nil {
			continue
		}

		_, err := eagain.Writer{Writer: f}.Write(block)
		if err != nil {
			x.log.Error("write to destination failed", logger.Ctx{"fd": dest, "err": err})
		}
	}
}
