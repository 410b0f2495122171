package xtee

import (
	"time"

	"github.com/syscheme/xtee/shared/eagain"
	"github.com/syscheme/xtee/shared/logger"
)

// ingressQoS runs one block of harness input through the ingress policy
// pipeline: leading-time skip, duration fence, leading-byte skip, broadcast
// and the closed-loop bitrate limiter. Returns the number of bytes accepted
// past the skip policies.
func (x *Xtee) ingressQoS(block []byte) int {
	n := int64(len(block))
	if n <= 0 {
		return 0
	}

	stampNow := x.now()

	// discard until the leading-time anchor is reached
	if x.stampStart > 0 && x.stampStart > stampNow {
		return 0
	}

	if x.stampStart <= 0 {
		x.stampStart = stampNow
	}

	if x.opts.SecsDuration > 0 && stampNow > x.stampStart+int64(x.opts.SecsDuration)*1000 {
		x.setQuit()
	}

	// leading-byte skip; the offset advances across discarded bytes so the
	// controller sees them
	if x.opts.BytesToSkip > 0 {
		if x.offsetOrigin+n <= x.opts.BytesToSkip {
			x.offsetOrigin += n
			return 0
		}

		if x.offsetOrigin < x.opts.BytesToSkip {
			block = block[x.opts.BytesToSkip-x.offsetOrigin:]
			n = int64(len(block))
			x.offsetOrigin = x.opts.BytesToSkip
		}
	}

	x.offsetOrigin += n

	// forward to the linked destinations, or to the harness output when
	// nothing is linked from the input
	dests := x.graph.destinations(x.stdinFD)
	if len(dests) == 0 {
		_, err := eagain.Writer{Writer: x.stdout}.Write(block)
		if err != nil {
			x.log.Error("write to output failed", logger.Ctx{"err": err})
		}
	} else {
		for _, dest := range dests {
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

	if x.kBpsLimit > 0 {
		x.limitRate()
	}

	return int(n)
}

// limitRate paces the ingress so the aggregate throughput converges on the
// configured rate. Proportional and integral corrections are computed in
// milliseconds and the smaller one is taken, which avoids windup during
// early bursts while still pulling the long-run rate back to target; a
// one-step velocity nudge damps oscillation.
func (x *Xtee) limitRate() {
	stampNow := x.now()
	if x.stampLast <= 0 {
		x.stampLast = stampNow
		x.offsetLast = x.offsetOrigin
	}

	elapsed := stampNow - x.stampLast
	bypassed := x.offsetOrigin - x.offsetLast
	if elapsed <= measureIntervalMsec && bypassed <= x.kBpsLimit*measuresPerSec {
		return
	}

	skip := x.opts.BytesToSkip
	if skip < 0 {
		skip = 0
	}

	msecP := bypassed/x.kBpsLimit - elapsed
	msecI := ((x.offsetOrigin-skip)/x.kBpsLimit - (stampNow - x.stampStart)) << 2

	v := x.lastV << 1
	if elapsed > 0 {
		v = bypassed / elapsed
	}

	msecV := int64(-1)
	if v > x.lastV {
		msecV = 1
	}

	msecV *= measureIntervalMsec / 20

	yield := min(msecP, msecI) + msecV

	x.lastV = v
	x.stampLast = stampNow
	x.offsetLast = x.offsetOrigin

	// sleep cooperatively so a stop request stays responsive
	for !x.quitRequested() && yield > 0 {
		step := min(yield, 500)
		yield -= step
		x.sleep(time.Duration(step) * time.Millisecond)
	}
}
