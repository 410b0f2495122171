package xtee

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine returns an engine whose harness output is the write end of
// a pipe, with the read end handed back for assertions. The clock is the
// provided stamp sequence and sleeps are recorded instead of taken.
func newTestEngine(t *testing.T, opts Options, stamps []int64) (x *Xtee, outR *os.File, slept *time.Duration) {
	t.Helper()

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)

	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, f := range []*os.File{stdinR, stdinW, outR, outW, errR, errW} {
			_ = f.Close()
		}
	})

	x = New(opts, nil)
	x.SetStdio(stdinR, outW, errW)

	calls := 0
	x.now = func() int64 {
		require.Less(t, calls, len(stamps), "clock consulted more often than scripted")
		stamp := stamps[calls]
		calls++
		return stamp
	}

	slept = new(time.Duration)
	x.sleep = func(d time.Duration) {
		*slept += d
	}

	require.NoError(t, x.Init())
	return x, outR, slept
}

func readExactly(t *testing.T, f *os.File, n int) string {
	t.Helper()

	buf := make([]byte, n)
	_, err := io.ReadFull(f, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestIngressPassThrough(t *testing.T) {
	x, outR, _ := newTestEngine(t, DefaultOptions(), []int64{1, 2})

	assert.Equal(t, 5, x.ingressQoS([]byte("hello")))
	assert.Equal(t, 6, x.ingressQoS([]byte(" world")))
	assert.Equal(t, "hello world", readExactly(t, outR, 11))
	assert.False(t, x.quitRequested())
}

func TestIngressByteSkipWholeBlocks(t *testing.T) {
	opts := DefaultOptions()
	opts.BytesToSkip = 4

	x, outR, _ := newTestEngine(t, opts, []int64{1, 2, 3})

	// both blocks fall entirely inside the skipped region
	x.ingressQoS([]byte("01"))
	x.ingressQoS([]byte("23"))
	assert.Equal(t, int64(4), x.offsetOrigin)

	// the next block is past the boundary and fully forwarded
	x.ingressQoS([]byte("456789"))
	assert.Equal(t, "456789", readExactly(t, outR, 6))
}

func TestIngressByteSkipStraddle(t *testing.T) {
	opts := DefaultOptions()
	opts.BytesToSkip = 4

	x, outR, _ := newTestEngine(t, opts, []int64{1})

	x.ingressQoS([]byte("0123456789"))
	assert.Equal(t, "456789", readExactly(t, outR, 6))
}

func TestIngressTimeSkip(t *testing.T) {
	opts := DefaultOptions()
	opts.SecsToSkip = 1

	// Init consults the clock once to plant the anchor at 10+1000.
	x, outR, _ := newTestEngine(t, opts, []int64{10, 500, 1200})

	// before the anchor the bytes are discarded
	x.ingressQoS([]byte("early"))
	assert.Equal(t, int64(0), x.offsetOrigin)

	// once the anchor is reached the stream flows
	x.ingressQoS([]byte("late"))
	assert.Equal(t, "late", readExactly(t, outR, 4))
}

func TestIngressDurationFence(t *testing.T) {
	opts := DefaultOptions()
	opts.SecsDuration = 1

	x, outR, _ := newTestEngine(t, opts, []int64{1000, 2500})

	x.ingressQoS([]byte("a"))
	assert.False(t, x.quitRequested())

	// past the fence: quit is requested but the block still flows
	x.ingressQoS([]byte("b"))
	assert.True(t, x.quitRequested())
	assert.Equal(t, "ab", readExactly(t, outR, 2))
}

func TestLimitRateYield(t *testing.T) {
	opts := DefaultOptions()
	opts.Kbps = 8000 // 1000 bytes per millisecond

	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = devnull.Close() })

	x := New(opts, nil)
	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = stdinR.Close()
		_ = stdinW.Close()
	})

	x.SetStdio(stdinR, devnull, os.Stderr)

	stamps := []int64{1, 1, 2, 52}
	calls := 0
	x.now = func() int64 {
		stamp := stamps[calls]
		calls++
		return stamp
	}

	var slept time.Duration
	x.sleep = func(d time.Duration) { slept += d }

	require.NoError(t, x.Init())
	require.Equal(t, int64(1000), x.kBpsLimit)

	// first block only primes the controller snapshot
	x.ingressQoS(make([]byte, 4096))
	assert.Equal(t, time.Duration(0), slept)
	assert.Equal(t, int64(1), x.stampLast)
	assert.Equal(t, int64(4096), x.offsetLast)

	// second block trips the forced pacing checkpoint:
	//   P = 200000/1000 - 51        = 149
	//   I = (204096/1000 - 51) * 4  = 612
	//   V = +100/20                 = +5
	//   yield = min(P, I) + V       = 154
	x.ingressQoS(make([]byte, 200000))
	assert.Equal(t, 154*time.Millisecond, slept)
	assert.Equal(t, int64(52), x.stampLast)
	assert.Equal(t, int64(204096), x.offsetLast)
	assert.Equal(t, int64(200000/51), x.lastV)
}

func TestLimitRateQuitInterruptsSleep(t *testing.T) {
	opts := DefaultOptions()
	opts.Kbps = 8

	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = devnull.Close() })

	x := New(opts, nil)
	x.SetStdio(os.Stdin, devnull, os.Stderr)

	stamps := []int64{1, 1, 2, 3}
	calls := 0
	x.now = func() int64 {
		stamp := stamps[calls]
		calls++
		return stamp
	}

	// request a stop at the first sleep chunk; the remaining yield must be
	// abandoned
	var chunks int
	x.sleep = func(d time.Duration) {
		chunks++
		assert.LessOrEqual(t, d, 500*time.Millisecond)
		x.Stop()
	}

	require.NoError(t, x.Init())

	x.ingressQoS(make([]byte, 10))
	x.ingressQoS(make([]byte, 64*1024))
	assert.Equal(t, 1, chunks)
}
