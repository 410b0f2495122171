//go:build linux

package xtee

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// broadcastHarness builds an engine around pipe stdio plus one registered
// source endpoint ready for broadcast calls.
func broadcastHarness(t *testing.T) (x *Xtee, srcFD int, outR, errR *os.File) {
	t.Helper()

	stdinR, stdinW, err := os.Pipe()
	require.NoError(t, err)

	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	srcR, srcW, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, f := range []*os.File{stdinR, stdinW, outR, outW, errR, errW, srcR, srcW} {
			_ = f.Close()
		}
	})

	x = New(DefaultOptions(), nil)
	x.SetStdio(stdinR, outW, errW)
	require.NoError(t, x.Init())

	srcFD = x.graph.register(srcR)
	return x, srcFD, outR, errR
}

func TestBroadcastFansOutInOrder(t *testing.T) {
	x, srcFD, _, _ := broadcastHarness(t)

	aR, aW, err := os.Pipe()
	require.NoError(t, err)

	bR, bW, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, f := range []*os.File{aR, aW, bR, bW} {
			_ = f.Close()
		}
	})

	require.True(t, x.graph.link(srcFD, x.graph.register(aW)))
	require.True(t, x.graph.link(srcFD, x.graph.register(bW)))

	x.broadcast(srcFD, 1, []byte("one"))
	x.broadcast(srcFD, 1, []byte("two"))

	// each destination sees the blocks in source order
	assert.Equal(t, "onetwo", readExactly(t, aR, 6))
	assert.Equal(t, "onetwo", readExactly(t, bR, 6))
}

func TestBroadcastContinuesPastFailedDestination(t *testing.T) {
	x, srcFD, _, _ := broadcastHarness(t)

	aR, aW, err := os.Pipe()
	require.NoError(t, err)

	bR, bW, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, f := range []*os.File{aR, aW, bR, bW} {
			_ = f.Close()
		}
	})

	aFD := x.graph.register(aW)
	bFD := x.graph.register(bW)
	require.True(t, x.graph.link(srcFD, aFD))
	require.True(t, x.graph.link(srcFD, bFD))

	// break the first destination underneath the graph; the write error
	// must not stop the remaining destinations from being served
	require.NoError(t, aW.Close())

	x.broadcast(srcFD, 1, []byte("data"))
	assert.Equal(t, "data", readExactly(t, bR, 4))

	// no edge is dropped on a write failure alone
	assert.True(t, x.graph.linked(srcFD, aFD))
}

func TestBroadcastChildErrorBecomesDiagnostic(t *testing.T) {
	x, srcFD, _, errR := broadcastHarness(t)

	require.True(t, x.graph.link(srcFD, x.stderrFD))

	x.broadcast(srcFD, 2, []byte("oops\n"))

	// the diagnostic goes to the logger; nothing reaches the harness error
	// endpoint, in particular not the raw bytes
	require.NoError(t, errR.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 8)
	_, err := errR.Read(buf)
	assert.Error(t, err)
}

func TestBroadcastIntoHarnessInputTakesQoSPath(t *testing.T) {
	x, srcFD, outR, _ := broadcastHarness(t)

	require.True(t, x.graph.link(srcFD, x.stdinFD))

	// the harness input has no forward links, so the QoS path falls back
	// to the harness output
	x.broadcast(srcFD, 1, []byte("loop"))
	assert.Equal(t, "loop", readExactly(t, outR, 4))
}
