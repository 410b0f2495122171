//go:build linux

package eagain

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Reader represents an io.Reader that handles EAGAIN and EINTR.
type Reader struct {
	Reader io.Reader
}

// Read implements io.Reader, retrying any read failed with EAGAIN or EINTR.
func (er Reader) Read(p []byte) (int, error) {
again:
	n, err := er.Reader.Read(p)
	if err == nil {
		return n, nil
	}

	// keep retrying on EAGAIN
	errno, ok := getErrno(err)
	if ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
		goto again
	}

	return n, err
}

// Writer represents an io.Writer that handles EAGAIN and EINTR.
type Writer struct {
	Writer io.Writer
}

// Write implements io.Writer, retrying any write failed with EAGAIN or EINTR.
func (ew Writer) Write(p []byte) (int, error) {
again:
	n, err := ew.Writer.Write(p)
	if err == nil {
		return n, nil
	}

	// keep retrying on EAGAIN
	errno, ok := getErrno(err)
	if ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
		goto again
	}

	return n, err
}

// getErrno extracts the errno from an error returned by a file operation,
// unwrapping os.PathError and os.SyscallError layers.
func getErrno(err error) (unix.Errno, bool) {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}

	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		err = syscallErr.Err
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}

	return 0, false
}
