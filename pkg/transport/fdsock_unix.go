//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package transport

import (
    "io"

    "golang.org/x/sys/unix"
)

// FDSocket is a Socket over a raw non-blocking descriptor.
type FDSocket struct {
    fd     int
    kind   Kind
    remote string
    closed bool
}

// NewFDSocket wraps fd, which must already be non-blocking.
func NewFDSocket(fd int, kind Kind, remote string) *FDSocket {
    return &FDSocket{fd: fd, kind: kind, remote: remote}
}

func (s *FDSocket) FD() int {
    if s.closed {
        return -1
    }
    return s.fd
}

func (s *FDSocket) Kind() Kind         { return s.kind }
func (s *FDSocket) RemoteAddr() string { return s.remote }

func (s *FDSocket) Read(p []byte) (int, error) {
    if s.closed {
        return 0, ErrClosed
    }
    for {
        n, err := unix.Read(s.fd, p)
        switch {
        case err == unix.EINTR:
            continue
        case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
            return 0, ErrWouldBlock
        case err != nil:
            return 0, err
        case n == 0 && len(p) > 0:
            return 0, io.EOF
        }
        return n, nil
    }
}

func (s *FDSocket) Write(p []byte) (int, error) {
    if s.closed {
        return 0, ErrClosed
    }
    for {
        n, err := unix.Write(s.fd, p)
        switch {
        case err == unix.EINTR:
            continue
        case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
            return 0, ErrWouldBlock
        case err != nil:
            return 0, err
        }
        return n, nil
    }
}

// FinishConnect reads SO_ERROR after the descriptor became writable.
func (s *FDSocket) FinishConnect() error {
    if s.closed {
        return ErrClosed
    }
    v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
    if err != nil {
        return err
    }
    if v != 0 {
        return unix.Errno(v)
    }
    return nil
}

// Close is idempotent.
func (s *FDSocket) Close() error {
    if s.closed {
        return nil
    }
    s.closed = true
    return unix.Close(s.fd)
}

// SetupFD puts fd into the mode every loop-owned descriptor needs.
func SetupFD(fd int) error {
    unix.CloseOnExec(fd)
    return unix.SetNonblock(fd, true)
}
