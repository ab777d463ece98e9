//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package wakeup provides the self-pipe the event loop registers as an aux
// descriptor so background goroutines can interrupt a Poll.
package wakeup

import (
    "fmt"
    "sync/atomic"

    "golang.org/x/sys/unix"
)

// Pipe is a non-blocking pipe. Wake may be called from any goroutine; FD,
// Drain and Close belong to the loop.
type Pipe struct {
    r, w    int
    pending atomic.Bool
    closed  atomic.Bool
}

func New() (*Pipe, error) {
    var fds [2]int
    if err := unix.Pipe(fds[:]); err != nil {
        return nil, fmt.Errorf("wakeup: pipe: %w", err)
    }
    for _, fd := range fds {
        unix.CloseOnExec(fd)
        if err := unix.SetNonblock(fd, true); err != nil {
            unix.Close(fds[0])
            unix.Close(fds[1])
            return nil, fmt.Errorf("wakeup: nonblock: %w", err)
        }
    }
    return &Pipe{r: fds[0], w: fds[1]}, nil
}

// FD is the read end to register for read interest.
func (p *Pipe) FD() int { return p.r }

// Wake makes the read end readable. Repeated wakes before a Drain collapse
// into one byte; a full pipe already means the loop will wake.
func (p *Pipe) Wake() {
    if p.closed.Load() || !p.pending.CompareAndSwap(false, true) {
        return
    }
    _, _ = unix.Write(p.w, []byte{0})
}

// Drain empties the pipe and rearms Wake.
func (p *Pipe) Drain() {
    p.pending.Store(false)
    var buf [64]byte
    for {
        n, err := unix.Read(p.r, buf[:])
        if n <= 0 || err != nil {
            return
        }
    }
}

func (p *Pipe) Close() error {
    if !p.closed.CompareAndSwap(false, true) {
        return nil
    }
    unix.Close(p.w)
    return unix.Close(p.r)
}
