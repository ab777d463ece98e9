//go:build linux

package socketengine

import (
    "time"

    "golang.org/x/sys/unix"
)

// fdSetSize is FD_SETSIZE; select cannot watch descriptors at or above it.
const fdSetSize = 1024

type selectPoller struct {
    interest map[int]Interest
}

func newSelect(int) (poller, error) {
    return &selectPoller{interest: make(map[int]Interest)}, nil
}

func (p *selectPoller) add(fd int, in Interest) error {
    if fd >= fdSetSize {
        return unix.EINVAL
    }
    if _, ok := p.interest[fd]; ok {
        return unix.EEXIST
    }
    p.interest[fd] = in
    return nil
}

func (p *selectPoller) modify(fd int, in Interest) error {
    if _, ok := p.interest[fd]; !ok {
        return unix.ENOENT
    }
    p.interest[fd] = in
    return nil
}

func (p *selectPoller) remove(fd int) error {
    if _, ok := p.interest[fd]; !ok {
        return unix.ENOENT
    }
    delete(p.interest, fd)
    return nil
}

func (p *selectPoller) wait(timeout time.Duration, emit func(fd int, ev event)) error {
    // exceptfds only signals urgent data; failures surface as readable or
    // writable and the following read or write reports them.
    var rset, wset unix.FdSet
    maxfd := -1
    for fd, in := range p.interest {
        if in.Read() {
            rset.Set(fd)
        }
        if in.Write() {
            wset.Set(fd)
        }
        if fd > maxfd {
            maxfd = fd
        }
    }
    if maxfd < 0 {
        time.Sleep(timeout)
        return nil
    }
    tv := unix.NsecToTimeval(int64(timeout))
    n, err := unix.Select(maxfd+1, &rset, &wset, nil, &tv)
    if err != nil {
        switch err {
        case unix.EINTR:
            return nil
        case unix.EBADF:
            // One of the descriptors was closed under us; report it as
            // failed so its owner tears it down.
            p.reportBad(emit)
            return nil
        }
        return err
    }
    if n == 0 {
        return nil
    }
    for fd := range p.interest {
        var ev event
        if rset.IsSet(fd) {
            ev |= evRead
        }
        if wset.IsSet(fd) {
            ev |= evWrite
        }
        if ev != 0 {
            emit(fd, ev)
        }
    }
    return nil
}

func (p *selectPoller) reportBad(emit func(fd int, ev event)) {
    for fd := range p.interest {
        if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
            emit(fd, evError)
        }
    }
}

func (p *selectPoller) close() error {
    p.interest = nil
    return nil
}
