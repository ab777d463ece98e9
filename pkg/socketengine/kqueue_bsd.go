//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package socketengine

import (
    "time"

    "golang.org/x/sys/unix"
)

type kqueuePoller struct {
    kq       int
    events   []unix.Kevent_t
    interest map[int]Interest
}

func newKqueue(capacity int) (poller, error) {
    kq, err := unix.Kqueue()
    if err != nil {
        return nil, wrapUnavailable(Kqueue, err)
    }
    unix.CloseOnExec(kq)
    n := capacity * 2
    if n > 2048 {
        n = 2048
    }
    return &kqueuePoller{kq: kq, events: make([]unix.Kevent_t, n), interest: make(map[int]Interest)}, nil
}

// apply registers the filters in want and deletes the ones only in have.
func (p *kqueuePoller) apply(fd int, have, want Interest) error {
    var changes []unix.Kevent_t
    push := func(filter, flags int) {
        var k unix.Kevent_t
        unix.SetKevent(&k, fd, filter, flags)
        changes = append(changes, k)
    }
    if want.Read() && !have.Read() {
        push(unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
    }
    if want.Write() && !have.Write() {
        push(unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_ENABLE)
    }
    if !want.Read() && have.Read() {
        push(unix.EVFILT_READ, unix.EV_DELETE)
    }
    if !want.Write() && have.Write() {
        push(unix.EVFILT_WRITE, unix.EV_DELETE)
    }
    if len(changes) == 0 {
        return nil
    }
    _, err := unix.Kevent(p.kq, changes, nil, nil)
    return err
}

func (p *kqueuePoller) add(fd int, in Interest) error {
    if err := p.apply(fd, InterestNone, in); err != nil {
        return err
    }
    p.interest[fd] = in
    return nil
}

func (p *kqueuePoller) modify(fd int, in Interest) error {
    if err := p.apply(fd, p.interest[fd], in); err != nil {
        return err
    }
    p.interest[fd] = in
    return nil
}

func (p *kqueuePoller) remove(fd int) error {
    have := p.interest[fd]
    delete(p.interest, fd)
    // Closed descriptors have already dropped their filters.
    if err := p.apply(fd, have, InterestNone); err != nil && err != unix.ENOENT && err != unix.EBADF {
        return err
    }
    return nil
}

func (p *kqueuePoller) wait(timeout time.Duration, emit func(fd int, ev event)) error {
    ts := unix.NsecToTimespec(int64(timeout))
    n, err := unix.Kevent(p.kq, nil, p.events, &ts)
    if err != nil {
        if err == unix.EINTR {
            return nil
        }
        return err
    }
    for i := 0; i < n; i++ {
        k := p.events[i]
        fd := int(k.Ident)
        var ev event
        switch {
        case k.Flags&unix.EV_ERROR != 0:
            ev = evError
        case k.Filter == unix.EVFILT_READ:
            // EV_EOF with bytes still queued is delivered as readable.
            ev = evRead
        case k.Filter == unix.EVFILT_WRITE:
            ev = evWrite
            if k.Flags&unix.EV_EOF != 0 && k.Fflags != 0 {
                ev = evError
            }
        }
        if ev != 0 {
            emit(fd, ev)
        }
    }
    return nil
}

func (p *kqueuePoller) close() error {
    return unix.Close(p.kq)
}
