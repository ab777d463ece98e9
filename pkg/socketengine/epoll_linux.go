//go:build linux

package socketengine

import (
    "time"

    "golang.org/x/sys/unix"
)

type epollPoller struct {
    epfd   int
    events []unix.EpollEvent
}

func newEpoll(capacity int) (poller, error) {
    fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
    if err != nil {
        return nil, wrapUnavailable(Epoll, err)
    }
    n := capacity
    if n > 1024 {
        n = 1024
    }
    return &epollPoller{epfd: fd, events: make([]unix.EpollEvent, n)}, nil
}

func epollMask(in Interest) uint32 {
    var m uint32
    if in.Read() {
        m |= unix.EPOLLIN | unix.EPOLLRDHUP
    }
    if in.Write() {
        m |= unix.EPOLLOUT
    }
    return m
}

func (p *epollPoller) add(fd int, in Interest) error {
    ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
    return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, in Interest) error {
    ev := unix.EpollEvent{Events: epollMask(in), Fd: int32(fd)}
    return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
    return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration, emit func(fd int, ev event)) error {
    n, err := unix.EpollWait(p.epfd, p.events, waitMillis(timeout))
    if err != nil {
        if err == unix.EINTR {
            return nil
        }
        return err
    }
    for i := 0; i < n; i++ {
        e := p.events[i]
        var ev event
        if e.Events&(unix.EPOLLERR) != 0 {
            ev |= evError
        }
        // A hangup with pending data is reported readable so the remaining
        // bytes are drained before the read returns EOF.
        if e.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
            ev |= evRead
        }
        if e.Events&unix.EPOLLOUT != 0 {
            ev |= evWrite
        }
        emit(int(e.Fd), ev)
    }
    return nil
}

func (p *epollPoller) close() error {
    return unix.Close(p.epfd)
}
