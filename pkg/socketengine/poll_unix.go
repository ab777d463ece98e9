//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package socketengine

import (
    "time"

    "golang.org/x/sys/unix"
)

type pollPoller struct {
    fds   []unix.PollFd
    index map[int]int
}

func newPoll(capacity int) (poller, error) {
    return &pollPoller{fds: make([]unix.PollFd, 0, capacity), index: make(map[int]int, capacity)}, nil
}

func pollMask(in Interest) int16 {
    var m int16
    if in.Read() {
        m |= unix.POLLIN
    }
    if in.Write() {
        m |= unix.POLLOUT
    }
    return m
}

func (p *pollPoller) add(fd int, in Interest) error {
    if _, ok := p.index[fd]; ok {
        return unix.EEXIST
    }
    p.index[fd] = len(p.fds)
    p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: pollMask(in)})
    return nil
}

func (p *pollPoller) modify(fd int, in Interest) error {
    i, ok := p.index[fd]
    if !ok {
        return unix.ENOENT
    }
    p.fds[i].Events = pollMask(in)
    return nil
}

func (p *pollPoller) remove(fd int) error {
    i, ok := p.index[fd]
    if !ok {
        return unix.ENOENT
    }
    last := len(p.fds) - 1
    if i != last {
        p.fds[i] = p.fds[last]
        p.index[int(p.fds[i].Fd)] = i
    }
    p.fds = p.fds[:last]
    delete(p.index, fd)
    return nil
}

func (p *pollPoller) wait(timeout time.Duration, emit func(fd int, ev event)) error {
    if len(p.fds) == 0 {
        time.Sleep(timeout)
        return nil
    }
    n, err := unix.Poll(p.fds, waitMillis(timeout))
    if err != nil {
        if err == unix.EINTR {
            return nil
        }
        return err
    }
    for i := 0; i < len(p.fds) && n > 0; i++ {
        re := p.fds[i].Revents
        if re == 0 {
            continue
        }
        n--
        var ev event
        if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
            ev |= evError
        }
        if re&(unix.POLLIN|unix.POLLHUP) != 0 {
            ev |= evRead
        }
        if re&unix.POLLOUT != 0 {
            ev |= evWrite
        }
        emit(int(p.fds[i].Fd), ev)
    }
    return nil
}

func (p *pollPoller) close() error {
    p.fds = nil
    p.index = nil
    return nil
}
