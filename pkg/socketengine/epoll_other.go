//go:build !linux

package socketengine

func newEpoll(int) (poller, error) { return nil, wrapUnavailable(Epoll, nil) }
