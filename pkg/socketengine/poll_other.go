//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package socketengine

func newPoll(int) (poller, error) { return nil, wrapUnavailable(Poll, nil) }
