//go:build !(darwin || dragonfly || freebsd || netbsd || openbsd)

package socketengine

func newKqueue(int) (poller, error) { return nil, wrapUnavailable(Kqueue, nil) }
