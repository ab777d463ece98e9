//go:build !linux

package socketengine

func newSelect(int) (poller, error) { return nil, wrapUnavailable(Select, nil) }
