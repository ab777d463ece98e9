package socketengine

import (
    "errors"
    "fmt"
    "runtime"
    "strings"
    "time"
)

var (
    // ErrBackendUnavailable is returned by New when the kernel or build lacks
    // the requested notification primitive. Callers treat it as fatal.
    ErrBackendUnavailable = errors.New("socketengine: backend unavailable")
    // ErrUnknownBackend is returned by ParseBackend for unrecognised names.
    ErrUnknownBackend = errors.New("socketengine: unknown backend")
)

// BackendKind selects the OS readiness primitive. It is chosen once at
// startup; there is no per-backend type hierarchy above the engine.
type BackendKind int

const (
    Auto BackendKind = iota
    Epoll
    Kqueue
    Poll
    Select
    IOCP
)

func (b BackendKind) String() string {
    switch b {
    case Auto:
        return "auto"
    case Epoll:
        return "epoll"
    case Kqueue:
        return "kqueue"
    case Poll:
        return "poll"
    case Select:
        return "select"
    case IOCP:
        return "iocp"
    default:
        return fmt.Sprintf("backend(%d)", int(b))
    }
}

// ParseBackend maps a configuration string onto a BackendKind.
func ParseBackend(s string) (BackendKind, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "auto", "default":
        return Auto, nil
    case "epoll":
        return Epoll, nil
    case "kqueue":
        return Kqueue, nil
    case "poll":
        return Poll, nil
    case "select":
        return Select, nil
    case "iocp", "ports":
        return IOCP, nil
    default:
        return Auto, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
    }
}

// Resolve turns Auto into the preferred primitive for the running platform.
func (b BackendKind) Resolve() BackendKind {
    if b != Auto {
        return b
    }
    switch runtime.GOOS {
    case "linux":
        return Epoll
    case "darwin", "dragonfly", "freebsd", "netbsd", "openbsd":
        return Kqueue
    case "windows":
        return IOCP
    default:
        return Poll
    }
}

// poller is the contract every backend implements. All methods are called
// from the event loop goroutine only.
type poller interface {
    add(fd int, in Interest) error
    modify(fd int, in Interest) error
    remove(fd int) error
    // wait blocks for at most timeout and calls emit once per ready fd.
    wait(timeout time.Duration, emit func(fd int, ev event)) error
    close() error
}

func openBackend(kind BackendKind, capacity int) (poller, error) {
    switch kind {
    case Epoll:
        return newEpoll(capacity)
    case Kqueue:
        return newKqueue(capacity)
    case Poll:
        return newPoll(capacity)
    case Select:
        return newSelect(capacity)
    case IOCP:
        // Completion ports deliver completions, not readiness; the loop here
        // is readiness driven, so there is nothing to wrap.
        return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, kind)
    default:
        return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, kind)
    }
}

// waitMillis converts a poll timeout to the integer milliseconds the kernel
// calls take, rounding sub-millisecond waits up so a 1µs timeout still sleeps
// instead of spinning.
func waitMillis(timeout time.Duration) int {
    if timeout <= 0 {
        return 0
    }
    ms := int(timeout / time.Millisecond)
    if timeout%time.Millisecond != 0 {
        ms++
    }
    return ms
}
