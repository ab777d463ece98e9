// Package socketengine wraps one OS readiness-notification primitive (epoll,
// kqueue, poll or select) behind a single interface and owns the fixed-size
// descriptor table the event loop dispatches from.
//
// Descriptors are addressed by Handle, a small integer that indexes the
// engine's own table. Every access checks bounds and occupancy; callers never
// use a raw OS descriptor as an index.
//
// The engine is not safe for concurrent use. It belongs to the event loop.
package socketengine

import (
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"
)

// ErrTableFull is returned by callers that turn a refused Register into an
// error for their own callers.
var ErrTableFull = errors.New("socketengine: descriptor table full")

// Handle identifies a registered descriptor.
type Handle int

// NoHandle is the zero value callers hold before registration.
const NoHandle Handle = -1

// DefaultPollTimeout keeps timers and sweeps progressing with no ready sockets.
const DefaultPollTimeout = time.Millisecond

type slot struct {
    fd       int
    kind     Kind
    interest Interest
    used     bool
}

// Failure is a per-descriptor error surfaced by Poll.
type Failure struct {
    Handle Handle
    Err    error
}

// Ready is the result of one Poll, partitioned by readiness. A handle that
// failed is reported only in Failed.
type Ready struct {
    Readable []Handle
    Writable []Handle
    Failed   []Failure
}

// Empty reports whether nothing was ready.
func (r Ready) Empty() bool {
    return len(r.Readable) == 0 && len(r.Writable) == 0 && len(r.Failed) == 0
}

// Engine is the descriptor table plus one backend.
type Engine struct {
    kind  BackendKind
    p     poller
    slots []slot
    free  []Handle
    byFD  map[int]Handle
    count int
    // sockErr reads SO_ERROR for a failed descriptor; swapped in tests.
    sockErr func(fd int) error
}

// New opens the requested backend with a fixed capacity. Auto picks the
// platform default. A returned error means the process cannot run.
func New(kind BackendKind, capacity int) (*Engine, error) {
    if capacity <= 0 {
        return nil, fmt.Errorf("socketengine: invalid capacity %d", capacity)
    }
    kind = kind.Resolve()
    p, err := openBackend(kind, capacity)
    if err != nil {
        return nil, err
    }
    zap.L().Info("socket engine ready", zap.Stringer("backend", kind), zap.Int("capacity", capacity))
    return newEngine(kind, capacity, p), nil
}

func newEngine(kind BackendKind, capacity int, p poller) *Engine {
    e := &Engine{
        kind:    kind,
        p:       p,
        slots:   make([]slot, capacity),
        free:    make([]Handle, 0, capacity),
        byFD:    make(map[int]Handle, capacity),
        sockErr: socketError,
    }
    // Lowest handles are handed out first.
    for i := capacity - 1; i >= 0; i-- {
        e.free = append(e.free, Handle(i))
    }
    return e
}

// Backend reports the primitive in use.
func (e *Engine) Backend() BackendKind { return e.kind }

// Cap is the fixed table size.
func (e *Engine) Cap() int { return len(e.slots) }

// Len is the number of registered descriptors.
func (e *Engine) Len() int { return e.count }

func (e *Engine) lookup(h Handle) (*slot, bool) {
    if h < 0 || int(h) >= len(e.slots) {
        return nil, false
    }
    s := &e.slots[h]
    if !s.used {
        return nil, false
    }
    return s, true
}

// Register adds fd to the table and the backend. It fails closed when the
// table is full, the fd is negative or already registered, or the backend
// refuses it; the table is left unchanged on failure.
func (e *Engine) Register(fd int, interest Interest, kind Kind) (Handle, bool) {
    if fd < 0 {
        return NoHandle, false
    }
    if _, dup := e.byFD[fd]; dup {
        zap.L().Warn("descriptor already registered", zap.Int("fd", fd))
        return NoHandle, false
    }
    if len(e.free) == 0 {
        zap.L().Warn("descriptor table full", zap.Int("fd", fd), zap.Int("capacity", len(e.slots)))
        return NoHandle, false
    }
    h := e.free[len(e.free)-1]
    if err := e.p.add(fd, interest); err != nil {
        zap.L().Warn("backend refused descriptor", zap.Int("fd", fd), zap.Stringer("backend", e.kind), zap.Error(err))
        return NoHandle, false
    }
    e.free = e.free[:len(e.free)-1]
    e.slots[h] = slot{fd: fd, kind: kind, interest: interest, used: true}
    e.byFD[fd] = h
    e.count++
    return h, true
}

// Modify changes the interest set of a registered handle.
func (e *Engine) Modify(h Handle, interest Interest) bool {
    s, ok := e.lookup(h)
    if !ok {
        return false
    }
    if s.interest == interest {
        return true
    }
    if err := e.p.modify(s.fd, interest); err != nil {
        zap.L().Debug("modify interest failed", zap.Int("fd", s.fd), zap.Error(err))
        return false
    }
    s.interest = interest
    return true
}

// Unregister removes h. It returns false if h is not registered, which
// callers treat as a no-op. The slot is released even if the backend has
// already forgotten the fd (closed descriptors drop out of epoll on their own).
func (e *Engine) Unregister(h Handle) bool {
    s, ok := e.lookup(h)
    if !ok {
        return false
    }
    if err := e.p.remove(s.fd); err != nil {
        zap.L().Debug("backend remove", zap.Int("fd", s.fd), zap.Error(err))
    }
    delete(e.byFD, s.fd)
    *s = slot{}
    e.free = append(e.free, h)
    e.count--
    return true
}

// Kind returns the dispatch tag of h.
func (e *Engine) Kind(h Handle) (Kind, bool) {
    s, ok := e.lookup(h)
    if !ok {
        return KindUnknown, false
    }
    return s.kind, true
}

// FD returns the OS descriptor behind h.
func (e *Engine) FD(h Handle) (int, bool) {
    s, ok := e.lookup(h)
    if !ok {
        return -1, false
    }
    return s.fd, true
}

// Interest returns the current interest set of h.
func (e *Engine) Interest(h Handle) (Interest, bool) {
    s, ok := e.lookup(h)
    if !ok {
        return InterestNone, false
    }
    return s.interest, true
}

// Poll waits at most timeout for readiness. Only currently registered handles
// appear in the result. A backend error other than an interrupted wait is
// returned to the caller.
func (e *Engine) Poll(timeout time.Duration) (Ready, error) {
    var r Ready
    err := e.p.wait(timeout, func(fd int, ev event) {
        h, ok := e.byFD[fd]
        if !ok {
            return
        }
        s := &e.slots[h]
        if ev&evError != 0 {
            r.Failed = append(r.Failed, Failure{Handle: h, Err: e.sockErr(fd)})
            return
        }
        if ev&evRead != 0 && s.interest.Read() {
            r.Readable = append(r.Readable, h)
        }
        if ev&evWrite != 0 && s.interest.Write() {
            r.Writable = append(r.Writable, h)
        }
    })
    return r, err
}

// Close releases the backend. Registered descriptors are not closed; their
// owners do that.
func (e *Engine) Close() error {
    for i := range e.slots {
        e.slots[i] = slot{}
    }
    e.byFD = map[int]Handle{}
    e.free = e.free[:0]
    e.count = 0
    return e.p.close()
}
