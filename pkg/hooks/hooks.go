// Package hooks is a small priority-ordered callback registry. The mesh uses
// it to expose OnLineReceived and OnLinkStateChanged to the command layer.
package hooks

import (
    "fmt"
    "reflect"
    "runtime"
    "sort"
    "sync"

    "go.uber.org/zap"
)

// Hook receives one event value. An error is logged and reported but does not
// stop later hooks.
type Hook[T any] func(ev T) error

type entry[T any] struct {
    name     string
    hook     Hook[T]
    priority int64
    seq      uint64
}

// Registry holds hooks for one event type. Lower priority values run first;
// equal priorities run in registration order.
type Registry[T any] struct {
    mu    sync.RWMutex
    hooks []entry[T]
    seq   uint64
}

func NewRegistry[T any]() *Registry[T] {
    return &Registry[T]{}
}

// Register adds hook with priority 0.
func (r *Registry[T]) Register(hook Hook[T]) {
    r.RegisterWithPriority(hook, 0)
}

func (r *Registry[T]) RegisterWithPriority(hook Hook[T], priority int64) {
    name := runtime.FuncForPC(reflect.ValueOf(hook).Pointer()).Name()
    r.RegisterNamed(name, hook, priority)
}

// RegisterNamed adds hook under an explicit name, which is what error reports
// and logs use.
func (r *Registry[T]) RegisterNamed(name string, hook Hook[T], priority int64) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.seq++
    r.hooks = append(r.hooks, entry[T]{name: name, hook: hook, priority: priority, seq: r.seq})
    sort.SliceStable(r.hooks, func(i, j int) bool {
        if r.hooks[i].priority != r.hooks[j].priority {
            return r.hooks[i].priority < r.hooks[j].priority
        }
        return r.hooks[i].seq < r.hooks[j].seq
    })
}

// Run calls every hook with ev and returns the failures keyed by hook name,
// or nil. A panicking hook is recovered and reported as an error.
func (r *Registry[T]) Run(ev T) map[string]error {
    if r == nil {
        return nil
    }
    r.mu.RLock()
    hooks := make([]entry[T], len(r.hooks))
    copy(hooks, r.hooks)
    r.mu.RUnlock()

    var failed map[string]error
    for _, h := range hooks {
        if err := call(h, ev); err != nil {
            if failed == nil {
                failed = make(map[string]error)
            }
            failed[h.name] = err
            zap.L().Warn("hook failed", zap.String("hook", h.name), zap.Error(err))
        }
    }
    return failed
}

func call[T any](h entry[T], ev T) (err error) {
    defer func() {
        if p := recover(); p != nil {
            err = fmt.Errorf("panic in hook %s: %v", h.name, p)
        }
    }()
    return h.hook(ev)
}

func (r *Registry[T]) Clear() {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.hooks = nil
}

func (r *Registry[T]) Count() int {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return len(r.hooks)
}
