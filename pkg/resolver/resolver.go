// Package resolver performs DNS lookups off the event loop. Lookups run on
// background goroutines bounded by a weighted semaphore; finished lookups are
// queued on a channel and the loop is woken through a Waker.
package resolver

import (
    "context"
    "errors"
    "fmt"
    "net"
    "net/netip"
    "sync"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/semaphore"
)

var ErrNoAddress = errors.New("resolver: no address")

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 5 * time.Second

// Waker is poked after a result is queued. *wakeup.Pipe implements it.
type Waker interface {
    Wake()
}

// Result is a finished asynchronous lookup.
type Result struct {
    Host string
    Addr netip.Addr
    Err  error
    // Tag is whatever the caller passed to Submit.
    Tag any
}

type lookupFunc func(ctx context.Context, network, host string) ([]netip.Addr, error)

// Resolver is safe for concurrent use.
type Resolver struct {
    lookup  lookupFunc
    sem     *semaphore.Weighted
    timeout time.Duration
    wake    Waker

    results chan Result
    ctx     context.Context
    cancel  context.CancelFunc
    wg      sync.WaitGroup
}

// New returns a resolver with at most workers lookups in flight.
func New(workers int, timeout time.Duration, wake Waker) *Resolver {
    if workers <= 0 {
        workers = 1
    }
    if timeout <= 0 {
        timeout = DefaultTimeout
    }
    ctx, cancel := context.WithCancel(context.Background())
    return &Resolver{
        lookup:  net.DefaultResolver.LookupNetIP,
        sem:     semaphore.NewWeighted(int64(workers)),
        timeout: timeout,
        wake:    wake,
        results: make(chan Result, 64),
        ctx:     ctx,
        cancel:  cancel,
    }
}

// Resolve blocks until host resolves, ctx ends or the resolver closes. IP
// literals return immediately. IPv4 answers are preferred.
func (r *Resolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
    if a, err := netip.ParseAddr(host); err == nil {
        return a.Unmap(), nil
    }
    if err := r.sem.Acquire(ctx, 1); err != nil {
        return netip.Addr{}, err
    }
    defer r.sem.Release(1)

    ctx, cancel := context.WithTimeout(ctx, r.timeout)
    defer cancel()
    addrs, err := r.lookup(ctx, "ip", host)
    if err != nil {
        return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
    }
    return pick(host, addrs)
}

func pick(host string, addrs []netip.Addr) (netip.Addr, error) {
    if len(addrs) == 0 {
        return netip.Addr{}, fmt.Errorf("%w for %s", ErrNoAddress, host)
    }
    for _, a := range addrs {
        if a.Unmap().Is4() {
            return a.Unmap(), nil
        }
    }
    return addrs[0], nil
}

// Submit starts an asynchronous lookup. The result appears on Results and
// the waker fires. It returns false once the resolver is closed.
func (r *Resolver) Submit(host string, tag any) bool {
    if r.ctx.Err() != nil {
        return false
    }
    r.wg.Add(1)
    go func() {
        defer r.wg.Done()
        addr, err := r.Resolve(r.ctx, host)
        if err != nil {
            zap.L().Debug("lookup failed", zap.String("host", host), zap.Error(err))
        }
        select {
        case r.results <- Result{Host: host, Addr: addr, Err: err, Tag: tag}:
            if r.wake != nil {
                r.wake.Wake()
            }
        case <-r.ctx.Done():
        }
    }()
    return true
}

// Results is the queue of finished lookups.
func (r *Resolver) Results() <-chan Result { return r.results }

// Drain returns every queued result without blocking.
func (r *Resolver) Drain() []Result {
    var out []Result
    for {
        select {
        case res := <-r.results:
            out = append(out, res)
        default:
            return out
        }
    }
}

// Close cancels outstanding lookups and waits for their goroutines.
func (r *Resolver) Close() {
    r.cancel()
    r.wg.Wait()
}
