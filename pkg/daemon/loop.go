package daemon

import (
    "context"
    "errors"
    "fmt"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/mesh"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/status"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
)

// Run iterates the loop until ctx ends, then closes the daemon. A poll
// failure is returned after closing.
func (d *Daemon) Run(ctx context.Context) error {
    go func() {
        select {
        case <-ctx.Done():
            d.wake.Wake()
        case <-d.done:
        }
    }()
    for ctx.Err() == nil {
        if err := d.Step(); err != nil {
            d.Close("Poll failure")
            return err
        }
    }
    d.Close("Server shutting down")
    return nil
}

// Do queues f to run on the loop goroutine. It returns false once the
// daemon has stopped.
func (d *Daemon) Do(f func(m *mesh.Mesh)) bool {
    select {
    case <-d.done:
        return false
    default:
    }
    select {
    case <-d.done:
        return false
    case d.calls <- f:
        d.wake.Wake()
        return true
    }
}

// Step runs one iteration: wait for readiness, dispatch by descriptor kind,
// hand delivered lines to the packet handler, then run timers.
func (d *Daemon) Step() error {
    ready, err := d.eng.Poll(d.cfg.Engine.PollTimeout)
    if err != nil {
        return fmt.Errorf("poll: %w", err)
    }
    d.metrics.ObserveLoop()

    for _, f := range ready.Failed {
        kind, _ := d.eng.Kind(f.Handle)
        switch kind {
        case socketengine.KindServerLink:
            d.mesh.OnFailed(f.Handle, f.Err)
        default:
            zap.L().Warn("descriptor error", zap.Stringer("kind", kind), zap.Error(f.Err))
        }
    }
    for _, h := range ready.Writable {
        if kind, _ := d.eng.Kind(h); kind == socketengine.KindServerLink {
            d.mesh.OnWritable(h)
        }
    }
    for _, h := range ready.Readable {
        kind, _ := d.eng.Kind(h)
        switch kind {
        case socketengine.KindServerLink:
            d.mesh.OnReadable(h)
        case socketengine.KindListener:
            d.accept(h)
        case socketengine.KindAux:
            d.wakeup()
        }
    }

    for _, p := range d.mesh.RecvPacket() {
        if d.onPacket != nil {
            d.onPacket(p)
        }
    }

    now := d.now()
    d.mesh.Sweep(now)
    d.autoconnect(now)
    d.publish(now)
    return nil
}

func (d *Daemon) accept(h socketengine.Handle) {
    l, ok := d.listeners[h]
    if !ok {
        return
    }
    cl := d.class(l.class)
    for {
        sock, err := l.l.Accept()
        if errors.Is(err, transport.ErrWouldBlock) {
            return
        }
        if err != nil {
            zap.L().Warn("accept failed", zap.String("addr", l.l.Addr()), zap.Error(err))
            return
        }
        if _, err := d.mesh.Accept(sock, cl.Name, cl.Limits(), cl.PingInterval); err != nil {
            zap.L().Warn("inbound link refused", zap.String("remote", sock.RemoteAddr()), zap.Error(err))
        }
    }
}

// wakeup drains the pipe, then everything other goroutines left for us.
func (d *Daemon) wakeup() {
    d.wake.Drain()
    for _, r := range d.res.Drain() {
        d.resolved(r)
    }
    for {
        select {
        case f := <-d.calls:
            f(d.mesh)
        default:
            return
        }
    }
}

func (d *Daemon) publish(now time.Time) {
    d.metrics.SetDescriptors(d.eng.Len())
    if !d.lastSnapshot.IsZero() && now.Sub(d.lastSnapshot) < d.snapEvery {
        return
    }
    d.lastSnapshot = now
    d.board.Publish(status.Capture(d.mesh, d.eng.Backend().String(), d.eng.Len(), now))
}
