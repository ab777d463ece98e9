// Package daemon runs the single-threaded event loop that owns the socket
// engine, the listeners and the mesh. Other goroutines reach the loop only
// through the wakeup pipe: resolver results, queued calls and shutdown.
package daemon

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/config"
    "github.com/inspircd/inspircd-sub009/pkg/handshake"
    "github.com/inspircd/inspircd-sub009/pkg/mesh"
    "github.com/inspircd/inspircd-sub009/pkg/notice"
    "github.com/inspircd/inspircd-sub009/pkg/observability"
    "github.com/inspircd/inspircd-sub009/pkg/resolver"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/status"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
    "github.com/inspircd/inspircd-sub009/pkg/transport/mem"
    "github.com/inspircd/inspircd-sub009/pkg/transport/tcp"
    "github.com/inspircd/inspircd-sub009/pkg/wakeup"
)

var ErrNoMemTransport = errors.New("daemon: mem:// address without an in-process transport")

// DefaultSnapshotInterval is how often the loop republishes status.
const DefaultSnapshotInterval = 250 * time.Millisecond

const memScheme = "mem://"

type listener struct {
    l     transport.Listener
    class string
}

// Option customises a Daemon.
type Option func(*Daemon)

// WithMemTransport enables mem:// listen and link addresses.
func WithMemTransport(t *mem.Transport) Option { return func(d *Daemon) { d.mem = t } }

// WithNoticeSink sends operator notices somewhere other than the log.
func WithNoticeSink(s notice.Sink) Option { return func(d *Daemon) { d.sink = s } }

// WithPacketHandler receives every line the mesh delivers locally.
func WithPacketHandler(f func(mesh.Packet)) Option { return func(d *Daemon) { d.onPacket = f } }

func WithMetrics(m *observability.Metrics) Option { return func(d *Daemon) { d.metrics = m } }

func WithBoard(b *status.Board) Option { return func(d *Daemon) { d.board = b } }

// WithClock replaces time.Now for timeouts, pings and backoff.
func WithClock(now func() time.Time) Option { return func(d *Daemon) { d.now = now } }

type Daemon struct {
    cfg *config.Config
    now func() time.Time

    eng   *socketengine.Engine
    wake  *wakeup.Pipe
    wakeH socketengine.Handle
    mesh  *mesh.Mesh

    listeners map[socketengine.Handle]listener
    mem       *mem.Transport
    tcp       *tcp.Dialer
    port      int

    res  *resolver.Resolver
    auto map[string]*autoconn

    calls chan func(*mesh.Mesh)
    done  chan struct{}

    board        *status.Board
    lastSnapshot time.Time
    snapEvery    time.Duration

    metrics  *observability.Metrics
    sink     notice.Sink
    notifier *notice.Notifier
    onPacket func(mesh.Packet)
    closed   bool
}

// New builds the engine, opens every configured listener and prepares the
// mesh. cfg must already be validated. An engine that cannot be created is
// returned as an error; the process should not continue without one.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
    d := &Daemon{
        cfg:       cfg,
        now:       time.Now,
        listeners: make(map[socketengine.Handle]listener),
        tcp:       tcp.NewDialer(),
        auto:      make(map[string]*autoconn),
        calls:     make(chan func(*mesh.Mesh), 64),
        done:      make(chan struct{}),
        snapEvery: DefaultSnapshotInterval,
        wakeH:     socketengine.NoHandle,
    }
    for _, o := range opts {
        o(d)
    }
    if d.board == nil {
        d.board = &status.Board{}
    }
    d.notifier = notice.New(cfg.Server.Name, d.sink)

    backend, err := socketengine.ParseBackend(cfg.Engine.Backend)
    if err != nil {
        return nil, err
    }
    d.eng, err = socketengine.New(backend, cfg.Engine.MaxConnections)
    if err != nil {
        return nil, fmt.Errorf("socket engine: %w", err)
    }
    d.wake, err = wakeup.New()
    if err != nil {
        d.eng.Close()
        return nil, fmt.Errorf("wakeup pipe: %w", err)
    }
    h, ok := d.eng.Register(d.wake.FD(), socketengine.InterestRead, socketengine.KindAux)
    if !ok {
        d.wake.Close()
        d.eng.Close()
        return nil, fmt.Errorf("register wakeup pipe: %w", socketengine.ErrTableFull)
    }
    d.wakeH = h

    for _, lc := range cfg.Server.Listen {
        if err := d.listen(lc); err != nil {
            d.Close("startup failed")
            return nil, err
        }
    }

    d.mesh = mesh.New(cfg.Server.Name, d.eng, mesh.Options{
        DedupWindow:      cfg.Mesh.DedupWindow,
        HandshakeTimeout: cfg.Mesh.HandshakeTimeout,
        Relay:            cfg.Mesh.Relay,
        Port:             d.port,
        Version:          cfg.Server.Version,
        Description:      cfg.Server.Description,
        Validator:        handshake.NewStatic(cfg.Server.Name, cfg.LinkBlocks()),
        SendPassword: func(peer string) string {
            if lb, ok := cfg.Link(peer); ok && lb.SendPassword != "" {
                return lb.SendPassword
            }
            return "*"
        },
        Listener: d,
        Metrics:  d.metrics,
        Now:      d.now,
    })

    d.res = resolver.New(cfg.Resolver.Workers, cfg.Resolver.Timeout, d.wake)
    now := d.now()
    for _, lb := range cfg.Links {
        if lb.Autoconnect {
            d.auto[lb.Name] = &autoconn{block: lb, backoff: d.initialBackoff(), next: now}
        }
    }
    return d, nil
}

func (d *Daemon) listen(lc config.ListenConfig) error {
    var (
        l   transport.Listener
        err error
    )
    if name, ok := strings.CutPrefix(lc.Address, memScheme); ok {
        if d.mem == nil {
            return fmt.Errorf("listen %s: %w", lc.Address, ErrNoMemTransport)
        }
        l, err = d.mem.Listen(name)
    } else {
        var tl *tcp.Listener
        tl, err = tcp.Listen(lc.Address)
        if err == nil {
            l = tl
            if d.port == 0 {
                d.port = int(tl.Port())
            }
        }
    }
    if err != nil {
        return fmt.Errorf("listen %s: %w", lc.Address, err)
    }
    h, ok := d.eng.Register(l.FD(), socketengine.InterestRead, socketengine.KindListener)
    if !ok {
        l.Close()
        return fmt.Errorf("listen %s: %w", lc.Address, socketengine.ErrTableFull)
    }
    d.listeners[h] = listener{l: l, class: lc.Class}
    zap.L().Info("listening", zap.String("addr", l.Addr()), zap.String("class", lc.Class))
    return nil
}

// Mesh exposes the mesh for hook registration. Only touch it from the loop
// goroutine or through Do.
func (d *Daemon) Mesh() *mesh.Mesh { return d.mesh }

// Board is where status snapshots are published.
func (d *Daemon) Board() *status.Board { return d.board }

// Engine returns the socket engine.
func (d *Daemon) Engine() *socketengine.Engine { return d.eng }

// ListenAddrs returns the bound address of every listener.
func (d *Daemon) ListenAddrs() []string {
    out := make([]string, 0, len(d.listeners))
    for _, l := range d.listeners {
        out = append(out, l.l.Addr())
    }
    return out
}

// MeshEvent implements mesh.Listener: notices go to opers and autoconnect
// learns about links that came up or went away.
func (d *Daemon) MeshEvent(ev mesh.Event) {
    d.notifier.MeshEvent(ev)
    d.observeLink(ev)
}

func (d *Daemon) class(name string) config.ClassConfig {
    if cl, ok := d.cfg.Class(name); ok {
        return cl
    }
    return config.DefaultClass()
}

// Close tears down every link, closes listeners and releases the engine.
// It is idempotent and must run on the loop goroutine once Run has returned.
func (d *Daemon) Close(reason string) {
    if d.closed {
        return
    }
    d.closed = true
    close(d.done)
    if d.mesh != nil {
        d.mesh.Close(reason)
    }
    for h, l := range d.listeners {
        d.eng.Unregister(h)
        _ = l.l.Close()
    }
    d.listeners = map[socketengine.Handle]listener{}
    if d.res != nil {
        d.res.Close()
    }
    if d.wakeH != socketengine.NoHandle {
        d.eng.Unregister(d.wakeH)
    }
    _ = d.wake.Close()
    _ = d.eng.Close()
    zap.L().Info("daemon stopped", zap.String("reason", reason))
}
