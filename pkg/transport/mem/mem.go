//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package mem provides in-process sockets: connected pairs backed by
// AF_UNIX socketpairs and a registry of named listeners, so daemons in one
// process (and tests) can link without touching the network.
package mem

import (
    "errors"
    "fmt"
    "sync"

    "golang.org/x/sys/unix"

    "github.com/inspircd/inspircd-sub009/pkg/transport"
    "github.com/inspircd/inspircd-sub009/pkg/wakeup"
)

var (
    ErrListenerExists = errors.New("mem: listener already exists")
    ErrNoListener     = errors.New("mem: no such listener")
)

// Pair returns two connected non-blocking sockets. remoteA is what a reports
// as its peer address and vice versa.
func Pair(remoteA, remoteB string) (a, b transport.Socket, err error) {
    fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
    if err != nil {
        return nil, nil, fmt.Errorf("mem: socketpair: %w", err)
    }
    for _, fd := range fds {
        if err := transport.SetupFD(fd); err != nil {
            unix.Close(fds[0])
            unix.Close(fds[1])
            return nil, nil, fmt.Errorf("mem: setup: %w", err)
        }
    }
    return transport.NewFDSocket(fds[0], transport.KindMem, remoteA),
        transport.NewFDSocket(fds[1], transport.KindMem, remoteB), nil
}

// Transport is a registry of named in-process listeners. Dial may be called
// from any goroutine.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*Listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*Listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(name string) (*Listener, error) {
    t.mu.Lock()
    defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, ErrListenerExists
    }
    w, err := wakeup.New()
    if err != nil {
        return nil, err
    }
    l := &Listener{name: name, wake: w, owner: t}
    t.listeners[name] = l
    return l, nil
}

// Dial connects to the listener registered as name. The returned socket is
// already connected.
func (t *Transport) Dial(name string) (transport.Socket, error) {
    t.mu.Lock()
    l := t.listeners[name]
    t.mu.Unlock()
    if l == nil {
        return nil, fmt.Errorf("%w: %s", ErrNoListener, name)
    }
    cli, srv, err := Pair(name, "mem-client:"+name)
    if err != nil {
        return nil, err
    }
    if !l.push(srv) {
        cli.Close()
        srv.Close()
        return nil, fmt.Errorf("%w: %s", ErrNoListener, name)
    }
    return cli, nil
}

func (t *Transport) forget(name string) {
    t.mu.Lock()
    delete(t.listeners, name)
    t.mu.Unlock()
}

// Listener hands dialled pairs to the event loop. Its FD becomes readable
// whenever a connection is pending.
type Listener struct {
    name    string
    wake    *wakeup.Pipe
    owner   *Transport
    mu      sync.Mutex
    pending []transport.Socket
    closed  bool
}

func (l *Listener) FD() int      { return l.wake.FD() }
func (l *Listener) Addr() string { return l.name }

func (l *Listener) push(s transport.Socket) bool {
    l.mu.Lock()
    if l.closed {
        l.mu.Unlock()
        return false
    }
    l.pending = append(l.pending, s)
    l.mu.Unlock()
    l.wake.Wake()
    return true
}

func (l *Listener) Accept() (transport.Socket, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed {
        return nil, transport.ErrClosed
    }
    if len(l.pending) == 0 {
        l.wake.Drain()
        return nil, transport.ErrWouldBlock
    }
    s := l.pending[0]
    l.pending = l.pending[1:]
    return s, nil
}

func (l *Listener) Close() error {
    l.mu.Lock()
    if l.closed {
        l.mu.Unlock()
        return nil
    }
    l.closed = true
    pending := l.pending
    l.pending = nil
    l.mu.Unlock()
    for _, s := range pending {
        s.Close()
    }
    l.owner.forget(l.name)
    return l.wake.Close()
}
