// Package link models one direct hop to a named peer server: the socket's
// registration with the engine, its Connection, the authentication state
// machine and the set of servers reachable through it.
//
// A Link never notifies anyone. The mesh inspects it and decides.
package link

import (
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/connection"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
)

// Multiplexer is the part of the socket engine a link needs.
type Multiplexer interface {
    Register(fd int, interest socketengine.Interest, kind socketengine.Kind) (socketengine.Handle, bool)
    Modify(h socketengine.Handle, interest socketengine.Interest) bool
    Unregister(h socketengine.Handle) bool
}

// DialTarget describes an outbound link attempt.
type DialTarget struct {
    // Name is the server we expect to answer.
    Name string
    // Address is a resolved ip:port (or a mem listener name).
    Address string
    Class   string
    Dialer  transport.Dialer
}

type Link struct {
    ID      uuid.UUID
    name    string
    dir     Direction
    state   State
    class   string
    created time.Time

    conn       *connection.Connection
    eng        Multiplexer
    handle     socketengine.Handle
    interest   socketengine.Interest
    connecting bool

    connectErr string

    routes map[string]Route

    // PingInterval is how often the mesh runs CheckPing; zero disables it.
    PingInterval time.Duration
    nextPing     time.Time

    // Description and Version come from the peer's handshake.
    Description string
    Version     string
}

func newLink(name string, dir Direction, class string, eng Multiplexer, sock transport.Socket, limits connection.Limits, now time.Time) *Link {
    return &Link{
        ID:      uuid.New(),
        name:    name,
        dir:     dir,
        class:   class,
        created: now,
        conn:    connection.New(sock, limits),
        eng:     eng,
        handle:  socketengine.NoHandle,
        routes:  make(map[string]Route),
    }
}

func (l *Link) register(interest socketengine.Interest) error {
    h, ok := l.eng.Register(l.conn.Socket().FD(), interest, socketengine.KindServerLink)
    if !ok {
        return socketengine.ErrTableFull
    }
    l.handle = h
    l.interest = interest
    return nil
}

// Dial starts a non-blocking connect. An error means the attempt could not
// even start (socket creation, descriptor table full); a connect still in
// progress is success and completes when the socket turns writable.
func Dial(eng Multiplexer, target DialTarget, limits connection.Limits, now time.Time) (*Link, error) {
    if target.Dialer == nil {
        return nil, errors.New("link: no dialer")
    }
    sock, err := target.Dialer.Dial(target.Address)
    if err != nil {
        return nil, fmt.Errorf("link: dial %s (%s): %w", target.Name, target.Address, err)
    }
    l := newLink(target.Name, Outbound, target.Class, eng, sock, limits, now)
    _, l.connecting = sock.(transport.Connecting)
    if err := l.register(socketengine.InterestReadWrite); err != nil {
        sock.Close()
        return nil, fmt.Errorf("link: register %s: %w", target.Name, err)
    }
    if err := l.Advance(AuthenticatingOutbound); err != nil {
        l.Close()
        return nil, err
    }
    zap.L().Info("link dialling", zap.String("server", target.Name), zap.String("address", target.Address), zap.Stringer("id", l.ID))
    return l, nil
}

// AcceptIncoming wraps an accepted socket in a link under a provisional name.
func AcceptIncoming(eng Multiplexer, sock transport.Socket, class string, limits connection.Limits, now time.Time) (*Link, error) {
    name := transport.TempPeerName(sock.Kind(), sock.RemoteAddr())
    l := newLink(name, Inbound, class, eng, sock, limits, now)
    if err := l.register(socketengine.InterestRead); err != nil {
        sock.Close()
        return nil, fmt.Errorf("link: register inbound %s: %w", name, err)
    }
    if err := l.Advance(AuthenticatingInbound); err != nil {
        l.Close()
        return nil, err
    }
    zap.L().Info("link accepted", zap.String("remote", sock.RemoteAddr()), zap.Stringer("id", l.ID))
    return l, nil
}

func (l *Link) Name() string                    { return l.name }
func (l *Link) Direction() Direction            { return l.dir }
func (l *Link) State() State                    { return l.state }
func (l *Link) Class() string                   { return l.class }
func (l *Link) Created() time.Time              { return l.created }
func (l *Link) Conn() *connection.Connection    { return l.conn }
func (l *Link) Handle() socketengine.Handle     { return l.handle }
func (l *Link) Connecting() bool                { return l.connecting }
func (l *Link) Interest() socketengine.Interest { return l.interest }

// SetName replaces the provisional name once the handshake names the peer.
func (l *Link) SetName(name string) { l.name = name }

// Advance moves the state machine, refusing transitions the protocol does
// not allow.
func (l *Link) Advance(to State) error {
    if !legal(l.state, to) {
        return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, l.state, to, l.name)
    }
    zap.L().Debug("link state", zap.String("server", l.name), zap.Stringer("from", l.state), zap.Stringer("to", to))
    l.state = to
    if to == Established {
        l.nextPing = time.Time{}
    }
    return nil
}

// PingDue reports whether a keepalive tick is due and schedules the next one.
func (l *Link) PingDue(now time.Time) bool {
    if l.PingInterval <= 0 {
        return false
    }
    if l.nextPing.IsZero() {
        l.nextPing = now.Add(l.PingInterval)
        return false
    }
    if now.Before(l.nextPing) {
        return false
    }
    l.nextPing = now.Add(l.PingInterval)
    return true
}

// HandleWritable completes an in-progress connect or drains the send queue.
func (l *Link) HandleWritable() bool {
    if l.state == Disconnected {
        return false
    }
    if l.connecting {
        c, _ := l.conn.Socket().(transport.Connecting)
        if err := c.FinishConnect(); err != nil {
            l.connectErr = "Connect failed: " + err.Error()
            return false
        }
        l.connecting = false
        zap.L().Debug("link connected", zap.String("server", l.name))
    }
    return l.Flush()
}

// HandleReadable pulls what the socket has into the receive buffer, up to
// the RecvQ ceiling.
func (l *Link) HandleReadable() bool {
    if l.state == Disconnected {
        return false
    }
    if l.connecting {
        return true
    }
    return l.conn.Fill()
}

// Send queues one line. False means the connection refused it (ceiling or
// latched write error).
func (l *Link) Send(line string) bool {
    if l.state == Disconnected {
        return false
    }
    return l.conn.WriteLine(line)
}

// Flush writes what it can and keeps write interest only while bytes remain.
func (l *Link) Flush() bool {
    if l.state == Disconnected {
        return false
    }
    ok := true
    if !l.connecting {
        ok = l.conn.Flush()
    }
    want := socketengine.InterestRead
    if l.connecting || l.conn.Pending() > 0 {
        want = socketengine.InterestReadWrite
    }
    if want != l.interest && l.eng.Modify(l.handle, want) {
        l.interest = want
    }
    return ok
}

// Err is the reason this link should be torn down, or "".
func (l *Link) Err() string {
    if l.connectErr != "" {
        return l.connectErr
    }
    return l.conn.Err()
}

// Close unregisters the descriptor, closes the connection and marks the link
// Disconnected. Later calls do nothing.
func (l *Link) Close() {
    if l.handle != socketengine.NoHandle {
        l.eng.Unregister(l.handle)
        l.handle = socketengine.NoHandle
    }
    l.conn.Close()
    l.state = Disconnected
}

func (l *Link) String() string {
    return fmt.Sprintf("%s[%s %s]", l.name, l.dir, l.state)
}
