// Package mesh routes line-oriented packets across the set of direct server
// links: direct delivery, one-hop rerouting around a dead link, duplicate
// suppression for flood-filled broadcasts, keepalive, and net split
// detection.
//
// A Mesh is owned by the event loop goroutine and is not safe for concurrent
// use. It never writes user-visible text; it emits Events.
package mesh

import (
    "slices"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/connection"
    "github.com/inspircd/inspircd-sub009/pkg/handshake"
    "github.com/inspircd/inspircd-sub009/pkg/hooks"
    "github.com/inspircd/inspircd-sub009/pkg/link"
    "github.com/inspircd/inspircd-sub009/pkg/observability"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
)

const DefaultHandshakeTimeout = 30 * time.Second

// Options configures a Mesh. Zero values pick the defaults.
type Options struct {
    DedupWindow      int
    HandshakeTimeout time.Duration
    // Relay re-sends new checksummed lines to every other established link.
    Relay bool

    // Port, Version and Description go into our handshake line.
    Port        int
    Version     string
    Description string

    Validator handshake.Validator
    // SendPassword returns the password we present to peer.
    SendPassword func(peer string) string

    Listener Listener
    Metrics  *observability.Metrics
    Now      func() time.Time
}

type Mesh struct {
    local string
    eng   link.Multiplexer
    opts  Options

    links    []*link.Link
    byHandle map[socketengine.Handle]*link.Link

    dedup *dedupWindow
    seq   uint64
    inbox []Packet

    OnLineReceived     *hooks.Registry[LineReceived]
    OnLinkStateChanged *hooks.Registry[LinkStateChanged]
}

func New(local string, eng link.Multiplexer, opts Options) *Mesh {
    if opts.HandshakeTimeout <= 0 {
        opts.HandshakeTimeout = DefaultHandshakeTimeout
    }
    if opts.Now == nil {
        opts.Now = time.Now
    }
    if opts.Validator == nil {
        opts.Validator = handshake.ValidatorFunc(func(handshake.Hello, bool) error { return nil })
    }
    if opts.SendPassword == nil {
        opts.SendPassword = func(string) string { return "*" }
    }
    return &Mesh{
        local:              local,
        eng:                eng,
        opts:               opts,
        byHandle:           make(map[socketengine.Handle]*link.Link),
        dedup:              newDedupWindow(opts.DedupWindow),
        OnLineReceived:     hooks.NewRegistry[LineReceived](),
        OnLinkStateChanged: hooks.NewRegistry[LinkStateChanged](),
    }
}

// Local is our own server name.
func (m *Mesh) Local() string { return m.local }

// Links returns the links in dial/accept order.
func (m *Mesh) Links() []*link.Link { return slices.Clone(m.links) }

// Link finds the live direct link to name, preferring an established one.
func (m *Mesh) Link(name string) *link.Link {
    var found *link.Link
    for _, l := range m.links {
        if l.State() == link.Disconnected || !strings.EqualFold(l.Name(), name) {
            continue
        }
        if l.State() == link.Established {
            return l
        }
        if found == nil {
            found = l
        }
    }
    return found
}

// ByHandle maps an engine handle back to its link.
func (m *Mesh) ByHandle(h socketengine.Handle) (*link.Link, bool) {
    l, ok := m.byHandle[h]
    return l, ok
}

func (m *Mesh) add(l *link.Link) {
    m.links = append(m.links, l)
    m.byHandle[l.Handle()] = l
    m.stateChanged(l, link.Disconnected, l.State(), "")
}

func (m *Mesh) hello(peer string) string {
    return handshake.BuildHello(m.local, m.opts.SendPassword(peer), m.opts.Port, m.opts.Version, m.opts.Description).Line()
}

// Dial opens an outbound link and queues our handshake line, which is
// written once the connect completes.
func (m *Mesh) Dial(target link.DialTarget, limits connection.Limits, pingInterval time.Duration) (*link.Link, error) {
    l, err := link.Dial(m.eng, target, limits, m.opts.Now())
    if err != nil {
        m.opts.Metrics.ObserveDial("error")
        return nil, err
    }
    m.opts.Metrics.ObserveDial("started")
    l.PingInterval = pingInterval
    m.add(l)
    l.Send(m.hello(target.Name))
    l.Flush()
    return l, nil
}

// Accept adopts an inbound socket. The peer speaks first.
func (m *Mesh) Accept(sock transport.Socket, class string, limits connection.Limits, pingInterval time.Duration) (*link.Link, error) {
    l, err := link.AcceptIncoming(m.eng, sock, class, limits, m.opts.Now())
    if err != nil {
        return nil, err
    }
    l.PingInterval = pingInterval
    m.add(l)
    return l, nil
}

// OnReadable pulls data for the link behind h. Lines are handled by
// RecvPacket; failures by RecvPacket or Sweep once buffered lines are out.
func (m *Mesh) OnReadable(h socketengine.Handle) {
    if l, ok := m.byHandle[h]; ok {
        l.HandleReadable()
    }
}

// OnWritable completes a connect or drains the send queue.
func (m *Mesh) OnWritable(h socketengine.Handle) {
    l, ok := m.byHandle[h]
    if !ok {
        return
    }
    if !l.HandleWritable() {
        m.Teardown(l, l.Err())
    }
}

// OnFailed tears down the link behind h with the socket's error.
func (m *Mesh) OnFailed(h socketengine.Handle, err error) {
    l, ok := m.byHandle[h]
    if !ok {
        return
    }
    reason := "Socket error"
    if err != nil {
        reason = "Socket error: " + err.Error()
    }
    // Anything already received is still processed first.
    l.HandleReadable()
    m.service(l)
    m.Teardown(l, reason)
}

func (m *Mesh) established() []*link.Link {
    out := make([]*link.Link, 0, len(m.links))
    for _, l := range m.links {
        if l.State() == link.Established {
            out = append(out, l)
        }
    }
    return out
}

// synced returns links past authentication. Route and split announcements
// go to these; a syncing link has already been sent our burst and must see
// every change after it.
func (m *Mesh) synced() []*link.Link {
    out := make([]*link.Link, 0, len(m.links))
    for _, l := range m.links {
        if l.State().Synced() {
            out = append(out, l)
        }
    }
    return out
}

// reachable reports whether name is directly linked (past authentication) or
// appears in any synced link's routes.
func (m *Mesh) reachable(name string) bool {
    if strings.EqualFold(name, m.local) {
        return true
    }
    for _, l := range m.links {
        if !l.State().Synced() {
            continue
        }
        if strings.EqualFold(l.Name(), name) || l.HasRoute(name) {
            return true
        }
    }
    return false
}

// Reachable is the exported form of the reachability check.
func (m *Mesh) Reachable(name string) bool { return m.reachable(name) }

// Servers lists every server we can reach, sorted, ourselves excluded.
func (m *Mesh) Servers() []string {
    set := map[string]struct{}{}
    for _, l := range m.links {
        if l.State() != link.Syncing && l.State() != link.Established {
            continue
        }
        set[l.Name()] = struct{}{}
        for _, r := range l.RouteNames() {
            set[r] = struct{}{}
        }
    }
    delete(set, m.local)
    out := make([]string, 0, len(set))
    for n := range set {
        out = append(out, n)
    }
    slices.Sort(out)
    return out
}

func (m *Mesh) emit(ev Event) {
    if ev.Time.IsZero() {
        ev.Time = m.opts.Now()
    }
    if m.opts.Listener != nil {
        m.opts.Listener.MeshEvent(ev)
    }
}

func (m *Mesh) stateChanged(l *link.Link, old, new link.State, reason string) {
    m.emit(Event{Kind: EventLinkState, Peer: l.Name(), Old: old, New: new, Reason: reason})
    m.OnLinkStateChanged.Run(LinkStateChanged{Peer: l.Name(), Old: old, New: new, Reason: reason})
    m.updateGauges()
}

func (m *Mesh) advance(l *link.Link, to link.State) bool {
    old := l.State()
    if err := l.Advance(to); err != nil {
        zap.L().Warn("refused link transition", zap.String("server", l.Name()), zap.Error(err))
        return false
    }
    m.stateChanged(l, old, to, "")
    return true
}

func (m *Mesh) updateGauges() {
    if m.opts.Metrics == nil {
        return
    }
    counts := map[string]int{}
    for _, l := range m.links {
        counts[l.State().String()]++
    }
    m.opts.Metrics.SetLinks(counts)
}

func (m *Mesh) remove(l *link.Link) {
    for h, x := range m.byHandle {
        if x == l {
            delete(m.byHandle, h)
        }
    }
    m.links = slices.DeleteFunc(m.links, func(x *link.Link) bool { return x == l })
}
