//go:build linux

package mesh

import (
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/inspircd/inspircd-sub009/pkg/connection"
    "github.com/inspircd/inspircd-sub009/pkg/handshake"
    "github.com/inspircd/inspircd-sub009/pkg/link"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
    "github.com/inspircd/inspircd-sub009/pkg/transport/mem"
)

type node struct {
    t      *testing.T
    name   string
    eng    *socketengine.Engine
    m      *Mesh
    events []Event
    inbox  []Packet
    clock  time.Time
}

func newNode(t *testing.T, name string, tweak ...func(*Options)) *node {
    t.Helper()
    eng, err := socketengine.New(socketengine.Poll, 64)
    require.NoError(t, err)
    n := &node{t: t, name: name, eng: eng, clock: time.Unix(1700000000, 0)}
    opts := Options{
        Relay:    true,
        Port:     7000,
        Version:  "test",
        Listener: ListenerFunc(func(ev Event) { n.events = append(n.events, ev) }),
        Now:      func() time.Time { return n.clock },
    }
    for _, f := range tweak {
        f(&opts)
    }
    n.m = New(name, eng, opts)
    t.Cleanup(func() {
        n.m.Close("test over")
        eng.Close()
    })
    return n
}

// toNode is a Dialer that connects straight into another node's Accept.
type toNode struct {
    t    *testing.T
    peer *node
}

func (d toNode) Kind() transport.Kind { return transport.KindMem }

func (d toNode) Dial(address string) (transport.Socket, error) {
    a, b, err := mem.Pair(address, "dialer")
    if err != nil {
        return nil, err
    }
    _, err = d.peer.m.Accept(b, "servers", connection.DefaultLimits(), 0)
    require.NoError(d.t, err)
    return a, nil
}

func (n *node) dial(peer *node) *link.Link {
    n.t.Helper()
    l, err := n.m.Dial(link.DialTarget{Name: peer.name, Address: peer.name, Dialer: toNode{t: n.t, peer: peer}}, connection.DefaultLimits(), 0)
    require.NoError(n.t, err)
    return l
}

// step runs one loop iteration and reports whether anything was ready.
func (n *node) step() bool {
    r, err := n.eng.Poll(0)
    require.NoError(n.t, err)
    for _, f := range r.Failed {
        n.m.OnFailed(f.Handle, f.Err)
    }
    for _, h := range r.Writable {
        n.m.OnWritable(h)
    }
    for _, h := range r.Readable {
        n.m.OnReadable(h)
    }
    n.inbox = append(n.inbox, n.m.RecvPacket()...)
    return !r.Empty()
}

func pump(t *testing.T, nodes ...*node) {
    t.Helper()
    quiet := 0
    for i := 0; i < 1000 && quiet < 3; i++ {
        busy := false
        for _, n := range nodes {
            if n.step() {
                busy = true
            }
        }
        if busy {
            quiet = 0
        } else {
            quiet++
            time.Sleep(time.Millisecond)
        }
    }
}

func (n *node) eventsOf(kind EventKind) []Event {
    var out []Event
    for _, ev := range n.events {
        if ev.Kind == kind {
            out = append(out, ev)
        }
    }
    return out
}

func (n *node) lines() []string {
    var out []string
    for _, p := range n.inbox {
        out = append(out, p.Line)
    }
    return out
}

func requireEstablished(t *testing.T, n *node, peer string) *link.Link {
    t.Helper()
    l := n.m.Link(peer)
    require.NotNil(t, l, "%s has no link to %s", n.name, peer)
    require.Equal(t, link.Established, l.State(), "%s -> %s", n.name, peer)
    return l
}

func TestHandshakeAndBurst(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    var changes []LinkStateChanged
    a.m.OnLinkStateChanged.Register(func(ev LinkStateChanged) error {
        changes = append(changes, ev)
        return nil
    })
    a.dial(b)
    pump(t, a, b)

    la := requireEstablished(t, a, "b.example")
    requireEstablished(t, b, "a.example")
    assert.Equal(t, link.Outbound, la.Direction())
    assert.Equal(t, "test", la.Version)

    require.Len(t, changes, 3)
    assert.Equal(t, link.AuthenticatingOutbound, changes[0].New)
    assert.Equal(t, link.Syncing, changes[1].New)
    assert.Equal(t, link.Established, changes[2].New)
    assert.Equal(t, []string{"b.example"}, a.m.Servers())
}

func TestDirectSendIsFIFO(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    a.dial(b)
    pump(t, a, b)

    var got []string
    b.m.OnLineReceived.Register(func(ev LineReceived) error {
        got = append(got, ev.Line)
        return nil
    })
    for _, p := range []string{"PRIVMSG #c :1", "PRIVMSG #c :2", "PRIVMSG #c :3"} {
        require.True(t, a.m.SendPacket(p, "b.example"))
    }
    pump(t, a, b)
    assert.Equal(t, []string{"PRIVMSG #c :1", "PRIVMSG #c :2", "PRIVMSG #c :3"}, b.lines())
    assert.Equal(t, b.lines(), got)
    assert.Equal(t, "a.example", b.inbox[0].Peer)
}

func TestBurstLargerThanRecvQKeepsLink(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    a.dial(b)
    pump(t, a, b)

    payload := "PRIVMSG #c :" + strings.Repeat("x", 478)
    for i := 0; i < 20; i++ {
        require.True(t, a.m.SendPacket(payload, "b.example"))
    }
    pump(t, a, b)

    assert.Len(t, b.lines(), 20)
    requireEstablished(t, a, "b.example")
    requireEstablished(t, b, "a.example")
    assert.Empty(t, a.eventsOf(EventSplit))
    assert.Empty(t, b.eventsOf(EventSplit))
}

func TestRerouteThroughNeighbour(t *testing.T) {
    a, b, c := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example")
    a.dial(b)
    pump(t, a, b)
    c.dial(b)
    pump(t, a, b, c)

    lb := requireEstablished(t, a, "b.example")
    require.True(t, lb.HasRoute("c.example"), "a learns c through b")
    assert.Nil(t, a.m.Link("c.example"))
    assert.Equal(t, []string{"b.example", "c.example"}, a.m.Servers())

    require.True(t, a.m.SendPacket("NOTICE c :hello", "c.example"))
    pump(t, a, b, c)

    assert.Empty(t, b.inbox, "b only forwards")
    require.Equal(t, []string{"NOTICE c :hello"}, c.lines())
    assert.Equal(t, "b.example", c.inbox[0].Peer)
}

func TestMarkedPayloadIsForwardedUnchanged(t *testing.T) {
    a, b, c := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example")
    a.dial(b)
    c.dial(b)
    pump(t, a, b, c)

    require.True(t, a.m.SendPacket("R c.example NOTICE c :already", "c.example"))
    pump(t, a, b, c)
    assert.Equal(t, []string{"NOTICE c :already"}, c.lines())
    assert.Empty(t, b.inbox)
}

func TestBroadcastDeliveredOnceAcrossTwoLinks(t *testing.T) {
    a, b, c := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example")
    a.dial(b)
    a.dial(c)
    b.dial(c)
    pump(t, a, b, c)
    requireEstablished(t, b, "c.example")

    assert.Equal(t, 2, a.m.Broadcast("SQUIT-NOTICE :hi", nil))
    pump(t, a, b, c)

    assert.Equal(t, []string{"SQUIT-NOTICE :hi"}, b.lines())
    assert.Equal(t, []string{"SQUIT-NOTICE :hi"}, c.lines())
    assert.Empty(t, a.inbox, "our own broadcast echoes are dropped")
}

func TestSplitNamesEveryServerBehindPeer(t *testing.T) {
    a, b, c, d := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example"), newNode(t, "d.example")
    a.dial(b)
    c.dial(b)
    d.dial(a)
    pump(t, a, b, c, d)
    requireEstablished(t, a, "d.example")
    require.True(t, requireEstablished(t, a, "b.example").HasRoute("c.example"))

    require.True(t, a.m.Unlink("b.example", "Operator request"))
    pump(t, a, b, c, d)

    splits := a.eventsOf(EventSplit)
    require.Len(t, splits, 1)
    assert.Equal(t, "b.example", splits[0].Peer)
    assert.ElementsMatch(t, []string{"b.example", "c.example"}, splits[0].Lost)
    assert.Equal(t, []string{"d.example"}, a.m.Servers())

    dsplits := d.eventsOf(EventSplit)
    require.Len(t, dsplits, 1, "d hears about it exactly once")
    assert.ElementsMatch(t, []string{"b.example", "c.example"}, dsplits[0].Lost)

    // The other side of the mesh loses a and d.
    bsplits := b.eventsOf(EventSplit)
    require.Len(t, bsplits, 1)
    assert.ElementsMatch(t, []string{"a.example", "d.example"}, bsplits[0].Lost)
}

func TestNoSplitWhenPeerStillReachable(t *testing.T) {
    a, b, c := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example")
    a.dial(b)
    a.dial(c)
    b.dial(c)
    pump(t, a, b, c)
    require.True(t, requireEstablished(t, a, "c.example").HasRoute("b.example"))

    a.m.Unlink("b.example", "Operator request")
    pump(t, a, b, c)

    assert.Empty(t, a.eventsOf(EventSplit))
    assert.Empty(t, b.eventsOf(EventSplit))
    assert.Empty(t, c.eventsOf(EventSplit))
    assert.True(t, a.m.Reachable("b.example"))

    // And traffic for b now takes the long way round.
    require.True(t, a.m.SendPacket("NOTICE b :via c", "b.example"))
    pump(t, a, b, c)
    assert.Equal(t, []string{"NOTICE b :via c"}, b.lines())
}

func TestPartialSplitNamesLostServer(t *testing.T) {
    a, b, c := newNode(t, "a.example"), newNode(t, "b.example"), newNode(t, "c.example")
    lb := a.dial(b)
    a.dial(c)
    pump(t, a, b, c)
    lc := requireEstablished(t, a, "c.example")
    require.True(t, lb.AddRoute("d.example", []string{"b.example"}, a.clock))
    require.True(t, lc.AddRoute("b.example", []string{"c.example"}, a.clock))

    a.m.Teardown(lb, "gone")

    splits := a.eventsOf(EventSplit)
    require.Len(t, splits, 1)
    assert.Equal(t, "d.example", splits[0].Peer, "b is still reachable through c")
    assert.Equal(t, []string{"d.example"}, splits[0].Lost)
    assert.True(t, a.m.Reachable("b.example"))
}

func TestUnreachableDestination(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    a.dial(b)
    pump(t, a, b)

    assert.False(t, a.m.SendPacket("NOTICE z :?", "z.example"))
    ev := a.eventsOf(EventUnreachable)
    require.Len(t, ev, 1)
    assert.Equal(t, "z.example", ev[0].Peer)
    pump(t, a, b)
    assert.Empty(t, b.eventsOf(EventSplit), "b never knew z")
    assert.Empty(t, b.inbox)
}

func TestHandshakeTimeout(t *testing.T) {
    a := newNode(t, "a.example")
    s1, s2, err := mem.Pair("x", "y")
    require.NoError(t, err)
    defer s2.Close()
    l, err := a.m.Accept(s1, "servers", connection.DefaultLimits(), 0)
    require.NoError(t, err)

    a.m.Sweep(a.clock.Add(10 * time.Second))
    assert.Equal(t, link.AuthenticatingInbound, l.State())

    a.m.Sweep(a.clock.Add(31 * time.Second))
    assert.Equal(t, link.Disconnected, l.State())
    assert.Len(t, a.eventsOf(EventHandshakeTimeout), 1)
    assert.Empty(t, a.eventsOf(EventSplit))
    assert.Empty(t, a.m.Links())
}

// syncingPeer accepts a raw socket on n and authenticates it as name without
// ever sending ENDBURST.
func syncingPeer(t *testing.T, n *node, name string) (*link.Link, transport.Socket) {
    t.Helper()
    s1, s2, err := mem.Pair("x", "y")
    require.NoError(t, err)
    t.Cleanup(func() { s2.Close() })
    l, err := n.m.Accept(s1, "servers", connection.DefaultLimits(), 0)
    require.NoError(t, err)
    hello := handshake.BuildHello(name, "pw", 7000, "test", "stalled").Line() + "\n"
    _, err = s2.Write([]byte(hello))
    require.NoError(t, err)
    for i := 0; i < 100 && l.State() != link.Syncing; i++ {
        n.step()
    }
    require.Equal(t, link.Syncing, l.State())
    return l, s2
}

func readAll(t *testing.T, s transport.Socket) string {
    t.Helper()
    var out []byte
    buf := make([]byte, 4096)
    for {
        k, err := s.Read(buf)
        out = append(out, buf[:k]...)
        if err != nil || k == 0 {
            return string(out)
        }
    }
}

func TestStalledBurstTimesOut(t *testing.T) {
    a := newNode(t, "a.example")
    l, _ := syncingPeer(t, a, "z.example")
    require.True(t, a.m.Reachable("z.example"))

    a.m.Sweep(a.clock.Add(45 * time.Second))
    assert.Equal(t, link.Syncing, l.State())

    a.m.Sweep(a.clock.Add(61 * time.Second))
    assert.Equal(t, link.Disconnected, l.State())
    assert.False(t, a.m.Reachable("z.example"))
    splits := a.eventsOf(EventSplit)
    require.Len(t, splits, 1)
    assert.Equal(t, ReasonBurstTimeout, splits[0].Reason)
    assert.Empty(t, a.m.Links())
}

func TestSendToSyncingPeerQueuesBehindBurst(t *testing.T) {
    a := newNode(t, "a.example")
    _, peer := syncingPeer(t, a, "z.example")

    require.True(t, a.m.SendPacket("NOTICE z :hi", "z.example"))
    assert.Empty(t, a.eventsOf(EventUnreachable))

    got := readAll(t, peer)
    burst := strings.Index(got, "ENDBURST\n")
    require.GreaterOrEqual(t, burst, 0, got)
    assert.Greater(t, strings.Index(got, "NOTICE z :hi\n"), burst)
    assert.NotContains(t, got, "SPLIT")
}

func TestPingTimeoutTearsDownOnce(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    l := a.dial(b)
    pump(t, a, b)
    requireEstablished(t, a, "b.example")
    l.PingInterval = time.Minute

    t0 := a.clock
    a.m.Sweep(t0)                  // schedules
    a.m.Sweep(t0.Add(time.Minute)) // sends PING
    assert.Equal(t, link.Established, l.State())
    a.m.Sweep(t0.Add(2 * time.Minute)) // no PONG was read
    assert.Equal(t, link.Disconnected, l.State())

    splits := a.eventsOf(EventSplit)
    require.Len(t, splits, 1)
    assert.Equal(t, connection.ReasonPingTimeout, splits[0].Reason)

    a.m.Sweep(t0.Add(3 * time.Minute))
    assert.Len(t, a.eventsOf(EventSplit), 1)
}

func TestPingAnsweredKeepsLink(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    l := a.dial(b)
    pump(t, a, b)
    l.PingInterval = time.Minute

    t0 := a.clock
    a.m.Sweep(t0)
    a.m.Sweep(t0.Add(time.Minute))
    pump(t, a, b)
    a.m.Sweep(t0.Add(2 * time.Minute))
    assert.Equal(t, link.Established, l.State())
    assert.Empty(t, a.eventsOf(EventSplit))
}

func TestBadPasswordRejected(t *testing.T) {
    strict := func(o *Options) {
        o.Validator = handshake.NewStatic("b.example", []handshake.LinkBlock{{Name: "a.example", RecvPassword: "right"}})
    }
    a := newNode(t, "a.example", func(o *Options) { o.SendPassword = func(string) string { return "wrong" } })
    b := newNode(t, "b.example", strict)
    l := a.dial(b)
    pump(t, a, b)

    assert.Len(t, b.eventsOf(EventRejected), 1)
    assert.Equal(t, "a.example", b.eventsOf(EventRejected)[0].Peer)
    assert.Empty(t, b.m.Links())
    assert.Equal(t, link.Disconnected, l.State())
    assert.Empty(t, a.eventsOf(EventSplit), "never synced, nothing split")
}

func TestCrossedConnectSettlesOnLowerNameOutbound(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    la := a.dial(b)
    lb := b.dial(a)
    pump(t, a, b)

    require.Len(t, a.m.Links(), 1)
    require.Len(t, b.m.Links(), 1)
    assert.Same(t, la, requireEstablished(t, a, "b.example"))
    assert.Equal(t, link.Outbound, la.Direction())
    assert.Equal(t, link.Inbound, requireEstablished(t, b, "a.example").Direction())
    assert.Equal(t, link.Disconnected, lb.State())
    assert.Empty(t, a.eventsOf(EventSplit))
    assert.Empty(t, b.eventsOf(EventSplit))
}

func TestTeardownIsIdempotent(t *testing.T) {
    a, b := newNode(t, "a.example"), newNode(t, "b.example")
    l := a.dial(b)
    pump(t, a, b)

    a.m.Teardown(l, "first")
    a.m.Teardown(l, "second")
    assert.Len(t, a.eventsOf(EventSplit), 1)
    assert.Equal(t, "first", a.eventsOf(EventSplit)[0].Reason)
    assert.Equal(t, 0, a.eng.Len())
}
