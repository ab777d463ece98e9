//go:build linux

package link

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/inspircd/inspircd-sub009/pkg/connection"
    "github.com/inspircd/inspircd-sub009/pkg/socketengine"
    "github.com/inspircd/inspircd-sub009/pkg/transport"
    "github.com/inspircd/inspircd-sub009/pkg/transport/mem"
)

type fakeMux struct {
    next     socketengine.Handle
    regs     map[socketengine.Handle]socketengine.Interest
    full     bool
    unregged int
}

func newFakeMux() *fakeMux { return &fakeMux{regs: map[socketengine.Handle]socketengine.Interest{}} }

func (f *fakeMux) Register(fd int, in socketengine.Interest, _ socketengine.Kind) (socketengine.Handle, bool) {
    if f.full || fd < 0 {
        return socketengine.NoHandle, false
    }
    h := f.next
    f.next++
    f.regs[h] = in
    return h, true
}

func (f *fakeMux) Modify(h socketengine.Handle, in socketengine.Interest) bool {
    if _, ok := f.regs[h]; !ok {
        return false
    }
    f.regs[h] = in
    return true
}

func (f *fakeMux) Unregister(h socketengine.Handle) bool {
    if _, ok := f.regs[h]; !ok {
        return false
    }
    delete(f.regs, h)
    f.unregged++
    return true
}

// pairDialer hands out one end of a fresh pair per Dial and keeps the other.
type pairDialer struct {
    peers []transport.Socket
}

func (d *pairDialer) Kind() transport.Kind { return transport.KindMem }

func (d *pairDialer) Dial(address string) (transport.Socket, error) {
    a, b, err := mem.Pair(address, "dialer")
    if err != nil {
        return nil, err
    }
    d.peers = append(d.peers, b)
    return a, nil
}

var t0 = time.Unix(1700000000, 0)

func TestDialRegistersWithWriteInterest(t *testing.T) {
    mux := newFakeMux()
    d := &pairDialer{}
    l, err := Dial(mux, DialTarget{Name: "b.example", Address: "b", Dialer: d}, connection.DefaultLimits(), t0)
    require.NoError(t, err)
    defer l.Close()

    assert.Equal(t, AuthenticatingOutbound, l.State())
    assert.Equal(t, Outbound, l.Direction())
    assert.Equal(t, "b.example", l.Name())
    assert.True(t, l.Connecting())
    assert.Equal(t, socketengine.InterestReadWrite, mux.regs[l.Handle()])

    require.True(t, l.Send("SERVER a.example pw 0 1 :A"))
    require.True(t, l.HandleWritable())
    assert.False(t, l.Connecting())
    assert.Equal(t, socketengine.InterestRead, mux.regs[l.Handle()])

    buf := make([]byte, 128)
    n, err := d.peers[0].Read(buf)
    require.NoError(t, err)
    assert.Equal(t, "SERVER a.example pw 0 1 :A\n", string(buf[:n]))
}

func TestDialFailsWhenTableFull(t *testing.T) {
    mux := newFakeMux()
    mux.full = true
    _, err := Dial(mux, DialTarget{Name: "b.example", Address: "b", Dialer: &pairDialer{}}, connection.DefaultLimits(), t0)
    assert.ErrorIs(t, err, socketengine.ErrTableFull)
}

func TestAcceptIncomingProvisionalName(t *testing.T) {
    a, b, err := mem.Pair("10.0.0.2:4000", "x")
    require.NoError(t, err)
    defer b.Close()
    mux := newFakeMux()
    l, err := AcceptIncoming(mux, a, "servers", connection.DefaultLimits(), t0)
    require.NoError(t, err)
    assert.Equal(t, AuthenticatingInbound, l.State())
    assert.True(t, transport.IsTempPeerName(l.Name()))
    assert.Equal(t, "servers", l.Class())

    require.NoError(t, l.Advance(Syncing))
    l.SetName("c.example")
    assert.ErrorIs(t, l.Advance(AuthenticatingInbound), ErrIllegalTransition)
    require.NoError(t, l.Advance(Established))
    assert.Equal(t, "c.example", l.Name())

    l.Close()
    l.Close()
    assert.Equal(t, Disconnected, l.State())
    assert.Equal(t, 1, mux.unregged)
    assert.Equal(t, "", l.Err())
    assert.ErrorIs(t, l.Advance(Disconnected), ErrIllegalTransition)
}

func TestTransitions(t *testing.T) {
    assert.True(t, legal(Disconnected, AuthenticatingOutbound))
    assert.True(t, legal(AuthenticatingOutbound, Syncing))
    assert.True(t, legal(Syncing, Established))
    assert.True(t, legal(Established, Disconnected))
    assert.False(t, legal(Disconnected, Established))
    assert.False(t, legal(AuthenticatingInbound, Established))
    assert.False(t, legal(Established, Syncing))

    assert.True(t, Syncing.Synced())
    assert.True(t, Established.Synced())
    assert.False(t, AuthenticatingInbound.Synced())
    assert.False(t, Disconnected.Synced())
}

func TestRoutes(t *testing.T) {
    a, b, err := mem.Pair("x", "y")
    require.NoError(t, err)
    defer b.Close()
    l, err := AcceptIncoming(newFakeMux(), a, "", connection.DefaultLimits(), t0)
    require.NoError(t, err)
    defer l.Close()
    l.SetName("b.example")

    assert.True(t, l.AddRoute("c.example", []string{"b.example"}, t0))
    assert.False(t, l.AddRoute("c.example", []string{"b.example"}, t0))
    assert.True(t, l.AddRoute("d.example", []string{"b.example", "c.example"}, t0))
    assert.True(t, l.AddRoute("e.example", []string{"b.example"}, t0))
    assert.False(t, l.AddRoute("b.example", nil, t0), "peer itself is never a route")

    assert.Equal(t, []string{"c.example", "d.example", "e.example"}, l.RouteNames())
    r, ok := l.Route("d.example")
    require.True(t, ok)
    assert.Equal(t, 2, r.Hops())

    assert.Equal(t, []string{"c.example", "d.example"}, l.RemoveVia("c.example"))
    assert.True(t, l.HasRoute("e.example"))
    assert.True(t, l.RemoveRoute("e.example"))
    assert.False(t, l.RemoveRoute("e.example"))
    assert.Empty(t, l.Routes())
}

func TestPingDue(t *testing.T) {
    a, b, err := mem.Pair("x", "y")
    require.NoError(t, err)
    defer b.Close()
    l, err := AcceptIncoming(newFakeMux(), a, "", connection.DefaultLimits(), t0)
    require.NoError(t, err)
    defer l.Close()

    assert.False(t, l.PingDue(t0), "disabled without an interval")
    l.PingInterval = time.Minute
    assert.False(t, l.PingDue(t0))
    assert.False(t, l.PingDue(t0.Add(30*time.Second)))
    assert.True(t, l.PingDue(t0.Add(time.Minute)))
    assert.False(t, l.PingDue(t0.Add(90*time.Second)))
    assert.True(t, l.PingDue(t0.Add(2*time.Minute)))
}
