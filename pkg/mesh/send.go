package mesh

import (
    "strings"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/link"
)

// Route labels used for the sent-packets counter.
const (
    routeDirect    = "direct"
    routeRerouted  = "rerouted"
    routeForwarded = "forwarded"
    routeBroadcast = "broadcast"
    routeRelayed   = "relayed"
    routeControl   = "control"
)

// sendOn queues line on l and flushes once. False means the connection
// refused the whole line.
func (m *Mesh) sendOn(l *link.Link, line, route string) bool {
    if !l.Send(line) {
        m.opts.Metrics.ObserveSendQRejected()
        zap.L().Warn("send queue refused line",
            zap.String("server", l.Name()),
            zap.Int("pending", l.Conn().Pending()),
            zap.String("error", l.Conn().WriteError()))
        return false
    }
    m.opts.Metrics.ObserveSent(route)
    l.Flush()
    return true
}

// SendPacket delivers payload to dest: over the direct link once it is past
// authentication, otherwise wrapped in a one-hop reroute marker through the
// neighbour with the shortest route to dest. A link still syncing takes the
// packet behind its burst. With no path at all a split is announced and false
// returned.
func (m *Mesh) SendPacket(payload, dest string) bool {
    if strings.EqualFold(dest, m.local) {
        m.deliver(m.local, payload)
        return true
    }
    if d := m.Link(dest); d != nil && d.State().Synced() {
        return m.sendOn(d, payload, routeDirect)
    }
    if via := m.bestVia(dest); via != nil {
        wire := wrapReroute(payload, dest)
        zap.L().Debug("rerouting packet", zap.String("dest", dest), zap.String("via", via.Name()))
        return m.sendOn(via, wire, routeRerouted)
    }
    m.unreachable(dest, "No route to "+dest)
    return false
}

// bestVia picks the synced link whose route to dest has the fewest hops;
// ties go to the earlier link.
func (m *Mesh) bestVia(dest string) *link.Link {
    var best *link.Link
    bestHops := 0
    for _, l := range m.links {
        if !l.State().Synced() || strings.EqualFold(l.Name(), dest) {
            continue
        }
        r, ok := l.Route(dest)
        if !ok {
            continue
        }
        if best == nil || r.Hops() < bestHops {
            best, bestHops = l, r.Hops()
        }
    }
    return best
}

// Broadcast stamps payload with a fresh checksum and queues it on every
// established link except except. The checksum is remembered so echoes from
// the mesh are dropped. It returns the number of links the line was queued
// on.
func (m *Mesh) Broadcast(payload string, except *link.Link) int {
    m.seq++
    token := checksum(m.local, m.seq, payload)
    m.dedup.Observe(token)
    line := withChecksum(token, payload)
    n := 0
    for _, l := range m.established() {
        if l == except {
            continue
        }
        if m.sendOn(l, line, routeBroadcast) {
            n++
        }
    }
    return n
}

// unreachable announces that dest cannot be reached from here.
func (m *Mesh) unreachable(dest, reason string) {
    zap.L().Warn("destination unreachable", zap.String("dest", dest), zap.String("reason", reason))
    m.opts.Metrics.ObserveUnreachable()
    for _, l := range m.established() {
        m.sendOn(l, splitLine(dest, reason), routeControl)
    }
    m.emit(Event{Kind: EventUnreachable, Peer: dest, Reason: reason})
}
