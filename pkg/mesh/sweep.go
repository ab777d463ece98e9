package mesh

import (
    "slices"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/link"
)

// ReasonBurstTimeout closes a link that authenticated but never finished its
// burst.
const ReasonBurstTimeout = "Burst timeout"

// Sweep runs the timers: handshake and burst timeouts, keepalive pings and
// teardown of links whose connection latched an error. The loop calls it
// once per iteration.
func (m *Mesh) Sweep(now time.Time) {
    for _, l := range m.Links() {
        if l.State() == link.Disconnected {
            continue
        }
        if reason := l.Err(); reason != "" {
            m.Teardown(l, reason)
            continue
        }
        switch {
        case l.State().Authenticating():
            if now.Sub(l.Created()) > m.opts.HandshakeTimeout {
                zap.L().Warn("handshake timeout", zap.String("link", l.Name()), zap.Duration("after", now.Sub(l.Created())))
                m.emit(Event{Kind: EventHandshakeTimeout, Peer: l.Name(), Old: l.State(), Reason: "Handshake timeout"})
                m.Teardown(l, "Handshake timeout")
            }
        case l.State() == link.Syncing:
            // Authentication and burst together get twice the handshake window.
            if now.Sub(l.Created()) > 2*m.opts.HandshakeTimeout {
                zap.L().Warn("burst timeout", zap.String("link", l.Name()), zap.Duration("after", now.Sub(l.Created())))
                m.Teardown(l, ReasonBurstTimeout)
            }
        case l.State() == link.Established:
            if !l.PingDue(now) {
                continue
            }
            if !l.Conn().CheckPing(now) {
                m.Teardown(l, l.Conn().Err())
                continue
            }
            l.Flush()
        }
    }
}

// Teardown closes l and removes it from the mesh. The peer and every server
// routed through it are captured first; those with no surviving path are
// reported in a single split event and announced to the remaining links.
// Calling it again for the same link does nothing.
func (m *Mesh) Teardown(l *link.Link, reason string) {
    if !slices.Contains(m.links, l) {
        return
    }
    if reason == "" {
        reason = "Connection closed"
    }
    old := l.State()
    synced := old == link.Syncing || old == link.Established
    var captured []string
    if synced {
        captured = append([]string{l.Name()}, l.RouteNames()...)
    }

    if l.Conn().WriteError() == "" {
        l.Send(verbError + " :Closing link: " + reason)
        l.Flush()
    }
    l.Close()
    m.remove(l)
    zap.L().Info("link closed", zap.String("server", l.Name()), zap.Stringer("state", old), zap.String("reason", reason))
    m.stateChanged(l, old, link.Disconnected, reason)

    if !synced {
        return
    }
    var lost []string
    for _, name := range captured {
        if !m.reachable(name) {
            lost = append(lost, name)
        }
    }
    if len(lost) == 0 {
        return
    }
    // Remote routes to everything behind the peer carry its name in their
    // path, so one SPLIT for the peer covers them.
    announce := lost
    if slices.Contains(lost, l.Name()) {
        announce = []string{l.Name()}
    }
    for _, o := range m.synced() {
        for _, name := range announce {
            m.sendOn(o, splitLine(name, reason), routeControl)
        }
    }
    // Routes elsewhere that ran through a lost server are gone too.
    for _, o := range m.links {
        for _, name := range lost {
            o.RemoveVia(name)
        }
    }
    m.opts.Metrics.ObserveSplit()
    lostNames := strings.Join(lost, " ")
    zap.L().Warn("net split", zap.String("server", l.Name()), zap.String("reason", reason), zap.Int("lost", len(lost)), zap.String("servers", lostNames))
    // The peer may still be reachable another way; then the split is named
    // after the first server actually lost.
    peer := lost[0]
    if slices.Contains(lost, l.Name()) {
        peer = l.Name()
    }
    m.emit(Event{Kind: EventSplit, Peer: peer, Reason: reason, Lost: lost})
}

// Unlink tears down the direct link to name on operator request.
func (m *Mesh) Unlink(name, reason string) bool {
    l := m.Link(name)
    if l == nil {
        return false
    }
    if reason == "" {
        reason = "Unlinked"
    }
    m.Teardown(l, reason)
    return true
}

// Close tears down every link.
func (m *Mesh) Close(reason string) {
    for _, l := range m.Links() {
        m.Teardown(l, reason)
    }
}
