package mesh

import (
    "strings"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/link"
)

// RecvPacket handles every complete line buffered on every link and returns
// the lines meant for the command layer, each exactly once. Links whose
// connection failed are torn down after their buffered lines are handled.
func (m *Mesh) RecvPacket() []Packet {
    for _, l := range m.Links() {
        m.service(l)
        if l.State() != link.Disconnected && l.Err() != "" {
            m.Teardown(l, l.Err())
        }
    }
    out := m.inbox
    m.inbox = nil
    return out
}

func (m *Mesh) service(l *link.Link) {
    conn := l.Conn()
    for l.State() != link.Disconnected && conn.HasCompleteLine() {
        line, _ := conn.PopLine()
        if line == "" {
            continue
        }
        m.handleLine(l, line)
    }
}

func (m *Mesh) handleLine(l *link.Link, line string) {
    if l.State().Authenticating() {
        m.handleHandshake(l, line)
        return
    }
    if token, rest, ok := splitChecksum(line); ok {
        if !m.dedup.Observe(token) {
            m.opts.Metrics.ObserveDuplicate()
            return
        }
        if m.opts.Relay {
            for _, o := range m.established() {
                if o != l {
                    m.sendOn(o, line, routeRelayed)
                }
            }
        }
        line = rest
    }
    if target, rest, ok := splitReroute(line); ok {
        if !strings.EqualFold(target, m.local) {
            m.forward(l, target, rest)
            return
        }
        line = rest
    }
    if m.handleControl(l, line) {
        return
    }
    m.deliver(l.Name(), line)
}

// forward is the intermediate hop of a reroute: the marker is gone and the
// payload goes straight to target over a direct link, never wrapped again.
func (m *Mesh) forward(from *link.Link, target, payload string) {
    d := m.Link(target)
    if d == nil || d.State() != link.Established {
        zap.L().Warn("dropping rerouted packet without direct link",
            zap.String("from", from.Name()), zap.String("target", target))
        m.opts.Metrics.ObserveUnreachable()
        return
    }
    m.sendOn(d, payload, routeForwarded)
}

func (m *Mesh) deliver(peer, line string) {
    m.opts.Metrics.ObserveReceived()
    m.inbox = append(m.inbox, Packet{Peer: peer, Line: line})
    m.OnLineReceived.Run(LineReceived{Peer: peer, Line: line})
}
