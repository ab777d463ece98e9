package mesh

import (
    "errors"
    "maps"
    "slices"
    "strings"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/handshake"
    "github.com/inspircd/inspircd-sub009/pkg/link"
)

// Mesh control verbs. They travel hop by hop and are never deduplicated.
const (
    verbPing     = "PING"
    verbPong     = "PONG"
    verbLinked   = "LINKED"
    verbSplit    = "SPLIT"
    verbEndBurst = "ENDBURST"
    verbError    = "ERROR"
)

var errNameMismatch = errors.New("server name mismatch")

// ReasonCrossedLink closes our outbound attempt when the peer's inbound one
// wins the tie-break.
const ReasonCrossedLink = "Crossed connect"


func splitLine(name, reason string) string {
    return verbSplit + " " + name + " :" + reason
}

func linkedLine(target string, path []string) string {
    return verbLinked + " " + target + " " + strings.Join(path, " ")
}

// trailing returns the text after " :" or the last field.
func trailing(args string) string {
    if _, t, ok := strings.Cut(args, ":"); ok {
        return t
    }
    return strings.TrimSpace(args)
}

func (m *Mesh) handleHandshake(l *link.Link, line string) {
    if verb, args, _ := strings.Cut(line, " "); verb == verbError {
        m.reject(l, "", "Remote error: "+trailing(args), nil)
        return
    }
    h, err := handshake.ParseHello(line)
    if err != nil {
        m.reject(l, "", "Invalid handshake", err)
        return
    }
    inbound := l.Direction() == link.Inbound
    if !inbound && !strings.EqualFold(h.Name, l.Name()) {
        m.reject(l, h.Name, "Server name mismatch", errNameMismatch)
        return
    }
    if err := m.opts.Validator.Validate(h, inbound); err != nil {
        m.reject(l, h.Name, "Access denied", err)
        return
    }
    if o := m.rival(l, h.Name); o != nil {
        if !inbound || o.State() != link.AuthenticatingOutbound || m.keepsOutbound(h.Name) {
            m.reject(l, h.Name, "Server "+h.Name+" already linked", nil)
            return
        }
        zap.L().Info("crossed connect, dropping our outbound", zap.String("server", h.Name))
        m.Teardown(o, ReasonCrossedLink)
    }
    if inbound {
        l.SetName(h.Name)
        l.Send(m.hello(h.Name))
    }
    l.Description = h.Description
    l.Version = h.Version
    if !m.advance(l, link.Syncing) {
        m.Teardown(l, "Protocol violation")
        return
    }
    zap.L().Info("link authenticated", zap.String("server", l.Name()), zap.Stringer("direction", l.Direction()), zap.String("version", h.Version))
    m.sendBurst(l)
}

// rival returns another live link already carrying name.
func (m *Mesh) rival(l *link.Link, name string) *link.Link {
    for _, o := range m.links {
        if o != l && o.State() != link.Disconnected && strings.EqualFold(o.Name(), name) {
            return o
        }
    }
    return nil
}

// keepsOutbound breaks the tie when both servers dial each other at once:
// the lower name keeps its outbound link, so both sides settle on the same
// connection.
func (m *Mesh) keepsOutbound(peer string) bool {
    return strings.ToLower(m.local) < strings.ToLower(peer)
}

// reject fails a handshake. claimed is the name the peer introduced itself
// with, if it got that far.
func (m *Mesh) reject(l *link.Link, claimed, reason string, err error) {
    if claimed == "" {
        claimed = l.Name()
    }
    zap.L().Warn("handshake rejected", zap.String("link", l.Name()), zap.String("claimed", claimed), zap.String("reason", reason), zap.Error(err))
    m.emit(Event{Kind: EventRejected, Peer: claimed, Old: l.State(), Reason: reason})
    m.Teardown(l, reason)
}

// sendBurst tells a freshly authenticated peer every server we can reach,
// once each by its shortest path, then ENDBURST.
func (m *Mesh) sendBurst(l *link.Link) {
    best := map[string][]string{}
    for _, o := range m.links {
        if o == l || o.State() != link.Established {
            continue
        }
        best[o.Name()] = []string{m.local}
        for _, r := range o.Routes() {
            path := append(slices.Clone(r.Path), m.local)
            if cur, ok := best[r.Target]; !ok || len(path) < len(cur) {
                best[r.Target] = path
            }
        }
    }
    for _, name := range slices.Sorted(maps.Keys(best)) {
        if strings.EqualFold(name, l.Name()) {
            continue
        }
        l.Send(linkedLine(name, best[name]))
    }
    l.Send(verbEndBurst)
    l.Flush()
}

// handleControl consumes mesh control verbs. It returns false for anything
// else, which is then delivered.
func (m *Mesh) handleControl(l *link.Link, line string) bool {
    verb, args, _ := strings.Cut(line, " ")
    switch verb {
    case verbPing:
        m.sendOn(l, verbPong+" "+m.local+" :"+trailing(args), routeControl)
    case verbPong:
        l.Conn().ResetPing(m.opts.Now())
    case verbLinked:
        m.handleLinked(l, strings.Fields(args))
    case verbSplit:
        head, _, _ := strings.Cut(args, " :")
        fields := strings.Fields(head)
        if len(fields) == 0 {
            return true
        }
        m.handleSplit(l, fields[0], trailing(args))
    case verbEndBurst:
        m.handleEndBurst(l)
    case verbError:
        m.Teardown(l, "Remote error: "+trailing(args))
    case handshake.Verb:
        m.Teardown(l, "Protocol violation: repeated handshake")
    default:
        return false
    }
    return true
}

func (m *Mesh) handleEndBurst(l *link.Link) {
    if l.State() != link.Syncing {
        return
    }
    if !m.advance(l, link.Established) {
        return
    }
    zap.L().Info("link established", zap.String("server", l.Name()), zap.Strings("routes", l.RouteNames()))
    for _, o := range m.synced() {
        if o != l {
            m.sendOn(o, linkedLine(l.Name(), []string{m.local}), routeControl)
        }
    }
}

// handleLinked learns that target is reachable through l. path lists the
// servers the announcement crossed, the sender last. Announcements that
// already passed through us are loops and are ignored.
func (m *Mesh) handleLinked(l *link.Link, args []string) {
    if len(args) == 0 {
        return
    }
    target, path := args[0], args[1:]
    if len(path) == 0 || !strings.EqualFold(path[len(path)-1], l.Name()) {
        path = append(path, l.Name())
    }
    if strings.EqualFold(target, m.local) || strings.EqualFold(target, l.Name()) {
        return
    }
    for _, p := range path {
        if strings.EqualFold(p, m.local) {
            return
        }
    }
    known := m.reachable(target)
    if !l.AddRoute(target, path, m.opts.Now()) {
        return
    }
    zap.L().Debug("route learned", zap.String("target", target), zap.Strings("path", path), zap.String("via", l.Name()))
    if known {
        return
    }
    relay := linkedLine(target, append(slices.Clone(path), m.local))
    for _, o := range m.synced() {
        if o != l {
            m.sendOn(o, relay, routeControl)
        }
    }
}

// handleSplit processes a peer's report that name is gone. Routes through
// name on l are dropped. If we still reach name another way we tell l so it
// can relearn the path; otherwise the split is relayed and announced.
func (m *Mesh) handleSplit(l *link.Link, name, reason string) {
    if strings.EqualFold(name, m.local) || strings.EqualFold(name, l.Name()) {
        return
    }
    wasReachable := m.reachable(name)
    removed := l.RemoveVia(name)
    if m.reachable(name) {
        if path := m.pathTo(name, l); path != nil {
            m.sendOn(l, linkedLine(name, path), routeControl)
        }
        return
    }
    if !wasReachable {
        return
    }
    lost := []string{name}
    for _, r := range removed {
        if !strings.EqualFold(r, name) && !m.reachable(r) {
            lost = append(lost, r)
        }
    }
    for _, o := range m.synced() {
        if o != l {
            m.sendOn(o, splitLine(name, reason), routeControl)
        }
    }
    m.opts.Metrics.ObserveSplit()
    zap.L().Info("remote split", zap.String("server", name), zap.String("via", l.Name()), zap.String("reason", reason), zap.Strings("lost", lost))
    m.emit(Event{Kind: EventSplit, Peer: name, Reason: reason, Lost: lost})
}

// pathTo returns the shortest announcement path for name as we would send it
// to l, or nil if the only paths run through l.
func (m *Mesh) pathTo(name string, exclude *link.Link) []string {
    var best []string
    for _, o := range m.links {
        if o == exclude || (o.State() != link.Established && o.State() != link.Syncing) {
            continue
        }
        if strings.EqualFold(o.Name(), name) {
            return []string{m.local}
        }
        if r, ok := o.Route(name); ok {
            p := append(slices.Clone(r.Path), m.local)
            if best == nil || len(p) < len(best) {
                best = p
            }
        }
    }
    return best
}
