package link

import (
    "slices"
    "sort"
    "time"
)

// Route is a server reachable through a link but not directly linked to us.
// Path lists the servers the announcement passed through, ending with the
// link's peer.
type Route struct {
    Target  string
    Path    []string
    Learned time.Time
}

// Hops is the number of servers between us and Target, Target included.
func (r Route) Hops() int { return len(r.Path) }

// Via reports whether name is on the path to, or is, the target.
func (r Route) Via(name string) bool {
    return r.Target == name || slices.Contains(r.Path, name)
}

// AddRoute records target as reachable with the given path. It returns true
// when the route is new or its path changed.
func (l *Link) AddRoute(target string, path []string, now time.Time) bool {
    if target == "" || target == l.name {
        return false
    }
    if cur, ok := l.routes[target]; ok && slices.Equal(cur.Path, path) {
        return false
    }
    l.routes[target] = Route{Target: target, Path: slices.Clone(path), Learned: now}
    return true
}

func (l *Link) RemoveRoute(target string) bool {
    if _, ok := l.routes[target]; !ok {
        return false
    }
    delete(l.routes, target)
    return true
}

// RemoveVia drops every route that is name or passes through name and
// returns the dropped targets, sorted.
func (l *Link) RemoveVia(name string) []string {
    var gone []string
    for t, r := range l.routes {
        if r.Via(name) {
            delete(l.routes, t)
            gone = append(gone, t)
        }
    }
    sort.Strings(gone)
    return gone
}

func (l *Link) HasRoute(target string) bool {
    _, ok := l.routes[target]
    return ok
}

func (l *Link) Route(target string) (Route, bool) {
    r, ok := l.routes[target]
    return r, ok
}

// RouteNames returns the reachable targets, sorted.
func (l *Link) RouteNames() []string {
    out := make([]string, 0, len(l.routes))
    for t := range l.routes {
        out = append(out, t)
    }
    sort.Strings(out)
    return out
}

// Routes returns a copy of the route set ordered by target.
func (l *Link) Routes() []Route {
    out := make([]Route, 0, len(l.routes))
    for _, t := range l.RouteNames() {
        r := l.routes[t]
        r.Path = slices.Clone(r.Path)
        out = append(out, r)
    }
    return out
}

func (l *Link) ClearRoutes() {
    clear(l.routes)
}
