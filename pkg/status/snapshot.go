// Package status publishes a read-only view of the mesh for operators. The
// event loop captures a Snapshot after each sweep and stores it on a Board;
// the HTTP handler serves whatever was stored last.
package status

import (
    "sync/atomic"
    "time"

    "google.golang.org/protobuf/types/known/structpb"

    "github.com/inspircd/inspircd-sub009/pkg/mesh"
)

type Route struct {
    Target string   `json:"target" cbor:"target"`
    Path   []string `json:"path" cbor:"path"`
}

type Link struct {
    ID        string    `json:"id" cbor:"id"`
    Name      string    `json:"name" cbor:"name"`
    Direction string    `json:"direction" cbor:"direction"`
    State     string    `json:"state" cbor:"state"`
    Class     string    `json:"class" cbor:"class"`
    Created   time.Time `json:"created" cbor:"created"`
    SendQ     int       `json:"sendq" cbor:"sendq"`
    RecvQ     int       `json:"recvq" cbor:"recvq"`
    BytesIn   uint64    `json:"bytes_in" cbor:"bytes_in"`
    BytesOut  uint64    `json:"bytes_out" cbor:"bytes_out"`
    Routes    []Route   `json:"routes,omitempty" cbor:"routes,omitempty"`
}

// Snapshot is immutable once published.
type Snapshot struct {
    Server      string    `json:"server" cbor:"server"`
    Time        time.Time `json:"time" cbor:"time"`
    Backend     string    `json:"backend" cbor:"backend"`
    Descriptors int       `json:"descriptors" cbor:"descriptors"`
    Links       []Link    `json:"links" cbor:"links"`
    Reachable   []string  `json:"reachable" cbor:"reachable"`
}

// Capture copies what an operator needs out of m. Call it on the loop.
func Capture(m *mesh.Mesh, backend string, descriptors int, now time.Time) *Snapshot {
    s := &Snapshot{
        Server:      m.Local(),
        Time:        now,
        Backend:     backend,
        Descriptors: descriptors,
        Reachable:   m.Servers(),
    }
    for _, l := range m.Links() {
        c := l.Conn()
        sl := Link{
            ID:        l.ID.String(),
            Name:      l.Name(),
            Direction: l.Direction().String(),
            State:     l.State().String(),
            Class:     l.Class(),
            Created:   l.Created(),
            SendQ:     c.Pending(),
            RecvQ:     c.Buffered(),
            BytesIn:   c.BytesIn(),
            BytesOut:  c.BytesOut(),
        }
        for _, r := range l.Routes() {
            sl.Routes = append(sl.Routes, Route{Target: r.Target, Path: append([]string(nil), r.Path...)})
        }
        s.Links = append(s.Links, sl)
    }
    return s
}

// Struct converts s for the protobuf codec.
func (s *Snapshot) Struct() (*structpb.Struct, error) {
    links := make([]any, 0, len(s.Links))
    for _, l := range s.Links {
        routes := make([]any, 0, len(l.Routes))
        for _, r := range l.Routes {
            path := make([]any, len(r.Path))
            for i, p := range r.Path {
                path[i] = p
            }
            routes = append(routes, map[string]any{"target": r.Target, "path": path})
        }
        links = append(links, map[string]any{
            "id":        l.ID,
            "name":      l.Name,
            "direction": l.Direction,
            "state":     l.State,
            "class":     l.Class,
            "created":   l.Created.UTC().Format(time.RFC3339Nano),
            "sendq":     l.SendQ,
            "recvq":     l.RecvQ,
            "bytes_in":  float64(l.BytesIn),
            "bytes_out": float64(l.BytesOut),
            "routes":    routes,
        })
    }
    reach := make([]any, len(s.Reachable))
    for i, r := range s.Reachable {
        reach[i] = r
    }
    return structpb.NewStruct(map[string]any{
        "server":      s.Server,
        "time":        s.Time.UTC().Format(time.RFC3339Nano),
        "backend":     s.Backend,
        "descriptors": s.Descriptors,
        "links":       links,
        "reachable":   reach,
    })
}

// Board holds the latest snapshot. Readers on any goroutine see either the
// previous or the next snapshot, never a partial one.
type Board struct {
    cur atomic.Pointer[Snapshot]
}

func (b *Board) Publish(s *Snapshot) { b.cur.Store(s) }

// Load returns the latest snapshot or nil before the first publish.
func (b *Board) Load() *Snapshot { return b.cur.Load() }
