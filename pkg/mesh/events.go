package mesh

import (
    "time"

    "github.com/inspircd/inspircd-sub009/pkg/link"
)

// EventKind classifies what happened to the mesh.
type EventKind int

const (
    // EventLinkState is a link changing state.
    EventLinkState EventKind = iota
    // EventSplit names a peer and every server lost with it.
    EventSplit
    // EventUnreachable is a packet that had no path to its destination.
    EventUnreachable
    // EventHandshakeTimeout is a link that never finished authenticating.
    EventHandshakeTimeout
    // EventRejected is a handshake that failed validation.
    EventRejected
)

func (k EventKind) String() string {
    switch k {
    case EventLinkState:
        return "link-state"
    case EventSplit:
        return "split"
    case EventUnreachable:
        return "unreachable"
    case EventHandshakeTimeout:
        return "handshake-timeout"
    case EventRejected:
        return "rejected"
    default:
        return "unknown"
    }
}

// Event is a structured record of a routing decision. Presentation is left
// to whoever listens.
type Event struct {
    Kind   EventKind
    Time   time.Time
    Peer   string
    Old    link.State
    New    link.State
    Reason string
    // Lost lists every server that became unreachable, Peer included.
    Lost []string
}

// Listener receives mesh events on the loop goroutine.
type Listener interface {
    MeshEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) MeshEvent(ev Event) { f(ev) }

// LineReceived is the OnLineReceived hook payload.
type LineReceived struct {
    Peer string
    Line string
}

// LinkStateChanged is the OnLinkStateChanged hook payload.
type LinkStateChanged struct {
    Peer   string
    Old    link.State
    New    link.State
    Reason string
}

// Packet is one de-duplicated line for the command layer.
type Packet struct {
    // Peer is the link the line arrived on.
    Peer string
    Line string
}
