package link

import (
    "errors"
    "fmt"
)

var ErrIllegalTransition = errors.New("link: illegal state transition")

// State is the authentication and sync state of a link.
type State int

const (
    Disconnected State = iota
    AuthenticatingInbound
    AuthenticatingOutbound
    Syncing
    Established
)

func (s State) String() string {
    switch s {
    case Disconnected:
        return "disconnected"
    case AuthenticatingInbound:
        return "authenticating-inbound"
    case AuthenticatingOutbound:
        return "authenticating-outbound"
    case Syncing:
        return "syncing"
    case Established:
        return "established"
    default:
        return fmt.Sprintf("state(%d)", int(s))
    }
}

// Authenticating reports whether the handshake line is still awaited.
func (s State) Authenticating() bool {
    return s == AuthenticatingInbound || s == AuthenticatingOutbound
}

// Synced reports whether the handshake is done and the link not yet closed.
func (s State) Synced() bool {
    return s == Syncing || s == Established
}

// Direction records who opened the TCP connection.
type Direction int

const (
    Inbound Direction = iota
    Outbound
)

func (d Direction) String() string {
    if d == Outbound {
        return "outbound"
    }
    return "inbound"
}

func legal(from, to State) bool {
    switch to {
    case AuthenticatingInbound, AuthenticatingOutbound:
        return from == Disconnected
    case Syncing:
        return from.Authenticating()
    case Established:
        return from == Syncing
    case Disconnected:
        return from != Disconnected
    }
    return false
}
