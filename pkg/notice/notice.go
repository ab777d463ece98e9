// Package notice renders mesh events as operator notices.
package notice

import (
    "fmt"
    "strings"
    "sync"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/link"
    "github.com/inspircd/inspircd-sub009/pkg/mesh"
)

// Prefix starts every notice line.
const Prefix = "*** Notice -- "

// Sink delivers rendered text to opers.
type Sink interface {
    WriteOpers(text string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string)

func (f SinkFunc) WriteOpers(text string) { f(text) }

// ZapSink writes notices to the global logger.
type ZapSink struct{}

func (ZapSink) WriteOpers(text string) {
    zap.L().Info("oper notice", zap.String("text", text))
}

// Notifier is a mesh.Listener that renders each event and hands it to a Sink.
type Notifier struct {
    local string
    sink  Sink
}

// New returns a Notifier for the server named local. A nil sink logs.
func New(local string, sink Sink) *Notifier {
    if sink == nil {
        sink = ZapSink{}
    }
    return &Notifier{local: local, sink: sink}
}

// MeshEvent implements mesh.Listener.
func (n *Notifier) MeshEvent(ev mesh.Event) {
    if text, ok := Render(n.local, ev); ok {
        n.sink.WriteOpers(text)
    }
}

// Render formats ev. Events that operators do not need to see, such as a
// link moving from authenticating to syncing, render to false.
func Render(local string, ev mesh.Event) (string, bool) {
    var body string
    switch ev.Kind {
    case mesh.EventSplit:
        body = fmt.Sprintf("Server %s split from %s (%s), %s lost", ev.Peer, local, ev.Reason, servers(len(ev.Lost)))
        if len(ev.Lost) > 1 {
            body += ": " + strings.Join(ev.Lost, ", ")
        }
    case mesh.EventLinkState:
        switch {
        case ev.New == link.Established:
            body = fmt.Sprintf("Server %s has finished bursting to %s", ev.Peer, local)
        case ev.New == link.Disconnected && ev.Old == link.AuthenticatingOutbound:
            body = fmt.Sprintf("Connection to %s failed (%s)", ev.Peer, ev.Reason)
        default:
            return "", false
        }
    case mesh.EventUnreachable:
        body = fmt.Sprintf("No route to %s, packet dropped", ev.Peer)
    case mesh.EventHandshakeTimeout:
        body = fmt.Sprintf("Handshake with %s timed out", ev.Peer)
    case mesh.EventRejected:
        body = fmt.Sprintf("Link with %s rejected: %s", ev.Peer, ev.Reason)
    default:
        return "", false
    }
    return Prefix + body, true
}

func servers(n int) string {
    if n == 1 {
        return "1 server"
    }
    return fmt.Sprintf("%d servers", n)
}

// Recorder is a Sink that keeps every notice. Safe for concurrent use.
type Recorder struct {
    mu    sync.Mutex
    lines []string
}

func (r *Recorder) WriteOpers(text string) {
    r.mu.Lock()
    r.lines = append(r.lines, text)
    r.mu.Unlock()
}

// Lines returns a copy of what was recorded.
func (r *Recorder) Lines() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    return append([]string(nil), r.lines...)
}
