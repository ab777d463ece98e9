// Package connection implements the per-socket buffers of a server link:
// a bounded FIFO send queue, a bounded receive buffer with line framing, and
// ping/pong liveness.
//
// A Connection never panics and never returns an error for a transient
// condition. Fatal conditions are latched as a string (first one wins) and
// reported as false from the call that hit them; the owner decides what to do.
package connection

import (
    "bytes"
    "errors"
    "io"
    "strconv"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/transport"
)

const (
    DefaultSendQ   = 1 << 20
    DefaultRecvQ   = 8192
    DefaultMaxLine = 600

    readChunk = 4096
)

// Latched error strings. They end up in split reasons and operator notices.
const (
    ReasonClosedByPeer = "Connection closed"
    ReasonLineTooLong  = "Excess line length"
    ReasonRecvQ        = "RecvQ exceeded"
    ReasonSendQ        = "SendQ exceeded"
    ReasonPingTimeout  = "Ping timeout"
)

// Limits are the per-class ceilings applied to one connection.
type Limits struct {
    SendQ   int
    RecvQ   int
    MaxLine int
}

// DefaultLimits returns the ceilings used when a connect class leaves them
// unset.
func DefaultLimits() Limits {
    return Limits{SendQ: DefaultSendQ, RecvQ: DefaultRecvQ, MaxLine: DefaultMaxLine}
}

func (l Limits) withDefaults() Limits {
    if l.SendQ <= 0 {
        l.SendQ = DefaultSendQ
    }
    if l.RecvQ <= 0 {
        l.RecvQ = DefaultRecvQ
    }
    if l.MaxLine <= 0 {
        l.MaxLine = DefaultMaxLine
    }
    // A full buffer must always hold a complete line, or Fill stalls.
    if l.RecvQ <= l.MaxLine {
        l.RecvQ = l.MaxLine + 1
    }
    return l
}

type Connection struct {
    sock   transport.Socket
    limits Limits

    sendq []byte
    recvq []byte
    // tail is the length of the unterminated line at the end of recvq.
    tail int

    lastPingSent time.Time
    lastPongSeen time.Time
    awaitingPong bool

    alive    bool
    closed   bool
    err      string
    writeErr string

    bytesIn  uint64
    bytesOut uint64
}

func New(sock transport.Socket, limits Limits) *Connection {
    return &Connection{sock: sock, limits: limits.withDefaults(), alive: true}
}

func (c *Connection) Socket() transport.Socket { return c.sock }
func (c *Connection) Limits() Limits          { return c.limits }

// Alive is false once an error has been latched or Close was called.
func (c *Connection) Alive() bool { return c.alive && !c.closed }

// Err returns the first latched error, or "".
func (c *Connection) Err() string { return c.err }

// WriteError returns the first write-side error, or "".
func (c *Connection) WriteError() string { return c.writeErr }

// Pending is the number of queued bytes not yet written.
func (c *Connection) Pending() int { return len(c.sendq) }

// Buffered is the number of received bytes not yet popped.
func (c *Connection) Buffered() int { return len(c.recvq) }

func (c *Connection) BytesIn() uint64  { return c.bytesIn }
func (c *Connection) BytesOut() uint64 { return c.bytesOut }

func (c *Connection) latch(reason string) {
    if c.err == "" {
        c.err = reason
        zap.L().Debug("connection error latched", zap.String("remote", c.remote()), zap.String("reason", reason))
    }
    c.alive = false
}

func (c *Connection) remote() string {
    if c.sock == nil {
        return ""
    }
    return c.sock.RemoteAddr()
}

// AddToSendQueue appends b to the send queue. It is all-or-nothing: false
// means nothing was queued, either because an error is latched or because
// the queue would exceed its ceiling.
func (c *Connection) AddToSendQueue(b []byte) bool {
    if c.closed || c.writeErr != "" {
        return false
    }
    if len(c.sendq)+len(b) > c.limits.SendQ {
        return false
    }
    c.sendq = append(c.sendq, b...)
    return true
}

// WriteLine queues line followed by a newline.
func (c *Connection) WriteLine(line string) bool {
    buf := make([]byte, 0, len(line)+1)
    buf = append(buf, line...)
    buf = append(buf, '\n')
    return c.AddToSendQueue(buf)
}

// Flush performs one non-blocking write of the queued bytes. A full kernel
// buffer is not an error. Any other failure latches a write error and
// returns false.
func (c *Connection) Flush() bool {
    if c.closed {
        return false
    }
    if c.writeErr != "" {
        return false
    }
    if len(c.sendq) == 0 {
        return true
    }
    n, err := c.sock.Write(c.sendq)
    if n > 0 {
        c.bytesOut += uint64(n)
        c.sendq = c.sendq[n:]
        if len(c.sendq) == 0 {
            c.sendq = nil
        }
    }
    if err != nil {
        if errors.Is(err, transport.ErrWouldBlock) {
            return true
        }
        c.writeErr = err.Error()
        c.latch(c.writeErr)
        return false
    }
    return true
}

// Fill reads until the socket would block or the receive buffer holds RecvQ
// bytes. Anything beyond that stays in the kernel until lines are popped;
// readiness is level-triggered so the next poll reports it again. It returns
// false once the peer closed the stream, a read failed, or a line grew past
// MaxLine.
func (c *Connection) Fill() bool {
    if c.closed || !c.alive {
        return false
    }
    var buf [readChunk]byte
    for {
        room := min(c.limits.RecvQ-len(c.recvq), len(buf))
        if room <= 0 {
            return true
        }
        n, err := c.sock.Read(buf[:room])
        if n > 0 {
            c.bytesIn += uint64(n)
            if !c.AppendReceived(buf[:n]) {
                return false
            }
        }
        switch {
        case err == nil:
            continue
        case errors.Is(err, transport.ErrWouldBlock):
            return true
        case errors.Is(err, io.EOF):
            c.latch(ReasonClosedByPeer)
            return false
        default:
            c.latch(err.Error())
            return false
        }
    }
}

// AppendReceived strips CR and NUL from b and appends it to the receive
// buffer. It returns false, latching a protocol violation, if any line grows
// past MaxLine or the buffer past RecvQ.
func (c *Connection) AppendReceived(b []byte) bool {
    if !c.alive {
        return false
    }
    for _, ch := range b {
        switch ch {
        case '\r', 0:
            continue
        case '\n':
            c.tail = 0
        default:
            c.tail++
            if c.tail > c.limits.MaxLine {
                c.latch(ReasonLineTooLong)
                return false
            }
        }
        c.recvq = append(c.recvq, ch)
    }
    if len(c.recvq) > c.limits.RecvQ {
        c.latch(ReasonRecvQ)
        return false
    }
    return true
}

// HasCompleteLine reports whether a terminated line is buffered.
func (c *Connection) HasCompleteLine() bool {
    return bytes.IndexByte(c.recvq, '\n') >= 0
}

// PopLine removes and returns the oldest complete line without its
// terminator.
func (c *Connection) PopLine() (string, bool) {
    i := bytes.IndexByte(c.recvq, '\n')
    if i < 0 {
        return "", false
    }
    line := string(c.recvq[:i])
    c.recvq = c.recvq[i+1:]
    if len(c.recvq) == 0 {
        c.recvq = nil
    }
    return line, true
}

// CheckPing runs one keepalive tick. If the last ping is still unanswered it
// latches a ping timeout and returns false; otherwise it queues a fresh ping.
func (c *Connection) CheckPing(now time.Time) bool {
    if !c.Alive() {
        return false
    }
    if c.awaitingPong {
        c.latch(ReasonPingTimeout)
        return false
    }
    if !c.WriteLine("PING :" + strconv.FormatInt(now.Unix(), 10)) {
        c.latch(ReasonSendQ)
        return false
    }
    c.lastPingSent = now
    c.awaitingPong = true
    return true
}

// ResetPing records a pong.
func (c *Connection) ResetPing(now time.Time) {
    c.lastPongSeen = now
    c.awaitingPong = false
}

func (c *Connection) LastPingSent() time.Time { return c.lastPingSent }
func (c *Connection) LastPongSeen() time.Time { return c.lastPongSeen }

// Close releases the socket. Calling it again does nothing.
func (c *Connection) Close() {
    if c.closed {
        return
    }
    c.closed = true
    c.alive = false
    c.sendq = nil
    if c.sock != nil {
        if err := c.sock.Close(); err != nil {
            zap.L().Debug("socket close", zap.String("remote", c.remote()), zap.Error(err))
        }
    }
}

// Closed reports whether Close was called.
func (c *Connection) Closed() bool { return c.closed }
