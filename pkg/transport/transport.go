package transport

import (
    "errors"
)

var (
    // ErrWouldBlock is returned by non-blocking reads, writes and accepts when
    // the kernel has nothing to hand over. It is never a connection failure.
    ErrWouldBlock = errors.New("transport: operation would block")
    // ErrClosed is returned for operations on a socket that was closed locally.
    ErrClosed = errors.New("transport: socket closed")
)

// Kind identifies the socket family for logs and status output.
type Kind int

const (
    KindUnknown Kind = iota
    KindTCP
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// Socket is a non-blocking, stream-oriented descriptor the event loop can
// register with the socket engine. Read returns io.EOF on orderly shutdown by
// the peer and ErrWouldBlock when no data is queued. Write may be partial.
type Socket interface {
    FD() int
    Read(p []byte) (int, error)
    Write(p []byte) (int, error)
    Close() error
    RemoteAddr() string
    Kind() Kind
}

// Connecting is implemented by sockets whose connect may still be in
// progress. FinishConnect is called once the descriptor turns writable and
// reports whether the connect succeeded.
type Connecting interface {
    FinishConnect() error
}

// Listener yields inbound sockets. Accept returns ErrWouldBlock when no
// connection is pending; the listener's FD becomes readable when one is.
type Listener interface {
    FD() int
    Accept() (Socket, error)
    Addr() string
    Close() error
}

// Dialer starts a non-blocking outbound connection.
type Dialer interface {
    Kind() Kind
    Dial(address string) (Socket, error)
}
