//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package tcp implements non-blocking TCP listeners and dialers over raw
// descriptors so the socket engine can watch them directly.
package tcp

import (
    "errors"
    "fmt"
    "net"
    "net/netip"
    "strconv"

    "golang.org/x/sys/unix"

    "github.com/inspircd/inspircd-sub009/pkg/transport"
)

const listenBacklog = 128

// Listener accepts inbound TCP connections without blocking.
type Listener struct {
    fd     int
    addr   netip.AddrPort
    closed bool
}

// Listen binds address ("host:port"; empty host means all IPv4 interfaces).
func Listen(address string) (*Listener, error) {
    ap, err := ParseAddrPort(address)
    if err != nil {
        return nil, err
    }
    fd, err := newSocket(ap)
    if err != nil {
        return nil, err
    }
    if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("tcp: reuseaddr: %w", err)
    }
    if err := unix.Bind(fd, sockaddr(ap)); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("tcp: bind %s: %w", ap, err)
    }
    if err := unix.Listen(fd, listenBacklog); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("tcp: listen %s: %w", ap, err)
    }
    bound := ap
    if sa, err := unix.Getsockname(fd); err == nil {
        bound = fromSockaddr(sa)
    }
    return &Listener{fd: fd, addr: bound}, nil
}

func (l *Listener) FD() int      { return l.fd }
func (l *Listener) Addr() string { return l.addr.String() }

// Port is the bound port, useful when listening on port 0.
func (l *Listener) Port() uint16 { return l.addr.Port() }

func (l *Listener) Accept() (transport.Socket, error) {
    if l.closed {
        return nil, transport.ErrClosed
    }
    for {
        nfd, sa, err := unix.Accept(l.fd)
        switch {
        case err == unix.EINTR:
            continue
        case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ECONNABORTED:
            return nil, transport.ErrWouldBlock
        case err != nil:
            return nil, fmt.Errorf("tcp: accept: %w", err)
        }
        if err := transport.SetupFD(nfd); err != nil {
            unix.Close(nfd)
            return nil, fmt.Errorf("tcp: accept setup: %w", err)
        }
        return transport.NewFDSocket(nfd, transport.KindTCP, fromSockaddr(sa).String()), nil
    }
}

func (l *Listener) Close() error {
    if l.closed {
        return nil
    }
    l.closed = true
    return unix.Close(l.fd)
}

// Dialer starts non-blocking connects to resolved addresses.
type Dialer struct{}

func NewDialer() *Dialer { return &Dialer{} }

func (d *Dialer) Kind() transport.Kind { return transport.KindTCP }

// Dial starts a connect to address, which must be a literal ip:port. An
// in-progress connect is success; completion is detected by writability and
// confirmed with FinishConnect.
func (d *Dialer) Dial(address string) (transport.Socket, error) {
    ap, err := ParseAddrPort(address)
    if err != nil {
        return nil, err
    }
    return Dial(ap)
}

func Dial(ap netip.AddrPort) (transport.Socket, error) {
    fd, err := newSocket(ap)
    if err != nil {
        return nil, err
    }
    _ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
    for {
        err = unix.Connect(fd, sockaddr(ap))
        if err == unix.EINTR {
            continue
        }
        break
    }
    if err != nil && err != unix.EINPROGRESS && err != unix.EALREADY {
        unix.Close(fd)
        return nil, fmt.Errorf("tcp: connect %s: %w", ap, err)
    }
    return transport.NewFDSocket(fd, transport.KindTCP, ap.String()), nil
}

// ParseAddrPort accepts "ip:port", "[ip6]:port" and ":port".
func ParseAddrPort(address string) (netip.AddrPort, error) {
    host, portStr, err := net.SplitHostPort(address)
    if err != nil {
        return netip.AddrPort{}, fmt.Errorf("tcp: address %q: %w", address, err)
    }
    port, err := strconv.ParseUint(portStr, 10, 16)
    if err != nil {
        return netip.AddrPort{}, fmt.Errorf("tcp: port %q: %w", portStr, err)
    }
    addr := netip.IPv4Unspecified()
    if host != "" {
        addr, err = netip.ParseAddr(host)
        if err != nil {
            return netip.AddrPort{}, fmt.Errorf("tcp: host %q is not an ip literal: %w", host, err)
        }
    }
    return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}

var errNoFamily = errors.New("tcp: invalid address family")

func newSocket(ap netip.AddrPort) (int, error) {
    if !ap.IsValid() {
        return -1, errNoFamily
    }
    family := unix.AF_INET
    if ap.Addr().Is6() {
        family = unix.AF_INET6
    }
    fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
    if err != nil {
        return -1, fmt.Errorf("tcp: socket: %w", err)
    }
    if err := transport.SetupFD(fd); err != nil {
        unix.Close(fd)
        return -1, fmt.Errorf("tcp: socket setup: %w", err)
    }
    return fd, nil
}

func sockaddr(ap netip.AddrPort) unix.Sockaddr {
    if ap.Addr().Is6() {
        return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}
    }
    return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
    switch a := sa.(type) {
    case *unix.SockaddrInet4:
        return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
    case *unix.SockaddrInet6:
        return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
    default:
        return netip.AddrPort{}
    }
}
