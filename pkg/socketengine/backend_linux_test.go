//go:build linux

package socketengine

import (
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
    t.Helper()
    fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
    require.NoError(t, err)
    t.Cleanup(func() {
        unix.Close(fds[0])
        unix.Close(fds[1])
    })
    return fds[0], fds[1]
}

func pollUntil(t *testing.T, e *Engine, pred func(Ready) bool) Ready {
    t.Helper()
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        r, err := e.Poll(10 * time.Millisecond)
        require.NoError(t, err)
        if pred(r) {
            return r
        }
    }
    t.Fatalf("readiness not observed on %s", e.Backend())
    return Ready{}
}

func contains(hs []Handle, h Handle) bool {
    for _, x := range hs {
        if x == h {
            return true
        }
    }
    return false
}

func TestLinuxBackends(t *testing.T) {
    for _, kind := range []BackendKind{Epoll, Poll, Select} {
        kind := kind
        t.Run(kind.String(), func(t *testing.T) {
            e, err := New(kind, 16)
            require.NoError(t, err)
            defer e.Close()

            a, b := socketpair(t)
            ha, ok := e.Register(a, InterestRead, KindServerLink)
            require.True(t, ok)

            r, err := e.Poll(time.Millisecond)
            require.NoError(t, err)
            assert.False(t, contains(r.Readable, ha), "nothing written yet")

            _, err = unix.Write(b, []byte("PING :x\n"))
            require.NoError(t, err)
            pollUntil(t, e, func(r Ready) bool { return contains(r.Readable, ha) })

            require.True(t, e.Modify(ha, InterestReadWrite))
            pollUntil(t, e, func(r Ready) bool { return contains(r.Writable, ha) })

            require.True(t, e.Unregister(ha))
            r, err = e.Poll(time.Millisecond)
            require.NoError(t, err)
            assert.False(t, contains(r.Readable, ha))
            assert.Equal(t, 0, e.Len())
        })
    }
}

func TestLinuxBackendsReportHangupAsReadable(t *testing.T) {
    for _, kind := range []BackendKind{Epoll, Poll} {
        kind := kind
        t.Run(kind.String(), func(t *testing.T) {
            e, err := New(kind, 4)
            require.NoError(t, err)
            defer e.Close()

            fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
            require.NoError(t, err)
            defer unix.Close(fds[0])

            h, ok := e.Register(fds[0], InterestRead, KindServerLink)
            require.True(t, ok)
            _, err = unix.Write(fds[1], []byte("last words\n"))
            require.NoError(t, err)
            unix.Close(fds[1])

            pollUntil(t, e, func(r Ready) bool { return contains(r.Readable, h) })
        })
    }
}

func TestSelectRejectsHighDescriptors(t *testing.T) {
    p, err := newSelect(4)
    require.NoError(t, err)
    assert.Error(t, p.add(fdSetSize, InterestRead))
}

// tcpPair returns the accepted and connecting ends of a loopback TCP
// connection.
func tcpPair(t *testing.T) (int, int) {
    t.Helper()
    ln, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
    require.NoError(t, err)
    defer unix.Close(ln)
    require.NoError(t, unix.Bind(ln, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
    require.NoError(t, unix.Listen(ln, 1))
    sa, err := unix.Getsockname(ln)
    require.NoError(t, err)

    c, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
    require.NoError(t, err)
    require.NoError(t, unix.Connect(c, sa))
    s, _, err := unix.Accept(ln)
    require.NoError(t, err)
    require.NoError(t, unix.SetNonblock(s, true))
    t.Cleanup(func() {
        unix.Close(s)
        unix.Close(c)
    })
    return s, c
}

func TestUrgentDataIsNotAFailure(t *testing.T) {
    for _, kind := range []BackendKind{Epoll, Poll, Select} {
        kind := kind
        t.Run(kind.String(), func(t *testing.T) {
            e, err := New(kind, 4)
            require.NoError(t, err)
            defer e.Close()

            s, c := tcpPair(t)
            h, ok := e.Register(s, InterestRead, KindServerLink)
            require.True(t, ok)

            require.NoError(t, unix.Sendto(c, []byte("!"), unix.MSG_OOB, nil))
            _, err = unix.Write(c, []byte("PING :x\n"))
            require.NoError(t, err)

            pollUntil(t, e, func(r Ready) bool {
                require.Empty(t, r.Failed)
                return contains(r.Readable, h)
            })
            for i := 0; i < 3; i++ {
                r, err := e.Poll(time.Millisecond)
                require.NoError(t, err)
                assert.Empty(t, r.Failed)
            }
        })
    }
}
