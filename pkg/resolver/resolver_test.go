package resolver

import (
    "context"
    "errors"
    "net/netip"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type countWaker struct{ n atomic.Int32 }

func (w *countWaker) Wake() { w.n.Add(1) }

func TestResolveLiteral(t *testing.T) {
    r := New(1, time.Second, nil)
    defer r.Close()
    r.lookup = func(context.Context, string, string) ([]netip.Addr, error) {
        t.Fatal("literal must not hit DNS")
        return nil, nil
    }
    a, err := r.Resolve(context.Background(), "::ffff:10.0.0.1")
    require.NoError(t, err)
    assert.Equal(t, netip.MustParseAddr("10.0.0.1"), a)
}

func TestResolvePrefersIPv4(t *testing.T) {
    r := New(1, time.Second, nil)
    defer r.Close()
    r.lookup = func(context.Context, string, string) ([]netip.Addr, error) {
        return []netip.Addr{netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("192.0.2.7")}, nil
    }
    a, err := r.Resolve(context.Background(), "hub.example.net")
    require.NoError(t, err)
    assert.Equal(t, "192.0.2.7", a.String())

    r.lookup = func(context.Context, string, string) ([]netip.Addr, error) { return nil, nil }
    _, err = r.Resolve(context.Background(), "empty.example.net")
    assert.ErrorIs(t, err, ErrNoAddress)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
    w := &countWaker{}
    r := New(2, time.Second, w)
    defer r.Close()

    var inflight, peak atomic.Int32
    release := make(chan struct{})
    r.lookup = func(ctx context.Context, _, host string) ([]netip.Addr, error) {
        n := inflight.Add(1)
        for {
            p := peak.Load()
            if n <= p || peak.CompareAndSwap(p, n) {
                break
            }
        }
        <-release
        inflight.Add(-1)
        return []netip.Addr{netip.MustParseAddr("198.51.100.1")}, nil
    }

    for i := 0; i < 6; i++ {
        require.True(t, r.Submit("h.example.net", i))
    }
    require.Eventually(t, func() bool { return inflight.Load() == 2 }, time.Second, time.Millisecond)
    close(release)

    var got []Result
    require.Eventually(t, func() bool {
        got = append(got, r.Drain()...)
        return len(got) == 6 && w.n.Load() == 6
    }, time.Second, time.Millisecond)
    assert.LessOrEqual(t, peak.Load(), int32(2))
    tags := map[any]bool{}
    for _, res := range got {
        assert.NoError(t, res.Err)
        tags[res.Tag] = true
    }
    assert.Len(t, tags, 6)
}

func TestCloseCancelsPending(t *testing.T) {
    r := New(1, time.Minute, nil)
    var once sync.Once
    started := make(chan struct{})
    r.lookup = func(ctx context.Context, _, _ string) ([]netip.Addr, error) {
        once.Do(func() { close(started) })
        <-ctx.Done()
        return nil, ctx.Err()
    }
    require.True(t, r.Submit("slow.example.net", nil))
    <-started
    r.Close()
    assert.False(t, r.Submit("late.example.net", nil))

    _, err := r.Resolve(r.ctx, "x.example.net")
    assert.True(t, errors.Is(err, context.Canceled))
}
