package daemon

import (
    "math/rand/v2"
    "net/netip"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/inspircd/inspircd-sub009/pkg/config"
    "github.com/inspircd/inspircd-sub009/pkg/link"
    "github.com/inspircd/inspircd-sub009/pkg/mesh"
    "github.com/inspircd/inspircd-sub009/pkg/resolver"
)

// autoconn tracks one link block we keep trying to link.
type autoconn struct {
    block     config.LinkConfig
    backoff   time.Duration
    next      time.Time
    resolving bool
}

func (d *Daemon) initialBackoff() time.Duration {
    if b := d.cfg.Mesh.BackoffInitial; b > 0 {
        return b
    }
    return 500 * time.Millisecond
}

func (d *Daemon) maxBackoff() time.Duration {
    if b := d.cfg.Mesh.BackoffMax; b > 0 {
        return b
    }
    return 30 * time.Second
}

// autoconnect dials every due block whose server is not on the network.
func (d *Daemon) autoconnect(now time.Time) {
    for name, a := range d.auto {
        if a.resolving || now.Before(a.next) {
            continue
        }
        if d.mesh.Link(name) != nil || d.mesh.Reachable(name) {
            continue
        }
        if strings.HasPrefix(a.block.Host, memScheme) {
            d.dial(a, a.block.Host, now)
            continue
        }
        a.resolving = true
        if !d.res.Submit(a.block.Host, name) {
            a.resolving = false
        }
    }
}

func (d *Daemon) resolved(r resolver.Result) {
    name, _ := r.Tag.(string)
    a, ok := d.auto[name]
    if !ok {
        return
    }
    a.resolving = false
    now := d.now()
    if r.Err != nil {
        zap.L().Warn("autoconnect lookup failed", zap.String("server", name), zap.String("host", r.Host), zap.Error(r.Err))
        d.retry(a, now)
        return
    }
    d.dial(a, netip.AddrPortFrom(r.Addr, uint16(a.block.Port)).String(), now)
}

func (d *Daemon) dial(a *autoconn, address string, now time.Time) {
    target := link.DialTarget{Name: a.block.Name, Address: address, Class: a.block.Class}
    if name, ok := strings.CutPrefix(address, memScheme); ok {
        if d.mem == nil {
            zap.L().Warn("autoconnect skipped", zap.String("server", a.block.Name), zap.Error(ErrNoMemTransport))
            d.retry(a, now)
            return
        }
        target.Address = name
        target.Dialer = d.mem
    } else {
        target.Dialer = d.tcp
    }
    cl := d.class(a.block.Class)
    if _, err := d.mesh.Dial(target, cl.Limits(), cl.PingInterval); err != nil {
        zap.L().Warn("autoconnect failed", zap.String("server", a.block.Name), zap.String("address", address), zap.Error(err))
        d.retry(a, now)
        return
    }
    // Do not try again before this attempt has had time to finish.
    a.next = now.Add(d.cfg.Mesh.HandshakeTimeout)
}

// retry schedules the next attempt and doubles the backoff up to its cap.
func (d *Daemon) retry(a *autoconn, now time.Time) {
    a.next = now.Add(withJitter(a.backoff, d.cfg.Mesh.BackoffJitter))
    a.backoff = nextBackoff(a.backoff, d.maxBackoff())
}

// observeLink resets backoff on a finished burst and schedules a retry when
// an autoconnect link goes away.
func (d *Daemon) observeLink(ev mesh.Event) {
    if ev.Kind != mesh.EventLinkState {
        return
    }
    a, ok := d.auto[ev.Peer]
    if !ok {
        return
    }
    switch ev.New {
    case link.Established:
        a.backoff = d.initialBackoff()
    case link.Disconnected:
        if ev.Old.Authenticating() {
            d.metrics.ObserveDial("failed")
        }
        d.retry(a, d.now())
    }
}

func nextBackoff(cur, limit time.Duration) time.Duration {
    if cur >= limit {
        return limit
    }
    cur *= 2
    if cur > limit {
        cur = limit
    }
    return cur
}

func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 {
        return d
    }
    return d + rand.N(jitter)
}
