package mesh

import (
    lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupWindow is how many recent checksums are remembered.
const DefaultDedupWindow = 128

// dedupWindow remembers the last N checksums. It is only ever checked with
// Contains, which does not touch recency, and written with Add for unseen
// tokens, so eviction is strictly first-in first-out. There is no TTL.
type dedupWindow struct {
    seen *lru.Cache[string, struct{}]
}

func newDedupWindow(size int) *dedupWindow {
    if size <= 0 {
        size = DefaultDedupWindow
    }
    c, err := lru.New[string, struct{}](size)
    if err != nil {
        // Only a non-positive size fails, which is excluded above.
        panic(err)
    }
    return &dedupWindow{seen: c}
}

// Observe records token and reports whether it was new.
func (d *dedupWindow) Observe(token string) bool {
    if d.seen.Contains(token) {
        return false
    }
    d.seen.Add(token, struct{}{})
    return true
}

func (d *dedupWindow) Len() int { return d.seen.Len() }
