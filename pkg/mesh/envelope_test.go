package mesh

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestChecksumShape(t *testing.T) {
    a := checksum("a.example", 1, "PRIVMSG #x :hi")
    b := checksum("a.example", 2, "PRIVMSG #x :hi")
    assert.Len(t, a, checksumLen)
    assert.True(t, isHex(a))
    assert.NotEqual(t, a, b)
    assert.Equal(t, a, checksum("a.example", 1, "PRIVMSG #x :hi"))
}

func TestSplitChecksum(t *testing.T) {
    token, rest, ok := splitChecksum(":00112233aabbccdd PRIVMSG #x :hi")
    require.True(t, ok)
    assert.Equal(t, "00112233aabbccdd", token)
    assert.Equal(t, "PRIVMSG #x :hi", rest)

    for _, line := range []string{
        ":irc.example.net PRIVMSG #x :hi",
        ":00112233aabbccd PRIVMSG",
        ":00112233AABBCCDD PRIVMSG",
        "PRIVMSG #x :hi",
    } {
        _, rest, ok := splitChecksum(line)
        assert.False(t, ok, line)
        assert.Equal(t, line, rest)
    }
}

func TestWrapRerouteNeverStacks(t *testing.T) {
    assert.Equal(t, "R c.example NOTICE x :y", wrapReroute("NOTICE x :y", "c.example"))
    assert.Equal(t, "R c.example NOTICE x :y", wrapReroute("R c.example NOTICE x :y", "d.example"))
    assert.Equal(t, ":00112233aabbccdd R c.example PING", wrapReroute(":00112233aabbccdd PING", "c.example"))
    assert.Equal(t, ":00112233aabbccdd R c.example PING", wrapReroute(":00112233aabbccdd R c.example PING", "c.example"))

    target, rest, ok := splitReroute("R c.example NOTICE x :y")
    require.True(t, ok)
    assert.Equal(t, "c.example", target)
    assert.Equal(t, "NOTICE x :y", rest)
    _, _, ok = splitReroute("R lonely")
    assert.False(t, ok)
}

func TestDedupWindowIsFIFO(t *testing.T) {
    d := newDedupWindow(2)
    assert.True(t, d.Observe("a"))
    assert.True(t, d.Observe("b"))
    assert.False(t, d.Observe("a"), "a lookup must not refresh a")
    assert.True(t, d.Observe("c"))
    assert.True(t, d.Observe("a"), "a was the oldest and got evicted")
    assert.False(t, d.Observe("c"))
    assert.Equal(t, 2, d.Len())
}

func TestDedupWindowDefaultSize(t *testing.T) {
    d := newDedupWindow(0)
    for i := 0; i < DefaultDedupWindow; i++ {
        require.True(t, d.Observe(checksum("x", uint64(i), "")))
    }
    assert.False(t, d.Observe(checksum("x", 0, "")))
    assert.True(t, d.Observe(checksum("x", DefaultDedupWindow, "")))
    assert.True(t, d.Observe(checksum("x", 0, "")), "oldest evicted after one more")
}
