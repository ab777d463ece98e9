package mesh

import (
    "fmt"
    "strconv"
    "strings"

    "github.com/cespare/xxhash/v2"
)

// Envelope layout on the wire, both parts optional:
//
//	:<checksum> R <target> <payload>
//
// The checksum is 16 lowercase hex digits, which no server prefix can match
// because server names contain a dot.
const (
    checksumLen   = 16
    rerouteVerb   = "R"
    reroutePrefix = rerouteVerb + " "
)

func checksum(local string, seq uint64, payload string) string {
    d := xxhash.New()
    _, _ = d.WriteString(local)
    _, _ = d.WriteString("\x00")
    _, _ = d.WriteString(strconv.FormatUint(seq, 10))
    _, _ = d.WriteString("\x00")
    _, _ = d.WriteString(payload)
    return fmt.Sprintf("%016x", d.Sum64())
}

func isHex(s string) bool {
    for i := 0; i < len(s); i++ {
        c := s[i]
        if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
            return false
        }
    }
    return true
}

// splitChecksum separates a leading dedup token from the rest of the line.
func splitChecksum(line string) (token, rest string, ok bool) {
    if len(line) < checksumLen+2 || line[0] != ':' || line[checksumLen+1] != ' ' {
        return "", line, false
    }
    token = line[1 : checksumLen+1]
    if !isHex(token) {
        return "", line, false
    }
    return token, line[checksumLen+2:], true
}

func withChecksum(token, payload string) string {
    return ":" + token + " " + payload
}

// splitReroute separates a leading reroute marker.
func splitReroute(line string) (target, rest string, ok bool) {
    if !strings.HasPrefix(line, reroutePrefix) {
        return "", line, false
    }
    target, rest, ok = strings.Cut(line[len(reroutePrefix):], " ")
    if !ok || target == "" {
        return "", line, false
    }
    return target, rest, true
}

// hasReroute reports whether payload already carries a marker, looking past
// a dedup token if there is one.
func hasReroute(payload string) bool {
    _, rest, _ := splitChecksum(payload)
    _, _, ok := splitReroute(rest)
    return ok
}

// wrapReroute puts a marker for target after any dedup token. A payload that
// is already marked comes back unchanged.
func wrapReroute(payload, target string) string {
    if hasReroute(payload) {
        return payload
    }
    if token, rest, ok := splitChecksum(payload); ok {
        return withChecksum(token, reroutePrefix+target+" "+rest)
    }
    return reroutePrefix + target + " " + payload
}
