// Package handshake builds, parses and validates the first line exchanged on
// a new server link:
//
//	SERVER <name> <password> <port> <version> :<description>
//
// The content of the line is opaque to the mesh. It only needs a yes/no
// answer and the peer's name to move a link from authenticating to syncing.
package handshake

import (
    "errors"
    "fmt"
    "strconv"
    "strings"
)

const Verb = "SERVER"

var (
    ErrMalformed     = errors.New("handshake: malformed SERVER line")
    ErrBadServerName = errors.New("handshake: invalid server name")
    ErrUnknownServer = errors.New("handshake: no link block for server")
    ErrBadPassword   = errors.New("handshake: password mismatch")
    ErrSelfLink      = errors.New("handshake: server introduced itself with our name")
)

// Hello is the parsed handshake line.
type Hello struct {
    Name        string
    Password    string
    Port        int
    Version     string
    Description string
}

// BuildHello constructs the line a server sends first on a link.
func BuildHello(name, password string, port int, version, description string) Hello {
    if version == "" {
        version = "0"
    }
    return Hello{Name: name, Password: password, Port: port, Version: version, Description: description}
}

// Line renders h without a terminator.
func (h Hello) Line() string {
    return fmt.Sprintf("%s %s %s %d %s :%s", Verb, h.Name, h.Password, h.Port, h.Version, h.Description)
}

// ParseHello parses a SERVER line.
func ParseHello(line string) (Hello, error) {
    head, desc, hasDesc := strings.Cut(line, " :")
    fields := strings.Fields(head)
    if len(fields) != 5 || fields[0] != Verb {
        return Hello{}, fmt.Errorf("%w: %q", ErrMalformed, truncate(line, 64))
    }
    port, err := strconv.Atoi(fields[3])
    if err != nil || port < 0 || port > 65535 {
        return Hello{}, fmt.Errorf("%w: bad port %q", ErrMalformed, fields[3])
    }
    if !ValidServerName(fields[1]) {
        return Hello{}, fmt.Errorf("%w: %q", ErrBadServerName, fields[1])
    }
    h := Hello{Name: fields[1], Password: fields[2], Port: port, Version: fields[4]}
    if hasDesc {
        h.Description = desc
    }
    return h, nil
}

// ValidServerName accepts dotted hostnames of letters, digits, '-', '_' and
// '.', at most 64 characters.
func ValidServerName(name string) bool {
    if len(name) == 0 || len(name) > 64 || !strings.Contains(name, ".") {
        return false
    }
    if name[0] == '.' || name[len(name)-1] == '.' {
        return false
    }
    for i := 0; i < len(name); i++ {
        c := name[i]
        switch {
        case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
        case c == '-', c == '_', c == '.':
        default:
            return false
        }
    }
    return true
}

func truncate(s string, n int) string {
    if len(s) <= n {
        return s
    }
    return s[:n] + "..."
}
