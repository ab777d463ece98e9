package handshake

import (
    "crypto/subtle"
    "fmt"
    "strings"

    "go.uber.org/zap"
    "golang.org/x/crypto/bcrypt"
)

// Validator decides whether a parsed handshake is acceptable. inbound is true
// when the remote side connected to us.
type Validator interface {
    Validate(h Hello, inbound bool) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(h Hello, inbound bool) error

func (f ValidatorFunc) Validate(h Hello, inbound bool) error { return f(h, inbound) }

// LinkBlock is the configured credential pair for one peer.
type LinkBlock struct {
    Name         string
    SendPassword string
    RecvPassword string
}

// Static validates against a fixed set of link blocks keyed by server name.
type Static struct {
    Local string
    Links map[string]LinkBlock
}

func NewStatic(local string, blocks []LinkBlock) *Static {
    m := make(map[string]LinkBlock, len(blocks))
    for _, b := range blocks {
        m[strings.ToLower(b.Name)] = b
    }
    return &Static{Local: local, Links: m}
}

// Lookup finds the link block for name, case-insensitively.
func (s *Static) Lookup(name string) (LinkBlock, bool) {
    b, ok := s.Links[strings.ToLower(name)]
    return b, ok
}

func (s *Static) Validate(h Hello, inbound bool) error {
    if strings.EqualFold(h.Name, s.Local) {
        return ErrSelfLink
    }
    b, ok := s.Lookup(h.Name)
    if !ok {
        return fmt.Errorf("%w: %s", ErrUnknownServer, h.Name)
    }
    if !CheckPassword(b.RecvPassword, h.Password) {
        zap.L().Warn("link password mismatch", zap.String("server", h.Name), zap.Bool("inbound", inbound))
        return fmt.Errorf("%w: %s", ErrBadPassword, h.Name)
    }
    return nil
}

// CheckPassword compares a presented password with the stored one. Stored
// values that look like bcrypt hashes are checked with bcrypt, everything
// else in constant time.
func CheckPassword(stored, given string) bool {
    if stored == "" {
        return false
    }
    if strings.HasPrefix(stored, "$2") {
        return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
    }
    return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
