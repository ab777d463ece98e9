package transport

import (
    "fmt"
    "strings"
)

// TempPeerName builds a provisional peer name from socket kind and remote
// address. It is used for inbound links until the handshake names them and
// can never collide with a server name, which may not contain ':'.
func TempPeerName(kind Kind, addr string) string {
    if strings.TrimSpace(addr) == "" {
        return fmt.Sprintf("temp:%s:unknown", kind)
    }
    return fmt.Sprintf("temp:%s:%s", kind, addr)
}

// IsTempPeerName reports whether name was produced by TempPeerName.
func IsTempPeerName(name string) bool {
    return strings.HasPrefix(name, "temp:")
}
