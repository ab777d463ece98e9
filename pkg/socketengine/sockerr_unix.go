//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package socketengine

import (
    "fmt"

    "golang.org/x/sys/unix"
)

// socketError reads and clears SO_ERROR so a failed descriptor carries the
// kernel's reason.
func socketError(fd int) error {
    v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
    if err != nil {
        return fmt.Errorf("socket error: %w", err)
    }
    if v == 0 {
        return fmt.Errorf("socket error on fd %d", fd)
    }
    return unix.Errno(v)
}
