//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package socketengine

import "fmt"

func socketError(fd int) error { return fmt.Errorf("socket error on fd %d", fd) }
