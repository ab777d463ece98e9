package socketengine

import "fmt"

func wrapUnavailable(kind BackendKind, err error) error {
    if err == nil {
        return fmt.Errorf("%w: %s not supported on this platform", ErrBackendUnavailable, kind)
    }
    return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, kind, err)
}
