package socketengine

// Kind is the dispatch tag stored with every registered descriptor. The event
// loop uses it to decide who owns a ready handle.
type Kind int

const (
    KindUnknown Kind = iota
    KindListener
    KindClient
    KindServerLink
    KindAux
)

func (k Kind) String() string {
    switch k {
    case KindListener:
        return "listener"
    case KindClient:
        return "client"
    case KindServerLink:
        return "server-link"
    case KindAux:
        return "aux"
    default:
        return "unknown"
    }
}

// Interest is the readiness a descriptor is watched for.
type Interest uint8

const (
    InterestRead Interest = 1 << iota
    InterestWrite

    InterestNone      Interest = 0
    InterestReadWrite          = InterestRead | InterestWrite
)

func (i Interest) Read() bool  { return i&InterestRead != 0 }
func (i Interest) Write() bool { return i&InterestWrite != 0 }

func (i Interest) String() string {
    switch i {
    case InterestRead:
        return "r"
    case InterestWrite:
        return "w"
    case InterestReadWrite:
        return "rw"
    default:
        return "-"
    }
}

// event is what a backend reports for one fd in one wait call.
type event uint8

const (
    evRead event = 1 << iota
    evWrite
    evError
)
