package connection

import "fmt"

// Kind classifies connection errors
type Kind int

const (
	KindTransportUnavailable Kind = iota + 1
	KindScanCancelled
	KindDiscoveryFailure
	KindLinkFailure
	KindServiceNotFound
	KindNotConnected
	KindWriteFailure
)

func (k Kind) String() string {
	switch k {
	case KindTransportUnavailable:
		return "transport unavailable"
	case KindScanCancelled:
		return "scan cancelled"
	case KindDiscoveryFailure:
		return "discovery failure"
	case KindLinkFailure:
		return "link failure"
	case KindServiceNotFound:
		return "service not found"
	case KindNotConnected:
		return "not connected"
	case KindWriteFailure:
		return "write failure"
	default:
		return "unknown"
	}
}

// Error is returned by Manager operations. errors.Is matches on Kind, so
// errors.Is(err, ErrNotConnected) holds for any not-connected error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is
var (
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrScanCancelled        = &Error{Kind: KindScanCancelled}
	ErrDiscoveryFailure     = &Error{Kind: KindDiscoveryFailure}
	ErrLinkFailure          = &Error{Kind: KindLinkFailure}
	ErrServiceNotFound      = &Error{Kind: KindServiceNotFound}
	ErrNotConnected         = &Error{Kind: KindNotConnected}
	ErrWriteFailure         = &Error{Kind: KindWriteFailure}
)

// StateError is returned when an operation is not valid in the current state
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Op, e.State)
}
