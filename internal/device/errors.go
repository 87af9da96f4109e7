package device

import (
	"errors"
	"fmt"
)

// Lifecycle errors. Each one is terminal for the operation that produced it;
// callers abort the current device rather than retry.
var (
	ErrRadioUnavailable       = errors.New("bluetooth radio unavailable")
	ErrConnectFailed          = errors.New("connect failed")
	ErrEnumerationFailed      = errors.New("enumeration failed")
	ErrServiceNotFound        = errors.New("service not found")
	ErrCharacteristicNotFound = errors.New("characteristic not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrSubscribeFailed        = errors.New("subscribe failed")
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")

	// ErrConnectionLost indicates the link dropped while frames were being consumed.
	// This is distinct from ErrNotConnected, which indicates an attempt to use
	// a link that was never connected or was already closed.
	ErrConnectionLost = errors.New("connection lost")
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is lets errors.Is match NotFoundError against ErrServiceNotFound or
// ErrCharacteristicNotFound depending on the missing resource.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrServiceNotFound:
		return e.Resource == "service"
	case ErrCharacteristicNotFound:
		return e.Resource == "characteristic"
	}
	return false
}

// StateError reports an operation attempted from the wrong lifecycle state.
type StateError struct {
	Op   string
	Have string
	Want string
}

func (e *StateError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("%s: invalid state %s", e.Op, e.Have)
	}
	return fmt.Sprintf("%s: invalid state %s (want %s)", e.Op, e.Have, e.Want)
}

// Is allows errors.Is(err, ErrInvalidState)
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
