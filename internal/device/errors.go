package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindUnavailable       ErrorKind = "unavailable"
	KindConnectFailed     ErrorKind = "connect_failed"
	KindServiceNotFound   ErrorKind = "service_not_found"
	KindNotReady          ErrorKind = "not_ready"
	KindBusy              ErrorKind = "busy"
	KindConnectionLost    ErrorKind = "connection_lost"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindTimeout           ErrorKind = "timeout"
	KindUnauthorized      ErrorKind = "unauthorized"
)

// Error is a transport failure of a given kind.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is compares Error values by Kind so wrapped errors match the sentinels.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrConnectFailed     = &Error{Kind: KindConnectFailed}
	ErrServiceNotFound   = &Error{Kind: KindServiceNotFound}
	ErrNotReady          = &Error{Kind: KindNotReady}
	ErrBusy              = &Error{Kind: KindBusy}
	ErrConnectionLost    = &Error{Kind: KindConnectionLost}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
)

// Errorf builds an Error of the given kind wrapping err, which may be nil.
func Errorf(kind ErrorKind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return KindServiceNotFound
	}
	return ""
}

// NotFoundError reports a GATT attribute missing after discovery.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // parent first, e.g. [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[len(e.UUIDs)-2])
}

// Is makes every NotFoundError match ErrServiceNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrServiceNotFound
}

// NormalizeError maps platform error strings to the taxonomy, preserving the
// original error in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "powered off"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "adapter not found"):
		return &Error{Kind: KindUnavailable, Err: err}
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not permitted"),
		strings.Contains(msg, "unauthorized"):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "disconnected"):
		return &Error{Kind: KindConnectionLost, Err: err}
	default:
		return err
	}
}
