package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid reports a missing or malformed endpoint or credential
	ErrConfigInvalid = errors.New("configuration invalid")

	// ErrStreamClosed reports that a capture source ended abnormally
	ErrStreamClosed = errors.New("capture stream closed unexpectedly")

	// ErrDeliveryFailed reports that a batch could not be delivered after all retries
	ErrDeliveryFailed = errors.New("log delivery failed")
)

// ConnectionErrorKind classifies connection test failures
type ConnectionErrorKind int

const (
	ConnectionUnreachable ConnectionErrorKind = iota + 1
	ConnectionAuthRejected
	ConnectionTimeout
	ConnectionUnexpectedStatus
)

// String returns the kind name
func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnectionUnreachable:
		return "unreachable"
	case ConnectionAuthRejected:
		return "auth_rejected"
	case ConnectionTimeout:
		return "timeout"
	case ConnectionUnexpectedStatus:
		return "unexpected_status"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ConnectionError is returned by a connection test
type ConnectionError struct {
	Kind   ConnectionErrorKind
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case ConnectionUnreachable:
		return fmt.Sprintf("endpoint unreachable: %v", e.Err)
	case ConnectionAuthRejected:
		return fmt.Sprintf("credentials rejected by endpoint (status %d)", e.Status)
	case ConnectionTimeout:
		return fmt.Sprintf("connection test timed out: %v", e.Err)
	case ConnectionUnexpectedStatus:
		return fmt.Sprintf("endpoint returned unexpected status %d", e.Status)
	default:
		return fmt.Sprintf("connection test failed: %v", e.Err)
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConnectionErrorKindOf extracts the kind from err, or 0 when err is not a ConnectionError
func ConnectionErrorKindOf(err error) ConnectionErrorKind {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind
	}
	return 0
}
