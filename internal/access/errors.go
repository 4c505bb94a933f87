package access

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("access rejected")

	// ErrMisconfigured matches every *MisconfiguredError.
	ErrMisconfigured = errors.New("access misconfigured")
)

// RejectedError is returned when the caller may not access a target.
type RejectedError struct {
	Route  string
	Target string
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// MisconfiguredError is returned when no rule can be resolved for a route.
type MisconfiguredError struct {
	Route  string
	Reason string
}

func (e *MisconfiguredError) Error() string {
	return fmt.Sprintf("route %s is misconfigured: %s", e.Route, e.Reason)
}

func (e *MisconfiguredError) Is(target error) bool {
	return target == ErrMisconfigured
}

// IsRejected reports whether err is an access rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsMisconfigured reports whether err is a configuration defect.
func IsMisconfigured(err error) bool {
	return errors.Is(err, ErrMisconfigured)
}

// AsRejected extracts the *RejectedError from err.
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}

func misconfigured(route, format string, args ...any) *MisconfiguredError {
	return &MisconfiguredError{Route: route, Reason: fmt.Sprintf(format, args...)}
}
