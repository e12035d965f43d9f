// Package apperror defines the error kinds surfaced by the booking engine.
// Every guard failure maps to exactly one Kind plus a stable Guard name so
// callers can decide what to do next without parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation means the request itself is malformed.
	KindValidation
	// KindNotFound means a booking or station id does not exist.
	KindNotFound
	// KindAuthorization means a role, ownership or assignment guard failed.
	KindAuthorization
	// KindConflict means a business rule rejected the request.
	KindConflict
	// KindStore means persistence was unavailable; retry with backoff.
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Guard names.
const (
	GuardWindow          = "window"
	GuardMaxDuration     = "max_duration"
	GuardDateFormat      = "date_format"
	GuardOffset          = "offset"
	GuardCapacityInput   = "capacity_input"
	GuardAdvanceLimit    = "advance_limit"
	GuardLeadTime        = "lead_time"
	GuardStatus          = "status"
	GuardCapacity        = "capacity"
	GuardSessionToken    = "session_token"
	GuardStationInactive = "station_inactive"
	GuardStationExists   = "station_exists"
	GuardActiveBookings  = "active_bookings"
	GuardRole            = "role"
	GuardOwnership       = "ownership"
	GuardAssignment      = "assignment"
	GuardLock            = "lock"
	GuardStationType     = "station_type"
	GuardCoordinates     = "coordinates"
	GuardBooking         = "booking"
	GuardStation         = "station"
	GuardPersistence     = "persistence"
	GuardRequest         = "request"
)

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Guard   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, guard, msg string, err error) *Error {
	return &Error{Kind: kind, Guard: guard, Message: msg, Err: err}
}

func Validation(guard, msg string) *Error {
	return newError(KindValidation, guard, msg, nil)
}

func NotFound(guard, msg string) *Error {
	return newError(KindNotFound, guard, msg, nil)
}

func Authorization(guard, msg string) *Error {
	return newError(KindAuthorization, guard, msg, nil)
}

func Conflict(guard, msg string) *Error {
	return newError(KindConflict, guard, msg, nil)
}

// Store wraps a persistence failure.
func Store(msg string, err error) *Error {
	return newError(KindStore, GuardPersistence, msg, err)
}

// StoreGuard wraps a persistence-side failure with a specific guard.
func StoreGuard(guard, msg string, err error) *Error {
	return newError(KindStore, guard, msg, err)
}

// KindOf returns the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GuardOf returns the guard that produced err, if any.
func GuardOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Guard
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
