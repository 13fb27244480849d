package scheduling

import (
	"context"
	"errors"
)

var (
	// ErrMalformedIntent is returned when the interpretation output cannot be decoded
	// or carries no recognized action.
	ErrMalformedIntent = errors.New("malformed intent")

	// ErrInvalidIntent is returned when a well-formed intent lacks fields its action needs.
	ErrInvalidIntent = errors.New("invalid intent")

	// ErrAttendantNotFound is returned when no active attendant matches a name.
	ErrAttendantNotFound = errors.New("attendant not found")

	// ErrAmbiguousAttendant is returned in strict matching mode when a name
	// matches more than one attendant.
	ErrAmbiguousAttendant = errors.New("attendant name is ambiguous")

	// ErrAppointmentNotFound is returned when no active appointment matches.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrCustomerInactive is returned when the email belongs to a customer the
	// tenant deactivated.
	ErrCustomerInactive = errors.New("customer is inactive")

	// ErrSlotConflict is returned when the attendant already has an active
	// appointment in the requested hour.
	ErrSlotConflict = errors.New("slot already booked")

	// ErrInterpretationTimeout is returned when the interpretation call exceeds its deadline.
	ErrInterpretationTimeout = errors.New("interpretation timed out")

	// ErrInterpretationUnavailable is returned when the interpretation provider fails.
	ErrInterpretationUnavailable = errors.New("interpretation unavailable")

	// ErrStoreUnavailable wraps transient record store failures.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrDuplicate is returned by stores when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("record already exists")

	// ErrNotFound is returned by stores for lookups that match nothing.
	ErrNotFound = errors.New("record not found")

	// ErrMissingTenant is returned when an operation is attempted without a tenant.
	ErrMissingTenant = errors.New("tenant is required")
)

// IsRetryable reports whether err is a transient collaborator failure an
// outer layer may retry. Input problems are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInterpretationTimeout) ||
		errors.Is(err, ErrInterpretationUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsUserFacing reports whether err describes a problem with the request itself.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		ErrMalformedIntent,
		ErrInvalidIntent,
		ErrAttendantNotFound,
		ErrAmbiguousAttendant,
		ErrAppointmentNotFound,
		ErrSlotConflict,
		ErrCustomerInactive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsCanceled reports whether err comes from the caller giving up.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
