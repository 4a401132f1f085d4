package appointment

import (
	"errors"
	"fmt"
)

// Business error kinds. They are returned as-is (or wrapped) and never
// retried inside the package. Any other error is an infrastructure fault.
var (
	ErrNotFound                = errors.New("not found")
	ErrPastDate                = errors.New("scheduled time must be in the future")
	ErrSlotConflict            = errors.New("provider already has an appointment at that time")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrProviderNotFound    = fmt.Errorf("provider %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
)

// IsBusinessError reports whether err is one of the client-correctable kinds.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPastDate) ||
		errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidStatusTransition)
}
