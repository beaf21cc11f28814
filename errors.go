package cadence

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("cadence: no store configured")
	ErrStoreClosed = errors.New("cadence: store closed")

	// Not found errors.
	ErrScheduleNotFound = errors.New("cadence: schedule not found")
	ErrInstanceNotFound = errors.New("cadence: schedule instance not found")
	ErrJobNotFound      = errors.New("cadence: job not found")

	// Conflict errors.
	ErrJobAlreadyExists      = errors.New("cadence: job already exists")
	ErrScheduleAlreadyExists = errors.New("cadence: schedule already exists")

	// Configuration errors. A malformed schedule fails fast at creation
	// and never reaches dispatch.
	ErrInvalidSchedule = errors.New("cadence: invalid schedule")

	// ErrUnknownRecipientType means an instance carries a recipient-type
	// discriminator no resolver is registered for. This is a hard
	// configuration error, not a transient fault.
	ErrUnknownRecipientType = errors.New("cadence: unknown recipient type")
)
