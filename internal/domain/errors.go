package domain

import "errors"

var (
	// ErrNotFound signals an unknown notification, webhook or provider id.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals a request rejected before any row was created.
	ErrValidation = errors.New("validation error")
	// ErrConflict signals a state transition forbidden by the current status.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate signals a notification suppressed by the dedup guard.
	ErrDuplicate = errors.New("duplicate notification")
	// ErrProviderNotFound signals a missing, inactive or unsupported provider.
	ErrProviderNotFound = errors.New("provider not found")
)
