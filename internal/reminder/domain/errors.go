package domain

import "errors"

var (
	ErrInvalidLevel        = errors.New("invalid_reminder_level")
	ErrInvalidTransition   = errors.New("invalid_reminder_transition")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOccurredAt   = errors.New("invalid_occurred_at")
	ErrDuplicateEvent      = errors.New("duplicate_reminder_event")
)
