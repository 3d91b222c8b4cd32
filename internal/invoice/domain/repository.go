package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListReminderCandidates returns collectible invoices of orgID due before
	// dueBefore that have not reached the terminal level.
	ListReminderCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBefore time.Time) ([]ReminderCandidate, error)
	// LockForReminder locks the invoice row on tx. A nil invoice means the row
	// is gone or held by another transaction.
	LockForReminder(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*Invoice, error)
	AdvanceReminderLevel(ctx context.Context, tx *gorm.DB, params AdvanceLevelParams) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (*Invoice, error)
}

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrConcurrentUpdate = errors.New("concurrent_update")
)
