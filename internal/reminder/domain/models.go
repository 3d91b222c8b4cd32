package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ReminderEvent is an immutable ledger entry written once per successful
// escalation.
type ReminderEvent struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrgID        snowflake.ID `gorm:"not null;index"`
	InvoiceID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_reminder_events_invoice_level,priority:1"`
	FromLevel    Level        `gorm:"type:text;not null"`
	LevelReached Level        `gorm:"type:text;not null;uniqueIndex:ux_reminder_events_invoice_level,priority:2"`
	FeeCharged   int64        `gorm:"not null;default:0"`
	Interest     *int64       `gorm:""`
	Currency     string       `gorm:"type:text;not null"`
	DaysOverdue  int          `gorm:"not null"`
	NoticeNumber string       `gorm:"type:text;not null;uniqueIndex"`
	RunID        string       `gorm:"type:text"`
	OccurredAt   time.Time    `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReminderEvent) TableName() string { return "reminder_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *ReminderEvent) (bool, error)
	ListByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]ReminderEvent, error)
	SumCharges(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error)
}

// AppendRequest describes an escalation to record.
type AppendRequest struct {
	OrgID       snowflake.ID
	InvoiceID   snowflake.ID
	From        Level
	To          Level
	Charge      Charge
	Currency    string
	DaysOverdue int
	RunID       string
	OccurredAt  time.Time
}

// Ledger is the append-only reminder history. Append must run inside the
// caller's transaction so the event commits together with the level change.
type Ledger interface {
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (ReminderEvent, error)
	History(ctx context.Context, orgID, invoiceID snowflake.ID) ([]ReminderEvent, error)
	// Charged returns the fees and interest already recorded for the invoice,
	// in minor units. Pass tx to read inside the escalation transaction.
	Charged(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error)
}
