package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/reminder/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes the event unless one already exists for the same invoice and
// level. The boolean reports whether a row was written.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.ReminderEvent) (bool, error) {
	if event == nil {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`INSERT INTO reminder_events (
			id, org_id, invoice_id, from_level, level_reached, fee_charged, interest,
			currency, days_overdue, notice_number, run_id, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (invoice_id, level_reached) DO NOTHING`,
		event.ID,
		event.OrgID,
		event.InvoiceID,
		string(event.FromLevel),
		string(event.LevelReached),
		event.FeeCharged,
		event.Interest,
		event.Currency,
		event.DaysOverdue,
		event.NoticeNumber,
		event.RunID,
		event.OccurredAt,
		event.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.ReminderEvent, error) {
	var events []domain.ReminderEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, from_level, level_reached, fee_charged, interest,
		        currency, days_overdue, notice_number, run_id, occurred_at, created_at
		 FROM reminder_events
		 WHERE org_id = ? AND invoice_id = ?
		 ORDER BY occurred_at ASC, id ASC`,
		orgID,
		invoiceID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SumCharges adds up fee_charged and interest over every event of the invoice.
func (r *repo) SumCharges(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(fee_charged + COALESCE(interest, 0)), 0)
		 FROM reminder_events
		 WHERE org_id = ? AND invoice_id = ?`,
		orgID,
		invoiceID,
	).Scan(&total).Error
	return total, err
}
