package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/invoice/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListReminderCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBefore time.Time) ([]domain.ReminderCandidate, error) {
	var items []domain.ReminderCandidate
	err := db.WithContext(ctx).Raw(
		`SELECT i.id, i.org_id, i.customer_id, i.number, i.status, i.total_amount, i.currency,
		        i.due_at, i.reminder_level, i.last_reminded_at,
		        COALESCE(c.name, '') AS customer_name,
		        COALESCE(c.email, '') AS customer_email
		 FROM invoices i
		 LEFT JOIN customers c ON c.id = i.customer_id AND c.org_id = i.org_id
		 WHERE i.org_id = ?
		   AND i.status IN ?
		   AND i.due_at IS NOT NULL
		   AND i.due_at < ?
		   AND i.reminder_level <> ?
		 ORDER BY i.due_at ASC, i.id ASC`,
		orgID,
		domain.CollectibleStatuses,
		dueBefore.UTC(),
		string(reminderdomain.LevelCollections),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LockForReminder(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, number, status, total_amount, currency,
		        due_at, reminder_level, last_reminded_at
		 FROM invoices
		 WHERE org_id = ? AND id = ?
		 FOR UPDATE SKIP LOCKED`,
		orgID,
		invoiceID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// AdvanceReminderLevel moves the invoice from params.Expected to params.Next.
// It reports false when the stored level no longer matches params.Expected.
func (r *repo) AdvanceReminderLevel(ctx context.Context, tx *gorm.DB, params domain.AdvanceLevelParams) (bool, error) {
	at := params.At.UTC()
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET reminder_level = ?, status = ?, last_reminded_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND reminder_level = ? AND status IN ?`,
		string(params.Next),
		string(params.Status),
		at,
		at,
		params.OrgID,
		params.InvoiceID,
		string(params.Expected),
		domain.CollectibleStatuses,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, number, status, total_amount, currency, issued_at,
		        due_at, reminder_level, last_reminded_at, metadata, created_at, updated_at
		 FROM invoices WHERE org_id = ? AND id = ?`,
		orgID,
		invoiceID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	return &invoice, nil
}
