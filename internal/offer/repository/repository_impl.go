package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/offer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListExpiring(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]domain.ExpiringOffer, error) {
	var items []domain.ExpiringOffer
	err := db.WithContext(ctx).Raw(
		`SELECT o.id, o.org_id, o.customer_id, o.number, o.total_amount, o.currency,
		        o.valid_until, o.last_reminded_at,
		        COALESCE(c.name, '') AS customer_name,
		        COALESCE(c.email, '') AS customer_email
		 FROM offers o
		 LEFT JOIN customers c ON c.id = o.customer_id AND c.org_id = o.org_id
		 WHERE o.org_id = ?
		   AND o.status = ?
		   AND o.valid_until >= ?
		   AND o.valid_until < ?
		 ORDER BY o.valid_until ASC, o.id ASC`,
		orgID,
		string(domain.OfferStatusSent),
		from.UTC(),
		to.UTC(),
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LockForReminder(ctx context.Context, tx *gorm.DB, orgID, offerID snowflake.ID) (*domain.Offer, error) {
	var offer domain.Offer
	err := tx.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, number, status, total_amount, currency,
		        valid_until, last_reminded_at
		 FROM offers
		 WHERE org_id = ? AND id = ? AND status = ?
		 FOR UPDATE SKIP LOCKED`,
		orgID,
		offerID,
		string(domain.OfferStatusSent),
	).Scan(&offer).Error
	if err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return &offer, nil
}

func (r *repo) MarkReminded(ctx context.Context, tx *gorm.DB, orgID, offerID snowflake.ID, at time.Time, firstOnly bool) (bool, error) {
	at = at.UTC()
	stmt := tx.WithContext(ctx).
		Model(&domain.Offer{}).
		Where("org_id = ? AND id = ? AND status = ?", orgID, offerID, string(domain.OfferStatusSent))
	if firstOnly {
		stmt = stmt.Where("last_reminded_at IS NULL")
	}
	result := stmt.Updates(map[string]any{
		"last_reminded_at": at,
		"updated_at":       at,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
