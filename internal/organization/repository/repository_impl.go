package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) ListActiveIDs(ctx context.Context) ([]snowflake.ID, error) {
	var raw []int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT id FROM organizations WHERE active = ? ORDER BY id ASC`,
		true,
	).Scan(&raw).Error
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, snowflake.ID(id))
	}
	return ids, nil
}

func (r *repository) Exists(ctx context.Context, orgID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ?", orgID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindReminderSettings(ctx context.Context, orgID snowflake.ID) (*domain.ReminderSettings, error) {
	var rows []domain.ReminderSettings
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
