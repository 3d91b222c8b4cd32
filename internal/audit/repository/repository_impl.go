package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, org_id, actor_type, actor_id, action, target_type, target_id,
			metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListByTarget(ctx context.Context, db *gorm.DB, orgID snowflake.ID, targetType, targetID string) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("org_id = ? AND target_type = ? AND target_id = ?", orgID, targetType, targetID).
		Order("created_at asc, id asc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
