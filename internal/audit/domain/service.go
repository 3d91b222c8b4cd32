package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry is the caller-supplied part of an audit log.
type Entry struct {
	OrgID      *snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, orgID snowflake.ID, targetType, targetID string) ([]AuditLog, error)
}

type Service interface {
	// AuditLog writes entry on tx, or on the service database when tx is nil.
	AuditLog(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByTarget(ctx context.Context, orgID snowflake.ID, targetType, targetID string) ([]AuditLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidTarget       = errors.New("invalid_target")
)
