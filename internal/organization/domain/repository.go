package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActiveIDs(ctx context.Context) ([]snowflake.ID, error)
	Exists(ctx context.Context, orgID snowflake.ID) (bool, error)
	FindReminderSettings(ctx context.Context, orgID snowflake.ID) (*ReminderSettings, error)
}
