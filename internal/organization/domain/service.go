package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
)

// TenantSettings is the effective reminder configuration of one tenant.
type TenantSettings struct {
	OrgID    snowflake.ID
	Policy   reminderdomain.Policy
	Identity MailIdentity
}

type Service interface {
	ListIDs(ctx context.Context) ([]snowflake.ID, error)
	Exists(ctx context.Context, orgID snowflake.ID) (bool, error)
	// ReminderSettings merges tenant overrides onto the deployment defaults.
	// It returns ErrTenantUnusable together with the merged policy when the
	// tenant has no usable mail identity.
	ReminderSettings(ctx context.Context, orgID snowflake.ID) (TenantSettings, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrTenantUnusable      = errors.New("tenant_unusable")
	ErrInvalidSettings     = errors.New("invalid_reminder_settings")
)
