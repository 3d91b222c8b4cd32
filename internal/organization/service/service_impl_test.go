package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dunning/internal/config"
	"github.com/smallbiznis/dunning/internal/dbtest"
	"github.com/smallbiznis/dunning/internal/organization/domain"
	"github.com/smallbiznis/dunning/internal/organization/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (domain.Service, *snowflake.Node, func(any)) {
	svc, node, db := newTestServiceDB(t)
	create := func(v any) { require.NoError(t, db.Create(v).Error) }
	return svc, node, create
}

func newTestServiceDB(t *testing.T) (domain.Service, *snowflake.Node, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &domain.Organization{}, &domain.ReminderSettings{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := NewService(Params{
		Log:      zap.NewNop(),
		Repo:     repository.NewRepository(db),
		Defaults: config.NewStaticReminderDefaultsHolder(config.DefaultReminderDefaults()),
	})
	return svc, node, db
}

func TestReminderSettingsMergesOverrides(t *testing.T) {
	svc, node, create := newTestService(t)
	orgID := node.Generate()
	create(&domain.Organization{ID: orgID, Name: "Acme", Active: true})
	create(&domain.ReminderSettings{
		OrgID:           orgID,
		Mahnung1Days:    ptr(10),
		Mahnung1Fee:     decimal.NewNullDecimal(decimal.RequireFromString("7.50")),
		SMTPHost:        ptr("smtp.acme.test"),
		SMTPPort:        ptr(587),
		MailFromAddress: ptr("billing@acme.test"),
		MailFromName:    ptr("Acme Billing"),
	})

	settings, err := svc.ReminderSettings(context.Background(), orgID)
	require.NoError(t, err)

	assert.Equal(t, 7, settings.Policy.Thresholds.Friendly)
	assert.Equal(t, 10, settings.Policy.Thresholds.Mahnung1)
	assert.Equal(t, 45, settings.Policy.Thresholds.Collections)
	assert.True(t, settings.Policy.Mahnung1Fee.Equal(decimal.RequireFromString("7.50")))
	assert.True(t, settings.Policy.Mahnung2Fee.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, settings.Policy.AnnualInterestRate.Equal(decimal.RequireFromString("0.09")))
	assert.Equal(t, "smtp.acme.test", settings.Identity.Host)
	assert.Equal(t, "Acme Billing", settings.Identity.FromName)
}

func TestReminderSettingsWithoutIdentityIsUnusable(t *testing.T) {
	svc, node, create := newTestService(t)
	orgID := node.Generate()
	create(&domain.Organization{ID: orgID, Name: "No Mail", Active: true})

	settings, err := svc.ReminderSettings(context.Background(), orgID)
	assert.ErrorIs(t, err, domain.ErrTenantUnusable)
	assert.Equal(t, 7, settings.Policy.Thresholds.Friendly)

	create(&domain.ReminderSettings{OrgID: orgID, SMTPHost: ptr("smtp.test")})
	_, err = svc.ReminderSettings(context.Background(), orgID)
	assert.ErrorIs(t, err, domain.ErrTenantUnusable)
}

func TestListIDsSkipsInactive(t *testing.T) {
	svc, node, db := newTestServiceDB(t)
	active, inactive := node.Generate(), node.Generate()
	require.NoError(t, db.Create(&domain.Organization{ID: active, Name: "Active", Active: true}).Error)
	require.NoError(t, db.Create(&domain.Organization{ID: inactive, Name: "Gone", Active: true}).Error)
	require.NoError(t, db.Model(&domain.Organization{}).Where("id = ?", inactive).Update("active", false).Error)

	ids, err := svc.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{active}, ids)
}

func TestPolicyFromDefaultsRejectsInvalid(t *testing.T) {
	defaults := config.DefaultReminderDefaults()
	defaults.Fees.Mahnung2 = "ten"
	_, err := PolicyFromDefaults(defaults)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
}
