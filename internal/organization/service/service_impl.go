package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dunning/internal/config"
	"github.com/smallbiznis/dunning/internal/organization/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Repo     domain.Repository
	Defaults *config.ReminderDefaultsHolder
}

type service struct {
	log      *zap.Logger
	repo     domain.Repository
	defaults *config.ReminderDefaultsHolder
}

func NewService(p Params) domain.Service {
	return &service{
		log:      p.Log.Named("organization.service"),
		repo:     p.Repo,
		defaults: p.Defaults,
	}
}

func (s *service) ListIDs(ctx context.Context) ([]snowflake.ID, error) {
	return s.repo.ListActiveIDs(ctx)
}

func (s *service) Exists(ctx context.Context, orgID snowflake.ID) (bool, error) {
	if orgID == 0 {
		return false, domain.ErrInvalidOrganization
	}
	return s.repo.Exists(ctx, orgID)
}

func (s *service) ReminderSettings(ctx context.Context, orgID snowflake.ID) (domain.TenantSettings, error) {
	if orgID == 0 {
		return domain.TenantSettings{}, domain.ErrInvalidOrganization
	}

	policy, err := PolicyFromDefaults(s.defaults.Get())
	if err != nil {
		return domain.TenantSettings{}, err
	}

	row, err := s.repo.FindReminderSettings(ctx, orgID)
	if err != nil {
		return domain.TenantSettings{}, err
	}

	settings := domain.TenantSettings{OrgID: orgID, Policy: policy}
	if row != nil {
		settings.Policy = applyOverrides(policy, *row)
		settings.Identity = identityFrom(*row)
	}

	if !settings.Identity.Complete() {
		return settings, domain.ErrTenantUnusable
	}
	return settings, nil
}

// PolicyFromDefaults converts the deployment defaults into a policy.
func PolicyFromDefaults(d config.ReminderDefaults) (reminderdomain.Policy, error) {
	if err := config.ValidateReminderDefaults(d); err != nil {
		return reminderdomain.Policy{}, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	parse := func(raw string) decimal.Decimal {
		return decimal.RequireFromString(strings.TrimSpace(raw))
	}
	return reminderdomain.Policy{
		Thresholds: reminderdomain.Thresholds{
			Friendly:    d.Thresholds.Friendly,
			Mahnung1:    d.Thresholds.Mahnung1,
			Mahnung2:    d.Thresholds.Mahnung2,
			Mahnung3:    d.Thresholds.Mahnung3,
			Collections: d.Thresholds.Collections,
		},
		Mahnung1Fee:        parse(d.Fees.Mahnung1),
		Mahnung2Fee:        parse(d.Fees.Mahnung2),
		Mahnung3Fee:        parse(d.Fees.Mahnung3),
		CollectionsFee:     parse(d.Fees.Collections),
		AnnualInterestRate: parse(d.AnnualInterestRate),
	}, nil
}

func applyOverrides(p reminderdomain.Policy, row domain.ReminderSettings) reminderdomain.Policy {
	days := func(dst *int, v *int) {
		if v != nil && *v >= 0 {
			*dst = *v
		}
	}
	amount := func(dst *decimal.Decimal, v decimal.NullDecimal) {
		if v.Valid && !v.Decimal.IsNegative() {
			*dst = v.Decimal
		}
	}

	days(&p.Thresholds.Friendly, row.FriendlyDays)
	days(&p.Thresholds.Mahnung1, row.Mahnung1Days)
	days(&p.Thresholds.Mahnung2, row.Mahnung2Days)
	days(&p.Thresholds.Mahnung3, row.Mahnung3Days)
	days(&p.Thresholds.Collections, row.CollectionsDays)
	amount(&p.Mahnung1Fee, row.Mahnung1Fee)
	amount(&p.Mahnung2Fee, row.Mahnung2Fee)
	amount(&p.Mahnung3Fee, row.Mahnung3Fee)
	amount(&p.CollectionsFee, row.CollectionsFee)
	amount(&p.AnnualInterestRate, row.AnnualInterestRate)
	return p
}

func identityFrom(row domain.ReminderSettings) domain.MailIdentity {
	identity := domain.MailIdentity{
		Host:        trimmed(row.SMTPHost),
		Username:    trimmed(row.SMTPUsername),
		FromAddress: trimmed(row.MailFromAddress),
		FromName:    trimmed(row.MailFromName),
	}
	if row.SMTPPassword != nil {
		identity.Password = *row.SMTPPassword
	}
	if row.SMTPPort != nil {
		identity.Port = *row.SMTPPort
	}
	return identity
}

func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
