package scheduler

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/dunning/internal/audit/domain"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferWindowIsInclusiveOfLastDay(t *testing.T) {
	now := time.Date(2026, 3, 21, 22, 0, 0, 0, time.UTC)
	from, to := offerWindow(now, 3)
	assert.Equal(t, time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC), to)
}

func TestRunOfferRemindersNotifiesOnceInsideWindow(t *testing.T) {
	env := newTestEnv(t, Config{OfferWindowDays: 3})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "buyer@example.test")
	todayID := env.seedOffer(orgID, customerID, "OFF-1", 0)
	lastDayID := env.seedOffer(orgID, customerID, "OFF-2", 3)
	env.seedOffer(orgID, customerID, "OFF-3", 4)
	env.seedOffer(orgID, customerID, "OFF-4", -1)

	report, err := env.sched.RunOfferReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Notified: 2}, report.Summary())

	sends := env.dispatcher.offerSends()
	require.Len(t, sends, 2)
	numbers := []string{sends[0].OfferNumber, sends[1].OfferNumber}
	assert.ElementsMatch(t, []string{"OFF-1", "OFF-2"}, numbers)
	assert.Equal(t, int64(2), env.count(&auditdomain.AuditLog{}, "action = ?", "offer.expiry_reminder_sent"))

	for _, id := range []any{todayID, lastDayID} {
		var offer offerdomain.Offer
		require.NoError(t, env.db.First(&offer, "id = ?", id).Error)
		assert.NotNil(t, offer.LastRemindedAt)
	}

	env.clock.Advance(time.Hour)
	report, err = env.sched.RunOfferReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 2}, report.Summary())
	assert.Equal(t, SkipAlreadyNotified, report.Tenants[0].Items[0].Reason)
	assert.Len(t, env.dispatcher.offerSends(), 2)
}

func TestRunOfferRemindersRepeatPolicy(t *testing.T) {
	env := newTestEnv(t, Config{OfferWindowDays: 3, OfferReminderRepeat: true})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "buyer@example.test")
	env.seedOffer(orgID, customerID, "OFF-10", 2)

	for i := 0; i < 2; i++ {
		report, err := env.sched.RunOfferReminders(context.Background(), RunRequest{})
		require.NoError(t, err)
		assert.Equal(t, Counts{Notified: 1}, report.Summary())
		env.clock.AdvanceDays(1)
	}
	assert.Len(t, env.dispatcher.offerSends(), 2)
}

func TestRunOfferRemindersSkipsClosedAndUnreachable(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	reachable := env.seedCustomer(orgID, "buyer@example.test")
	unreachable := env.seedCustomer(orgID, "")
	acceptedID := env.seedOffer(orgID, reachable, "OFF-20", 1)
	require.NoError(t, env.db.Model(&offerdomain.Offer{}).Where("id = ?", acceptedID).
		Update("status", offerdomain.OfferStatusAccepted).Error)
	env.seedOffer(orgID, unreachable, "OFF-21", 1)

	report, err := env.sched.RunOfferReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.Len(t, report.Tenants[0].Items, 1)
	assert.Equal(t, "OFF-21", report.Tenants[0].Items[0].Number)
	assert.Equal(t, SkipUnresolvedContact, report.Tenants[0].Items[0].Reason)
	assert.Empty(t, env.dispatcher.offerSends())
}

func TestRunOfferRemindersDispatchFailureKeepsOfferUnmarked(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "buyer@example.test")
	offerID := env.seedOffer(orgID, customerID, "OFF-30", 1)
	env.dispatcher.failFor["OFF-30"] = true

	report, err := env.sched.RunOfferReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, report.Summary())

	var offer offerdomain.Offer
	require.NoError(t, env.db.First(&offer, "id = ?", offerID).Error)
	assert.Nil(t, offer.LastRemindedAt)
	assert.Equal(t, int64(0), env.count(&auditdomain.AuditLog{}, "target_id = ?", offerID.String()))
}

func TestRunOfferRemindersDryRun(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "buyer@example.test")
	env.seedOffer(orgID, customerID, "OFF-40", 2)

	report, err := env.sched.RunOfferReminders(context.Background(), RunRequest{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, Counts{Planned: 1}, report.Summary())
	assert.Equal(t, 2, report.Tenants[0].Items[0].DaysLeft)
	assert.Empty(t, env.dispatcher.offerSends())
}
