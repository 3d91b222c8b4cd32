package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// orgsHook runs during the first time tenants are listed. A nested run
// started by during lists tenants without re-entering it.
type orgsHook struct {
	organizationdomain.Service
	fired  bool
	during func()
}

func (o *orgsHook) ListIDs(ctx context.Context) ([]snowflake.ID, error) {
	if !o.fired {
		o.fired = true
		o.during()
	}
	return o.Service.ListIDs(ctx)
}

// invoicesHook lets a test move an invoice after listing or after locking.
type invoicesHook struct {
	invoicedomain.Repository
	afterList func(db *gorm.DB)
	afterLock func(tx *gorm.DB)
}

func (r *invoicesHook) ListReminderCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID, dueBefore time.Time) ([]invoicedomain.ReminderCandidate, error) {
	items, err := r.Repository.ListReminderCandidates(ctx, db, orgID, dueBefore)
	if err == nil && r.afterList != nil {
		r.afterList(db)
	}
	return items, err
}

func (r *invoicesHook) LockForReminder(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := r.Repository.LockForReminder(ctx, tx, orgID, invoiceID)
	if err == nil && invoice != nil && r.afterLock != nil {
		r.afterLock(tx)
	}
	return invoice, err
}

func TestRealRunProceedsWhileDryRunInFlight(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "jane@example.test")
	invoiceID := env.seedInvoice(orgID, customerID, invoiceSeed{number: "INV-7001", amountMinor: 50000, daysOverdue: 20})

	var (
		realReport *RunReport
		realErr    error
	)
	env.sched.organizations = &orgsHook{
		Service: env.sched.organizations,
		during: func() {
			realReport, realErr = env.sched.RunInvoiceReminders(context.Background(), RunRequest{})
		},
	}

	dryReport, err := env.sched.RunInvoiceReminders(context.Background(), RunRequest{DryRun: true})
	require.NoError(t, err)
	assert.False(t, dryReport.SkippedByLock)

	require.NoError(t, realErr)
	require.NotNil(t, realReport)
	assert.False(t, realReport.SkippedByLock)
	assert.Equal(t, Counts{Escalated: 1}, realReport.Summary())
	assert.Equal(t, reminderdomain.LevelFriendly, env.invoice(invoiceID).ReminderLevel)
	assert.Len(t, env.dispatcher.invoiceSends(), 1)

	// The dry run listed after the real run committed, so it plans the step after.
	assert.Equal(t, Counts{Planned: 1}, dryReport.Summary())
	assert.Equal(t, reminderdomain.LevelMahnung1, dryReport.Tenants[0].Items[0].ToLevel)

	// Real runs still exclude each other.
	_, ok, err := env.locker.TryLock(context.Background(), runLockKey(JobInvoiceReminders, nil), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = env.sched.RunInvoiceReminders(context.Background(), RunRequest{})
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunInvoiceRemindersSkipsLevelChangedAfterListing(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "jane@example.test")
	invoiceID := env.seedInvoice(orgID, customerID, invoiceSeed{number: "INV-7002", daysOverdue: 20})

	env.sched.invoices = &invoicesHook{
		Repository: env.sched.invoices,
		afterList: func(db *gorm.DB) {
			assert.NoError(t, db.Exec(`UPDATE invoices SET reminder_level = ? WHERE id = ?`,
				string(reminderdomain.LevelFriendly), invoiceID).Error)
		},
	}

	report, err := env.sched.RunInvoiceReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 1}, report.Summary())
	assert.Equal(t, SkipConcurrentUpdate, report.Tenants[0].Items[0].Reason)

	assert.Equal(t, reminderdomain.LevelFriendly, env.invoice(invoiceID).ReminderLevel)
	assert.Zero(t, env.count(&reminderdomain.ReminderEvent{}, "invoice_id = ?", invoiceID))
	assert.Empty(t, env.dispatcher.invoiceSends())
}

func TestRunInvoiceRemindersRollsBackWhenLevelCompareFails(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "jane@example.test")
	invoiceID := env.seedInvoice(orgID, customerID, invoiceSeed{number: "INV-7003", daysOverdue: 20})

	// The row moves under the lock, so the guard passes on the stale copy and
	// only the level compare-and-set can catch it.
	env.sched.invoices = &invoicesHook{
		Repository: env.sched.invoices,
		afterLock: func(tx *gorm.DB) {
			assert.NoError(t, tx.Exec(`UPDATE invoices SET reminder_level = ? WHERE id = ?`,
				string(reminderdomain.LevelMahnung1), invoiceID).Error)
		},
	}

	report, err := env.sched.RunInvoiceReminders(context.Background(), RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, Counts{Skipped: 1}, report.Summary())
	assert.Equal(t, SkipConcurrentUpdate, report.Tenants[0].Items[0].Reason)

	assert.Equal(t, reminderdomain.LevelNone, env.invoice(invoiceID).ReminderLevel)
	assert.Zero(t, env.count(&reminderdomain.ReminderEvent{}, "invoice_id = ?", invoiceID))
	assert.Empty(t, env.dispatcher.invoiceSends())
}

func TestRunInvoiceRemindersCarriesEarlierCharges(t *testing.T) {
	env := newTestEnv(t, Config{})
	orgID := env.seedOrg(true)
	customerID := env.seedCustomer(orgID, "jane@example.test")
	env.seedInvoice(orgID, customerID, invoiceSeed{number: "INV-7004", amountMinor: 100000, daysOverdue: 25})

	for i := 0; i < 3; i++ {
		_, err := env.sched.RunInvoiceReminders(context.Background(), RunRequest{})
		require.NoError(t, err)
	}

	sends := env.dispatcher.invoiceSends()
	require.Len(t, sends, 3)
	assert.True(t, sends[0].PriorCharges.IsZero())
	assert.True(t, sends[1].PriorCharges.IsZero())
	assert.Equal(t, reminderdomain.LevelMahnung2, sends[2].Level)
	assert.Equal(t, "5.00", sends[2].PriorCharges.StringFixed(2))
}
