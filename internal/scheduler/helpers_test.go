package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	auditdomain "github.com/smallbiznis/dunning/internal/audit/domain"
	auditrepository "github.com/smallbiznis/dunning/internal/audit/repository"
	auditservice "github.com/smallbiznis/dunning/internal/audit/service"
	"github.com/smallbiznis/dunning/internal/clock"
	"github.com/smallbiznis/dunning/internal/config"
	customerdomain "github.com/smallbiznis/dunning/internal/customer/domain"
	"github.com/smallbiznis/dunning/internal/dbtest"
	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/dunning/internal/invoice/repository"
	"github.com/smallbiznis/dunning/internal/notification"
	obsmetrics "github.com/smallbiznis/dunning/internal/observability/metrics"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	offerrepository "github.com/smallbiznis/dunning/internal/offer/repository"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	organizationrepository "github.com/smallbiznis/dunning/internal/organization/repository"
	organizationservice "github.com/smallbiznis/dunning/internal/organization/service"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	reminderrepository "github.com/smallbiznis/dunning/internal/reminder/repository"
	reminderservice "github.com/smallbiznis/dunning/internal/reminder/service"
	"github.com/smallbiznis/dunning/internal/runlock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errSMTPDown = errors.New("smtp: 421 service not available")

// fakeDispatcher records sends and fails for configured document numbers.
type fakeDispatcher struct {
	mu       sync.Mutex
	invoices []notification.InvoiceReminder
	offers   []notification.OfferReminder
	failFor  map[string]bool
}

func (d *fakeDispatcher) SendInvoiceReminder(_ context.Context, reminder notification.InvoiceReminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[reminder.InvoiceNumber] {
		return errors.Join(notification.ErrDispatchFailed, errSMTPDown)
	}
	d.invoices = append(d.invoices, reminder)
	return nil
}

func (d *fakeDispatcher) SendOfferReminder(_ context.Context, reminder notification.OfferReminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFor[reminder.OfferNumber] {
		return errors.Join(notification.ErrDispatchFailed, errSMTPDown)
	}
	d.offers = append(d.offers, reminder)
	return nil
}

func (d *fakeDispatcher) invoiceSends() []notification.InvoiceReminder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.InvoiceReminder(nil), d.invoices...)
}

func (d *fakeDispatcher) offerSends() []notification.OfferReminder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.OfferReminder(nil), d.offers...)
}

type testEnv struct {
	t          *testing.T
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	dispatcher *fakeDispatcher
	locker     *runlock.MemoryLocker
	registry   *prometheus.Registry
	sched      *Scheduler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db := dbtest.Open(t,
		&organizationdomain.Organization{},
		&organizationdomain.ReminderSettings{},
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
		&offerdomain.Offer{},
		&reminderdomain.ReminderEvent{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 21, 9, 30, 0, 0, time.UTC))
	log := zap.NewNop()
	registry := prometheus.NewRegistry()
	dispatcher := &fakeDispatcher{failFor: map[string]bool{}}
	locker := runlock.NewMemoryLocker()

	orgSvc := organizationservice.NewService(organizationservice.Params{
		Log:      log,
		Repo:     organizationrepository.NewRepository(db),
		Defaults: config.NewStaticReminderDefaultsHolder(config.DefaultReminderDefaults()),
	})
	ledger := reminderservice.NewLedger(reminderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  reminderrepository.Provide(),
		Clock: fakeClock,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: fakeClock,
	})

	sched, err := New(Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Organizations: orgSvc,
		Invoices:      invoicerepository.Provide(),
		Offers:        offerrepository.Provide(),
		Ledger:        ledger,
		Dispatcher:    dispatcher,
		AuditSvc:      auditSvc,
		Locker:        locker,
		Metrics:       obsmetrics.NewSchedulerMetricsForTest(registry),
		Clock:         fakeClock,
		Config:        cfg,
	})
	require.NoError(t, err)

	return &testEnv{
		t:          t,
		db:         db,
		node:       node,
		clock:      fakeClock,
		dispatcher: dispatcher,
		locker:     locker,
		registry:   registry,
		sched:      sched,
	}
}

func ptr[T any](v T) *T { return &v }

// seedOrg creates an active organization, with a complete mail identity when
// usable is true.
func (e *testEnv) seedOrg(usable bool) snowflake.ID {
	e.t.Helper()
	org := organizationdomain.Organization{ID: e.node.Generate(), Name: "Acme GmbH", Active: true}
	require.NoError(e.t, e.db.Create(&org).Error)
	if usable {
		require.NoError(e.t, e.db.Create(&organizationdomain.ReminderSettings{
			OrgID:           org.ID,
			SMTPHost:        ptr("smtp.acme.test"),
			SMTPPort:        ptr(587),
			MailFromAddress: ptr("billing@acme.test"),
			MailFromName:    ptr("Acme Billing"),
		}).Error)
	}
	return org.ID
}

func (e *testEnv) seedCustomer(orgID snowflake.ID, email string) snowflake.ID {
	e.t.Helper()
	customer := customerdomain.Customer{ID: e.node.Generate(), OrgID: orgID, Name: "Jane Roe", Email: email}
	require.NoError(e.t, e.db.Create(&customer).Error)
	return customer.ID
}

type invoiceSeed struct {
	number      string
	status      invoicedomain.InvoiceStatus
	level       reminderdomain.Level
	amountMinor int64
	currency    string
	daysOverdue int
}

func (e *testEnv) seedInvoice(orgID, customerID snowflake.ID, seed invoiceSeed) snowflake.ID {
	e.t.Helper()
	if seed.status == "" {
		seed.status = invoicedomain.InvoiceStatusSent
	}
	if seed.level == "" {
		seed.level = reminderdomain.LevelNone
	}
	if seed.currency == "" {
		seed.currency = "EUR"
	}
	due := clock.StartOfDay(e.clock.Now()).AddDate(0, 0, -seed.daysOverdue)
	invoice := invoicedomain.Invoice{
		ID:            e.node.Generate(),
		OrgID:         orgID,
		CustomerID:    customerID,
		Number:        seed.number,
		Status:        seed.status,
		TotalAmount:   seed.amountMinor,
		Currency:      seed.currency,
		DueAt:         &due,
		ReminderLevel: seed.level,
	}
	require.NoError(e.t, e.db.Create(&invoice).Error)
	return invoice.ID
}

func (e *testEnv) seedOffer(orgID, customerID snowflake.ID, number string, daysLeft int) snowflake.ID {
	e.t.Helper()
	offer := offerdomain.Offer{
		ID:          e.node.Generate(),
		OrgID:       orgID,
		CustomerID:  customerID,
		Number:      number,
		Status:      offerdomain.OfferStatusSent,
		TotalAmount: 250000,
		Currency:    "EUR",
		ValidUntil:  clock.StartOfDay(e.clock.Now()).AddDate(0, 0, daysLeft).Add(17 * time.Hour),
	}
	require.NoError(e.t, e.db.Create(&offer).Error)
	return offer.ID
}

func (e *testEnv) invoice(id snowflake.ID) invoicedomain.Invoice {
	e.t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(e.t, e.db.First(&invoice, "id = ?", id).Error)
	return invoice
}

func (e *testEnv) count(model any, where string, args ...any) int64 {
	e.t.Helper()
	var n int64
	require.NoError(e.t, e.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	got := map[string]string{}
	for _, label := range metric.Label {
		got[label.GetName()] = label.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}
