package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/dunning/internal/notification"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeConfiguration    = "configuration"
	SchedulerErrorTypeDispatch         = "dispatch"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonDispatch             = "dispatch_failed"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	LockResourceInvoiceForReminder = "invoice_for_reminder"
	LockResourceOfferForReminder   = "offer_for_reminder"
)

// Item outcomes reported per processed invoice or offer.
const (
	OutcomeEscalated = "escalated"
	OutcomePlanned   = "planned"
	OutcomeNotified  = "notified"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// SchedulerMetrics captures reminder job health and outcome counts.
type SchedulerMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobTimeouts   *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	jobContended  *prometheus.CounterVec
	items         *prometheus.CounterVec
	skips         *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	tenantsSkip   *prometheus.CounterVec
	runLoopLag    prometheus.Observer
	dbLockWait    *prometheus.HistogramVec
	lockObservers map[string]prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetricsForTest builds metrics on a private registry.
func NewSchedulerMetricsForTest(registerer prometheus.Registerer) *SchedulerMetrics {
	return newSchedulerMetrics(registerer, Config{ServiceName: "dunning", Environment: "test"})
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "dunning"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_scheduler_job_runs_total",
		Help:        "Reminder job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "dunning_scheduler_job_duration_seconds",
		Help:        "Reminder job latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_scheduler_job_timeouts_total",
		Help:        "Reminder jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_scheduler_job_errors_total",
		Help:        "Reminder job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobContended := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_scheduler_run_lock_contended_total",
		Help:        "Runs skipped because another runner held the run lock.",
		ConstLabels: constLabels,
	}, []string{"job"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_reminder_items_total",
		Help:        "Invoices and offers processed by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	skips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_reminder_skips_total",
		Help:        "Skipped items by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_reminder_escalations_total",
		Help:        "Committed escalations by level reached.",
		ConstLabels: constLabels,
	}, []string{"level"})
	tenantsSkip := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dunning_scheduler_tenants_skipped_total",
		Help:        "Tenants skipped because their configuration is unusable.",
		ConstLabels: constLabels,
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "dunning_scheduler_runloop_lag_seconds",
		Help:        "Run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "dunning_scheduler_db_lock_wait_seconds",
		Help:        "Row lock acquisition time for SELECT FOR UPDATE work.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		jobContended,
		items,
		skips,
		escalations,
		tenantsSkip,
		runLoopLag,
		dbLockWait,
	)

	return &SchedulerMetrics{
		jobRuns:      jobRuns,
		jobDuration:  jobDuration,
		jobTimeouts:  jobTimeouts,
		jobErrors:    jobErrors,
		jobContended: jobContended,
		items:        items,
		skips:        skips,
		escalations:  escalations,
		tenantsSkip:  tenantsSkip,
		runLoopLag:   runLoopLag,
		dbLockWait:   dbLockWait,
		lockObservers: map[string]prometheus.Observer{
			LockResourceInvoiceForReminder: dbLockWait.WithLabelValues(LockResourceInvoiceForReminder),
			LockResourceOfferForReminder:   dbLockWait.WithLabelValues(LockResourceOfferForReminder),
		},
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// IncRunLockContended counts runs that found the run lock taken.
func (m *SchedulerMetrics) IncRunLockContended(job string) {
	if m == nil {
		return
	}
	m.jobContended.WithLabelValues(job).Inc()
}

// AddItems adds processed items of one outcome.
func (m *SchedulerMetrics) AddItems(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(count))
}

// IncSkip counts a skipped item by reason.
func (m *SchedulerMetrics) IncSkip(job, reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(job, reason).Inc()
}

// IncEscalation counts a committed escalation.
func (m *SchedulerMetrics) IncEscalation(level string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(level).Inc()
}

// IncTenantSkipped counts a tenant left out of a run.
func (m *SchedulerMetrics) IncTenantSkipped(job string) {
	if m == nil {
		return
	}
	m.tenantsSkip.WithLabelValues(job).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockObservers[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return SchedulerErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case errors.Is(err, organizationdomain.ErrTenantUnusable) || errors.Is(err, organizationdomain.ErrInvalidSettings):
		return SchedulerErrorTypeConfiguration
	case errors.Is(err, notification.ErrDispatchFailed):
		return SchedulerErrorTypeDispatch
	case isDBError(err):
		return SchedulerErrorTypeDB
	default:
		return SchedulerErrorTypeBusinessRule
	}
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return SchedulerJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SchedulerJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return SchedulerJobReasonUniqueViolation
	case errors.Is(err, notification.ErrDispatchFailed):
		return SchedulerJobReasonDispatch
	default:
		return SchedulerJobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
