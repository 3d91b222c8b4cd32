package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dunning/internal/audit/domain"
	"github.com/smallbiznis/dunning/internal/clock"
	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	"github.com/smallbiznis/dunning/internal/notification"
	obsmetrics "github.com/smallbiznis/dunning/internal/observability/metrics"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/smallbiznis/dunning/internal/runlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "github.com/smallbiznis/dunning/internal/scheduler"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Organizations organizationdomain.Service
	Invoices      invoicedomain.Repository
	Offers        offerdomain.Repository
	Ledger        reminderdomain.Ledger
	Dispatcher    notification.Dispatcher
	AuditSvc      auditdomain.Service
	Locker        runlock.Locker               `optional:"true"`
	Metrics       *obsmetrics.SchedulerMetrics `optional:"true"`
	Telemetry     *obsmetrics.Metrics          `optional:"true"`
	Clock         clock.Clock                  `optional:"true"`
	Config        Config                       `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	organizations organizationdomain.Service
	invoices      invoicedomain.Repository
	offers        offerdomain.Repository
	ledger        reminderdomain.Ledger
	dispatcher    notification.Dispatcher
	auditSvc      auditdomain.Service
	locker        runlock.Locker
	metrics       *obsmetrics.SchedulerMetrics
	telemetry     *obsmetrics.Metrics
	tracer        trace.Tracer

	mu          sync.RWMutex
	lastReports map[string]*RunReport
}

// RunRequest scopes a run to one tenant (OrgID) or every active tenant.
type RunRequest struct {
	OrgID  *snowflake.ID
	DryRun bool
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Organizations == nil || p.Invoices == nil ||
		p.Offers == nil || p.Ledger == nil || p.Dispatcher == nil || p.AuditSvc == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         clk,
		organizations: p.Organizations,
		invoices:      p.Invoices,
		offers:        p.Offers,
		ledger:        p.Ledger,
		dispatcher:    p.Dispatcher,
		auditSvc:      p.AuditSvc,
		locker:        p.Locker,
		metrics:       m,
		telemetry:     p.Telemetry,
		tracer:        otel.Tracer(tracerName),
		lastReports:   make(map[string]*RunReport),
	}, nil
}

// RunInvoiceReminders escalates every overdue invoice in scope by at most one
// level. Item failures are reported, not returned.
func (s *Scheduler) RunInvoiceReminders(ctx context.Context, req RunRequest) (*RunReport, error) {
	return s.runJob(ctx, JobInvoiceReminders, req, s.invoiceTenant)
}

// RunOfferReminders notifies customers about offers about to expire.
func (s *Scheduler) RunOfferReminders(ctx context.Context, req RunRequest) (*RunReport, error) {
	return s.runJob(ctx, JobOfferReminders, req, s.offerTenant)
}

// Run executes one named job.
func (s *Scheduler) Run(ctx context.Context, job string, req RunRequest) (*RunReport, error) {
	switch job {
	case JobInvoiceReminders:
		return s.RunInvoiceReminders(ctx, req)
	case JobOfferReminders:
		return s.RunOfferReminders(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, job)
	}
}

// RunAll runs the invoice job then the offer job. A job skipped because
// another runner holds its lock is not an error.
func (s *Scheduler) RunAll(ctx context.Context, req RunRequest) ([]*RunReport, error) {
	var (
		reports []*RunReport
		err     error
	)
	for _, job := range []string{JobInvoiceReminders, JobOfferReminders} {
		report, jobErr := s.Run(ctx, job, req)
		if report != nil {
			reports = append(reports, report)
		}
		if jobErr != nil && !errors.Is(jobErr, ErrRunInProgress) {
			err = errors.Join(err, jobErr)
		}
	}
	return reports, err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if _, err := s.RunAll(ctx, RunRequest{}); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

// LastReport returns the most recent finished report of job.
func (s *Scheduler) LastReport(job string) (*RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.lastReports[job]
	return report, ok
}

// LastReports returns the latest report of every job that has run.
func (s *Scheduler) LastReports() []*RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := make([]*RunReport, 0, len(s.lastReports))
	for _, job := range []string{JobInvoiceReminders, JobOfferReminders} {
		if report, ok := s.lastReports[job]; ok {
			reports = append(reports, report)
		}
	}
	return reports
}

type tenantFunc func(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, dryRun bool) (TenantReport, error)

func (s *Scheduler) runJob(parent context.Context, name string, req RunRequest, process tenantFunc) (*RunReport, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, req.DryRun)
	ctx, span := s.tracer.Start(ctx, "scheduler."+name, trace.WithAttributes(
		attribute.String("job", name),
		attribute.String("run_id", run.runID),
		attribute.Bool("dry_run", req.DryRun),
	))
	defer span.End()

	report := &RunReport{
		RunID:     run.runID,
		Job:       name,
		DryRun:    req.DryRun,
		StartedAt: run.startedAt,
	}

	// Dry runs write nothing, so they never take or wait on the run lock.
	release := func() {}
	var err error
	if !req.DryRun {
		release, err = s.acquireRunLock(ctx, name, req.OrgID)
	}
	if errors.Is(err, ErrRunInProgress) {
		report.SkippedByLock = true
		report.FinishedAt = s.clock.Now()
		s.logger(ctx).Info("scheduler.job.skipped", zap.String("reason", "run_in_progress"))
		return report, err
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.run_lock.failed", 0, err)
		return nil, err
	}
	defer release()

	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	jobErr := s.processTenants(ctx, run, req, report, process)

	report.FinishedAt = s.clock.Now()
	s.metrics.ObserveJobDuration(name, report.FinishedAt.Sub(report.StartedAt))
	s.recordOutcomes(name, report)
	s.storeReport(report)

	if owner {
		if jobErr != nil && run.failures() == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}

	if parent.Err() != nil {
		report.Aborted = true
	} else if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
	}

	if jobErr == nil {
		return report, nil
	}
	s.metrics.IncJobError(name, jobErr)
	span.RecordError(jobErr)
	span.SetStatus(codes.Error, jobErr.Error())

	// Deadline and abort are soft: the report keeps what finished.
	if errors.Is(jobErr, context.DeadlineExceeded) || errors.Is(jobErr, context.Canceled) {
		if report.TimedOut {
			s.metrics.IncJobTimeout(name)
		}
		s.logger(ctx).Warn("job stopped early",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Bool("aborted", report.Aborted),
			zap.Error(jobErr),
		)
		return report, nil
	}
	return report, fmt.Errorf("%s: %w", name, jobErr)
}

func (s *Scheduler) processTenants(ctx context.Context, run *jobRun, req RunRequest, report *RunReport, process tenantFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	orgIDs, err := s.tenantsInScope(ctx, req)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.tenants.list_failed", 0, err)
		return err
	}

	var jobErr error
	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			break
		}
		tenantCtx := s.withLogContext(ctx, orgID)

		settings, err := s.organizations.ReminderSettings(tenantCtx, orgID)
		if err != nil {
			if skip, reason := tenantSkipReason(err); skip {
				report.Tenants = append(report.Tenants, s.skipTenant(tenantCtx, run, orgID, reason, err, req.DryRun))
				continue
			}
			s.logSchedulerError(tenantCtx, run, "scheduler.tenant.settings_failed", orgID, err)
			jobErr = errors.Join(jobErr, fmt.Errorf("load settings for org %s: %w", orgID, err))
			continue
		}

		tenantReport, err := process(tenantCtx, run, settings, req.DryRun)
		report.Tenants = append(report.Tenants, tenantReport)
		if err != nil {
			s.logSchedulerError(tenantCtx, run, "scheduler.tenant.process_failed", orgID, err)
			jobErr = errors.Join(jobErr, fmt.Errorf("org %s: %w", orgID, err))
		}
	}
	return jobErr
}

func (s *Scheduler) tenantsInScope(ctx context.Context, req RunRequest) ([]snowflake.ID, error) {
	if req.OrgID == nil {
		ids, err := s.organizations.ListIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list organizations: %w", err)
		}
		return ids, nil
	}
	exists, err := s.organizations.Exists(ctx, *req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("find organization: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, req.OrgID.String())
	}
	return []snowflake.ID{*req.OrgID}, nil
}

func tenantSkipReason(err error) (bool, string) {
	switch {
	case errors.Is(err, organizationdomain.ErrTenantUnusable):
		return true, SkipTenantUnusable
	case errors.Is(err, organizationdomain.ErrInvalidSettings):
		return true, SkipInvalidSettings
	}
	return false, ""
}

func (s *Scheduler) skipTenant(ctx context.Context, run *jobRun, orgID snowflake.ID, reason string, cause error, dryRun bool) TenantReport {
	s.metrics.IncTenantSkipped(run.job)
	s.logger(ctx).Warn("scheduler.tenant.skipped",
		zap.String("reason", reason),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(cause)),
		zap.Error(cause),
	)
	if !dryRun {
		org := orgID
		err := s.auditSvc.AuditLog(ctx, nil, auditdomain.Entry{
			OrgID:      &org,
			ActorType:  auditdomain.ActorTypeScheduler,
			ActorID:    run.runID,
			Action:     "reminder.tenant_skipped",
			TargetType: "organization",
			TargetID:   orgID.String(),
			Metadata: map[string]any{
				"job":    run.job,
				"reason": reason,
				"error":  cause.Error(),
			},
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.audit.failed", orgID, err)
		}
	}
	return TenantReport{OrgID: orgID, Skipped: true, SkipReason: reason}
}

func (s *Scheduler) recordOutcomes(job string, report *RunReport) {
	for _, tenant := range report.Tenants {
		for _, item := range tenant.Items {
			s.metrics.AddItems(job, string(item.Outcome), 1)
			if item.Outcome == OutcomeSkipped {
				s.metrics.IncSkip(job, item.Reason)
			}
		}
	}
}

func (s *Scheduler) storeReport(report *RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReports[report.Job] = report
}

// dispatchContext detaches from run cancellation so an in-flight send and its
// transaction finish after an operator abort.
func (s *Scheduler) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
}

func skippedItem(item Item, reason string) Item {
	item.Outcome = OutcomeSkipped
	item.Reason = reason
	return item
}

func failedItem(item Item, err error) Item {
	item.Outcome = OutcomeFailed
	item.Reason = obsmetrics.ClassifySchedulerJobReason(err)
	item.Error = strings.TrimSpace(err.Error())
	return item
}
