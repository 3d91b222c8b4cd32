package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/dunning/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dunning/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	mu             sync.Mutex
	job            string
	runID          string
	dryRun         bool
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorCount
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, dryRun bool) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil && existing.job == job {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		dryRun:    dryRun,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obslogger.ContextWithRun(ctx, run.runID, job)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, orgID snowflake.ID) context.Context {
	if orgID != 0 {
		ctx = obslogger.ContextWithOrg(ctx, orgID.String())
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.Bool("dry_run", run.dryRun),
		zap.Int("workers", s.cfg.Workers),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	run.mu.Lock()
	fields := []zap.Field{
		zap.Bool("dry_run", run.dryRun),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	errorCount := run.errorCount
	run.mu.Unlock()

	log := s.logger(ctx)
	if errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	ctx = s.withLogContext(ctx, orgID)
	baseFields := []zap.Field{
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logItemSkipped(ctx context.Context, item Item) {
	s.logger(s.withLogContext(ctx, item.OrgID)).Debug("scheduler.item.skipped",
		zap.String("kind", string(item.Kind)),
		zap.String("id", idString(item.ID)),
		zap.String("number", item.Number),
		zap.String("reason", item.Reason),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
