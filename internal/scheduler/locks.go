package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/dunning/internal/observability/metrics"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runLockKey scopes the run lock to one job and one tenant, or every tenant.
func runLockKey(job string, orgID *snowflake.ID) string {
	scope := "all"
	if orgID != nil {
		scope = orgID.String()
	}
	return fmt.Sprintf("dunning:run:%s:%s", job, scope)
}

// acquireRunLock returns a release func, or ErrRunInProgress when another
// runner holds the lock. Without a locker every run proceeds.
func (s *Scheduler) acquireRunLock(ctx context.Context, job string, orgID *snowflake.ID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := runLockKey(job, orgID)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		s.metrics.IncRunLockContended(job)
		return nil, ErrRunInProgress
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("scheduler.run_lock.release_failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *Scheduler) lockInvoice(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	lockStart := time.Now()
	invoice, err := s.invoices.LockForReminder(ctx, tx, orgID, invoiceID)
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceInvoiceForReminder, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrConcurrentUpdate
	}
	return invoice, nil
}

func (s *Scheduler) lockOffer(ctx context.Context, tx *gorm.DB, orgID, offerID snowflake.ID) (*offerdomain.Offer, error) {
	lockStart := time.Now()
	offer, err := s.offers.LockForReminder(ctx, tx, orgID, offerID)
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceOfferForReminder, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, invoicedomain.ErrConcurrentUpdate
	}
	return offer, nil
}
