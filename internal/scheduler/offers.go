package scheduler

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/smallbiznis/dunning/internal/audit/domain"
	"github.com/smallbiznis/dunning/internal/audit/masking"
	"github.com/smallbiznis/dunning/internal/clock"
	customerdomain "github.com/smallbiznis/dunning/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	"github.com/smallbiznis/dunning/internal/notification"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/smallbiznis/dunning/internal/scheduler/guard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// offerWindow covers valid_until dates from today through today+days inclusive.
func offerWindow(now time.Time, days int) (time.Time, time.Time) {
	from := clock.StartOfDay(now)
	return from, from.AddDate(0, 0, days+1)
}

func (s *Scheduler) offerTenant(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, dryRun bool) (TenantReport, error) {
	report := TenantReport{OrgID: tenant.OrgID}
	ctx, span := s.tracer.Start(ctx, "scheduler.offer_reminders.tenant",
		trace.WithAttributes(attribute.String("org_id", tenant.OrgID.String())))
	defer span.End()

	now := s.clock.Now()
	from, to := offerWindow(now, s.cfg.OfferWindowDays)
	offers, err := s.offers.ListExpiring(ctx, s.db, tenant.OrgID, from, to)
	if err != nil {
		return report, err
	}

	items := make([]Item, len(offers))
	done := make([]bool, len(offers))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range offers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			items[i] = s.processOffer(ctx, run, tenant, offers[i], now, dryRun)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, item := range items {
		if done[i] {
			report.record(item)
		}
	}
	run.AddProcessed(len(report.Items))
	return report, nil
}

func (s *Scheduler) processOffer(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, offer offerdomain.ExpiringOffer, now time.Time, dryRun bool) Item {
	item := Item{
		Kind:     ItemKindOffer,
		OrgID:    offer.OrgID,
		ID:       offer.ID,
		Number:   offer.Number,
		Currency: offer.Currency,
		DaysLeft: clock.DaysBetween(now, offer.ValidUntil),
	}

	if _, ok := customerdomain.ResolveContact(offer.CustomerEmail); !ok {
		item = skippedItem(item, SkipUnresolvedContact)
		s.logItemSkipped(ctx, item)
		return item
	}
	if !s.cfg.OfferReminderRepeat && offer.LastRemindedAt != nil {
		item = skippedItem(item, SkipAlreadyNotified)
		s.logItemSkipped(ctx, item)
		return item
	}
	if dryRun {
		item.Outcome = OutcomePlanned
		return item
	}

	err := s.notifyOffer(ctx, run, tenant, offer, item.DaysLeft, now)
	switch {
	case err == nil:
	case errors.Is(err, guard.ErrOfferAlreadyNotified):
		item = skippedItem(item, SkipAlreadyNotified)
		s.logItemSkipped(ctx, item)
		return item
	case errors.Is(err, invoicedomain.ErrConcurrentUpdate), errors.Is(err, guard.ErrOfferNotOpen):
		item = skippedItem(item, SkipConcurrentUpdate)
		s.logItemSkipped(ctx, item)
		return item
	case errors.Is(err, notification.ErrUnresolvedContact):
		item = skippedItem(item, SkipUnresolvedContact)
		s.logItemSkipped(ctx, item)
		return item
	default:
		s.logSchedulerError(ctx, run, "scheduler.item.failed", offer.OrgID, err,
			zap.String("offer_id", idString(offer.ID)),
			zap.String("offer_number", offer.Number),
		)
		return failedItem(item, err)
	}

	item.Outcome = OutcomeNotified
	s.telemetry.RecordOfferNotice(ctx)
	s.logger(s.withLogContext(ctx, offer.OrgID)).Info("scheduler.offer.notified",
		zap.String("offer_id", idString(offer.ID)),
		zap.Int("days_left", item.DaysLeft),
	)
	return item
}

func (s *Scheduler) notifyOffer(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, candidate offerdomain.ExpiringOffer, daysLeft int, now time.Time) error {
	workCtx, cancel := s.dispatchContext(ctx)
	defer cancel()

	return s.db.WithContext(workCtx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.lockOffer(workCtx, tx, candidate.OrgID, candidate.ID)
		if err != nil {
			return err
		}
		if err := guard.EnsureOfferCanBeReminded(*offer, s.cfg.OfferReminderRepeat); err != nil {
			return err
		}

		marked, err := s.offers.MarkReminded(workCtx, tx, offer.OrgID, offer.ID, now, !s.cfg.OfferReminderRepeat)
		if err != nil {
			return err
		}
		if !marked {
			return invoicedomain.ErrConcurrentUpdate
		}

		org := offer.OrgID
		if err := s.auditSvc.AuditLog(workCtx, tx, auditdomain.Entry{
			OrgID:      &org,
			ActorType:  auditdomain.ActorTypeScheduler,
			ActorID:    run.runID,
			Action:     "offer.expiry_reminder_sent",
			TargetType: "offer",
			TargetID:   offer.ID.String(),
			Metadata: map[string]any{
				"valid_until": offer.ValidUntil.UTC().Format(time.DateOnly),
				"days_left":   daysLeft,
				"recipient":   masking.MaskEmail(candidate.CustomerEmail),
			},
		}); err != nil {
			return err
		}

		return s.dispatcher.SendOfferReminder(workCtx, notification.OfferReminder{
			Identity:      tenant.Identity,
			CustomerName:  candidate.CustomerName,
			CustomerEmail: candidate.CustomerEmail,
			OfferNumber:   offer.Number,
			Currency:      offer.Currency,
			Amount:        reminderdomain.FromMinor(offer.TotalAmount, offer.Currency),
			ValidUntil:    offer.ValidUntil,
			DaysLeft:      daysLeft,
		})
	})
}
