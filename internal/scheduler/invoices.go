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
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/smallbiznis/dunning/internal/scheduler/guard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func (s *Scheduler) invoiceTenant(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, dryRun bool) (TenantReport, error) {
	report := TenantReport{OrgID: tenant.OrgID}
	ctx, span := s.tracer.Start(ctx, "scheduler.invoice_reminders.tenant",
		trace.WithAttributes(attribute.String("org_id", tenant.OrgID.String())))
	defer span.End()

	now := s.clock.Now()
	today := clock.StartOfDay(now)
	candidates, err := s.invoices.ListReminderCandidates(ctx, s.db, tenant.OrgID, today)
	if err != nil {
		return report, err
	}

	items := make([]Item, len(candidates))
	done := make([]bool, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			items[i] = s.processInvoice(ctx, run, tenant, candidates[i], now, dryRun)
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, item := range items {
		if !done[i] {
			continue
		}
		report.record(item)
	}
	run.AddProcessed(len(report.Items))
	return report, nil
}

func (s *Scheduler) processInvoice(ctx context.Context, run *jobRun, tenant organizationdomain.TenantSettings, candidate invoicedomain.ReminderCandidate, now time.Time, dryRun bool) Item {
	item := Item{
		Kind:      ItemKindInvoice,
		OrgID:     candidate.OrgID,
		ID:        candidate.ID,
		Number:    candidate.Number,
		FromLevel: candidate.ReminderLevel,
		Currency:  candidate.Currency,
	}

	if _, ok := customerdomain.ResolveContact(candidate.CustomerEmail); !ok {
		item = skippedItem(item, SkipUnresolvedContact)
		s.logItemSkipped(ctx, item)
		return item
	}

	daysOverdue := clock.DaysBetween(candidate.DueAt, now)
	item.DaysOverdue = daysOverdue
	next, ok := reminderdomain.NextLevel(candidate.ReminderLevel, daysOverdue, tenant.Policy)
	if !ok {
		item = skippedItem(item, SkipNoTransition)
		s.logItemSkipped(ctx, item)
		return item
	}
	item.ToLevel = next

	if dryRun {
		amount := reminderdomain.FromMinor(candidate.TotalAmount, candidate.Currency)
		charge := reminderdomain.FeeFor(next, amount, daysOverdue, tenant.Policy).
			Rounded(reminderdomain.MinorUnits(candidate.Currency))
		item.Fee = charge.Fee
		item.Interest = charge.Interest
		item.Outcome = OutcomePlanned
		return item
	}

	event, err := s.escalateInvoice(ctx, run, tenant, candidate, next, daysOverdue, now)
	switch {
	case err == nil:
	case errors.Is(err, invoicedomain.ErrConcurrentUpdate),
		errors.Is(err, reminderdomain.ErrDuplicateEvent),
		errors.Is(err, guard.ErrReminderLevelChanged),
		errors.Is(err, guard.ErrInvoiceNotCollectible):
		item = skippedItem(item, SkipConcurrentUpdate)
		s.logItemSkipped(ctx, item)
		return item
	case errors.Is(err, notification.ErrUnresolvedContact):
		item = skippedItem(item, SkipUnresolvedContact)
		s.logItemSkipped(ctx, item)
		return item
	default:
		s.logSchedulerError(ctx, run, "scheduler.item.failed", candidate.OrgID, err,
			zap.String("invoice_id", idString(candidate.ID)),
			zap.String("invoice_number", candidate.Number),
			zap.String("level", next.String()),
		)
		return failedItem(item, err)
	}

	item.Outcome = OutcomeEscalated
	item.Fee = reminderdomain.FromMinor(event.FeeCharged, event.Currency)
	if event.Interest != nil {
		item.Interest = reminderdomain.FromMinor(*event.Interest, event.Currency)
	}
	item.NoticeNumber = event.NoticeNumber

	s.metrics.IncEscalation(next.String())
	s.telemetry.RecordNoticeSent(ctx, next.String())
	s.telemetry.RecordFeeCharged(ctx, event.Currency, "fee", event.FeeCharged)
	if event.Interest != nil {
		s.telemetry.RecordFeeCharged(ctx, event.Currency, "interest", *event.Interest)
	}
	s.logger(s.withLogContext(ctx, candidate.OrgID)).Info("scheduler.invoice.escalated",
		zap.String("invoice_id", idString(candidate.ID)),
		zap.String("from_level", candidate.ReminderLevel.String()),
		zap.String("to_level", next.String()),
		zap.Int("days_overdue", daysOverdue),
		zap.String("notice_number", event.NoticeNumber),
	)
	return item
}

// escalateInvoice records, advances and notifies in one transaction. The
// notice is sent last while the row lock is held; a failed send rolls back
// the event and the level change.
func (s *Scheduler) escalateInvoice(
	ctx context.Context,
	run *jobRun,
	tenant organizationdomain.TenantSettings,
	candidate invoicedomain.ReminderCandidate,
	next reminderdomain.Level,
	daysOverdue int,
	now time.Time,
) (reminderdomain.ReminderEvent, error) {
	workCtx, cancel := s.dispatchContext(ctx)
	defer cancel()

	var event reminderdomain.ReminderEvent
	err := s.db.WithContext(workCtx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(workCtx, tx, candidate.OrgID, candidate.ID)
		if err != nil {
			return err
		}
		if err := guard.EnsureInvoiceCanEscalate(invoice.Status, invoice.ReminderLevel, candidate.ReminderLevel); err != nil {
			return err
		}

		amount := reminderdomain.FromMinor(invoice.TotalAmount, invoice.Currency)
		charge := reminderdomain.FeeFor(next, amount, daysOverdue, tenant.Policy)
		prior, err := s.ledger.Charged(workCtx, tx, invoice.OrgID, invoice.ID)
		if err != nil {
			return err
		}

		event, err = s.ledger.Append(workCtx, tx, reminderdomain.AppendRequest{
			OrgID:       invoice.OrgID,
			InvoiceID:   invoice.ID,
			From:        invoice.ReminderLevel,
			To:          next,
			Charge:      charge,
			Currency:    invoice.Currency,
			DaysOverdue: daysOverdue,
			RunID:       run.runID,
			OccurredAt:  now,
		})
		if err != nil {
			return err
		}

		status := invoice.Status
		if next.Rank() > reminderdomain.LevelFriendly.Rank() {
			status = invoicedomain.InvoiceStatusOverdue
		}
		advanced, err := s.invoices.AdvanceReminderLevel(workCtx, tx, invoicedomain.AdvanceLevelParams{
			OrgID:     invoice.OrgID,
			InvoiceID: invoice.ID,
			Expected:  invoice.ReminderLevel,
			Next:      next,
			Status:    status,
			At:        now,
		})
		if err != nil {
			return err
		}
		if !advanced {
			return invoicedomain.ErrConcurrentUpdate
		}

		org := invoice.OrgID
		if err := s.auditSvc.AuditLog(workCtx, tx, auditdomain.Entry{
			OrgID:      &org,
			ActorType:  auditdomain.ActorTypeScheduler,
			ActorID:    run.runID,
			Action:     "invoice.reminder_escalated",
			TargetType: "invoice",
			TargetID:   invoice.ID.String(),
			Metadata: map[string]any{
				"from_level":    invoice.ReminderLevel.String(),
				"to_level":      next.String(),
				"days_overdue":  daysOverdue,
				"fee_charged":   event.FeeCharged,
				"currency":      event.Currency,
				"notice_number": event.NoticeNumber,
				"recipient":     masking.MaskEmail(candidate.CustomerEmail),
			},
		}); err != nil {
			return err
		}

		return s.dispatcher.SendInvoiceReminder(workCtx, notification.InvoiceReminder{
			Identity:      tenant.Identity,
			CustomerName:  candidate.CustomerName,
			CustomerEmail: candidate.CustomerEmail,
			InvoiceNumber: invoice.Number,
			Currency:      invoice.Currency,
			Amount:        amount,
			DueAt:         derefTime(invoice.DueAt, candidate.DueAt),
			DaysOverdue:   daysOverdue,
			Level:         next,
			Charge:        charge,
			PriorCharges:  reminderdomain.FromMinor(prior, invoice.Currency),
			NoticeNumber:  event.NoticeNumber,
		})
	})
	if err != nil {
		return reminderdomain.ReminderEvent{}, err
	}
	return event, nil
}

func derefTime(value *time.Time, fallback time.Time) time.Time {
	if value == nil {
		return fallback
	}
	return *value
}
