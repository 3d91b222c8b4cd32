package service

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/dunning/internal/clock"
	"github.com/smallbiznis/dunning/internal/reminder/domain"
	dbutil "github.com/smallbiznis/dunning/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func NewLedger(p Params) domain.Ledger {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("reminder.ledger"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

// Append records an escalation on tx. Fee and interest are rounded half-up to
// the currency minor unit here and nowhere earlier.
func (l *Ledger) Append(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) (domain.ReminderEvent, error) {
	if req.OrgID == 0 {
		return domain.ReminderEvent{}, domain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 {
		return domain.ReminderEvent{}, domain.ErrInvalidInvoice
	}
	if !req.From.Valid() || !req.To.Valid() {
		return domain.ReminderEvent{}, domain.ErrInvalidLevel
	}
	if next, ok := req.From.Next(); !ok || next != req.To {
		return domain.ReminderEvent{}, domain.ErrInvalidTransition
	}
	if req.Charge.Fee.IsNegative() || req.Charge.Interest.IsNegative() {
		return domain.ReminderEvent{}, domain.ErrInvalidAmount
	}
	if req.OccurredAt.IsZero() {
		return domain.ReminderEvent{}, domain.ErrInvalidOccurredAt
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))

	occurredAt := req.OccurredAt.UTC()
	event := domain.ReminderEvent{
		ID:           l.genID.Generate(),
		OrgID:        req.OrgID,
		InvoiceID:    req.InvoiceID,
		FromLevel:    req.From,
		LevelReached: req.To,
		FeeCharged:   domain.ToMinor(req.Charge.Fee, currency),
		Currency:     currency,
		DaysOverdue:  req.DaysOverdue,
		NoticeNumber: newNoticeNumber(occurredAt),
		RunID:        req.RunID,
		OccurredAt:   occurredAt,
		CreatedAt:    l.clock.Now(),
	}
	if req.To == domain.LevelCollections {
		interest := domain.ToMinor(req.Charge.Interest, currency)
		event.Interest = &interest
	}

	if tx == nil {
		tx = l.db
	}
	inserted, err := l.repo.Insert(ctx, tx, &event)
	if err != nil {
		if dbutil.IsDuplicateKeyErr(err) {
			return domain.ReminderEvent{}, domain.ErrDuplicateEvent
		}
		return domain.ReminderEvent{}, err
	}
	if !inserted {
		l.log.Warn("duplicate reminder event",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("level", req.To.String()),
		)
		return domain.ReminderEvent{}, domain.ErrDuplicateEvent
	}
	return event, nil
}

func (l *Ledger) History(ctx context.Context, orgID, invoiceID snowflake.ID) ([]domain.ReminderEvent, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if invoiceID == 0 {
		return nil, domain.ErrInvalidInvoice
	}
	return l.repo.ListByInvoice(ctx, l.db, orgID, invoiceID)
}

func (l *Ledger) Charged(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	if invoiceID == 0 {
		return 0, domain.ErrInvalidInvoice
	}
	if tx == nil {
		tx = l.db
	}
	return l.repo.SumCharges(ctx, tx, orgID, invoiceID)
}

func newNoticeNumber(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
