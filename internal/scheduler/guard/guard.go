package guard

import (
	"errors"

	invoicedomain "github.com/smallbiznis/dunning/internal/invoice/domain"
	offerdomain "github.com/smallbiznis/dunning/internal/offer/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
)

var (
	ErrInvoiceNotCollectible = errors.New("invoice_not_collectible")
	ErrReminderLevelChanged  = errors.New("reminder_level_changed")
	ErrOfferNotOpen          = errors.New("offer_not_open")
	ErrOfferAlreadyNotified  = errors.New("offer_already_notified")
)

// EnsureInvoiceCanEscalate checks a locked invoice still matches the state the
// escalation was planned from.
func EnsureInvoiceCanEscalate(status invoicedomain.InvoiceStatus, current, planned reminderdomain.Level) error {
	switch status {
	case invoicedomain.InvoiceStatusSent, invoicedomain.InvoiceStatusOverdue:
	default:
		return ErrInvoiceNotCollectible
	}
	if current != planned || current.Terminal() {
		return ErrReminderLevelChanged
	}
	return nil
}

// EnsureOfferCanBeReminded checks a locked offer is still open and, unless
// repeat reminders are enabled, has not been reminded before.
func EnsureOfferCanBeReminded(offer offerdomain.Offer, repeat bool) error {
	if offer.Status != offerdomain.OfferStatusSent {
		return ErrOfferNotOpen
	}
	if !repeat && offer.LastRemindedAt != nil {
		return ErrOfferAlreadyNotified
	}
	return nil
}
