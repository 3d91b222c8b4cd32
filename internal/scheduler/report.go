package scheduler

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
)

const (
	JobInvoiceReminders = "invoice_reminders"
	JobOfferReminders   = "offer_reminders"
)

type ItemKind string

const (
	ItemKindInvoice ItemKind = "invoice"
	ItemKindOffer   ItemKind = "offer"
)

type Outcome string

const (
	OutcomeEscalated Outcome = "escalated"
	OutcomePlanned   Outcome = "planned"
	OutcomeNotified  Outcome = "notified"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons recorded on items and tenants.
const (
	SkipUnresolvedContact = "unresolved_contact"
	SkipNoTransition      = "no_transition"
	SkipConcurrentUpdate  = "concurrent_update"
	SkipAlreadyNotified   = "already_notified"
	SkipTenantUnusable    = "tenant_unusable"
	SkipInvalidSettings   = "invalid_settings"
)

// Item is the result of processing one invoice or offer.
type Item struct {
	Kind         ItemKind             `json:"kind"`
	OrgID        snowflake.ID         `json:"org_id"`
	ID           snowflake.ID         `json:"id"`
	Number       string               `json:"number"`
	Outcome      Outcome              `json:"outcome"`
	Reason       string               `json:"reason,omitempty"`
	FromLevel    reminderdomain.Level `json:"from_level,omitempty"`
	ToLevel      reminderdomain.Level `json:"to_level,omitempty"`
	DaysOverdue  int                  `json:"days_overdue,omitempty"`
	DaysLeft     int                  `json:"days_left,omitempty"`
	Currency     string               `json:"currency"`
	Fee          decimal.Decimal      `json:"fee"`
	Interest     decimal.Decimal      `json:"interest"`
	NoticeNumber string               `json:"notice_number,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Counts aggregates item outcomes.
type Counts struct {
	Escalated int `json:"escalated"`
	Planned   int `json:"planned"`
	Notified  int `json:"notified"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (c *Counts) add(outcome Outcome) {
	switch outcome {
	case OutcomeEscalated:
		c.Escalated++
	case OutcomePlanned:
		c.Planned++
	case OutcomeNotified:
		c.Notified++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeFailed:
		c.Failed++
	}
}

func (c Counts) plus(other Counts) Counts {
	return Counts{
		Escalated: c.Escalated + other.Escalated,
		Planned:   c.Planned + other.Planned,
		Notified:  c.Notified + other.Notified,
		Skipped:   c.Skipped + other.Skipped,
		Failed:    c.Failed + other.Failed,
	}
}

// Total is the number of items with any outcome.
func (c Counts) Total() int {
	return c.Escalated + c.Planned + c.Notified + c.Skipped + c.Failed
}

// TenantReport holds the items of one organization.
type TenantReport struct {
	OrgID      snowflake.ID `json:"org_id"`
	Skipped    bool         `json:"skipped"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Counts     Counts       `json:"counts"`
	Items      []Item       `json:"items"`
}

func (t *TenantReport) record(item Item) {
	t.Items = append(t.Items, item)
	t.Counts.add(item.Outcome)
}

// RunReport is the outcome of one job run.
type RunReport struct {
	RunID         string         `json:"run_id"`
	Job           string         `json:"job"`
	DryRun        bool           `json:"dry_run"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	SkippedByLock bool           `json:"skipped_by_lock"`
	TimedOut      bool           `json:"timed_out"`
	Aborted       bool           `json:"aborted"`
	Tenants       []TenantReport `json:"tenants"`
}

// Summary returns counts across every tenant.
func (r *RunReport) Summary() Counts {
	var total Counts
	if r == nil {
		return total
	}
	for _, tenant := range r.Tenants {
		total = total.plus(tenant.Counts)
	}
	return total
}

// TenantsSkipped counts tenants that were not processed.
func (r *RunReport) TenantsSkipped() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, tenant := range r.Tenants {
		if tenant.Skipped {
			n++
		}
	}
	return n
}

// Items returns every item ordered by organization, kind and id.
func (r *RunReport) Items() []Item {
	if r == nil {
		return nil
	}
	var items []Item
	for _, tenant := range r.Tenants {
		items = append(items, tenant.Items...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].OrgID != items[j].OrgID {
			return items[i].OrgID < items[j].OrgID
		}
		if items[i].Kind != items[j].Kind {
			return items[i].Kind < items[j].Kind
		}
		return items[i].ID < items[j].ID
	})
	return items
}
