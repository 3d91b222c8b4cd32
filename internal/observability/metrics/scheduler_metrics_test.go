package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/dunning/internal/notification"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  fmt.Errorf("advance level: %w", &pgconn.PgError{Code: "40001"}),
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "dispatch",
			err:  fmt.Errorf("%w: %w", notification.ErrDispatchFailed, errors.New("550")),
			want: SchedulerJobReasonDispatch,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	if got := ClassifySchedulerErrorType(organizationdomain.ErrTenantUnusable); got != SchedulerErrorTypeConfiguration {
		t.Fatalf("expected configuration, got %q", got)
	}
	if got := ClassifySchedulerErrorType(&pgconn.PgError{Code: "08006"}); got != SchedulerErrorTypeDB {
		t.Fatalf("expected db, got %q", got)
	}
	if got := ClassifySchedulerErrorType(gorm.ErrRecordNotFound); got != SchedulerErrorTypeBusinessRule {
		t.Fatalf("expected business_rule, got %q", got)
	}
}

func TestOutcomeCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewSchedulerMetricsForTest(registry)

	metrics.AddItems("invoice_reminders", OutcomeEscalated, 3)
	metrics.AddItems("invoice_reminders", OutcomeFailed, 0)
	metrics.IncEscalation("MAHNUNG_1")
	metrics.IncEscalation("MAHNUNG_1")
	metrics.ObserveDBLockWait(LockResourceInvoiceForReminder, 5*time.Millisecond)

	if got := testutil.ToFloat64(metrics.items.WithLabelValues("invoice_reminders", OutcomeEscalated)); got != 3 {
		t.Fatalf("expected escalated count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.items.WithLabelValues("invoice_reminders", OutcomeFailed)); got != 0 {
		t.Fatalf("expected failed count 0, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.escalations.WithLabelValues("MAHNUNG_1")); got != 2 {
		t.Fatalf("expected 2 escalations, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.dbLockWait); got != 2 {
		t.Fatalf("expected 2 lock wait series, got %d", got)
	}
}
