package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsRunFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithRun(context.Background(), "run-1", "invoice_reminders")
	ctx = ContextWithOrg(ctx, "42")
	WithContext(ctx, base).Info("scheduler.job.start")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "run-1", fields["run_id"])
		assert.Equal(t, "invoice_reminders", fields["job"])
		assert.Equal(t, "42", fields["org_id"])
		assert.NotContains(t, fields, "trace_id")
	}
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
}

func TestWithContextWithoutFieldsReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}
