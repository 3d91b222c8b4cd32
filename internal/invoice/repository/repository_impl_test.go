package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/dbtest"
	"github.com/smallbiznis/dunning/internal/invoice/domain"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedInvoice(t *testing.T, db *gorm.DB, node *snowflake.Node, status domain.InvoiceStatus, level reminderdomain.Level) domain.Invoice {
	t.Helper()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	invoice := domain.Invoice{
		ID:            node.Generate(),
		OrgID:         node.Generate(),
		CustomerID:    node.Generate(),
		Number:        "INV-" + node.Generate().String(),
		Status:        status,
		TotalAmount:   100000,
		Currency:      "EUR",
		DueAt:         &due,
		ReminderLevel: level,
	}
	require.NoError(t, db.Create(&invoice).Error)
	return invoice
}

func TestAdvanceReminderLevel(t *testing.T) {
	db := dbtest.Open(t, &domain.Invoice{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()
	at := time.Date(2026, 3, 21, 6, 0, 0, 0, time.UTC)

	invoice := seedInvoice(t, db, node, domain.InvoiceStatusSent, reminderdomain.LevelFriendly)

	advanced, err := repo.AdvanceReminderLevel(ctx, db, domain.AdvanceLevelParams{
		OrgID:     invoice.OrgID,
		InvoiceID: invoice.ID,
		Expected:  reminderdomain.LevelFriendly,
		Next:      reminderdomain.LevelMahnung1,
		Status:    domain.InvoiceStatusOverdue,
		At:        at,
	})
	require.NoError(t, err)
	assert.True(t, advanced)

	stored, err := repo.FindByID(ctx, db, invoice.OrgID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, reminderdomain.LevelMahnung1, stored.ReminderLevel)
	assert.Equal(t, domain.InvoiceStatusOverdue, stored.Status)
	require.NotNil(t, stored.LastRemindedAt)
	assert.True(t, at.Equal(*stored.LastRemindedAt))
}

func TestAdvanceReminderLevelRejectsStaleExpected(t *testing.T) {
	db := dbtest.Open(t, &domain.Invoice{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	repo := Provide()
	ctx := context.Background()

	invoice := seedInvoice(t, db, node, domain.InvoiceStatusOverdue, reminderdomain.LevelMahnung2)

	// Another runner already moved the invoice past FRIENDLY.
	advanced, err := repo.AdvanceReminderLevel(ctx, db, domain.AdvanceLevelParams{
		OrgID:     invoice.OrgID,
		InvoiceID: invoice.ID,
		Expected:  reminderdomain.LevelFriendly,
		Next:      reminderdomain.LevelMahnung1,
		Status:    domain.InvoiceStatusOverdue,
		At:        time.Date(2026, 3, 21, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, advanced)

	stored, err := repo.FindByID(ctx, db, invoice.OrgID, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, reminderdomain.LevelMahnung2, stored.ReminderLevel)
	assert.Nil(t, stored.LastRemindedAt)

	// Wrong tenant and settled invoices are rejected the same way.
	advanced, err = repo.AdvanceReminderLevel(ctx, db, domain.AdvanceLevelParams{
		OrgID:     node.Generate(),
		InvoiceID: invoice.ID,
		Expected:  reminderdomain.LevelMahnung2,
		Next:      reminderdomain.LevelMahnung3,
		Status:    domain.InvoiceStatusOverdue,
		At:        time.Date(2026, 3, 21, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, advanced)

	paid := seedInvoice(t, db, node, domain.InvoiceStatusPaid, reminderdomain.LevelFriendly)
	advanced, err = repo.AdvanceReminderLevel(ctx, db, domain.AdvanceLevelParams{
		OrgID:     paid.OrgID,
		InvoiceID: paid.ID,
		Expected:  reminderdomain.LevelFriendly,
		Next:      reminderdomain.LevelMahnung1,
		Status:    domain.InvoiceStatusOverdue,
		At:        time.Date(2026, 3, 21, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, advanced)
}

func TestLockForReminderMissingRow(t *testing.T) {
	db := dbtest.Open(t, &domain.Invoice{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	repo := Provide()

	invoice := seedInvoice(t, db, node, domain.InvoiceStatusSent, reminderdomain.LevelNone)

	locked, err := repo.LockForReminder(context.Background(), db, invoice.OrgID, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, locked)
	assert.Equal(t, reminderdomain.LevelNone, locked.ReminderLevel)

	locked, err = repo.LockForReminder(context.Background(), db, node.Generate(), invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, locked)
}
