package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestReminderEventsUniquePerLevel(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000003_reminder_events_audit.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "ON reminder_events (invoice_id, level_reached)")
}

func TestSourceOpens(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
	require.NoError(t, src.Close())
}
