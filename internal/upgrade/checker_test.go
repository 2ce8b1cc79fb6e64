package upgrade

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setVersion(t *testing.T, db *sql.DB, version int, dirty bool) {
	t.Helper()
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT NOT NULL, dirty BOOLEAN NOT NULL)")
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM schema_migrations")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)", version, dirty)
	require.NoError(t, err)
}

func TestCheckSchemaFreshDatabase(t *testing.T) {
	s, err := CheckSchema(context.Background(), openDB(t))
	require.NoError(t, err)
	assert.True(t, s.NeedsMigration)
	assert.False(t, s.Compatible)
	assert.ErrorIs(t, s.Err(), ErrSchemaOutdated)
	assert.Contains(t, FormatError(s), "betclaw migrate up")
}

func TestCheckSchemaStates(t *testing.T) {
	tests := []struct {
		name    string
		version int
		dirty   bool
		want    error
	}{
		{"current", int(RequiredSchemaVersion), false, nil},
		{"ahead", int(RequiredSchemaVersion) + 1, false, ErrSchemaAhead},
		{"dirty", int(RequiredSchemaVersion), true, ErrSchemaDirty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			setVersion(t, db, tt.version, tt.dirty)

			s, err := CheckSchema(context.Background(), db)
			require.NoError(t, err)
			assert.EqualValues(t, tt.version, s.CurrentVersion)
			if tt.want == nil {
				assert.True(t, s.Compatible)
				assert.NoError(t, s.Err())
				return
			}
			assert.ErrorIs(t, s.Err(), tt.want)
			assert.NotEmpty(t, FormatError(s))
		})
	}
}
