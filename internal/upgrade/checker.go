// Package upgrade checks that the Postgres ledger schema matches what this
// binary writes.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the highest migration under migrations/.
const RequiredSchemaVersion uint = 1

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("ledger schema is outdated")
	ErrSchemaDirty    = errors.New("ledger schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("ledger schema is newer than this binary")
)

// CheckSchema reads the golang-migrate bookkeeping table and compares it
// against RequiredSchemaVersion. A missing table counts as unmigrated.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("check schema: %w", ctx.Err())
		}
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}

	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps a status to one of the Err* values, or nil when compatible.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Compatible:
		return nil
	case s.Dirty:
		return ErrSchemaDirty
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	default:
		return ErrSchemaOutdated
	}
}

// FormatError returns a user-facing explanation and fix for s.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Ledger schema is in a dirty state (version %d).\n"+
				"This usually means a migration failed partway.\n\n"+
				"  Fix:  betclaw migrate force %d\n"+
				"  Then: betclaw migrate up\n",
			s.CurrentVersion, s.CurrentVersion-1,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Ledger schema (v%d) is newer than this binary (requires v%d).\n\n"+
				"  Fix: upgrade your betclaw binary.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Ledger schema is outdated: current v%d, required v%d.\n\n"+
			"  Run:  betclaw migrate up\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
