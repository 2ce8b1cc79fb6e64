package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/betclaw/internal/config"
)

// SQLSink appends events to the bet_events table.
// Postgres schema comes from migrations/; SQLite creates it on open.
type SQLSink struct {
	name   string
	db     *sql.DB
	insert string
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS bet_events (
	id              TEXT PRIMARY KEY,
	event_type      TEXT NOT NULL,
	bet_id          TEXT NOT NULL,
	channel         TEXT NOT NULL,
	chat_id         TEXT NOT NULL,
	amount          TEXT NOT NULL,
	condition       TEXT NOT NULL,
	maker           TEXT NOT NULL,
	taker           TEXT NOT NULL,
	winner          TEXT NOT NULL DEFAULT '',
	details         TEXT NOT NULL DEFAULT '',
	payment_amount  TEXT NOT NULL DEFAULT '',
	payment_network TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bet_events_bet_id ON bet_events (bet_id);`

const insertColumns = `id, event_type, bet_id, channel, chat_id, amount, condition, maker, taker,
	winner, details, payment_amount, payment_network, created_at`

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &SQLSink{
		name: "postgres",
		db:   db,
		insert: `INSERT INTO bet_events (` + insertColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
	}, nil
}

// OpenSQLite opens (or creates) a local SQLite ledger file.
func OpenSQLite(ctx context.Context, path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", config.ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLSink{
		name: "sqlite",
		db:   db,
		insert: `INSERT OR IGNORE INTO bet_events (` + insertColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	}, nil
}

func (s *SQLSink) Name() string { return s.name }

// DB exposes the handle for read-only inspection (tests, doctor).
func (s *SQLSink) DB() *sql.DB { return s.db }

func (s *SQLSink) Record(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, s.insert,
		e.ID, string(e.Type), e.BetID, e.Channel, e.ChatID, e.Amount.String(),
		e.Condition, e.Maker, e.Taker, e.Winner, e.Details,
		e.PaymentAmount, e.PaymentNetwork, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert bet event: %w", err)
	}
	return nil
}

func (s *SQLSink) Close() error { return s.db.Close() }
