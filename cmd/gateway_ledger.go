package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/ledger"
	"github.com/nextlevelbuilder/betclaw/internal/upgrade"
)

const ledgerConnectTimeout = 10 * time.Second

// buildLedger opens every configured sink. A sink that cannot be opened is
// logged and left out; the bus sink is always present so the gateway
// stream sees bet events.
func buildLedger(ctx context.Context, cfg config.LedgerConfig, eventPub bus.EventPublisher) *ledger.Multi {
	ctx, cancel := context.WithTimeout(ctx, ledgerConnectTimeout)
	defer cancel()

	multi := ledger.NewMulti(ledger.NewBusSink(eventPub))

	if cfg.PostgresDSN != "" {
		if sink, err := openPostgresLedger(ctx, cfg.PostgresDSN); err != nil {
			slog.Error("postgres ledger disabled", "error", err)
		} else {
			multi.Add(sink)
			slog.Info("ledger sink enabled", "sink", sink.Name())
		}
	}

	if cfg.SQLitePath != "" {
		if sink, err := ledger.OpenSQLite(ctx, cfg.SQLitePath); err != nil {
			slog.Error("sqlite ledger disabled", "path", cfg.SQLitePath, "error", err)
		} else {
			multi.Add(sink)
			slog.Info("ledger sink enabled", "sink", sink.Name(), "path", cfg.SQLitePath)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink := ledger.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		multi.Add(sink)
		slog.Info("ledger sink enabled", "sink", sink.Name(), "topic", cfg.KafkaTopic)
	}

	if cfg.RedisURL != "" {
		if sink, err := ledger.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisChannel); err != nil {
			slog.Error("redis ledger disabled", "error", err)
		} else {
			multi.Add(sink)
			slog.Info("ledger sink enabled", "sink", sink.Name(), "channel", cfg.RedisChannel)
		}
	}

	return multi
}

// openPostgresLedger refuses a database whose schema does not match this
// binary; bet_events is created by "betclaw migrate up", never implicitly.
func openPostgresLedger(ctx context.Context, dsn string) (*ledger.SQLSink, error) {
	sink, err := ledger.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}

	status, err := upgrade.CheckSchema(ctx, sink.DB())
	if err != nil {
		sink.Close()
		return nil, err
	}
	if err := status.Err(); err != nil {
		sink.Close()
		fmt.Print(upgrade.FormatError(status))
		return nil, err
	}
	return sink, nil
}
