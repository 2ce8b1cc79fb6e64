package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/upgrade"
)

var migrationsDir string

func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if v := os.Getenv("BETCLAW_MIGRATIONS_DIR"); v != "" {
		return v
	}
	// migrations/ next to the executable, else in the working directory.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Join(filepath.Dir(exe), "migrations")
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return "migrations"
}

// resolveDSN reads the ledger DSN. It is only ever taken from the
// environment (BETCLAW_POSTGRES_DSN), never from config.json.
func resolveDSN() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Ledger.PostgresDSN == "" {
		return "", fmt.Errorf("BETCLAW_POSTGRES_DSN environment variable is not set")
	}
	return cfg.Ledger.PostgresDSN, nil
}

// withMigrator opens a migrator on the ledger database, runs fn and closes it.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	dsn, err := resolveDSN()
	if err != nil {
		return err
	}
	m, err := migrate.New("file://"+resolveMigrationsDir(), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return fn(m)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Postgres ledger schema migrations",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")

	cmd.AddCommand(
		migrateUpCmd(),
		migrateDownCmd(),
		migrateVersionCmd(),
		migrateStatusCmd(),
		migrateForceCmd(),
		migrateGotoCmd(),
		migrateDropCmd(),
	)
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Up()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("migration complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				steps = 1
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Steps(-steps)); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				v, dirty, _ := m.Version()
				slog.Info("rollback complete", "version", v, "dirty", dirty)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("get version: %w", err)
				}
				fmt.Printf("version: %d, dirty: %v\n", v, dirty)
				return nil
			})
		},
	}
}

// migrateStatusCmd compares the database with the schema this binary writes.
func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the ledger schema matches this binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := resolveDSN()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer db.Close()

			s, err := upgrade.CheckSchema(context.Background(), db)
			if err != nil {
				return err
			}
			if err := s.Err(); err != nil {
				fmt.Print(upgrade.FormatError(s))
				return err
			}
			fmt.Printf("ledger schema v%d (up to date)\n", s.CurrentVersion)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				slog.Info("forced version", "version", version)
				return nil
			})
		},
	}
}

func migrateGotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Migrate(uint(version))); err != nil {
					return fmt.Errorf("migrate goto: %w", err)
				}
				slog.Info("migrated to version", "version", version)
				return nil
			})
		},
	}
}

func migrateDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Drop all ledger tables (DANGEROUS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Drop(); err != nil {
					return fmt.Errorf("drop: %w", err)
				}
				slog.Info("all ledger tables dropped")
				return nil
			})
		},
	}
}
