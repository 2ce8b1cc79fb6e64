package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/ledger"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
	"github.com/nextlevelbuilder/betclaw/internal/upgrade"
	"github.com/nextlevelbuilder/betclaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and ledger health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("betclaw doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Oracle:")
	fmt.Printf("    %-12s %s\n", "Provider:", cfg.Classifier.Provider)
	if cfg.Classifier.Model != "" {
		fmt.Printf("    %-12s %s\n", "Model:", cfg.Classifier.Model)
	}
	checkProvider("Anthropic", cfg.Providers.Anthropic.APIKey)
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	checkProvider("OpenRouter", cfg.Providers.OpenRouter.APIKey)
	if providerAPIKey(cfg, cfg.Classifier.Provider) == "" {
		fmt.Printf("    WARNING: no API key for %s\n", cfg.Classifier.Provider)
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("XMTP", cfg.Channels.XMTP.Enabled, cfg.Channels.XMTP.BridgeURL != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  Payments:")
	if n, err := payments.LookupNetwork(cfg.Payments.Network); err != nil {
		fmt.Printf("    %-12s INVALID (%s)\n", "Network:", err)
	} else {
		fmt.Printf("    %-12s %s (chain %d, %s %s)\n", "Network:", n.Name, n.ChainID, n.Currency, n.TokenAddress.Hex())
	}

	fmt.Println()
	fmt.Println("  Ledger:")
	checkPostgresLedger(cfg.Ledger.PostgresDSN)
	if cfg.Ledger.SQLitePath != "" {
		fmt.Printf("    %-12s %s\n", "SQLite:", config.ExpandHome(cfg.Ledger.SQLitePath))
	} else {
		fmt.Printf("    %-12s (not configured)\n", "SQLite:")
	}
	if len(cfg.Ledger.KafkaBrokers) > 0 {
		fmt.Printf("    %-12s %s → %s\n", "Kafka:", strings.Join(cfg.Ledger.KafkaBrokers, ","), cfg.Ledger.KafkaTopic)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Kafka:")
	}
	if cfg.Ledger.RedisURL != "" {
		fmt.Printf("    %-12s channel %s\n", "Redis:", cfg.Ledger.RedisChannel)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Redis:")
	}

	fmt.Println()
	fmt.Println("  Retention:")
	if cfg.RetentionEnabled() {
		fmt.Printf("    %-12s %s\n", "Schedule:", cfg.Agent.SweepSchedule)
		fmt.Printf("    %-12s %s\n", "Seen TTL:", cfg.Agent.DedupeTTL.Std())
		fmt.Printf("    %-12s %s\n", "Pending TTL:", cfg.Agent.PendingTTL.Std())
	} else {
		fmt.Printf("    %-12s keep everything\n", "Policy:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkPostgresLedger(dsn string) {
	if dsn == "" {
		fmt.Printf("    %-12s (not configured)\n", "Postgres:")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink, err := ledger.OpenPostgres(ctx, dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Postgres:", err)
		return
	}
	defer sink.Close()

	s, err := upgrade.CheckSchema(ctx, sink.DB())
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY — run: betclaw migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (run: betclaw migrate up)\n", "Schema:", s.CurrentVersion)
	}
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskKey(apiKey))
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
