package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/betclaw/internal/agent"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
	"github.com/nextlevelbuilder/betclaw/internal/classifier"
	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/gateway"
	"github.com/nextlevelbuilder/betclaw/internal/metrics"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
	"github.com/nextlevelbuilder/betclaw/internal/providers"
	"github.com/nextlevelbuilder/betclaw/internal/tracing"
	"github.com/nextlevelbuilder/betclaw/pkg/protocol"
)

const drainTimeout = 30 * time.Second

func runGateway() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if providerAPIKey(cfg, cfg.Classifier.Provider) == "" {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No configuration found. Starting setup wizard...")
			fmt.Println()
			if err := runOnboard(cfgPath); err != nil {
				slog.Error("onboarding failed", "error", err)
				os.Exit(1)
			}
			return
		}
		fmt.Printf("No API key configured for oracle provider %q.\n\n", cfg.Classifier.Provider)
		fmt.Printf("  export BETCLAW_%s_API_KEY=...\n\n", envName(cfg.Classifier.Provider))
		fmt.Println("Or re-run the setup wizard:  betclaw onboard")
		os.Exit(1)
	}

	network, err := payments.LookupNetwork(cfg.Payments.Network)
	if err != nil {
		slog.Error("invalid payments config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	m := metrics.New()
	msgBus := bus.New()

	// Oracle
	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)
	provider, err := providerRegistry.Get(cfg.Classifier.Provider)
	if err != nil {
		slog.Error("oracle provider unavailable", "error", err)
		os.Exit(1)
	}
	oracle := classifier.NewLLM(provider, classifier.Options{
		Model:       cfg.Classifier.Model,
		MaxTokens:   cfg.Classifier.MaxTokens,
		Temperature: cfg.Classifier.Temperature,
		WebSearch:   cfg.Classifier.WebSearch,
		Timeout:     cfg.Agent.ClassifierTimeout.Std(),
		AgentNames:  cfg.Agent.Names,
	})

	// Channels
	limiter := channels.NewSendLimiter(cfg.Channels.SendRate, cfg.Channels.SendBurst)
	channelMgr := channels.NewManager(limiter)
	registerChannels(channelMgr, cfg, msgBus)

	betLedger := buildLedger(ctx, cfg.Ledger, msgBus)

	orch := agent.New(channelMgr, oracle, agent.Options{
		InboxID:           cfg.Agent.InboxID,
		WelcomeMessage:    cfg.Agent.WelcomeMessage,
		ErrorNotices:      cfg.Agent.ErrorNoticesEnabled(),
		QueueSize:         cfg.Agent.QueueSize,
		HistoryLimit:      cfg.Agent.HistoryLimit,
		ClassifierTimeout: cfg.Agent.ClassifierTimeout.Std(),
		PendingTTL:        cfg.Agent.PendingTTL.Std(),
		Network:           network,
		Dedupe:            bus.NewDedupeCache(cfg.Agent.DedupeTTL.Std(), cfg.Agent.DedupeMax),
		Ledger:            betLedger,
		Metrics:           m,
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	runCtx, stopRun := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		orch.Run(runCtx, msgBus)
	}()

	if cfg.RetentionEnabled() {
		go func() {
			if err := orch.RunSweeper(runCtx, cfg.Agent.SweepSchedule); err != nil {
				slog.Error("retention sweeper stopped", "error", err)
			}
		}()
	}

	serverDone := make(chan struct{})
	if cfg.Gateway.Enabled {
		server := gateway.NewServer(cfg.Gateway, msgBus, orch, m)
		go func() {
			defer close(serverDone)
			if err := server.Start(runCtx); err != nil {
				slog.Error("gateway error", "error", err)
			}
		}()
	} else {
		close(serverDone)
	}

	slog.Info("betclaw starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"oracle", provider.Name(),
		"network", network.ID,
		"channels", channelMgr.GetEnabledChannels(),
		"ledger_sinks", betLedger.Len(),
		"gateway", cfg.Gateway.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	// Stop consuming first; workers then drain with the channels still up so
	// queued replies go out.
	stopRun()
	<-consumerDone

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := orch.Shutdown(drainCtx); err != nil {
		slog.Warn("orchestrator drain incomplete", "error", err)
	}

	channelMgr.StopAll(drainCtx)
	<-serverDone

	if err := betLedger.Close(); err != nil {
		slog.Warn("ledger close failed", "error", err)
	}
	if err := shutdownTracing(drainCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	slog.Info("betclaw stopped")
}

func envName(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC"
	case "openrouter":
		return "OPENROUTER"
	default:
		return "OPENAI"
	}
}
