package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

// onboardAnswers holds the wizard's form values.
type onboardAnswers struct {
	provider  string
	apiKey    string
	network   string
	channel   string
	bridgeURL string
	botToken  string
	gateway   bool
}

// runOnboard asks for the minimum needed to run and writes cfgPath.
// Existing settings in cfgPath are kept unless the wizard overrides them.
func runOnboard(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Default()
	}

	a := onboardAnswers{
		provider: cfg.Classifier.Provider,
		network:  cfg.Payments.Network,
		channel:  "xmtp",
		gateway:  cfg.Gateway.Enabled,
	}

	networkOpts := make([]huh.Option[string], 0, len(payments.NetworkIDs()))
	for _, id := range payments.NetworkIDs() {
		networkOpts = append(networkOpts, huh.NewOption(id, id))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Oracle provider").
				Options(
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenRouter", "openrouter"),
				).
				Value(&a.provider),
			huh.NewInput().
				Title("API key").
				Description("Stored in config.json with mode 0600. Prefer BETCLAW_<PROVIDER>_API_KEY in production.").
				EchoMode(huh.EchoModePassword).
				Value(&a.apiKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Payment network").
				Options(networkOpts...).
				Value(&a.network),
			huh.NewSelect[string]().
				Title("Chat channel").
				Options(
					huh.NewOption("XMTP (via bridge)", "xmtp"),
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
				).
				Value(&a.channel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("XMTP bridge URL").
				Placeholder("ws://127.0.0.1:3001/ws").
				Value(&a.bridgeURL),
		).WithHideFunc(func() bool { return a.channel != "xmtp" }),
		huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				EchoMode(huh.EchoModePassword).
				Value(&a.botToken),
		).WithHideFunc(func() bool { return a.channel == "xmtp" }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the status gateway?").
				Description("Health, metrics, bet listings and a live event stream on " + fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
				Value(&a.gateway),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	applyOnboardAnswers(cfg, a)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", cfgPath)
	if cfg.Gateway.Token != "" && a.gateway {
		fmt.Printf("Gateway token: %s\n", cfg.Gateway.Token)
	}
	fmt.Println("Start the agent with:  betclaw")
	return nil
}

func applyOnboardAnswers(cfg *config.Config, a onboardAnswers) {
	cfg.Classifier.Provider = a.provider
	if key := strings.TrimSpace(a.apiKey); key != "" {
		switch a.provider {
		case "anthropic":
			cfg.Providers.Anthropic.APIKey = key
		case "openrouter":
			cfg.Providers.OpenRouter.APIKey = key
		default:
			cfg.Providers.OpenAI.APIKey = key
		}
	}
	cfg.Payments.Network = a.network

	switch a.channel {
	case "xmtp":
		cfg.Channels.XMTP.Enabled = true
		if url := strings.TrimSpace(a.bridgeURL); url != "" {
			cfg.Channels.XMTP.BridgeURL = url
		}
	case "telegram":
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = strings.TrimSpace(a.botToken)
	case "discord":
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.Token = strings.TrimSpace(a.botToken)
	}

	cfg.Gateway.Enabled = a.gateway
	if a.gateway && cfg.Gateway.Token == "" {
		cfg.Gateway.Token = onboardGenerateToken(16)
	}
}

func onboardGenerateToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
