package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/anagora/agora-bridge/internal/channels/mastodon"
	"github.com/anagora/agora-bridge/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("agora-bridge doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	fmt.Println()
	fmt.Println("  Agora:")
	fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Agora.BaseURL)
	if cfg.Agora.OutputDir == "" {
		fmt.Printf("    %-12s NOT SET (bridge will never reply)\n", "Output dir:")
	} else if info, err := os.Stat(cfg.Agora.OutputDir); err != nil {
		fmt.Printf("    %-12s %s (MISSING: %s)\n", "Output dir:", cfg.Agora.OutputDir, err)
	} else if !info.IsDir() {
		fmt.Printf("    %-12s %s (NOT A DIRECTORY)\n", "Output dir:", cfg.Agora.OutputDir)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", "Output dir:", cfg.Agora.OutputDir)
	}
	fmt.Printf("    %-12s %s (gate %s)\n", "Ledger:", cfg.Ledger.Backend, cfg.Ledger.Gate)

	fmt.Println()
	fmt.Println("  Channels:")
	checkMastodon(cfg)
	if cfg.Channels.Telegram.Enabled {
		fmt.Printf("    %-12s enabled\n", "Telegram:")
	} else {
		fmt.Printf("    %-12s disabled\n", "Telegram:")
	}
}

func checkMastodon(cfg *config.Config) {
	if !cfg.Channels.Mastodon.Enabled {
		fmt.Printf("    %-12s disabled\n", "Mastodon:")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mastodon.NewClient(cfg.Channels.Mastodon.Server, cfg.Channels.Mastodon.AccessToken)
	acct, err := client.VerifyCredentials(ctx)
	if err != nil {
		fmt.Printf("    %-12s %s (AUTH FAILED: %s)\n", "Mastodon:", cfg.Channels.Mastodon.Server, err)
		return
	}
	fmt.Printf("    %-12s %s as @%s (OK)\n", "Mastodon:", cfg.Channels.Mastodon.Server, acct.Acct)
}
