package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/anagora/agora-bridge/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile   string
	outputDir string
	dryRun    bool
	catchUp   bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "agora-bridge",
	Short: "agora-bridge - social network to Agora bridge",
	Long: "agora-bridge listens on social networks for wikilinks and hashtags, " +
		"logs them into an Agora knowledge graph and replies with resolved links.",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml or $AGORA_BOT_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "ledger and stream root (overrides config)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and log but never post")
	rootCmd.Flags().BoolVar(&catchUp, "catch-up", false, "replay recent follower history at startup")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agora-bridge %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("AGORA_BOT_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
