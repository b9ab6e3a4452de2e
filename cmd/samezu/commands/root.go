package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"samezu-bot/lib/configutil"
	"samezu-bot/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	// settings is resolved once before any command runs.
	settings Config
	tel      telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "samezu",
	Short: "samezu watches the Tokyo driving test reservation calendar and reports open slots.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath, configutil.NewEnv())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings = cfg

		level := telemetry.ParseLevel(cfg.LogLevel)
		if verbose {
			level = slog.LevelDebug
		}
		telemetry.InitSlog(level)

		tel, err = telemetry.SetupFromEnv(cmd.Context(), "samezu")
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := tel.Shutdown(context.Background())
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "Config file, a .local variant next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
