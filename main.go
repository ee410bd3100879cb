package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"filing-engine/internal/config"
	"filing-engine/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "filing-engine",
		Short:         "Schema-driven tax filing wizard engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.NewLoader(nil).Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			l, _, err := logging.New(loaded.Log.Level, loaded.Log.Development)
			if err != nil {
				return err
			}
			cfg, logger = loaded, l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./"+config.ConfigFile+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(serveCmd(), priceCmd(), sectionsCmd(), validateSchemaCmd())
	return root
}
