package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"kbagent/config"
	"kbagent/internal/logger"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	log      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kbagent",
	Short: "Knowledge base agent - ask questions about your PDFs",
	Long: `kbagent ingests PDF documents into a vector store and answers questions
using only the retrieved passages. When the documents do not contain the
answer it says so instead of guessing.

Example usage:
  kbagent init                            # Write kbagent.yaml with defaults
  kbagent ingest report.pdf ./papers      # Ingest a file and a directory
  kbagent ask -q "what was Q3 revenue?"   # One question
  kbagent chat                            # Interactive session
  kbagent delete report.pdf               # Remove a document`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			config.LoadDotEnv(rootDir)
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		log = logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(log)

		return nil
	},
}

// Execute runs the root command. An interrupt cancels the running
// operation; an ingest that has started writing still finishes its batch.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kbagent.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "working directory for config and local stores (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
