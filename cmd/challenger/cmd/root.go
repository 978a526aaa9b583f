package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/internal/logging"
	"github.com/rustyeddy/challenger/store"
)

var rootCmd = &cobra.Command{
	Use:   "challenger",
	Short: "Real-time risk and compliance engine for funded trading challenges",
	Long: `Challenger watches every open position of every challenge account,
recomputes equity and drawdown on each price tick, and fails accounts that
breach their daily or overall drawdown limits, force-closing their positions
exactly once.

Configuration is read from --config (YAML or JSON), a .env file in the working
directory, and CHALLENGER_* environment variables.`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug|info|warn|error")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(cfg.Store.DSN)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// withStore loads the config and opens the configured store for one
// command.
func withStore(ctx context.Context, fn func(*config.Config, store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(cfg, st)
}
