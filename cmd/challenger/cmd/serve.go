package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/challenger/config"
	"github.com/rustyeddy/challenger/engine"
	"github.com/rustyeddy/challenger/events"
	"github.com/rustyeddy/challenger/store"
	"github.com/rustyeddy/challenger/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the risk engine with its HTTP and websocket endpoints",
	Long: `Serve restores subscriptions from the store's open positions, then
evaluates accounts as ticks arrive on /ws/ticks.

Endpoints:
  GET  /healthz
  GET  /ws/ticks                 inbound ticks {symbol,bid,ask,time}
  GET  /ws/metrics[?account=ID]  metrics and status changes
  POST /positions/opened
  POST /positions/closed
  GET  /accounts/{id}
  GET  /accounts/{id}/violations`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	eng, bus, err := buildEngine(cfg, st, log)
	if err != nil {
		return err
	}
	if _, err := eng.Bootstrap(ctx); err != nil {
		return err
	}

	interval, err := config.ParseDuration("engine.lock_release_interval", cfg.Engine.LockReleaseInterval)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	srv := stream.NewServer(eng, st, bus, stream.Options{
		MetricsBuffer: cfg.Engine.MetricsBuffer,
		Location:      loc,
		Logger:        log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Server.Addr) })
	if interval > 0 {
		g.Go(func() error { return releaseLocks(ctx, eng, interval, log) })
	}

	err = g.Wait()
	log.Info("engine stopped", slog.Uint64("dropped_events", bus.Dropped()))
	return err
}

func buildEngine(cfg *config.Config, st store.Store, log *slog.Logger) (*engine.Engine, *events.Bus, error) {
	inst, err := cfg.InstrumentTable()
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.EngineOptions(log)
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus()
	err = bus.Subscribe(events.TopicAlert, func(a events.Alert) {
		log.Warn("engine alert",
			slog.String("account", a.AccountID),
			slog.String("stage", a.Stage),
			slog.String("error", a.Err))
	})
	if err != nil {
		return nil, nil, err
	}
	err = bus.Subscribe(events.TopicStatusChanged, func(e events.AccountStatusChanged) {
		log.Info("account status",
			slog.String("account", e.AccountID),
			slog.String("from", string(e.OldStatus)),
			slog.String("to", string(e.NewStatus)),
			slog.Int("positions_closed", e.PositionsClosed))
	})
	if err != nil {
		return nil, nil, err
	}

	return engine.New(st, inst, bus, opts), bus, nil
}

func releaseLocks(ctx context.Context, eng *engine.Engine, every time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := eng.ReleaseDailyLocks(ctx, now)
			if err != nil {
				log.Error("release daily locks", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Info("daily locks released", slog.Int("accounts", n))
			}
		}
	}
}
