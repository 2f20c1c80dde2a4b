package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotagent/office/internal/cache"
	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/engine"
	"github.com/dotagent/office/internal/llm"
	"github.com/dotagent/office/internal/natsbus"
	"github.com/dotagent/office/internal/scheduler"
	"github.com/dotagent/office/internal/store"
	"github.com/dotagent/office/internal/team"
	"github.com/dotagent/office/internal/telegram"
	"github.com/dotagent/office/internal/usage"
	"github.com/dotagent/office/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mission API and event streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting office", "version", version, "mode", cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	publisher, err := natsbus.NewClient(bus, "office-engine")
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer publisher.Close()

	missionCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	tracker := usage.NewTracker(cfg.Usage.StatsFile)
	if err := tracker.Load(); err != nil {
		slog.Warn("usage snapshot not restored", "path", cfg.Usage.StatsFile, "error", err)
	}
	defer tracker.Wait()

	model := llm.New(cfg.Model)
	if err := model.Initialize(cfg.Model.APIKey); err != nil {
		slog.Warn("model client disabled, hybrid mode will simulate and real mode is unavailable", "error", err)
	}

	var teamEnv []string
	if cfg.Model.APIKey != "" {
		teamEnv = append(teamEnv, "ANTHROPIC_API_KEY="+cfg.Model.APIKey)
	}
	teams := team.NewAdapter(cfg.Team, teamEnv...)
	defer teams.ShutdownAll()

	deps := engine.Deps{
		Cache:     missionCache,
		Tracker:   tracker,
		Model:     model,
		Team:      teams,
		Publisher: publisher,
		Recorder:  db,
	}

	// Telegram bot
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		deps.Alerter = bot
	} else {
		slog.Warn("telegram token not set, budget alerts go to the log only")
	}

	eng := engine.New(engine.ConfigFrom(cfg), deps)

	// Scheduler
	sweeper := scheduler.New(cfg.Scheduler, missionCache, eng, eng.Runs())
	go sweeper.Start(ctx)

	if bot != nil {
		bot.Handle("usage", func() string {
			return telegram.FormatUsage(tracker.SessionStats(), tracker.DailyStats())
		})
		bot.Handle("status", func() string {
			return statusReport(eng, missionCache, model)
		})
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot failed", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	}

	// Web API
	errCh := make(chan error, 1)
	if cfg.Web.Enabled {
		srv := web.NewServer(web.Deps{
			Engine:    eng,
			Cache:     missionCache,
			Tracker:   tracker,
			Store:     db,
			Bus:       bus,
			Model:     model,
			NextSweep: sweeper.NextRun,
		}, cfg, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	} else {
		slog.Warn("web server disabled, nothing will accept missions")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}
	cancel()

	if cfg.Usage.StatsFile == "" {
		return nil
	}
	if err := tracker.Save(); err != nil {
		slog.Warn("final usage snapshot failed", "error", err)
	}
	return nil
}

func statusReport(eng *engine.Engine, c *cache.Cache, model *llm.Client) string {
	st := c.Stats()
	runs := eng.Runs().List()
	return fmt.Sprintf("Office %s\nActive runs: %d\nCache: %d/%d entries, %d hits\nModel ready: %t",
		version, len(runs), st.Size, st.MaxSize, st.TotalHits, model.Ready())
}
