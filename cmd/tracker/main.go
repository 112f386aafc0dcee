package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"FundTracker/internal/api"
	"FundTracker/internal/collector"
	"FundTracker/internal/config"
	"FundTracker/internal/fund"
	"FundTracker/internal/logger"
	"FundTracker/internal/metrics"
	"FundTracker/internal/notifier"
	"FundTracker/internal/scheduler"
	"FundTracker/internal/store"
)

func main() {
	// Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		bootLogger().Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger().Fatal().Err(err).Msg("config validation")
	}
	log := logger.New(cfg.Log.Level, os.Stdout)
	log.Info().Msg("FundTracker starting...")

	loc, _ := cfg.Location()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("fundtracker")

	// Init store
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		MemoryFile:  cfg.Storage.MemoryFile,
	}, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open store")
	}
	defer st.Close()
	log.Info().Str("driver", cfg.Storage.Driver).Msg("store ready")

	// Init fetcher
	fetcher := collector.NewEastMoneyFetcher(cfg.Oracle.BaseURL, cfg.Oracle.Proxy, cfg.Oracle.Timeout,
		cfg.Oracle.RateLimit, log.With().Str("component", "oracle").Logger())
	col := collector.NewCollector(fetcher, cfg.Oracle.Timeout, m, log)
	log.Info().Str("source", col.Name()).Str("base_url", cfg.Oracle.BaseURL).Msg("valuation oracle configured")

	// Init Telegram notifier
	var (
		tn     *notifier.TelegramNotifier
		notify fund.Notifier
	)
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Oracle.Proxy,
			log.With().Str("component", "telegram").Logger())
		notify = tn
	}

	fm := fund.NewManager(st, col, notify, m, fund.Options{
		CutoffHour:   cfg.Settlement.CutoffHour,
		Location:     loc,
		HistoryLimit: cfg.History.Limit,
		FetchOnAdd:   true,
	}, log.With().Str("component", "fund").Logger())

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, fm, loc, log.With().Str("component", "scheduler").Logger())
	sched.PortfolioUser = cfg.Telegram.UserID
	if err := sched.RegisterAll(cfg.Poll.Cron, cfg.History.PurgeCron, cfg.History.RetentionDays); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	if cfg.Poll.RunOnStart {
		log.Info().Msg("run_on_start enabled, polling now")
		go func() {
			if _, err := sched.RunPollNow(ctx); err != nil {
				log.Error().Err(err).Msg("initial poll failed")
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(fm, sched, m, log.With().Str("component", "api").Logger()).Routes(cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	log.Info().Msg("FundTracker is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	sched.Stop()
	fm.Wait()
	cancel()
	log.Info().Msg("FundTracker stopped")
}

func bootLogger() *zerolog.Logger {
	l := logger.New("info", os.Stderr)
	return &l
}
