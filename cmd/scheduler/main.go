package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ics-monitor/internal/config"
	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/internal/monitor"
	"github.com/ics-monitor/internal/notify"
	"github.com/ics-monitor/internal/proxy"
	"github.com/ics-monitor/internal/storage/sqlite"
	"github.com/ics-monitor/pkg/logger"
	"github.com/ics-monitor/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icsmon-scheduler",
		Short: "Calendar feed proxy and staleness monitor daemon",
		Long: `Serves proxied ICS calendar feeds and runs the scheduled staleness check.
This daemon should be run as a service for autonomous operation.`,
		RunE: runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting ICS Feed Monitor")

	// Initialize storage
	repo, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repo.Close()

	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx := context.Background()

	// Seed the settings row from file config on first run; after that the
	// database copy is authoritative.
	if err := repo.SeedSettings(ctx, models.Settings{
		WebhookURL:         cfg.Alerts.WebhookURL,
		WebhookMethod:      cfg.Alerts.WebhookMethod,
		WebhookSecret:      cfg.Alerts.WebhookSecret,
		AlertEmail:         cfg.Alerts.AlertEmail,
		HealthcheckURL:     cfg.Alerts.HealthcheckURL,
		AlertWindowHours:   cfg.Alerts.AlertWindowHours,
		AlertCooldownHours: cfg.Alerts.AlertCooldownHours,
		LogRetentionDays:   cfg.Alerts.LogRetentionDays,
	}); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	// Notification channels
	webhook := notify.NewWebhook(cfg.Server.BaseURL, cfg.Server.SiteName, log)
	email := notify.NewEmail(cfg.SMTP, cfg.Server.BaseURL, log)
	healthcheck := notify.NewHealthcheck(cfg.Proxy.UserAgent, log)
	notifier := notify.New(webhook, email, healthcheck, repo, log)

	// Staleness runner
	runner := monitor.NewRunner(repo, notifier, log)

	// Proxy server
	fetcher := proxy.NewFetcher(time.Duration(cfg.Proxy.FetchTimeoutSeconds)*time.Second, cfg.Proxy.UserAgent, log)
	limiter := ratelimit.NewKeyedLimiter(float64(cfg.Proxy.RateLimitPerHour), cfg.Proxy.RateLimitPerHour, 2*time.Hour)
	handler := proxy.NewHandler(repo, fetcher, notifier, limiter, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      proxy.NewServer(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Proxy server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Proxy server failed")
		}
	}()

	// Create cron scheduler
	c := cron.New(cron.WithLogger(cronLogger{log}))

	_, err = c.AddFunc(cfg.Scheduler.CheckCron, func() {
		ctx := context.Background()
		log.Info().Msg("Running scheduled staleness check")

		result, err := runner.RunCycle(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled staleness check failed")
			return
		}

		for _, e := range result.Errors {
			log.Error().Err(e).Msg("Staleness check error")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule staleness check: %w", err)
	}
	log.Info().Str("cron", cfg.Scheduler.CheckCron).Msg("Staleness check scheduled")

	// Start scheduler
	c.Start()
	log.Info().Msg("Scheduler started")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	c.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Proxy server shutdown failed")
	}

	return nil
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
