package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ics-monitor/internal/config"
	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/internal/monitor"
	"github.com/ics-monitor/internal/notify"
	"github.com/ics-monitor/internal/proxy"
	"github.com/ics-monitor/internal/storage"
	"github.com/ics-monitor/internal/storage/sqlite"
	"github.com/ics-monitor/pkg/logger"
	"github.com/ics-monitor/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    storage.Repository
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icsmon",
		Short: "ICS calendar feed proxy and staleness monitor",
		Long: `Proxies ICS calendar feeds between booking platforms and alerts when a
platform stops polling its feed.`,
		PersistentPreRunE: initializeApp,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apartmentsCmd())
	rootCmd.AddCommand(platformsCmd())
	rootCmd.AddCommand(pairsCmd())
	rootCmd.AddCommand(feedsCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(logsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	// Initialize storage
	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo.SeedSettings(context.Background(), models.Settings{
		WebhookURL:         cfg.Alerts.WebhookURL,
		WebhookMethod:      cfg.Alerts.WebhookMethod,
		WebhookSecret:      cfg.Alerts.WebhookSecret,
		AlertEmail:         cfg.Alerts.AlertEmail,
		HealthcheckURL:     cfg.Alerts.HealthcheckURL,
		AlertWindowHours:   cfg.Alerts.AlertWindowHours,
		AlertCooldownHours: cfg.Alerts.AlertCooldownHours,
		LogRetentionDays:   cfg.Alerts.LogRetentionDays,
	})
}

func newNotifier() *notify.Notifier {
	webhook := notify.NewWebhook(cfg.Server.BaseURL, cfg.Server.SiteName, log)
	email := notify.NewEmail(cfg.SMTP, cfg.Server.BaseURL, log)
	healthcheck := notify.NewHealthcheck(cfg.Proxy.UserAgent, log)
	return notify.New(webhook, email, healthcheck, repo, log)
}

// ============ CHECK COMMAND ============

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one staleness check cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			runner := monitor.NewRunner(repo, newNotifier(), log)

			result, err := runner.RunCycle(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Staleness Check Results ===\n")
			fmt.Printf("Active Feeds:  %d\n", result.ActiveFeeds)
			fmt.Printf("Stale Found:   %d\n", result.Candidates)
			fmt.Printf("Alerts Sent:   %d\n", result.Alerted)
			fmt.Printf("Cleared:       %d\n", result.Cleared)
			fmt.Printf("Still Stale:   %d\n", result.StillStale)
			fmt.Printf("Pruned Polls:  %d\n", result.PrunedPolls)
			fmt.Printf("Pruned Logs:   %d\n", result.PrunedLogs)
			fmt.Printf("Duration:      %s\n", result.Duration)

			if len(result.Errors) > 0 {
				fmt.Printf("\nErrors:\n")
				for _, e := range result.Errors {
					fmt.Printf("  - %s\n", e)
				}
			}

			return nil
		},
	}

	return cmd
}

// ============ SERVE COMMAND ============

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feed proxy server without the scheduled check",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fetcher := proxy.NewFetcher(time.Duration(cfg.Proxy.FetchTimeoutSeconds)*time.Second, cfg.Proxy.UserAgent, log)
			limiter := ratelimit.NewKeyedLimiter(float64(cfg.Proxy.RateLimitPerHour), cfg.Proxy.RateLimitPerHour, 2*time.Hour)
			handler := proxy.NewHandler(repo, fetcher, newNotifier(), limiter, log)

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

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// ============ APARTMENTS COMMANDS ============

func apartmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apartments",
		Short: "Manage apartments",
	}

	cmd.AddCommand(apartmentsListCmd())
	cmd.AddCommand(apartmentsAddCmd())
	cmd.AddCommand(apartmentsRemoveCmd())
	return cmd
}

func apartmentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List apartments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			apartments, err := repo.ListApartments(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Apartments (%d) ===\n\n", len(apartments))
			for _, a := range apartments {
				fmt.Printf("[%d] %s (%s)\n", a.ID, a.Name, a.Slug)
			}

			return nil
		},
	}
}

func apartmentsAddCmd() *cobra.Command {
	var sortOrder int

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add an apartment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			apartment := &models.Apartment{Name: args[0], SortOrder: sortOrder}
			if err := repo.CreateApartment(ctx, apartment); err != nil {
				return err
			}

			fmt.Printf("Apartment %d created: %s (%s)\n", apartment.ID, apartment.Name, apartment.Slug)
			return nil
		},
	}

	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "Display sort order")
	return cmd
}

func apartmentsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove an apartment and its feed pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := repo.DeleteApartment(ctx, id); err != nil {
				return err
			}

			fmt.Printf("Apartment %d removed\n", id)
			return nil
		},
	}
}

// ============ PLATFORMS COMMANDS ============

func platformsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "Manage booking platforms",
	}

	cmd.AddCommand(platformsListCmd())
	cmd.AddCommand(platformsAddCmd())
	cmd.AddCommand(platformsRemoveCmd())
	return cmd
}

func platformsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			platforms, err := repo.ListPlatforms(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Platforms (%d) ===\n\n", len(platforms))
			for _, p := range platforms {
				fmt.Printf("[%d] %s (%s)\n", p.ID, p.Name, p.Slug)
			}

			return nil
		},
	}
}

func platformsAddCmd() *cobra.Command {
	var sortOrder int

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			platform := &models.Platform{Name: args[0], SortOrder: sortOrder}
			if err := repo.CreatePlatform(ctx, platform); err != nil {
				return err
			}

			fmt.Printf("Platform %d created: %s (%s)\n", platform.ID, platform.Name, platform.Slug)
			return nil
		},
	}

	cmd.Flags().IntVar(&sortOrder, "sort-order", 0, "Display sort order")
	return cmd
}

func platformsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := repo.DeletePlatform(ctx, id); err != nil {
				if err == storage.ErrPlatformInUse {
					return fmt.Errorf("platform %d is still referenced by feed pairs, remove those first", id)
				}
				return err
			}

			fmt.Printf("Platform %d removed\n", id)
			return nil
		},
	}
}

// ============ PAIRS COMMANDS ============

func pairsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Manage feed pairs",
	}

	cmd.AddCommand(pairsListCmd())
	cmd.AddCommand(pairsAddCmd())
	cmd.AddCommand(pairsEnableCmd())
	cmd.AddCommand(pairsDisableCmd())
	cmd.AddCommand(pairsRemoveCmd())
	return cmd
}

func pairsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List feed pairs with their proxy URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			views, err := repo.ListFeedViews(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Feeds (%d) ===\n\n", len(views))
			for _, v := range views {
				state := "active"
				if !v.PairActive {
					state = "paused"
				}
				fmt.Printf("[%d] %s (%s)\n", v.FeedID, v.Label(), state)
				fmt.Printf("    Proxy URL: %s/feed/%s\n", cfg.Server.BaseURL, v.ProxyToken)
				if v.LastPolledAt != nil {
					fmt.Printf("    Last Poll: %s (%s)\n", v.LastPolledAt.Format(time.RFC1123), v.LastFetchStatus)
				} else {
					fmt.Printf("    Last Poll: never\n")
				}
				if v.LastAlertSentAt != nil {
					fmt.Printf("    STALE since alert at %s\n", v.LastAlertSentAt.Format(time.RFC1123))
				}
				fmt.Println()
			}

			return nil
		},
	}
}

func pairsAddCmd() *cobra.Command {
	var apartmentID, platformA, platformB uint
	var urlAToB, urlBToA string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a feed pair with both direction feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pair := &models.FeedPair{
				ApartmentID: apartmentID,
				PlatformAID: platformA,
				PlatformBID: platformB,
				IsActive:    true,
			}
			if err := repo.CreatePair(ctx, pair, urlAToB, urlBToA); err != nil {
				return err
			}

			feeds, err := repo.FeedsForPair(ctx, pair.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Pair %d created with %d feeds:\n", pair.ID, len(feeds))
			for _, f := range feeds {
				fmt.Printf("  [%d] %s: %s/feed/%s\n", f.ID, f.Direction, cfg.Server.BaseURL, f.ProxyToken)
			}

			return nil
		},
	}

	cmd.Flags().UintVar(&apartmentID, "apartment", 0, "Apartment ID (required)")
	cmd.Flags().UintVar(&platformA, "platform-a", 0, "First platform ID (required)")
	cmd.Flags().UintVar(&platformB, "platform-b", 0, "Second platform ID (required)")
	cmd.Flags().StringVar(&urlAToB, "url-a-to-b", "", "Upstream ICS URL exported by platform A (required)")
	cmd.Flags().StringVar(&urlBToA, "url-b-to-a", "", "Upstream ICS URL exported by platform B (required)")
	cmd.MarkFlagRequired("apartment")
	cmd.MarkFlagRequired("platform-a")
	cmd.MarkFlagRequired("platform-b")
	cmd.MarkFlagRequired("url-a-to-b")
	cmd.MarkFlagRequired("url-b-to-a")

	return cmd
}

func pairsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [id]",
		Short: "Resume monitoring for a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPairActive(args[0], true)
		},
	}
}

func pairsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [id]",
		Short: "Pause monitoring for a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPairActive(args[0], false)
		},
	}
}

func setPairActive(arg string, active bool) error {
	ctx := context.Background()

	id, err := parseID(arg)
	if err != nil {
		return err
	}

	if err := repo.SetPairActive(ctx, id, active); err != nil {
		return err
	}

	state := "enabled"
	if !active {
		state = "disabled"
	}
	fmt.Printf("Pair %d %s\n", id, state)
	return nil
}

func pairsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a pair and its feeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := repo.DeletePair(ctx, id); err != nil {
				return err
			}

			fmt.Printf("Pair %d removed\n", id)
			return nil
		},
	}
}

// ============ FEEDS COMMANDS ============

func feedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Inspect and manage individual feeds",
	}

	cmd.AddCommand(feedsListCmd())
	cmd.AddCommand(feedsStatsCmd())
	cmd.AddCommand(feedsRegenTokenCmd())
	cmd.AddCommand(feedsSetWindowCmd())
	cmd.AddCommand(feedsCheckURLCmd())
	return cmd
}

func feedsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List feeds in compact form",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			views, err := repo.ListFeedViews(ctx)
			if err != nil {
				return err
			}
			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			fmt.Printf("%-4s %-40s %-8s %-10s %-12s %s\n", "ID", "FEED", "DIR", "STATUS", "LAST POLL", "WINDOW")
			for _, v := range views {
				lastPoll := "never"
				if h := v.HoursSincePoll(now); h != nil {
					lastPoll = fmt.Sprintf("%.1fh ago", *h)
				}
				window := fmt.Sprintf("%dh", v.EffectiveWindowHours(settings.AlertWindowHours))
				if v.AlertWindowHours != nil {
					window += "*"
				}
				status := string(v.LastFetchStatus)
				if !v.PairActive {
					status = "paused"
				}
				fmt.Printf("%-4d %-40s %-8s %-10s %-12s %s\n", v.FeedID, v.Label(), v.Direction, status, lastPoll, window)
			}

			return nil
		},
	}
}

func feedsStatsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats [feed-id]",
		Short: "Show poll statistics for a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			view, err := repo.GetFeedView(ctx, id)
			if err != nil {
				return err
			}

			stats, err := repo.PollStats(ctx, id, time.Now().UTC().AddDate(0, 0, -days))
			if err != nil {
				return err
			}

			fmt.Printf("\n=== %s ===\n\n", view.Label())
			fmt.Printf("Polls (last %dd): %d (%d ok, %d failed)\n", days, stats.TotalPolls, stats.SuccessfulPolls, stats.FailedPolls)
			fmt.Printf("Avg Response:    %.0f ms\n", stats.AvgResponseMs)
			if stats.FirstPoll != nil {
				fmt.Printf("First Poll:      %s\n", stats.FirstPoll.Format(time.RFC1123))
			}
			if stats.LastPoll != nil {
				fmt.Printf("Last Poll:       %s\n", stats.LastPoll.Format(time.RFC1123))
			}
			if h := view.HoursSincePoll(time.Now().UTC()); h != nil {
				fmt.Printf("Hours Since:     %.1f\n", *h)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Window in days")
	return cmd
}

func feedsRegenTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regen-token [feed-id]",
		Short: "Rotate a feed's proxy token",
		Long: `Generates a fresh proxy token for the feed. The old URL stops working
immediately; the new URL must be re-entered on the destination platform.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			token, err := repo.RegenerateToken(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("New proxy URL for feed %d:\n  %s/feed/%s\n", id, cfg.Server.BaseURL, token)
			return nil
		},
	}
}

func feedsSetWindowCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "set-window [feed-id]",
		Short: "Override the alert window for one feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var override *int
			if hours > 0 {
				override = &hours
			}
			if err := repo.SetFeedWindow(ctx, id, override); err != nil {
				return err
			}

			if override != nil {
				fmt.Printf("Feed %d alert window set to %d hours\n", id, hours)
			} else {
				fmt.Printf("Feed %d alert window reset to global default\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "Alert window in hours (0 resets to global)")
	return cmd
}

func feedsCheckURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-url [feed-id]",
		Short: "Fetch a feed's upstream URL and report the result",
		Long: `Fetches the upstream calendar directly, without touching poll state or
the poll log. Useful for verifying a source URL after setup.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			view, err := repo.GetFeedView(ctx, id)
			if err != nil {
				return err
			}

			fetcher := proxy.NewFetcher(time.Duration(cfg.Proxy.FetchTimeoutSeconds)*time.Second, cfg.Proxy.UserAgent, log)

			fmt.Printf("Fetching %s ...\n", view.SourceURL)
			result, err := fetcher.Fetch(ctx, view.SourceURL)
			if err != nil {
				fmt.Printf("FAILED after %d ms: %s\n", result.ElapsedMs, err)
				return nil
			}

			fmt.Printf("OK: %d bytes in %d ms (HTTP %d)\n", len(result.Body), result.ElapsedMs, result.StatusCode)
			return nil
		},
	}
}

// ============ SETTINGS COMMANDS ============

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View and change alert settings",
	}

	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsSetCmd())
	return cmd
}

func settingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current alert settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Alert Settings ===\n\n")
			fmt.Printf("Webhook URL:     %s\n", orUnset(settings.WebhookURL))
			fmt.Printf("Webhook Method:  %s\n", settings.WebhookMethod)
			fmt.Printf("Webhook Secret:  %s\n", maskSecret(settings.WebhookSecret))
			fmt.Printf("Alert Email:     %s\n", orUnset(settings.AlertEmail))
			fmt.Printf("Healthcheck URL: %s\n", orUnset(settings.HealthcheckURL))
			fmt.Printf("Alert Window:    %d hours\n", settings.AlertWindowHours)
			fmt.Printf("Alert Cooldown:  %d hours\n", settings.AlertCooldownHours)
			fmt.Printf("Log Retention:   %d days\n", settings.LogRetentionDays)

			return nil
		},
	}
}

func settingsSetCmd() *cobra.Command {
	var webhookURL, webhookMethod, webhookSecret, alertEmail, healthcheckURL string
	var windowHours, cooldownHours, retentionDays int

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update alert settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}

			// Only flags the caller passed are applied
			if cmd.Flags().Changed("webhook-url") {
				settings.WebhookURL = webhookURL
			}
			if cmd.Flags().Changed("webhook-method") {
				m := strings.ToUpper(webhookMethod)
				if m != models.WebhookMethodPOST && m != models.WebhookMethodGET {
					return fmt.Errorf("webhook method must be POST or GET")
				}
				settings.WebhookMethod = m
			}
			if cmd.Flags().Changed("webhook-secret") {
				settings.WebhookSecret = webhookSecret
			}
			if cmd.Flags().Changed("alert-email") {
				settings.AlertEmail = alertEmail
			}
			if cmd.Flags().Changed("healthcheck-url") {
				settings.HealthcheckURL = healthcheckURL
			}
			if cmd.Flags().Changed("window-hours") {
				if windowHours < 1 {
					return fmt.Errorf("window-hours must be at least 1")
				}
				settings.AlertWindowHours = windowHours
			}
			if cmd.Flags().Changed("cooldown-hours") {
				if cooldownHours < 1 {
					return fmt.Errorf("cooldown-hours must be at least 1")
				}
				settings.AlertCooldownHours = cooldownHours
			}
			if cmd.Flags().Changed("retention-days") {
				if retentionDays < 1 {
					return fmt.Errorf("retention-days must be at least 1")
				}
				settings.LogRetentionDays = retentionDays
			}

			if err := repo.SaveSettings(ctx, settings); err != nil {
				return err
			}

			fmt.Println("Settings updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook endpoint (empty disables)")
	cmd.Flags().StringVar(&webhookMethod, "webhook-method", "", "Webhook method: POST or GET")
	cmd.Flags().StringVar(&webhookSecret, "webhook-secret", "", "HMAC signing secret (empty disables signing)")
	cmd.Flags().StringVar(&alertEmail, "alert-email", "", "Comma-separated alert recipients (empty disables)")
	cmd.Flags().StringVar(&healthcheckURL, "healthcheck-url", "", "Heartbeat ping URL (empty disables)")
	cmd.Flags().IntVar(&windowHours, "window-hours", 0, "Global alert window in hours")
	cmd.Flags().IntVar(&cooldownHours, "cooldown-hours", 0, "Alert cooldown in hours")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Log retention in days")

	return cmd
}

// ============ TEST COMMANDS ============

func testCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send test notifications",
	}

	cmd.AddCommand(testWebhookCmd())
	cmd.AddCommand(testEmailCmd())
	cmd.AddCommand(testHealthcheckCmd())
	return cmd
}

func testWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Send a test webhook event",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}
			if !settings.WebhookConfigured() {
				return fmt.Errorf("no webhook URL configured")
			}

			if newNotifier().FireTest(ctx, settings) {
				fmt.Println("Webhook delivered")
				return nil
			}
			return fmt.Errorf("webhook delivery failed, see logs")
		},
	}
}

func testEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "email",
		Short: "Send a test email",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}
			if !settings.EmailConfigured() {
				return fmt.Errorf("no alert email configured")
			}

			if newNotifier().SendTestEmail(settings) {
				fmt.Printf("Test email sent to %s\n", settings.AlertEmail)
				return nil
			}
			return fmt.Errorf("email delivery failed, see logs")
		},
	}
}

func testHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Send a heartbeat ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			settings, err := repo.LoadSettings(ctx)
			if err != nil {
				return err
			}
			if !settings.HealthcheckConfigured() {
				return fmt.Errorf("no healthcheck URL configured")
			}

			if newNotifier().PingHealthcheck(ctx, settings, monitor.HeartbeatSuccess) {
				fmt.Println("Heartbeat delivered")
				return nil
			}
			return fmt.Errorf("heartbeat failed, see logs")
		},
	}
}

// ============ LOGS COMMAND ============

func logsCmd() *cobra.Command {
	var level, source, search string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the operational log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			entries, total, err := repo.QuerySystemLog(ctx, storage.SystemLogFilter{
				Level:  level,
				Source: source,
				Search: search,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			fmt.Printf("\n=== System Log (%d of %d) ===\n\n", len(entries), total)
			for _, e := range entries {
				fmt.Printf("%s [%s/%s] %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Level, e.Source, e.Message)
				for k, v := range e.Context {
					fmt.Printf("    %s: %v\n", k, v)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "Filter by level (debug, info, warning, error)")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source (proxy, cron, webhook, email, admin, system)")
	cmd.Flags().StringVar(&search, "search", "", "Search message text")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")

	return cmd
}

// Helper to parse numeric IDs from positional args
func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "********"
}
