package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

// Heartbeat signals, following the healthchecks.io path-suffix convention.
const (
	HeartbeatStart   = "start"
	HeartbeatFail    = "fail"
	HeartbeatSuccess = ""
)

// Store is what the runner needs from persistence beyond the evaluator's
// read surface.
type Store interface {
	Directory
	LoadSettings(ctx context.Context) (models.Settings, error)
	SetAlertSent(ctx context.Context, feedID uint, at time.Time) error
	ClearAlertSent(ctx context.Context, feedID uint) error
	CountActiveFeeds(ctx context.Context) (int64, error)
	PrunePollLog(ctx context.Context, before time.Time) (int64, error)
	PruneSystemLog(ctx context.Context, before time.Time) (int64, error)
	AppendSystemLog(ctx context.Context, level, source, message string, context models.JSON) error
}

// Notifier dispatches alerts and heartbeats. Implementations report delivery
// as a bool and never return transport errors; the next cycle is the retry.
type Notifier interface {
	FireStale(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool
	FireClear(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool
	PingHealthcheck(ctx context.Context, settings models.Settings, signal string) bool
}

// CycleResult summarizes one evaluation cycle
type CycleResult struct {
	ActiveFeeds int64
	Candidates  int
	Alerted     int
	Cleared     int
	PrunedPolls int64
	PrunedLogs  int64
	StillStale  int
	Errors      []error
	Duration    time.Duration
}

// Runner ties the evaluator, the notifier and log pruning into one scheduled
// cycle. A failure in any stage is recorded and the remaining stages still
// run; a failure for one feed never blocks the others.
type Runner struct {
	store    Store
	eval     *Evaluator
	notifier Notifier
	log      *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewRunner creates a new periodic runner
func NewRunner(store Store, notifier Notifier, log *logger.Logger) *Runner {
	return &Runner{
		store:    store,
		eval:     NewEvaluator(store),
		notifier: notifier,
		log:      log.WithComponent("cron"),
		now:      time.Now,
	}
}

// RunCycle executes one staleness check cycle
func (r *Runner) RunCycle(ctx context.Context) (*CycleResult, error) {
	start := r.now()
	result := &CycleResult{}

	// Settings are loaded once and stay immutable for the whole cycle.
	settings, err := r.store.LoadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	now := r.now().UTC()

	// Stage 1: heartbeat start
	r.notifier.PingHealthcheck(ctx, settings, HeartbeatStart)

	r.log.Info().Msg("Staleness check started")
	r.syslog(ctx, models.LogLevelInfo, "Staleness check started", nil)

	// Stage 2+3: evaluate candidates and dispatch stale alerts
	candidates, err := r.eval.StaleCandidates(ctx, now, settings)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("stale evaluation: %w", err))
	}
	result.Candidates = len(candidates)

	var staleLabels []string
	for _, feed := range candidates {
		staleLabels = append(staleLabels, feed.Label())
		r.log.WithFeedID(feed.FeedID).Info().Str("feed", feed.Label()).Msg("Feed is stale, dispatching alert")

		if !r.notifier.FireStale(ctx, settings, feed, now) {
			// Delivery failed on every channel; leave last_alert_sent_at
			// untouched so the next cycle retries.
			result.Errors = append(result.Errors, fmt.Errorf("alert delivery failed for feed %d (%s)", feed.FeedID, feed.Label()))
			continue
		}
		if err := r.store.SetAlertSent(ctx, feed.FeedID, now); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("persist alert time for feed %d: %w", feed.FeedID, err))
			continue
		}
		result.Alerted++
	}

	// Stage 4: dispatch recovery notices and reset alert flags
	cleared, err := r.eval.ClearedFeeds(ctx, now, settings)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("cleared evaluation: %w", err))
	}
	for _, feed := range cleared {
		r.notifier.FireClear(ctx, settings, feed, now)
		// Reset regardless of delivery so the recovery is reported once,
		// not on every cycle until a channel happens to succeed.
		if err := r.store.ClearAlertSent(ctx, feed.FeedID); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("clear alert flag for feed %d: %w", feed.FeedID, err))
			continue
		}
		result.Cleared++
	}

	// Stage 5: prune old log entries
	retentionCutoff := now.AddDate(0, 0, -settings.LogRetentionDays)
	if pruned, err := r.store.PrunePollLog(ctx, retentionCutoff); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("prune poll log: %w", err))
	} else {
		result.PrunedPolls = pruned
	}
	if pruned, err := r.store.PruneSystemLog(ctx, retentionCutoff); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("prune system log: %w", err))
	} else {
		result.PrunedLogs = pruned
	}

	// Stage 6: aggregate health signal
	stillStale, err := r.eval.AllCurrentlyStale(ctx, now, settings)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("health evaluation: %w", err))
	}
	result.StillStale = len(stillStale)

	if result.StillStale > 0 {
		r.notifier.PingHealthcheck(ctx, settings, HeartbeatFail)
	} else {
		r.notifier.PingHealthcheck(ctx, settings, HeartbeatSuccess)
	}

	if active, err := r.store.CountActiveFeeds(ctx); err == nil {
		result.ActiveFeeds = active
	}

	result.Duration = r.now().Sub(start)

	r.log.Info().
		Int64("total_active_feeds", result.ActiveFeeds).
		Int("stale_feeds_found", result.Candidates).
		Int("alerts_sent", result.Alerted).
		Int("cleared", result.Cleared).
		Int("still_stale", result.StillStale).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Staleness check completed")

	r.syslog(ctx, models.LogLevelInfo, "Staleness check completed", models.JSON{
		"total_active_feeds": result.ActiveFeeds,
		"stale_feeds_found":  result.Candidates,
		"alerts_sent":        result.Alerted,
		"cleared":            result.Cleared,
		"still_stale":        result.StillStale,
		"stale_feed_labels":  staleLabels,
	})
	if result.PrunedPolls > 0 || result.PrunedLogs > 0 {
		r.syslog(ctx, models.LogLevelInfo, "Old log entries pruned", models.JSON{
			"poll_log_entries_removed":   result.PrunedPolls,
			"system_log_entries_removed": result.PrunedLogs,
			"retention_days":             settings.LogRetentionDays,
		})
	}

	return result, nil
}

func (r *Runner) syslog(ctx context.Context, level, message string, context models.JSON) {
	if err := r.store.AppendSystemLog(ctx, level, models.LogSourceCron, message, context); err != nil {
		r.log.Warn().Err(err).Msg("Failed to write system log entry")
	}
}
