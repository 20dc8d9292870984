package monitor

import (
	"context"
	"time"

	"github.com/ics-monitor/internal/models"
)

// Directory is the subset of the feed directory the evaluator reads.
type Directory interface {
	AlertEligibleFeeds(ctx context.Context, alertCutoff time.Time) ([]models.FeedView, error)
	AlertedFeeds(ctx context.Context) ([]models.FeedView, error)
	ActiveFeeds(ctx context.Context) ([]models.FeedView, error)
}

// Evaluator classifies feeds by staleness. It is a pure read/classify step:
// given the same directory state, current time and settings it always yields
// the same sets, so overlapping cycles converge on the same actions. Callers
// apply the alert/clear side effects.
type Evaluator struct {
	dir Directory
}

// NewEvaluator creates a new staleness evaluator
func NewEvaluator(dir Directory) *Evaluator {
	return &Evaluator{dir: dir}
}

// StaleCandidates returns feeds that need a new stale alert: pair active,
// outside their effective alert window, past the alert cooldown, and past the
// creation grace period when never polled. Ordered oldest-poll-first with
// never-polled feeds first.
func (e *Evaluator) StaleCandidates(ctx context.Context, now time.Time, settings models.Settings) ([]models.FeedView, error) {
	eligible, err := e.dir.AlertEligibleFeeds(ctx, now.Add(-settings.Cooldown()))
	if err != nil {
		return nil, err
	}

	var out []models.FeedView
	for _, f := range eligible {
		window := effectiveWindow(f, settings)
		if !isStale(f, now, window) {
			continue
		}
		// Grace period: a feed that has never been polled gets one full
		// window from creation before it can alert.
		if f.LastPolledAt == nil && now.Sub(f.CreatedAt) < window {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// ClearedFeeds returns feeds with an outstanding alert that have polled again
// within their effective window, most-recent-poll-first. Processing a cleared
// feed means resetting its alert flag, so each recovery surfaces exactly once.
func (e *Evaluator) ClearedFeeds(ctx context.Context, now time.Time, settings models.Settings) ([]models.FeedView, error) {
	alerted, err := e.dir.AlertedFeeds(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.FeedView
	for _, f := range alerted {
		window := effectiveWindow(f, settings)
		if f.LastPolledAt != nil && !f.LastPolledAt.Before(now.Add(-window)) {
			out = append(out, f)
		}
	}
	return out, nil
}

// AllCurrentlyStale returns every objectively stale feed regardless of alert
// cooldown or outstanding-alert state. It feeds the aggregate health signal,
// not alert dispatch. The creation grace period still applies so a freshly
// added feed does not flip the healthcheck to failing.
func (e *Evaluator) AllCurrentlyStale(ctx context.Context, now time.Time, settings models.Settings) ([]models.FeedView, error) {
	active, err := e.dir.ActiveFeeds(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.FeedView
	for _, f := range active {
		window := effectiveWindow(f, settings)
		if !isStale(f, now, window) {
			continue
		}
		if f.LastPolledAt == nil && now.Sub(f.CreatedAt) < window {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func effectiveWindow(f models.FeedView, settings models.Settings) time.Duration {
	return time.Duration(f.EffectiveWindowHours(settings.AlertWindowHours)) * time.Hour
}

func isStale(f models.FeedView, now time.Time, window time.Duration) bool {
	return f.LastPolledAt == nil || f.LastPolledAt.Before(now.Add(-window))
}
