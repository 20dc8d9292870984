package notify

import (
	"context"
	"time"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

// Store is the notifier's persistence surface: the operational log plus the
// poll history behind the average-interval hint in alert emails.
type Store interface {
	AppendSystemLog(ctx context.Context, level, source, message string, context models.JSON) error
	PollTimes(ctx context.Context, feedID uint, since time.Time) ([]time.Time, error)
}

// Notifier fans one alert out over the configured channels. A channel failure
// never blocks another channel, and delivery overall succeeds when at least
// one channel delivered; that is what gates persisting last_alert_sent_at.
type Notifier struct {
	webhook     *Webhook
	email       *Email
	healthcheck *Healthcheck
	store       Store
	log         *logger.Logger
}

// New creates a notifier over the given channels
func New(webhook *Webhook, email *Email, healthcheck *Healthcheck, store Store, log *logger.Logger) *Notifier {
	return &Notifier{
		webhook:     webhook,
		email:       email,
		healthcheck: healthcheck,
		store:       store,
		log:         log.WithComponent("notify"),
	}
}

// FireStale dispatches a stale alert for the feed over webhook and email.
func (n *Notifier) FireStale(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool {
	webhookOK := n.webhook.FireStale(ctx, settings, feed, now)
	emailOK := n.email.SendStale(settings, feed, now, n.averagePollInterval(ctx, feed.FeedID, now))
	ok := webhookOK || emailOK

	level := models.LogLevelInfo
	message := "Stale alert dispatched"
	if !ok {
		level = models.LogLevelWarning
		message = "Stale alert delivery failed on all channels"
	}
	n.syslog(ctx, level, message, models.JSON{
		"feed_id":    feed.FeedID,
		"feed_label": feed.Label(),
		"webhook_ok": webhookOK,
		"email_ok":   emailOK,
	})
	return ok
}

// FireClear dispatches a recovery notice for the feed.
func (n *Notifier) FireClear(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool {
	webhookOK := n.webhook.FireClear(ctx, settings, feed, now)
	emailOK := n.email.SendClear(settings, feed, now)
	ok := webhookOK || emailOK

	n.syslog(ctx, models.LogLevelInfo, "Clear notice dispatched", models.JSON{
		"feed_id":    feed.FeedID,
		"feed_label": feed.Label(),
		"webhook_ok": webhookOK,
		"email_ok":   emailOK,
	})
	return ok
}

// FireUpstreamError reports a failed upstream fetch via webhook.
func (n *Notifier) FireUpstreamError(ctx context.Context, settings models.Settings, feed models.FeedView, fetchErr string) bool {
	return n.webhook.FireUpstreamError(ctx, settings, feed, fetchErr)
}

// FireTest sends a synthetic webhook event.
func (n *Notifier) FireTest(ctx context.Context, settings models.Settings) bool {
	return n.webhook.FireTest(ctx, settings)
}

// SendTestEmail sends a synthetic email.
func (n *Notifier) SendTestEmail(settings models.Settings) bool {
	return n.email.SendTest(settings)
}

// PingHealthcheck forwards a heartbeat signal.
func (n *Notifier) PingHealthcheck(ctx context.Context, settings models.Settings, signal string) bool {
	return n.healthcheck.Ping(ctx, settings, signal)
}

// averagePollInterval returns the feed's mean gap between polls over the last
// 48 hours in hours, or nil with fewer than two polls in that window.
func (n *Notifier) averagePollInterval(ctx context.Context, feedID uint, now time.Time) *float64 {
	times, err := n.store.PollTimes(ctx, feedID, now.Add(-48*time.Hour))
	if err != nil {
		n.log.Warn().Err(err).Uint("feed_id", feedID).Msg("Failed to load poll history")
		return nil
	}
	if len(times) < 2 {
		return nil
	}

	var total time.Duration
	for i := 1; i < len(times); i++ {
		total += times[i].Sub(times[i-1])
	}
	avg := total.Hours() / float64(len(times)-1)
	avg = float64(int64(avg*10+0.5)) / 10
	return &avg
}

func (n *Notifier) syslog(ctx context.Context, level, message string, context models.JSON) {
	if err := n.store.AppendSystemLog(ctx, level, models.LogSourceWebhook, message, context); err != nil {
		n.log.Warn().Err(err).Msg("Failed to write system log entry")
	}
}
