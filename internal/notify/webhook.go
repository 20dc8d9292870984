package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

// SignatureHeader carries the HMAC-SHA256 of the exact JSON body when a
// webhook secret is configured.
const SignatureHeader = "X-ICSMon-Signature"

// Webhook delivers alert events to an operator-configured URL. Delivery
// failures are reported as false and logged, never returned; there is no
// retry, the next scheduled cycle is the retry mechanism.
type Webhook struct {
	client   *http.Client
	baseURL  string
	siteName string
	log      *logger.Logger
}

// NewWebhook creates a new webhook dispatcher
func NewWebhook(baseURL, siteName string, log *logger.Logger) *Webhook {
	return &Webhook{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL:  baseURL,
		siteName: siteName,
		log:      log.WithComponent("webhook"),
	}
}

// FireStale sends a feed_stale event.
func (w *Webhook) FireStale(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool {
	return w.fire(ctx, settings, Payload{
		Event:     EventFeedStale,
		Feed:      feedInfo(w.baseURL, feed, settings),
		Staleness: stalenessInfo(feed, now),
	})
}

// FireClear sends a feed_recovered event.
func (w *Webhook) FireClear(ctx context.Context, settings models.Settings, feed models.FeedView, now time.Time) bool {
	return w.fire(ctx, settings, Payload{
		Event:     EventFeedRecovered,
		Feed:      feedInfo(w.baseURL, feed, settings),
		Staleness: stalenessInfo(feed, now),
	})
}

// FireUpstreamError reports a failed upstream calendar fetch.
func (w *Webhook) FireUpstreamError(ctx context.Context, settings models.Settings, feed models.FeedView, fetchErr string) bool {
	return w.fire(ctx, settings, Payload{
		Event: EventUpstreamError,
		Feed:  feedInfo(w.baseURL, feed, settings),
		Error: fetchErr,
	})
}

// FireTest sends a synthetic event over the same delivery path.
func (w *Webhook) FireTest(ctx context.Context, settings models.Settings) bool {
	return w.fire(ctx, settings, Payload{
		Event:   EventTest,
		Message: "This is a test webhook from ICS Feed Monitor.",
	})
}

func (w *Webhook) fire(ctx context.Context, settings models.Settings, payload Payload) bool {
	if !settings.WebhookConfigured() {
		w.log.Warn().Str("event", payload.Event).Msg("No webhook URL configured, skipping alert")
		return false
	}

	payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload.Site = SiteInfo{URL: w.baseURL, Name: w.siteName}

	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Error().Err(err).Str("event", payload.Event).Msg("Failed to encode webhook payload")
		return false
	}

	method := strings.ToUpper(settings.WebhookMethod)
	if method != models.WebhookMethodGET {
		method = models.WebhookMethodPOST
	}

	var req *http.Request
	if method == models.WebhookMethodGET {
		// GET carries the event in the query string; there is no body to sign.
		target, err := url.Parse(settings.WebhookURL)
		if err != nil {
			w.log.Error().Err(err).Str("url", settings.WebhookURL).Msg("Invalid webhook URL")
			return false
		}
		q := target.Query()
		q.Set("event", payload.Event)
		target.RawQuery = q.Encode()

		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to create webhook request")
			return false
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, settings.WebhookURL, bytes.NewReader(body))
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to create webhook request")
			return false
		}
		req.Header.Set("Content-Type", "application/json")

		if settings.WebhookSecret != "" {
			req.Header.Set(SignatureHeader, "sha256="+Sign(body, settings.WebhookSecret))
		}
	}

	w.log.Info().
		Str("event", payload.Event).
		Str("url", settings.WebhookURL).
		Str("method", method).
		Msg("Firing webhook")

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Error().
			Err(err).
			Str("event", payload.Event).
			Str("url", settings.WebhookURL).
			Msg("Webhook dispatch failed")
		return false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.log.Error().
			Str("event", payload.Event).
			Int("status", resp.StatusCode).
			Str("response_body", truncate(string(respBody), 500)).
			Msg("Webhook returned non-2xx status")
		return false
	}

	w.log.Info().
		Str("event", payload.Event).
		Int("status", resp.StatusCode).
		Str("response_body", truncate(string(respBody), 500)).
		Msg("Webhook delivered")
	return true
}

// Sign computes the hex HMAC-SHA256 of body under the given secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header value ("sha256=<hex>")
// against the body and secret.
func VerifySignature(body []byte, secret, header string) bool {
	expected := "sha256=" + Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
