package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

// Healthcheck pings an external monitoring endpoint as a cycle heartbeat,
// following the healthchecks.io convention: `<url>/start` when a cycle
// begins, bare `<url>` on success, `<url>/fail` when stale feeds remain.
type Healthcheck struct {
	client    *http.Client
	userAgent string
	log       *logger.Logger
}

// NewHealthcheck creates a new heartbeat pinger
func NewHealthcheck(userAgent string, log *logger.Logger) *Healthcheck {
	return &Healthcheck{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		log:       log.WithComponent("healthcheck"),
	}
}

// Ping sends the heartbeat with the given signal suffix ("start", "fail" or
// "" for success). An unconfigured URL is a no-op returning false, never an
// error.
func (h *Healthcheck) Ping(ctx context.Context, settings models.Settings, signal string) bool {
	if !settings.HealthcheckConfigured() {
		return false
	}

	url := settings.HealthcheckURL
	if signal != "" {
		url = strings.TrimRight(url, "/") + "/" + strings.TrimLeft(signal, "/")
	}

	h.log.Debug().Str("url", url).Str("signal", signal).Msg("Pinging healthcheck")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("url", url).Msg("Failed to create healthcheck request")
		return false
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn().Err(err).Str("url", url).Msg("Healthcheck ping failed")
		return false
	}
	defer resp.Body.Close()

	h.log.Debug().Str("url", url).Int("status", resp.StatusCode).Msg("Healthcheck pinged")

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
