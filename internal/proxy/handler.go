package proxy

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/internal/storage"
	"github.com/ics-monitor/pkg/logger"
	"github.com/ics-monitor/pkg/ratelimit"
)

// fallbackCalendar is served when the upstream fetch fails. Platforms keep a
// valid, empty calendar instead of an error page that could make them drop
// the subscription.
const fallbackCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//ICS Feed Monitor//EN\r\nEND:VCALENDAR\r\n"

var tokenPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Directory is the feed lookup and poll bookkeeping the handler needs
type Directory interface {
	FindFeedByToken(ctx context.Context, token string) (*models.FeedView, error)
	UpdatePollState(ctx context.Context, feedID uint, polledAt time.Time, ip string, status models.FetchStatus) error
	RecordPoll(ctx context.Context, entry *models.PollLogEntry) error
	LoadSettings(ctx context.Context) (models.Settings, error)
}

// Alerter reports upstream fetch failures out of band
type Alerter interface {
	FireUpstreamError(ctx context.Context, settings models.Settings, feed models.FeedView, fetchErr string) bool
}

// Handler serves proxied calendar feeds
type Handler struct {
	dir     Directory
	fetcher *Fetcher
	alerter Alerter
	limiter *ratelimit.KeyedLimiter
	log     *logger.Logger
}

// NewHandler creates the proxy request handler
func NewHandler(dir Directory, fetcher *Fetcher, alerter Alerter, limiter *ratelimit.KeyedLimiter, log *logger.Logger) *Handler {
	return &Handler{
		dir:     dir,
		fetcher: fetcher,
		alerter: alerter,
		limiter: limiter,
		log:     log.WithComponent("proxy"),
	}
}

// ServeFeed handles GET /feed/:token.
//
// An unknown token, a malformed token and an inactive pair all return the same
// 404 with no database writes, so the endpoint leaks nothing about which
// tokens exist. A poll is recorded whenever the token resolves, whether or not
// the upstream fetch succeeds; the caller showed up, which is what staleness
// tracking measures.
func (h *Handler) ServeFeed(c *gin.Context) {
	token := c.Param("token")
	if !tokenPattern.MatchString(token) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	if !h.limiter.Allow(token[:16]) {
		h.log.Warn().Str("token_prefix", token[:8]).Msg("Rate limit exceeded")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	ctx := c.Request.Context()
	feed, err := h.dir.FindFeedByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error().Err(err).Msg("Feed lookup failed")
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !feed.PairActive {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	now := time.Now().UTC()
	ip := clientIP(c)

	result, fetchErr := h.fetcher.Fetch(ctx, feed.SourceURL)

	status := models.FetchStatusOK
	pollStatus := models.PollStatusOK
	if fetchErr != nil {
		status = models.FetchStatusError
		pollStatus = models.PollStatusError
	}

	if err := h.dir.UpdatePollState(ctx, feed.FeedID, now, ip, status); err != nil {
		h.log.Error().Err(err).Uint("feed_id", feed.FeedID).Msg("Failed to update poll state")
	}
	if err := h.dir.RecordPoll(ctx, &models.PollLogEntry{
		FeedID:         feed.FeedID,
		PolledAt:       now,
		RemoteIP:       ip,
		UserAgent:      c.Request.UserAgent(),
		UpstreamStatus: pollStatus,
		ResponseTimeMs: result.ElapsedMs,
	}); err != nil {
		h.log.Error().Err(err).Uint("feed_id", feed.FeedID).Msg("Failed to record poll")
	}

	body := result.Body
	if fetchErr != nil {
		h.log.WithFeedID(feed.FeedID).WithPairID(feed.PairID).Warn().
			Err(fetchErr).
			Str("feed", feed.Label()).
			Msg("Upstream fetch failed, serving fallback calendar")
		body = []byte(fallbackCalendar)
		h.reportUpstreamError(ctx, *feed, fetchErr)
	}

	c.Header("Content-Type", "text/calendar; charset=utf-8")
	c.Header("Content-Disposition", `inline; filename="calendar.ics"`)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func (h *Handler) reportUpstreamError(ctx context.Context, feed models.FeedView, fetchErr error) {
	settings, err := h.dir.LoadSettings(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load settings for upstream error report")
		return
	}
	h.alerter.FireUpstreamError(ctx, settings, feed, fetchErr.Error())
}

// clientIP resolves the caller's address behind common proxy headers
func clientIP(c *gin.Context) string {
	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if ip := c.GetHeader("X-Real-IP"); ip != "" {
		return ip
	}
	return c.ClientIP()
}
