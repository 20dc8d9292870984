package notify

import (
	"time"

	"github.com/ics-monitor/internal/models"
)

// Webhook event names
const (
	EventFeedStale     = "feed_stale"
	EventFeedRecovered = "feed_recovered"
	EventUpstreamError = "upstream_error"
	EventTest          = "test"
)

// SiteInfo identifies the monitor installation in outbound payloads
type SiteInfo struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// FeedInfo is the feed identity section of a webhook payload
type FeedInfo struct {
	ID               uint             `json:"id"`
	Label            string           `json:"label"`
	Apartment        string           `json:"apartment"`
	SourcePlatform   string           `json:"source_platform"`
	DestPlatform     string           `json:"dest_platform"`
	Direction        models.Direction `json:"direction"`
	ProxyURL         string           `json:"proxy_url"`
	AlertWindowHours int              `json:"alert_window_hours"`
}

// StalenessInfo is the staleness metrics section of a webhook payload
type StalenessInfo struct {
	LastPolledAt    *time.Time         `json:"last_polled_at"`
	HoursSincePoll  *float64           `json:"hours_since_poll"`
	LastFetchStatus models.FetchStatus `json:"last_fetch_status"`
}

// Payload is the JSON body of an outbound webhook
type Payload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Site      SiteInfo       `json:"site"`
	Feed      *FeedInfo      `json:"feed,omitempty"`
	Staleness *StalenessInfo `json:"staleness,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func feedInfo(baseURL string, feed models.FeedView, settings models.Settings) *FeedInfo {
	return &FeedInfo{
		ID:               feed.FeedID,
		Label:            feed.Label(),
		Apartment:        feed.ApartmentName,
		SourcePlatform:   feed.SourcePlatform(),
		DestPlatform:     feed.DestPlatform(),
		Direction:        feed.Direction,
		ProxyURL:         baseURL + "/feed/" + feed.ProxyToken,
		AlertWindowHours: feed.EffectiveWindowHours(settings.AlertWindowHours),
	}
}

func stalenessInfo(feed models.FeedView, now time.Time) *StalenessInfo {
	return &StalenessInfo{
		LastPolledAt:    feed.LastPolledAt,
		HoursSincePoll:  feed.HoursSincePoll(now),
		LastFetchStatus: feed.LastFetchStatus,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
