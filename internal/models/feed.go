package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Direction identifies which way a feed flows within its pair
type Direction string

const (
	DirectionAToB Direction = "a_to_b"
	DirectionBToA Direction = "b_to_a"
)

// FetchStatus is the outcome of the most recent upstream fetch
type FetchStatus string

const (
	FetchStatusNever FetchStatus = "never"
	FetchStatusOK    FetchStatus = "ok"
	FetchStatusError FetchStatus = "error"
)

// Feed is one directional proxy endpoint for an ICS calendar.
//
// LastPolledAt tracks when the *proxy* was last polled by the consuming
// platform, independent of whether our own upstream fetch succeeded; staleness
// is about the caller's polling cadence, not upstream correctness.
// LastAlertSentAt being non-nil is the authoritative "stale alert outstanding"
// flag.
type Feed struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	PairID           uint        `gorm:"not null;uniqueIndex:idx_pair_direction" json:"pair_id"`
	Pair             *FeedPair   `gorm:"foreignKey:PairID" json:"pair,omitempty"`
	Direction        Direction   `gorm:"size:10;not null;uniqueIndex:idx_pair_direction" json:"direction"`
	SourceURL        string      `gorm:"not null" json:"source_url"`
	ProxyToken       string      `gorm:"uniqueIndex;size:64;not null" json:"proxy_token"`
	AlertWindowHours *int        `json:"alert_window_hours"` // nil = use global setting
	LastPolledAt     *time.Time  `json:"last_polled_at"`
	LastPollIP       string      `gorm:"size:45" json:"last_poll_ip"`
	LastFetchStatus  FetchStatus `gorm:"size:20;default:'never'" json:"last_fetch_status"`
	LastAlertSentAt  *time.Time  `json:"last_alert_sent_at"`
	CreatedAt        time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewProxyToken returns a random 64-hex-char public feed identifier.
func NewProxyToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// FeedView is the read-optimized projection of a feed joined with its pair,
// apartment and platform names. It is produced by directory queries and is
// what the evaluator, notifier and proxy operate on.
type FeedView struct {
	FeedID           uint        `json:"feed_id"`
	PairID           uint        `json:"pair_id"`
	Direction        Direction   `json:"direction"`
	SourceURL        string      `json:"source_url"`
	ProxyToken       string      `json:"proxy_token"`
	AlertWindowHours *int        `json:"alert_window_hours"`
	LastPolledAt     *time.Time  `json:"last_polled_at"`
	LastPollIP       string      `json:"last_poll_ip"`
	LastFetchStatus  FetchStatus `json:"last_fetch_status"`
	LastAlertSentAt  *time.Time  `json:"last_alert_sent_at"`
	CreatedAt        time.Time   `json:"created_at"`
	PairActive       bool        `json:"pair_active"`
	ApartmentName    string      `json:"apartment_name"`
	PlatformAName    string      `json:"platform_a_name"`
	PlatformBName    string      `json:"platform_b_name"`
}

// SourcePlatform is the platform whose calendar this feed exposes.
func (v FeedView) SourcePlatform() string {
	if v.Direction == DirectionBToA {
		return v.PlatformBName
	}
	return v.PlatformAName
}

// DestPlatform is the platform that polls this feed's proxy URL.
func (v FeedView) DestPlatform() string {
	if v.Direction == DirectionBToA {
		return v.PlatformAName
	}
	return v.PlatformBName
}

// Label renders a human-readable identity for the feed, e.g.
// "Seaview Loft: Airbnb → Booking.com".
func (v FeedView) Label() string {
	return fmt.Sprintf("%s: %s → %s", v.ApartmentName, v.SourcePlatform(), v.DestPlatform())
}

// EffectiveWindowHours resolves the alert window for this feed: the per-feed
// override when set, otherwise the global value.
func (v FeedView) EffectiveWindowHours(global int) int {
	if v.AlertWindowHours != nil && *v.AlertWindowHours > 0 {
		return *v.AlertWindowHours
	}
	return global
}

// HoursSincePoll returns hours since the last poll rounded to 0.1h, or nil if
// the feed has never been polled.
func (v FeedView) HoursSincePoll(now time.Time) *float64 {
	if v.LastPolledAt == nil {
		return nil
	}
	h := now.Sub(*v.LastPolledAt).Hours()
	h = float64(int64(h*10+0.5)) / 10
	return &h
}
