package models

import (
	"strings"
	"time"
)

// Webhook delivery methods
const (
	WebhookMethodPOST = "POST"
	WebhookMethodGET  = "GET"
)

// Settings is the persisted alert configuration. It lives in a single row,
// seeded from file config on first run, and is loaded once per evaluation
// cycle or proxy request into an immutable value that gets threaded through
// the evaluator and notifier, never re-read mid-cycle.
type Settings struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	WebhookURL         string    `json:"webhook_url"`
	WebhookMethod      string    `gorm:"size:10;default:'POST'" json:"webhook_method"`
	WebhookSecret      string    `json:"webhook_secret"`
	AlertEmail         string    `json:"alert_email"` // comma-separated list
	HealthcheckURL     string    `json:"healthcheck_url"`
	AlertWindowHours   int       `gorm:"default:6" json:"alert_window_hours"`
	AlertCooldownHours int       `gorm:"default:6" json:"alert_cooldown_hours"`
	LogRetentionDays   int       `gorm:"default:30" json:"log_retention_days"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WebhookConfigured reports whether the webhook channel is enabled.
func (s Settings) WebhookConfigured() bool {
	return s.WebhookURL != ""
}

// EmailConfigured reports whether the email channel is enabled.
func (s Settings) EmailConfigured() bool {
	return strings.TrimSpace(s.AlertEmail) != ""
}

// HealthcheckConfigured reports whether heartbeat pings are enabled.
func (s Settings) HealthcheckConfigured() bool {
	return s.HealthcheckURL != ""
}

// AlertRecipients splits the configured address list.
func (s Settings) AlertRecipients() []string {
	if !s.EmailConfigured() {
		return nil
	}
	parts := strings.Split(s.AlertEmail, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Window returns the global alert window as a duration.
func (s Settings) Window() time.Duration {
	return time.Duration(s.AlertWindowHours) * time.Hour
}

// Cooldown returns the alert cooldown as a duration.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.AlertCooldownHours) * time.Hour
}
