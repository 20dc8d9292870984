package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// PollStatus is the upstream outcome recorded for one proxy poll
type PollStatus string

const (
	PollStatusOK    PollStatus = "ok"
	PollStatusError PollStatus = "error"
)

// PollLogEntry is an append-only record of one poll of a feed's proxy URL
type PollLogEntry struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	FeedID         uint       `gorm:"index;not null" json:"feed_id"`
	PolledAt       time.Time  `gorm:"index;not null" json:"polled_at"`
	RemoteIP       string     `gorm:"size:45" json:"remote_ip"`
	UserAgent      string     `gorm:"size:500" json:"user_agent"`
	UpstreamStatus PollStatus `gorm:"size:20;not null" json:"upstream_status"`
	ResponseTimeMs int        `json:"response_time_ms"`
}

// PollStats aggregates a feed's poll log over a recent window
type PollStats struct {
	TotalPolls      int        `json:"total_polls"`
	SuccessfulPolls int        `json:"successful_polls"`
	FailedPolls     int        `json:"failed_polls"`
	AvgResponseMs   float64    `json:"avg_response_ms"`
	FirstPoll       *time.Time `json:"first_poll"`
	LastPoll        *time.Time `json:"last_poll"`
}

// System log levels
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// System log sources
const (
	LogSourceProxy   = "proxy"
	LogSourceCron    = "cron"
	LogSourceWebhook = "webhook"
	LogSourceEmail   = "email"
	LogSourceAdmin   = "admin"
	LogSourceSystem  = "system"
)

// JSON is a custom type for storing structured log context
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// SystemLogEntry is an append-only operational log row
type SystemLogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:20;index;not null" json:"level"`
	Source    string    `gorm:"size:50;index;not null" json:"source"`
	Message   string    `gorm:"not null" json:"message"`
	Context   JSON      `gorm:"type:json" json:"context"`
	CreatedAt time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}
