package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/ics-monitor/internal/config"
	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

func newTestEmail(t *testing.T) (*Email, *[]*gomail.Message) {
	t.Helper()

	email := NewEmail(config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "icsmon@example.com",
	}, "https://monitor.example.com", logger.Default())

	var sent []*gomail.Message
	email.send = func(m *gomail.Message) error {
		sent = append(sent, m)
		return nil
	}
	return email, &sent
}

// messageBody renders the message and strips quoted-printable soft breaks so
// substring checks survive line wrapping.
func messageBody(t *testing.T, m *gomail.Message) string {
	t.Helper()

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("Failed to render message: %v", err)
	}
	return strings.ReplaceAll(strings.ReplaceAll(buf.String(), "=\r\n", ""), "=\n", "")
}

func TestEmail_SendStale(t *testing.T) {
	email, sent := newTestEmail(t)
	settings := models.Settings{AlertEmail: "ops@example.com, owner@example.com", AlertWindowHours: 6}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	avg := 2.5

	if !email.SendStale(settings, testFeedView(), now, &avg) {
		t.Fatal("Expected send to succeed")
	}
	if len(*sent) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(*sent))
	}

	m := (*sent)[0]
	to := m.GetHeader("To")
	if len(to) != 2 || to[0] != "ops@example.com" || to[1] != "owner@example.com" {
		t.Errorf("Unexpected recipients: %v", to)
	}
	if from := m.GetHeader("From"); len(from) != 1 || from[0] != "icsmon@example.com" {
		t.Errorf("Unexpected sender: %v", from)
	}

	body := messageBody(t, m)
	if !strings.Contains(body, "Seaview Loft") {
		t.Error("Body should name the apartment")
	}
	if !strings.Contains(body, "10.0 hours") {
		t.Error("Body should state hours since the last poll")
	}
	if !strings.Contains(body, "about every 2.5 hours") {
		t.Error("Body should use the observed poll cadence when available")
	}
	if !strings.Contains(body, "https://monitor.example.com") {
		t.Error("Body should link the dashboard")
	}
}

func TestEmail_SendStale_NeverPolled(t *testing.T) {
	email, sent := newTestEmail(t)
	settings := models.Settings{AlertEmail: "ops@example.com", AlertWindowHours: 6}

	feed := testFeedView()
	feed.LastPolledAt = nil
	feed.LastFetchStatus = models.FetchStatusNever

	if !email.SendStale(settings, feed, time.Now().UTC(), nil) {
		t.Fatal("Expected send to succeed")
	}

	body := messageBody(t, (*sent)[0])
	if !strings.Contains(body, "has never checked") {
		t.Error("Body should call out a never-polled feed")
	}
	if !strings.Contains(body, "Never") {
		t.Error("Last-checked row should read Never")
	}
	if !strings.Contains(body, "Every 6 hours") {
		t.Error("Cadence should fall back to the alert window without poll history")
	}
}

func TestEmail_SendClear(t *testing.T) {
	email, sent := newTestEmail(t)
	settings := models.Settings{AlertEmail: "ops@example.com", AlertWindowHours: 6}

	if !email.SendClear(settings, testFeedView(), time.Now().UTC()) {
		t.Fatal("Expected send to succeed")
	}

	body := messageBody(t, (*sent)[0])
	if !strings.Contains(body, "back to normal") {
		t.Error("Recovery body should state things are back to normal")
	}
	if !strings.Contains(body, "1 Mar 2026") {
		t.Error("Body should show the last poll time")
	}
}

func TestEmail_DisabledChannels(t *testing.T) {
	email, sent := newTestEmail(t)

	// No recipients configured
	if email.SendStale(models.Settings{AlertWindowHours: 6}, testFeedView(), time.Now().UTC(), nil) {
		t.Error("Expected false without recipients")
	}

	// No SMTP host configured
	email.cfg.Host = ""
	settings := models.Settings{AlertEmail: "ops@example.com", AlertWindowHours: 6}
	if email.SendStale(settings, testFeedView(), time.Now().UTC(), nil) {
		t.Error("Expected false without an SMTP host")
	}

	if len(*sent) != 0 {
		t.Errorf("Expected no messages, got %d", len(*sent))
	}
}
