package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/ics-monitor/internal/config"
	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/pkg/logger"
)

const (
	colorAlert = "#c0392b"
	colorOK    = "#27ae60"
)

// Email sends HTML alert messages over SMTP. Like the webhook channel it
// degrades to a bool: missing configuration means "channel disabled", and
// transport failures are logged, not returned.
type Email struct {
	cfg     config.SMTPConfig
	baseURL string
	log     *logger.Logger

	// send is swappable for tests
	send func(m *gomail.Message) error
}

// NewEmail creates a new email dispatcher
func NewEmail(cfg config.SMTPConfig, baseURL string, log *logger.Logger) *Email {
	e := &Email{
		cfg:     cfg,
		baseURL: baseURL,
		log:     log.WithComponent("email"),
	}
	e.send = func(m *gomail.Message) error {
		dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		return dialer.DialAndSend(m)
	}
	return e
}

// SendStale emails a stale alert for the feed. avgHours, when non-nil, is the
// feed's average poll interval over the last 48 hours and is used to phrase
// the expected cadence.
func (e *Email) SendStale(settings models.Settings, feed models.FeedView, now time.Time, avgHours *float64) bool {
	recipients := settings.AlertRecipients()
	if len(recipients) == 0 || e.cfg.Host == "" {
		return false
	}

	label := feed.Label()
	dest := feed.DestPlatform()
	window := feed.EffectiveWindowHours(settings.AlertWindowHours)

	var description, lastChecked, usually string
	if avgHours != nil {
		usually = fmt.Sprintf("About every %.1f hours", *avgHours)
	} else {
		usually = fmt.Sprintf("Every %d hours", window)
	}

	if feed.LastPolledAt != nil {
		hoursSince := feed.HoursSincePoll(now)
		lastChecked = formatTime(*feed.LastPolledAt)
		normally := fmt.Sprintf("It normally checks at least every %d hours.", window)
		if avgHours != nil {
			normally = fmt.Sprintf("It normally checks about every %.1f hours.", *avgHours)
		}
		description = fmt.Sprintf("%s hasn't checked the <strong>%s</strong> calendar for <strong>%.1f hours</strong>. %s",
			html.EscapeString(dest), html.EscapeString(label), *hoursSince, normally)
	} else {
		lastChecked = "Never"
		description = fmt.Sprintf("%s has never checked the <strong>%s</strong> calendar.",
			html.EscapeString(dest), html.EscapeString(label))
	}

	subject := fmt.Sprintf("⚠️ %s hasn't checked %s", dest, label)
	body := buildHTML(
		fmt.Sprintf("%s hasn't checked %s", dest, label),
		colorAlert,
		[]string{
			`<p style="font-size:16px;color:#333;line-height:1.5;margin:0 0 16px;">` + description + `</p>`,
			buildTable([][2]string{
				{"Calendar", label},
				{"Apartment", feed.ApartmentName},
				{"Checked by", dest},
				{"Last checked", lastChecked},
				{"Usual frequency", usually},
			}),
		},
		e.baseURL,
	)

	e.log.Info().
		Uint("feed_id", feed.FeedID).
		Strs("to", recipients).
		Str("feed_label", label).
		Msg("Sending stale alert email")

	return e.deliver(recipients, subject, body)
}

// SendClear emails a recovery notice for the feed.
func (e *Email) SendClear(settings models.Settings, feed models.FeedView, now time.Time) bool {
	recipients := settings.AlertRecipients()
	if len(recipients) == 0 || e.cfg.Host == "" {
		return false
	}

	label := feed.Label()
	dest := feed.DestPlatform()
	lastChecked := "just now"
	if feed.LastPolledAt != nil {
		lastChecked = formatTime(*feed.LastPolledAt)
	}

	subject := fmt.Sprintf("✅ %s is checking %s again", dest, label)
	body := buildHTML(
		fmt.Sprintf("Good news — %s is checking %s again", dest, label),
		colorOK,
		[]string{
			fmt.Sprintf(`<p style="font-size:16px;color:#333;line-height:1.5;margin:0 0 16px;">%s checked the <strong>%s</strong> calendar at <strong>%s</strong>. Everything is back to normal.</p>`,
				html.EscapeString(dest), html.EscapeString(label), html.EscapeString(lastChecked)),
			buildTable([][2]string{
				{"Calendar", label},
				{"Apartment", feed.ApartmentName},
				{"Checked by", dest},
				{"Last checked", lastChecked},
			}),
		},
		e.baseURL,
	)

	e.log.Info().
		Uint("feed_id", feed.FeedID).
		Strs("to", recipients).
		Str("feed_label", label).
		Msg("Sending clear alert email")

	return e.deliver(recipients, subject, body)
}

// SendTest emails a synthetic message to verify the channel.
func (e *Email) SendTest(settings models.Settings) bool {
	recipients := settings.AlertRecipients()
	if len(recipients) == 0 || e.cfg.Host == "" {
		return false
	}

	body := buildHTML(
		"Email alerts are working",
		colorOK,
		[]string{
			`<p style="font-size:16px;color:#333;line-height:1.5;margin:0 0 16px;">This is a test email from ICS Feed Monitor. If you received this, email alerts are working correctly.</p>`,
		},
		e.baseURL,
	)

	e.log.Info().Strs("to", recipients).Msg("Sending test email")

	return e.deliver(recipients, "✅ ICS Feed Monitor — Email alerts are working", body)
}

func (e *Email) deliver(to []string, subject, htmlBody string) bool {
	m := gomail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := e.send(m); err != nil {
		e.log.Error().Err(err).Str("subject", subject).Msg("Email delivery failed")
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2 Jan 2006, 3:04pm") + " UTC"
}

func buildTable(rows [][2]string) string {
	var b strings.Builder
	b.WriteString(`<table style="border-collapse:collapse;width:100%;margin:16px 0;" cellpadding="0" cellspacing="0">`)
	for _, row := range rows {
		b.WriteString(`<tr><td style="padding:8px 12px;border:1px solid #e0e0e0;background:#f8f8f8;font-weight:bold;color:#555;width:40%;font-size:14px;">`)
		b.WriteString(html.EscapeString(row[0]))
		b.WriteString(`</td><td style="padding:8px 12px;border:1px solid #e0e0e0;color:#333;font-size:14px;">`)
		b.WriteString(html.EscapeString(row[1]))
		b.WriteString(`</td></tr>`)
	}
	b.WriteString(`</table>`)
	return b.String()
}

func buildHTML(heading, headingColor string, bodyLines []string, dashboardURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f4f4f4;font-family:Arial,Helvetica,sans-serif;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background:#f4f4f4;padding:24px 0;">
<tr><td align="center">
<table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;border:1px solid #e0e0e0;">
<tr>
<td style="background:%s;padding:24px 32px;">
<h1 style="margin:0;color:#ffffff;font-size:20px;font-weight:bold;">%s</h1>
</td>
</tr>
<tr>
<td style="padding:24px 32px;">
%s
<p style="margin:24px 0 0;">
<a href="%s" style="display:inline-block;padding:12px 24px;background:#2271b1;color:#ffffff;text-decoration:none;border-radius:4px;font-size:14px;font-weight:bold;">Open Dashboard</a>
</p>
</td>
</tr>
<tr>
<td style="padding:16px 32px;border-top:1px solid #e0e0e0;font-size:12px;color:#999;">Sent by ICS Feed Monitor</td>
</tr>
</table>
</td></tr>
</table>
</body>
</html>`,
		headingColor,
		html.EscapeString(heading),
		strings.Join(bodyLines, "\n"),
		html.EscapeString(dashboardURL),
	)
}
