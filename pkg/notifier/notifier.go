// Package notifier sends campaign-completion and campaign-failure
// emails over SMTP.
package notifier

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadforge/pkg/logger"
	"leadforge/pkg/models"
)

// Config holds SMTP settings. An empty Host means the Notifier is
// unconfigured: sends become a warning-logged no-op.
type Config struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

// Notifier is the Notifier (C8).
type Notifier struct {
	cfg Config
}

// New constructs a Notifier from the given SMTP config.
func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) configured() bool {
	return n.cfg.Host != ""
}

// Send delivers an email with a plain-text body and an optional HTML
// alternative. If unconfigured, it no-ops and returns false with a
// logged warning.
func (n *Notifier) Send(to, subject, bodyText string, bodyHTML ...string) bool {
	if !n.configured() {
		logger.Get().Warn("notifier not configured, dropping send", zap.String("to", to), zap.String("subject", subject))
		return false
	}

	html := ""
	if len(bodyHTML) > 0 {
		html = bodyHTML[0]
	}

	addr := fmt.Sprintf("%s:%s", n.cfg.Host, n.cfg.Port)
	msg := buildMessage(n.cfg.From, to, subject, bodyText, html)

	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Pass, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		logger.Get().Error("notifier send failed", zap.String("to", to), zap.Error(err))
		return false
	}
	return true
}

func buildMessage(from, to, subject, text, html string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)

	if html == "" {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(text)
		return b.String()
	}

	const boundary = "leadforge-alt"
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, html)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

// NotifyComplete composes and sends a campaign-completion email with
// counters, duration, cost, and a per-step summary.
func (n *Notifier) NotifyComplete(target models.NotificationTarget, campaignName string, run *models.CampaignRun) bool {
	if target.Email == "" {
		return false
	}

	duration := ""
	if run.CompletedAt != nil {
		duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Campaign %q run %s finished with status %s.\n\n", campaignName, run.ID, run.Status)
	fmt.Fprintf(&b, "Steps completed: %d\nSteps failed: %d\nTotal cost: %.4f\nDuration: %s\n\n", run.StepsCompleted, run.StepsFailed, run.TotalCost, duration)
	for name, result := range run.Results {
		fmt.Fprintf(&b, "- %s: success=%v cost=%.4f time_ms=%d\n", name, result.Success, result.Cost, result.TimeMs)
	}

	subject := fmt.Sprintf("[leadforge] campaign %s %s", campaignName, run.Status)
	return n.Send(target.Email, subject, b.String())
}

// NotifyFailure composes and sends a campaign-failure/abort email.
func (n *Notifier) NotifyFailure(target models.NotificationTarget, campaignName string, run *models.CampaignRun, terminalErr string, budgetExceeded bool) bool {
	if target.Email == "" {
		return false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Campaign %q run %s ended with status %s.\n\n", campaignName, run.ID, run.Status)
	fmt.Fprintf(&b, "Error: %s\n", terminalErr)
	if budgetExceeded {
		b.WriteString("Reason: budget exceeded; campaign has been paused.\n")
	}
	b.WriteString("\nPartial results:\n")
	for name, result := range run.Results {
		fmt.Fprintf(&b, "- %s: success=%v cost=%.4f\n", name, result.Success, result.Cost)
	}

	subject := fmt.Sprintf("[leadforge] campaign %s %s", campaignName, run.Status)
	return n.Send(target.Email, subject, b.String())
}
