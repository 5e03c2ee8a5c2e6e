package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"taskpulse/internal/detector"
	"taskpulse/internal/logger"
	"taskpulse/internal/model"
	"taskpulse/internal/notify"
)

// AlertSource evaluates a user's tasks and delivers the alerts that are actually sent.
type AlertSource interface {
	PreviewAlerts(ctx context.Context, userID uint) ([]detector.Evaluated, error)
	Deliver(ctx context.Context, ev detector.Evaluated)
}

// ReminderService builds the periodic alert digest pushed to chat users.
type ReminderService struct {
	source   AlertSource
	cooldown notify.Cooldown
	ttl      time.Duration
	log      *logger.Logger
}

func NewReminderService(source AlertSource, cooldown notify.Cooldown, ttl time.Duration, log *logger.Logger) *ReminderService {
	if cooldown == nil {
		cooldown = notify.NewMemoryCooldown(nil)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReminderService{source: source, cooldown: cooldown, ttl: ttl, log: log.With("service", "ReminderService")}
}

// PendingAlerts evaluates the user's tasks and keeps the alerts whose task and rule were not sent within
// the cooldown window. Only the kept alerts are delivered. A cooldown backend failure lets the alert through.
func (s *ReminderService) PendingAlerts(ctx context.Context, user model.User) ([]model.Alert, error) {
	evaluated, err := s.source.PreviewAlerts(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pending := make([]model.Alert, 0, len(evaluated))
	for _, ev := range evaluated {
		ok, err := s.cooldown.Allow(ctx, notify.CooldownKey(ev.Alert), s.ttl)
		if err != nil {
			s.log.Warn("cooldown check failed", "alert_id", ev.Alert.ID, "error", err)
			ok = true
		}
		if !ok {
			continue
		}
		s.source.Deliver(ctx, ev)
		pending = append(pending, ev.Alert)
	}
	return pending, nil
}

// DigestHeader summarises a batch of alerts.
func DigestHeader(alerts []model.Alert, now time.Time) string {
	counts := map[model.Severity]int{}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	var builder strings.Builder
	builder.WriteString("📋 <b>Procrastination check</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n", now.Format("2006-01-02")))
	if len(alerts) == 0 {
		builder.WriteString("— nothing is slipping, keep going")
		return builder.String()
	}
	builder.WriteString(fmt.Sprintf("%s %d critical · %s %d warning · %s %d info",
		severityIcon(model.SeverityCritical), counts[model.SeverityCritical],
		severityIcon(model.SeverityWarning), counts[model.SeverityWarning],
		severityIcon(model.SeverityInfo), counts[model.SeverityInfo]))
	return builder.String()
}

// FormatAlert renders one alert as Telegram HTML.
func FormatAlert(alert model.Alert, now time.Time) string {
	var sb strings.Builder

	title := html.EscapeString(strings.TrimSpace(alert.TaskTitle))
	sb.WriteString(fmt.Sprintf("%s <b>%s</b>", severityIcon(alert.Severity), title))
	sb.WriteString(fmt.Sprintf("\n   %s", html.EscapeString(alert.Message)))

	if alert.DueDate != nil {
		d := alert.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			daysLeft := int(d.Sub(now).Hours()/24) + 1
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · ≈%d d left", d.Format("2006-01-02"), daysLeft))
		}
	}
	return sb.String()
}

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "🔴"
	case model.SeverityWarning:
		return "⚠️"
	default:
		return "🔵"
	}
}
