package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskpulse/internal/analytics"
	"taskpulse/internal/model"
)

const (
	cbSkipPrefix     = "skip:"
	cbDonePrefix     = "done:"
	cbFeedbackPrefix = "fb:"
)

const (
	btnSkip          = "⏭️ Skip"
	btnCancelDialog  = "⏪ Cancel input"
	iconDefault      = "🟢"
	iconDue          = "⏳"
	iconOverdue      = "⚠️"
	menuLabelNewTask = "➕ New task"
	menuLabelTasks   = "📋 Tasks"
	menuLabelAlerts  = "🚨 Alerts"
	menuLabelHelp    = "ℹ️ Help"
)

// Telegram caps callback data at 64 bytes, so feedback values are single letters.
var feedbackCodes = map[model.FeedbackValue]string{
	model.FeedbackPositive: "p",
	model.FeedbackNeutral:  "u",
	model.FeedbackNegative: "n",
}

func encodeFeedback(alert model.Alert, value model.FeedbackValue) string {
	return fmt.Sprintf("%s%s:%d:%s", cbFeedbackPrefix, alert.ID, alert.TaskID, feedbackCodes[value])
}

func decodeFeedback(data string) (analytics.FeedbackInput, bool) {
	parts := strings.Split(strings.TrimPrefix(data, cbFeedbackPrefix), ":")
	if len(parts) != 3 || parts[0] == "" {
		return analytics.FeedbackInput{}, false
	}
	taskID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || taskID == 0 {
		return analytics.FeedbackInput{}, false
	}
	for value, code := range feedbackCodes {
		if code == parts[2] {
			return analytics.FeedbackInput{InterventionID: parts[0], TaskID: uint(taskID), Feedback: string(value)}, true
		}
	}
	return analytics.FeedbackInput{}, false
}

func alertKeyboard(alert model.Alert) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", encodeFeedback(alert, model.FeedbackPositive)),
			tgbotapi.NewInlineKeyboardButtonData("😐", encodeFeedback(alert, model.FeedbackNeutral)),
			tgbotapi.NewInlineKeyboardButtonData("👎", encodeFeedback(alert, model.FeedbackNegative)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip again", fmt.Sprintf("%s%d", cbSkipPrefix, alert.TaskID)),
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", fmt.Sprintf("%s%d", cbDonePrefix, alert.TaskID)),
		),
	)
}

func taskButtons(task model.Task) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⏭ #%d", task.ID), fmt.Sprintf("%s%d", cbSkipPrefix, task.ID)),
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 20)), fmt.Sprintf("%s%d", cbDonePrefix, task.ID)),
	)
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelAlerts),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func priorityKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(string(model.PriorityLow)),
			tgbotapi.NewKeyboardButton(string(model.PriorityMedium)),
			tgbotapi.NewKeyboardButton(string(model.PriorityHigh)),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isSkipInput(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == strings.ToLower(btnSkip) || t == "skip" || t == "-"
}

func isCancelDialogInput(text string) bool {
	return strings.TrimSpace(text) == btnCancelDialog
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := strings.Join(strings.Fields(title), " ")
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	icon := iconDefault
	if task.DueDate != nil {
		switch d := *task.DueDate; {
		case now.After(d):
			icon = iconOverdue
		case d.Sub(now) <= 48*time.Hour:
			icon = iconDue
		}
	}

	sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s", icon, task.ID, escape(strings.TrimSpace(task.Title))))
	if task.Priority == model.PriorityHigh {
		sb.WriteString(" ❗")
	}
	if len(task.Tags) > 0 {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", escape(strings.Join(task.Tags, ", "))))
	}
	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · <b>overdue</b>", d.Format("2006-01-02")))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02 15:04")))
		}
	}
	if task.SkipCount > 0 {
		sb.WriteString(fmt.Sprintf("\n   ⏭ skipped %s", times(task.SkipCount)))
	}
	sb.WriteByte('\n')
	return sb.String()
}
