package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskpulse/internal/apperr"
	"taskpulse/internal/clock"
	"taskpulse/internal/logger"
	"taskpulse/internal/model"
	"taskpulse/internal/repository"
	"taskpulse/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageTags
	stageDueDate
	stagePriority
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	taskSvc       *service.TaskService
	procSvc       *service.ProcrastinationService
	reminderSvc   *service.ReminderService
	clock         clock.Clock
	log           *logger.Logger
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, taskSvc *service.TaskService, procSvc *service.ProcrastinationService, reminderSvc *service.ReminderService, clk clock.Clock, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if clk == nil {
		clk = clock.System{}
	}
	log = log.With("service", "TelegramBot")
	log.Info("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		taskSvc:       taskSvc,
		procSvc:       procSvc,
		reminderSvc:   reminderSvc,
		clock:         clk,
		log:           log,
		conversations: make(map[int64]*conversationState),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.log.Warn("handle callback", "error", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.log.Warn("handle message", "error", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Task creation cancelled.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Debug("command", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Send /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "alerts":
		return b.handleAlerts(ctx, msg)
	case "skip":
		return b.withTaskArg(ctx, msg, b.skipTask)
	case "done":
		return b.withTaskArg(ctx, msg, b.completeTask)
	case "delete":
		return b.withTaskArg(ctx, msg, b.deleteTask)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Task creation cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf("👋 Hi, %s!\n<b>I keep an eye on the tasks you keep putting off.</b>\n\n%s", escape(name), helpText)
	return b.sendText(msg.Chat.ID, text)
}

const helpText = "Commands:\n" +
	"• /newtask — add a task step by step\n" +
	"• /tasks — open tasks with Skip and Done buttons\n" +
	"• /alerts — check what is slipping right now\n" +
	"• /skip &lt;id&gt; — put a task off once more\n" +
	"• /done &lt;id&gt; — mark a task done\n" +
	"• /delete &lt;id&gt; — remove a task\n" +
	"• /cancel — abort the current input"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ "+helpText)
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Add a short description (or press Skip).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageTags
		return b.sendWithReplyMarkup(msg.Chat.ID, "🏷 Tags, comma separated (or Skip).", skipKeyboard())
	case stageTags:
		if !isSkipInput(text) {
			state.input.Tags = strings.Split(text, ",")
		}
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "⏰ Due date as <code>2026-11-30</code> or <code>2026-11-30 18:00</code> (or Skip).", skipKeyboard())
	case stageDueDate:
		if !isSkipInput(text) {
			due, err := parseDueDate(text)
			if err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Cannot read that date. Use <code>2026-11-30</code> or Skip.", skipKeyboard())
			}
			state.input.DueDate = &due
		}
		state.stage = stagePriority
		return b.sendWithReplyMarkup(msg.Chat.ID, "❗ Priority?", priorityKeyboard())
	case stagePriority:
		if !isSkipInput(text) {
			state.input.Priority = strings.ToLower(text)
		}
		err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Dialog reset. Try /newtask again.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user.ID, input)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}
	b.log.Info("task created", "task_id", task.ID, "user_id", user.ID)

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(task.Title)))
	summary.WriteString(fmt.Sprintf("• <b>Priority:</b> %s\n", task.Priority))
	if len(task.Tags) > 0 {
		summary.WriteString(fmt.Sprintf("• <b>Tags:</b> %s\n", escape(strings.Join(task.Tags, ", "))))
	}
	if task.DueDate != nil {
		summary.WriteString(fmt.Sprintf("• <b>Due:</b> %s\n", task.DueDate.Format("2006-01-02 15:04")))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(summary.String()))
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) handleAlerts(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	res, err := b.procSvc.CheckAlerts(ctx, user.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Check failed: %s", escape(err.Error())))
	}
	return b.sendAlerts(msg.Chat.ID, res.Alerts)
}

func (b *Bot) withTaskArg(ctx context.Context, msg *tgbotapi.Message, fn func(context.Context, int64, *tgbotapi.User, uint) error) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Give the task ID: /%s 12", msg.Command()))
	}
	taskID, err := parseTaskID(args, "")
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task ID must be a number.")
	}
	return fn(ctx, msg.Chat.ID, msg.From, taskID)
}

func (b *Bot) skipTask(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	res, err := b.procSvc.SkipTask(ctx, user.ID, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if err := b.sendText(chatID, fmt.Sprintf("⏭ Skipped. That is %s for task #%d.", times(res.SkipCount), taskID)); err != nil {
		return err
	}
	if res.Alert == nil {
		return nil
	}
	if err := b.sendAlert(chatID, *res.Alert); err != nil {
		return err
	}
	if !res.NeedsCoaching {
		return nil
	}
	in, err := b.procSvc.TriggerIntervention(ctx, user.ID, service.TriggerInput{
		TaskID:   taskID,
		Severity: res.Alert.Severity,
		RuleID:   res.Alert.RuleID,
	})
	if err != nil {
		b.log.Warn("coaching intervention failed", "task_id", taskID, "user_id", user.ID, "error", err)
		return nil
	}
	return b.sendWithReplyMarkup(chatID, "💬 "+escape(in.Message),
		alertKeyboard(model.Alert{ID: in.InterventionID, TaskID: in.TaskID}))
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.CompleteTask(ctx, user.ID, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	b.log.Info("task completed", "task_id", task.ID, "user_id", user.ID)
	if err := b.sendText(chatID, fmt.Sprintf("✅ «%s» is done.", escape(task.Title))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) deleteTask(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user.ID, taskID)
	if err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	if err := b.taskSvc.DeleteTask(ctx, user.ID, taskID); err != nil {
		return b.sendText(chatID, userMessage(err))
	}
	b.log.Info("task deleted", "task_id", task.ID, "user_id", user.ID)
	return b.sendText(chatID, fmt.Sprintf("🗑 «%s» deleted.", escape(task.Title)))
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListOpen(ctx, user.ID)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "No open tasks. Add one with /newtask.")
	}

	now := b.clock.Now()
	var builder strings.Builder
	builder.WriteString("📋 <b>Open tasks</b>\n")
	builder.WriteString("Skip puts a task off once more, Done closes it.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, now))
		buttons = append(buttons, taskButtons(task))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	ack := func(text string) {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
			b.log.Warn("callback ack", "error", err)
		}
	}

	data := cb.Data
	chatID := cb.Message.Chat.ID
	b.log.Debug("callback", "from", cb.From.ID, "data", data)

	switch {
	case strings.HasPrefix(data, cbSkipPrefix):
		ack("")
		taskID, err := parseTaskID(data, cbSkipPrefix)
		if err != nil {
			return nil
		}
		return b.skipTask(ctx, chatID, cb.From, taskID)
	case strings.HasPrefix(data, cbDonePrefix):
		ack("")
		taskID, err := parseTaskID(data, cbDonePrefix)
		if err != nil {
			return nil
		}
		return b.completeTask(ctx, chatID, cb.From, taskID)
	case strings.HasPrefix(data, cbFeedbackPrefix):
		in, ok := decodeFeedback(data)
		if !ok {
			ack("")
			return nil
		}
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			ack("")
			return err
		}
		if _, err := b.procSvc.SubmitFeedback(ctx, user.ID, in); err != nil {
			ack("Could not save feedback")
			return err
		}
		ack("Thanks for the feedback!")
		return nil
	default:
		ack("")
		return nil
	}
}

// SendAlertDigests pushes alerts that are out of cooldown to every linked user.
func (b *Bot) SendAlertDigests(ctx context.Context) error {
	users, err := b.userRepo.ListLinked(ctx)
	if err != nil {
		return err
	}
	now := b.clock.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		alerts, err := b.reminderSvc.PendingAlerts(ctx, user)
		if err != nil {
			b.log.Warn("build digest failed", "user_id", user.ID, "error", err)
			continue
		}
		if len(alerts) == 0 {
			continue
		}
		chatID := *user.TelegramID
		if err := b.sendText(chatID, service.DigestHeader(alerts, now)); err != nil {
			b.log.Warn("send digest failed", "user_id", user.ID, "error", err)
			continue
		}
		for _, alert := range alerts {
			if err := b.sendAlert(chatID, alert); err != nil {
				b.log.Warn("send alert failed", "user_id", user.ID, "alert_id", alert.ID, "error", err)
			}
		}
	}
	return nil
}

func (b *Bot) sendAlerts(chatID int64, alerts []model.Alert) error {
	if err := b.sendText(chatID, service.DigestHeader(alerts, b.clock.Now())); err != nil {
		return err
	}
	for _, alert := range alerts {
		if err := b.sendAlert(chatID, alert); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) sendAlert(chatID int64, alert model.Alert) error {
	msg := tgbotapi.NewMessage(chatID, service.FormatAlert(alert, b.clock.Now()))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = alertKeyboard(alert)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelNewTask:
		return true, b.startNewTaskConversation(ctx, msg)
	case menuLabelTasks:
		return true, b.handleListTasks(ctx, msg)
	case menuLabelAlerts:
		return true, b.handleAlerts(ctx, msg)
	case menuLabelHelp:
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.conversations[userID]
	return ok && state != nil && state.stage != stageNone
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

// userMessage turns service errors into chat replies.
func userMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "Task not found."
	case apperr.KindValidation:
		return escape(err.Error())
	default:
		return "Something went wrong, try again later."
	}
}

func times(n int) string {
	if n == 1 {
		return "1 time"
	}
	return fmt.Sprintf("%d times", n)
}

func parseDueDate(text string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(text)); err == nil {
			if layout == "2006-01-02" {
				t = t.Add(23*time.Hour + 59*time.Minute)
			}
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", text)
}
