// Package telegram delivers dose reminders over a Telegram bot and feeds
// button presses back into the action handler.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds Telegram bot configuration
type Config struct {
	Token    string
	Enabled  bool
	SendRate float64 // outgoing messages per second
}

// Bot represents the Telegram channel.
type Bot struct {
	api     *tgbotapi.BotAPI
	store   *store.Store
	actions *reminder.Actions
	logger  *zap.Logger
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	enabled bool
}

// NewBot creates a new Telegram bot. A disabled config yields an inert
// bot so callers don't special-case the channel being off.
func NewBot(cfg Config, st *store.Store, actions *reminder.Actions, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false

	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 25 // Telegram caps bots around 30 msg/s
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bot{
		api:     api,
		store:   st,
		actions: actions,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(sendRate), 5),
		ctx:     ctx,
		cancel:  cancel,
		enabled: true,
	}, nil
}

// Start starts the update loop.
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}

	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	b.wg.Add(1)
	go b.run()
	return nil
}

// Stop stops the bot.
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}
	b.cancel()
	b.wg.Wait()
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.HandleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

// Name implements reminder.Notifier.
func (b *Bot) Name() string { return "telegram" }

// Enabled implements reminder.Notifier.
func (b *Bot) Enabled(user *store.User) bool {
	return b.enabled && user.TelegramChatID != nil
}

// Send implements reminder.Notifier: a reminder message with inline
// take/skip/snooze buttons carrying the occurrence id.
func (b *Bot) Send(ctx context.Context, user *store.User, rem reminder.Reminder) error {
	if !b.enabled {
		return apperrors.ErrChannelNotConfigured
	}
	if user.TelegramChatID == nil {
		return apperrors.ErrChannelNotConfigured
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	text := fmt.Sprintf("🔔 *Medication Reminder*\n\n💊 *%s*\n", rem.MedicationName)
	if rem.Dosage != "" {
		text += fmt.Sprintf("📋 Dosage: %s\n", rem.Dosage)
	}
	text += fmt.Sprintf("⏰ Scheduled for: %s\n\nPlease take your medication now!",
		rem.ScheduledAt.Format("15:04"))

	msg := tgbotapi.NewMessage(*user.TelegramChatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Take", EncodeCallback(reminder.ActionTake, rem.LogID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Skip", EncodeCallback(reminder.ActionSkip, rem.LogID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💤 Snooze 5m", EncodeCallback(reminder.ActionSnooze, rem.LogID)),
		),
	)

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// HandleUpdate processes one update from polling or the webhook
// endpoint.
func (b *Bot) HandleUpdate(update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return b.handleCallback(update.CallbackQuery)
	}

	if update.Message != nil && update.Message.Text != "" {
		return b.handleMessage(update.Message)
	}

	return nil
}

// handleCallback applies a button press and edits the message so the
// buttons disappear; pressing an already-answered button is a no-op from
// the user's point of view.
func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) error {
	kind, logID, err := DecodeCallback(cb.Data)
	if err != nil {
		b.api.Request(tgbotapi.NewCallback(cb.ID, "Unknown action"))
		return err
	}

	// Telegram can redeliver a callback; drop repeats.
	first, err := b.store.FirstSeen("tg-cb:"+cb.ID, 10*time.Minute)
	if err == nil && !first {
		b.api.Request(tgbotapi.NewCallback(cb.ID, ""))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, 15*time.Second)
	defer cancel()

	updated, err := b.actions.Apply(ctx, logID, reminder.Action{Kind: kind})
	if err != nil {
		b.logger.Warn("Callback action failed",
			zap.String("log_id", logID),
			zap.String("action", string(kind)),
			zap.Error(err),
		)
		b.api.Request(tgbotapi.NewCallback(cb.ID, "Failed to update status"))
		return nil
	}

	replyText := reminder.StatusText(updated.Status)

	// Stop the button spinner, then strip the keyboard and append the
	// outcome to the original message.
	b.api.Request(tgbotapi.NewCallback(cb.ID, replyText))

	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(
			cb.Message.Chat.ID,
			cb.Message.MessageID,
			cb.Message.Text+"\n\n"+replyText,
		)
		if _, err := b.api.Send(edit); err != nil {
			b.logger.Warn("Failed to edit reminder message", zap.Error(err))
		}
	}

	return nil
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		return nil
	}

	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		token := strings.TrimSpace(msg.CommandArguments())
		if token == "" {
			return b.reply(chatID, "👋 Welcome! Open the app and use *Connect Telegram* to link this chat to your account.")
		}
		return b.linkAccount(chatID, token)

	case "status":
		user, err := b.store.GetUserByTelegramChat(chatID)
		if err != nil || user == nil {
			return b.reply(chatID, "This chat is not linked to an account yet. Use /start with your link token.")
		}
		return b.reply(chatID, "✅ Connected. You will receive medication reminders here.")

	case "help":
		return b.reply(chatID, "*MediTrack Bot*\n\n/start <token> - Link this chat to your account\n/status - Check connection\n/help - Show this help")

	default:
		return b.reply(chatID, "❓ Unknown command. Use /help for available commands.")
	}
}

func (b *Bot) linkAccount(chatID int64, token string) error {
	userID, err := b.store.ConsumeLinkToken(token)
	if err != nil {
		return b.reply(chatID, "❌ Invalid or expired connection link. Please try again from the app.")
	}

	if err := b.store.SetTelegramChat(userID, chatID); err != nil {
		b.logger.Error("Failed to link telegram chat",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return b.reply(chatID, "❌ Failed to connect account. Please try again.")
	}

	b.logger.Info("Telegram chat linked",
		zap.String("user_id", userID),
		zap.Int64("chat_id", chatID),
	)
	return b.reply(chatID, "✅ *Successfully connected!*\n\nYou will now receive medication reminders in this chat.")
}

// SendTest sends a connectivity check message to a chat.
func (b *Bot) SendTest(ctx context.Context, chatID int64) error {
	if !b.enabled {
		return apperrors.ErrChannelNotConfigured
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	return b.reply(chatID, "✅ *Test successful!*\n\nYour Telegram notifications are working correctly.")
}

func (b *Bot) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err := b.api.Send(msg)
	if err != nil {
		// Retry once without markdown; formatting errors shouldn't eat
		// the message.
		msg.ParseMode = ""
		_, err = b.api.Send(msg)
	}
	return err
}
