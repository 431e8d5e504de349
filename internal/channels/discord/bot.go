// Package discord delivers dose reminders as Discord direct messages
// with take/skip/snooze buttons.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	"go.uber.org/zap"
)

// Config holds Discord bot configuration
type Config struct {
	Token   string
	Enabled bool
}

// Bot represents a Discord bot instance
type Bot struct {
	session *discordgo.Session
	store   *store.Store
	actions *reminder.Actions
	logger  *zap.Logger
	enabled bool
}

// NewBot creates a new Discord bot. A disabled config yields an inert bot.
func NewBot(cfg Config, st *store.Store, actions *reminder.Actions, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false}, nil
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		store:   st,
		actions: actions,
		logger:  logger,
		enabled: true,
	}

	session.AddHandler(bot.ready)
	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.interactionCreate)

	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages

	return bot, nil
}

// Start starts the Discord bot
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	return nil
}

// Stop stops the Discord bot
func (b *Bot) Stop() error {
	if !b.enabled {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", s.State.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

// Name implements reminder.Notifier.
func (b *Bot) Name() string { return "discord" }

// Enabled implements reminder.Notifier.
func (b *Bot) Enabled(user *store.User) bool {
	return b.enabled && user.DiscordUserID != ""
}

// Send implements reminder.Notifier: DMs the user a reminder with
// action buttons carrying the occurrence id.
func (b *Bot) Send(ctx context.Context, user *store.User, rem reminder.Reminder) error {
	if !b.enabled {
		return apperrors.ErrChannelNotConfigured
	}
	if user.DiscordUserID == "" {
		return apperrors.ErrChannelNotConfigured
	}

	channel, err := b.session.UserChannelCreate(user.DiscordUserID)
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}

	content := fmt.Sprintf("🔔 **Medication Reminder**\n\n💊 **%s**\n", rem.MedicationName)
	if rem.Dosage != "" {
		content += fmt.Sprintf("📋 Dosage: %s\n", rem.Dosage)
	}
	content += fmt.Sprintf("⏰ Scheduled for: %s", rem.ScheduledAt.Format("15:04"))

	_, err = b.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content: content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Take",
						Style:    discordgo.SuccessButton,
						CustomID: "TAKE:" + rem.LogID,
					},
					discordgo.Button{
						Label:    "Skip",
						Style:    discordgo.DangerButton,
						CustomID: "SKIP:" + rem.LogID,
					},
					discordgo.Button{
						Label:    "Snooze 5m",
						Style:    discordgo.SecondaryButton,
						CustomID: "SNOOZE:" + rem.LogID,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// interactionCreate applies button presses and updates the message so
// the buttons disappear.
func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	data := i.MessageComponentData()
	parts := strings.SplitN(data.CustomID, ":", 2)
	if len(parts) != 2 {
		return
	}

	var kind reminder.ActionKind
	switch parts[0] {
	case "TAKE":
		kind = reminder.ActionTake
	case "SKIP":
		kind = reminder.ActionSkip
	case "SNOOZE":
		kind = reminder.ActionSnooze
	default:
		return
	}

	updated, err := b.actions.Apply(context.Background(), parts[1], reminder.Action{Kind: kind})
	if err != nil {
		b.logger.Warn("Discord action failed",
			zap.String("log_id", parts[1]),
			zap.String("action", string(kind)),
			zap.Error(err),
		)
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "❌ Failed to update dose status.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	// Replace the original message, stripping the buttons.
	content := i.Message.Content + "\n\n" + reminder.StatusText(updated.Status)
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.logger.Warn("Failed to update reminder message", zap.Error(err))
	}
}

// messageCreate handles DM commands, mainly the account link flow.
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.GuildID != "" {
		return
	}

	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "/") {
		return
	}

	parts := strings.Fields(content)
	switch parts[0] {
	case "/link":
		if len(parts) < 2 {
			s.ChannelMessageSend(m.ChannelID, "Usage: `/link <token>` with the token from the app.")
			return
		}
		b.linkAccount(s, m, parts[1])

	case "/status":
		latency := s.HeartbeatLatency().Milliseconds()
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🟢 Online | Latency: %dms", latency))

	case "/help":
		s.ChannelMessageSend(m.ChannelID, "**MediTrack Bot**\n\n• `/link <token>` - Link this account\n• `/status` - Check bot status\n• `/help` - Show this help")
	}
}

func (b *Bot) linkAccount(s *discordgo.Session, m *discordgo.MessageCreate, token string) {
	userID, err := b.store.ConsumeLinkToken(token)
	if err != nil {
		s.ChannelMessageSend(m.ChannelID, "❌ Invalid or expired connection link. Please try again from the app.")
		return
	}

	if err := b.store.SetDiscordUser(userID, m.Author.ID); err != nil {
		b.logger.Error("Failed to link discord account",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.ChannelMessageSend(m.ChannelID, "❌ Failed to connect account. Please try again.")
		return
	}

	s.ChannelMessageSend(m.ChannelID, "✅ **Successfully connected!**\n\nYou will now receive medication reminders here.")
}
