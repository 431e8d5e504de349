// Package app wires the store, channels, dispatcher, and API server
// together and runs the process lifecycle.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davmgs/meditrack/internal/api"
	"github.com/davmgs/meditrack/internal/channels/discord"
	"github.com/davmgs/meditrack/internal/channels/inapp"
	"github.com/davmgs/meditrack/internal/channels/push"
	"github.com/davmgs/meditrack/internal/channels/telegram"
	"github.com/davmgs/meditrack/internal/config"
	"github.com/davmgs/meditrack/internal/cron"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	"go.uber.org/zap"
)

type App struct {
	Config      *config.Config
	ConfigPath  string
	Store       *store.Store
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	CronRunner  *cron.Runner
	Version     string
}

func New(cfg *config.Config, configPath string, st *store.Store, logger *zap.Logger, version string) *App {
	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Store:      st,
		Logger:     logger,
		Metrics:    metrics.Default(),
		Version:    version,
	}
}

func (app *App) RunServer() {
	actions := reminder.NewActions(app.Store, app.Config, app.Logger, app.Metrics)

	hub := inapp.NewHub(app.Logger)
	pushSender := push.NewSender(push.Config{
		Enabled:         app.Config.Channels.Push.Enabled,
		VAPIDPublicKey:  app.Config.Channels.Push.VAPIDPublicKey,
		VAPIDPrivateKey: app.Config.Channels.Push.VAPIDPrivateKey,
		Subscriber:      app.Config.Channels.Push.Subscriber,
	}, app.Logger)

	telegramBot, err := telegram.NewBot(telegram.Config{
		Token:    app.Config.Channels.Telegram.BotToken,
		Enabled:  app.Config.Channels.Telegram.Enabled,
		SendRate: app.Config.Channels.Telegram.SendRate,
	}, app.Store, actions, app.Logger)
	if err != nil {
		app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		telegramBot, _ = telegram.NewBot(telegram.Config{}, app.Store, actions, app.Logger)
	}
	app.TelegramBot = telegramBot

	discordBot, err := discord.NewBot(discord.Config{
		Token:   app.Config.Channels.Discord.Token,
		Enabled: app.Config.Channels.Discord.Enabled,
	}, app.Store, actions, app.Logger)
	if err != nil {
		app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		discordBot, _ = discord.NewBot(discord.Config{}, app.Store, actions, app.Logger)
	}
	app.DiscordBot = discordBot

	notifiers := []reminder.Notifier{telegramBot, discordBot, pushSender, hub}
	dispatcher := reminder.NewDispatcher(app.Store, notifiers, app.Config, app.Logger, app.Metrics)

	// Telegram uses long polling unless a webhook URL is configured;
	// with a webhook the updates arrive through the API instead.
	if app.Config.Channels.Telegram.Webhook == "" {
		if err := telegramBot.Start(); err != nil {
			app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		}
	}

	if err := discordBot.Start(); err != nil {
		app.Logger.Error("Failed to start Discord bot", zap.Error(err))
	}

	if app.Config.Reminders.Enabled {
		app.CronRunner = cron.NewRunner(app.Config.Reminders, dispatcher, app.Logger)
		if err := app.CronRunner.Start(); err != nil {
			app.Logger.Error("Failed to start cron runner", zap.Error(err))
		}
	} else {
		app.Logger.Info("Internal scheduler disabled, relying on external cron trigger")
	}

	// Reload reminder tuning when the config file changes on disk.
	var watcher *config.Watcher
	if app.ConfigPath != "" {
		watcher, err = config.NewWatcher(app.ConfigPath, app.Config.Storage.DataDir, app.Logger, func(cfg *config.Config) {
			app.Config = cfg
			dispatcher.ApplyConfig(cfg)
		})
		if err != nil {
			app.Logger.Warn("Config watcher unavailable", zap.Error(err))
		}
	}

	server := api.New(app.Config, api.Deps{
		Store:      app.Store,
		Dispatcher: dispatcher,
		Actions:    actions,
		Hub:        hub,
		Telegram:   telegramBot,
		Push:       pushSender,
		Metrics:    app.Metrics,
	}, app.Logger)

	go func() {
		if err := server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")

	if watcher != nil {
		watcher.Close()
	}

	telegramBot.Stop()
	discordBot.Stop()

	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := app.Store.Close(); err != nil {
		app.Logger.Error("Store close error", zap.Error(err))
	}
}
