// Package telegram delivers operator alerts to a Telegram chat and answers
// a couple of read-only commands from that chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/usage"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

var ErrNoChat = errors.New("telegram chat id not configured")

// Reporter renders the reply to a command.
type Reporter func() string

type Bot struct {
	bot      *telego.Bot
	cfg      config.TelegramConfig
	commands map[string]Reporter
}

func NewBot(cfg config.TelegramConfig) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{
		bot:      bot,
		cfg:      cfg,
		commands: make(map[string]Reporter),
	}, nil
}

// Handle registers a command (without the leading slash). Must be called
// before Start.
func (b *Bot) Handle(command string, r Reporter) {
	b.commands[command] = r
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	for name, report := range b.commands {
		handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
			if message.Chat.ID != b.cfg.ChatID {
				slog.Warn("telegram command from unknown chat", "chat_id", message.Chat.ID, "command", name)
				return nil
			}
			if err := b.SendMessage(ctx, message.Chat.ID, report()); err != nil {
				slog.Error("telegram reply failed", "command", name, "error", err)
			}
			return nil
		}, th.CommandEqual(name))
	}

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

// Notify sends text to the configured chat.
func (b *Bot) Notify(ctx context.Context, text string) error {
	if b.cfg.ChatID == 0 {
		return ErrNoChat
	}
	return b.SendMessage(ctx, b.cfg.ChatID, text)
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// FormatUsage renders tracker stats as a plain-text report.
func FormatUsage(session usage.SessionStats, daily usage.DailyStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage today (%s)\n", daily.Date)
	fmt.Fprintf(&sb, "Calls: %d (api %d, cached %d)\n", daily.TotalCalls, daily.APICalls, daily.CachedCalls)
	fmt.Fprintf(&sb, "Tokens: ~%d\n", daily.EstimatedTokens)
	sb.WriteString("\nThis session\n")
	fmt.Fprintf(&sb, "Calls: %d (api %d, cached %d)\n", session.TotalCalls, session.APICalls, session.CachedCalls)
	fmt.Fprintf(&sb, "Tokens: ~%d\n", session.EstimatedTokens)
	fmt.Fprintf(&sb, "Cache hit rate: %.1f%%", session.CacheHitRate)

	modes := make([]string, 0, len(session.Modes))
	for m := range session.Modes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	for _, m := range modes {
		fmt.Fprintf(&sb, "\n  %s: %d", m, session.Modes[m])
	}
	return sb.String()
}
