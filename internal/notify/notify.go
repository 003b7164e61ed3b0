// Package notify delivers operator notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts messages to a single admin chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegram(bot *telego.Bot, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), text)); err != nil {
		return fmt.Errorf("notify: send to chat %d: %w", t.chatID, err)
	}
	return nil
}

// Best sends text and only logs a delivery failure.
func Best(ctx context.Context, n Notifier, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, text); err != nil {
		slog.Warn("notification not delivered", "error", err)
	}
}
