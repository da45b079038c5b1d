// Package notify delivers execution results to configured channels.
package notify

import (
	"context"
	"fmt"

	"phonepilot/internal/core"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Channel types.
const (
	TypeDingTalk = "dingtalk"
	TypeTelegram = "telegram"
	TypeBark     = "bark"
)

// ForChannel builds a notifier from a stored channel record.
func ForChannel(ch *core.NotificationChannel) (Notifier, error) {
	switch ch.Type {
	case TypeDingTalk:
		return NewDingTalkNotifier(ch.Config["webhook"], ch.Config["secret"])
	case TypeTelegram:
		return NewTelegramNotifier(ch.Config["bot_token"], ch.Config["chat_id"])
	case TypeBark:
		return NewBarkNotifier(ch.Config["url"])
	default:
		return nil, fmt.Errorf("unsupported notification type: %s", ch.Type)
	}
}
