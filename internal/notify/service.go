package notify

import (
	"context"
	"fmt"
	"log/slog"

	"phonepilot/internal/core"
)

// ChannelSource loads notification channel records.
type ChannelSource interface {
	ListEnabledChannels(ctx context.Context) ([]*core.NotificationChannel, error)
	GetChannelsByIDs(ctx context.Context, ids []string) ([]*core.NotificationChannel, error)
}

// Service fans an execution summary out to the task's channels. Implements
// core.NotificationSink. Delivery is best effort; failures are logged, never
// surfaced to the run.
type Service struct {
	channels ChannelSource
	logger   *slog.Logger
}

func NewService(channels ChannelSource, logger *slog.Logger) *Service {
	return &Service{channels: channels, logger: logger}
}

func (s *Service) Notify(ctx context.Context, task *core.Task, summary core.ExecutionSummary) {
	var (
		channels []*core.NotificationChannel
		err      error
	)
	if len(task.NotificationChannelIDs) > 0 {
		channels, err = s.channels.GetChannelsByIDs(ctx, task.NotificationChannelIDs)
	} else {
		channels, err = s.channels.ListEnabledChannels(ctx)
	}
	if err != nil {
		s.logger.Error("load notification channels", "task", task.Name, "err", err)
		return
	}

	title, body := format(task, summary)
	for _, ch := range channels {
		notifier, err := ForChannel(ch)
		if err != nil {
			s.logger.Warn("skip notification channel", "channel", ch.ID, "err", err)
			continue
		}
		if err := notifier.Send(ctx, title, body); err != nil {
			s.logger.Warn("send notification", "channel", ch.ID, "type", ch.Type, "err", err)
		}
	}
}

func format(task *core.Task, summary core.ExecutionSummary) (title, body string) {
	if summary.Status == core.ExecutionSuccess {
		title = fmt.Sprintf("Task succeeded: %s", task.Name)
	} else {
		title = fmt.Sprintf("Task failed: %s", task.Name)
	}

	result := summary.ResultText
	if summary.Status != core.ExecutionSuccess && summary.ErrorMessage != "" {
		result = summary.ErrorMessage
	}
	if result == "" {
		result = string(summary.Status)
	}
	body = fmt.Sprintf("%s\n\nFinished: %s", result, summary.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	return title, body
}
