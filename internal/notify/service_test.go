package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"phonepilot/internal/core"
)

type fakeChannelSource struct {
	enabled  []*core.NotificationChannel
	byID     []*core.NotificationChannel
	askedIDs []string
	listed   bool
}

func (f *fakeChannelSource) ListEnabledChannels(ctx context.Context) ([]*core.NotificationChannel, error) {
	f.listed = true
	return f.enabled, nil
}

func (f *fakeChannelSource) GetChannelsByIDs(ctx context.Context, ids []string) ([]*core.NotificationChannel, error) {
	f.askedIDs = ids
	return f.byID, nil
}

func testService(src ChannelSource) *Service {
	return NewService(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNotifyUsesChannelSubset(t *testing.T) {
	src := &fakeChannelSource{}
	svc := testService(src)

	task := &core.Task{Name: "demo", NotificationChannelIDs: []string{"ch-1"}}
	svc.Notify(context.Background(), task, core.ExecutionSummary{Status: core.ExecutionSuccess})

	assert.Equal(t, []string{"ch-1"}, src.askedIDs)
	assert.False(t, src.listed)
}

func TestNotifyDefaultsToAllEnabled(t *testing.T) {
	src := &fakeChannelSource{}
	svc := testService(src)

	task := &core.Task{Name: "demo"}
	svc.Notify(context.Background(), task, core.ExecutionSummary{Status: core.ExecutionFailed})

	assert.True(t, src.listed)
	assert.Nil(t, src.askedIDs)
}

func TestNotifySkipsBrokenChannelConfig(t *testing.T) {
	// A channel with no webhook cannot build a notifier; Notify must not
	// fail, just skip it.
	src := &fakeChannelSource{enabled: []*core.NotificationChannel{
		{ID: "bad", Type: TypeDingTalk, Config: map[string]string{}, Enabled: true},
		{ID: "worse", Type: "pigeon", Enabled: true},
	}}
	svc := testService(src)

	svc.Notify(context.Background(), &core.Task{Name: "demo"}, core.ExecutionSummary{Status: core.ExecutionSuccess})
}

func TestFormatSuccess(t *testing.T) {
	task := &core.Task{Name: "daily checkin"}
	finished := time.Date(2025, 3, 10, 8, 5, 0, 0, time.UTC)

	title, body := format(task, core.ExecutionSummary{
		Status:     core.ExecutionSuccess,
		ResultText: "checked in",
		FinishedAt: finished,
	})
	assert.Equal(t, "Task succeeded: daily checkin", title)
	assert.Contains(t, body, "checked in")
	assert.Contains(t, body, "Finished:")
}

func TestFormatFailurePrefersErrorMessage(t *testing.T) {
	task := &core.Task{Name: "daily checkin"}

	title, body := format(task, core.ExecutionSummary{
		Status:       core.ExecutionFailed,
		ResultText:   "partial",
		ErrorMessage: "device offline",
		FinishedAt:   time.Now(),
	})
	assert.Equal(t, "Task failed: daily checkin", title)
	assert.Contains(t, body, "device offline")
}

func TestFormatFallsBackToStatus(t *testing.T) {
	_, body := format(&core.Task{Name: "x"}, core.ExecutionSummary{
		Status:     core.ExecutionFailed,
		FinishedAt: time.Now(),
	})
	assert.Contains(t, body, "failed")
}

func TestForChannelTypes(t *testing.T) {
	cases := []struct {
		ch *core.NotificationChannel
		ok bool
	}{
		{&core.NotificationChannel{Type: TypeDingTalk, Config: map[string]string{"webhook": "https://x"}}, true},
		{&core.NotificationChannel{Type: TypeTelegram, Config: map[string]string{"bot_token": "t", "chat_id": "c"}}, true},
		{&core.NotificationChannel{Type: TypeBark, Config: map[string]string{"url": "https://bark/key"}}, true},
		{&core.NotificationChannel{Type: TypeTelegram, Config: map[string]string{"bot_token": "t"}}, false},
		{&core.NotificationChannel{Type: "smoke-signal"}, false},
	}
	for _, tc := range cases {
		n, err := ForChannel(tc.ch)
		if tc.ok {
			assert.NoError(t, err, tc.ch.Type)
			assert.NotNil(t, n)
		} else {
			assert.Error(t, err, tc.ch.Type)
		}
	}
}
