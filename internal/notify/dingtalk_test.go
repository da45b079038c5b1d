package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDingTalkSign(t *testing.T) {
	n, err := NewDingTalkNotifier("https://oapi.dingtalk.com/robot/send?access_token=x", "SECdemo")
	require.NoError(t, err)
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }

	timestamp, sign := n.sign()
	assert.Equal(t, "1700000000000", timestamp)
	assert.NotEmpty(t, sign)

	// The signature is deterministic for a fixed clock and secret.
	_, again := n.sign()
	assert.Equal(t, sign, again)
}

func TestDingTalkSendSigned(t *testing.T) {
	var gotQuery map[string][]string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	n, err := NewDingTalkNotifier(srv.URL+"/robot/send?access_token=x", "secret")
	require.NoError(t, err)
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, n.Send(context.Background(), "Task succeeded: demo", "all done"))

	assert.Equal(t, []string{"1700000000000"}, gotQuery["timestamp"])
	assert.NotEmpty(t, gotQuery["sign"])

	assert.Equal(t, "markdown", gotPayload["msgtype"])
	md := gotPayload["markdown"].(map[string]any)
	assert.Equal(t, "Task succeeded: demo", md["title"])
	assert.Contains(t, md["text"], "### Task succeeded: demo")
	assert.Contains(t, md["text"], "all done")
}

func TestDingTalkSendUnsigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("timestamp"))
		w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	n, err := NewDingTalkNotifier(srv.URL+"/robot/send?access_token=x", "")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "t", "b"))
}

func TestDingTalkAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":310000,"errmsg":"sign not match"}`))
	}))
	defer srv.Close()

	n, err := NewDingTalkNotifier(srv.URL+"/robot/send?access_token=x", "s")
	require.NoError(t, err)

	err = n.Send(context.Background(), "t", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign not match")
}

func TestDingTalkEmptyWebhook(t *testing.T) {
	_, err := NewDingTalkNotifier("", "s")
	assert.Error(t, err)
}
