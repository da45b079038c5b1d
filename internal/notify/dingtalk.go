package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DingTalkNotifier sends markdown messages through a DingTalk group robot
// webhook, signing requests when the robot has a secret configured.
type DingTalkNotifier struct {
	webhook string
	secret  string
	client  *http.Client
	now     func() time.Time
}

// NewDingTalkNotifier creates a new DingTalk notifier.
func NewDingTalkNotifier(webhook, secret string) (*DingTalkNotifier, error) {
	if webhook == "" {
		return nil, fmt.Errorf("dingtalk webhook is empty")
	}
	return &DingTalkNotifier{
		webhook: webhook,
		secret:  secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}, nil
}

func (d *DingTalkNotifier) Send(ctx context.Context, title, body string) error {
	reqURL := d.webhook
	if d.secret != "" {
		timestamp, sign := d.sign()
		reqURL = fmt.Sprintf("%s&timestamp=%s&sign=%s", d.webhook, timestamp, sign)
	}

	payload, err := json.Marshal(map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": title,
			"text":  fmt.Sprintf("### %s\n\n%s", title, body),
		},
	})
	if err != nil {
		return fmt.Errorf("marshal dingtalk payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create dingtalk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send dingtalk notification: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode dingtalk response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("dingtalk api error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// sign computes the robot signature: HMAC-SHA256 over "timestamp\nsecret",
// base64 then URL encoded.
func (d *DingTalkNotifier) sign() (timestamp, sign string) {
	timestamp = strconv.FormatInt(d.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(d.secret))
	mac.Write([]byte(timestamp + "\n" + d.secret))
	sign = url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return timestamp, sign
}
