package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Discord caps message content at 2000 characters.
const discordMaxContent = 2000

// Webhook posts JSON payloads to an incoming-webhook URL.
type Webhook struct {
	url     string
	client  HTTPClient
	limiter *rate.Limiter
	payload func(Message) any
}

// NewSlack creates a Slack incoming-webhook notifier.
func NewSlack(url string, client HTTPClient) *Webhook {
	return &Webhook{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		payload: func(m Message) any {
			return map[string]string{"text": m.Text}
		},
	}
}

// NewDiscord creates a Discord webhook notifier. The post author's display
// name is used as the webhook username.
func NewDiscord(url string, client HTTPClient) *Webhook {
	return &Webhook{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		payload: func(m Message) any {
			p := map[string]string{"content": truncate(m.Text, discordMaxContent)}
			if m.Username != "" {
				p["username"] = m.Username
			}
			return p
		},
	}
}

// SetLimiter overrides the send rate limiter.
func (w *Webhook) SetLimiter(l *rate.Limiter) {
	w.limiter = l
}

// Send posts msg to the webhook.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(w.payload(msg))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
