package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// maxContentLen is Discord's message length limit.
const maxContentLen = 2000

// WebhookPoster posts Discord-compatible {"content": ...} payloads. The target is the
// webhook URL.
type WebhookPoster struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

type webhookPayload struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

func (p *WebhookPoster) Create(ctx context.Context, msg Message) (Posted, error) {
	u, err := url.Parse(msg.ChannelID)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Posted{}, fmt.Errorf("invalid webhook url %q", msg.ChannelID)
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()

	content := msg.Content
	if r := []rune(content); len(r) > maxContentLen {
		content = string(r[:maxContentLen-1]) + "…"
	}
	body, err := json.Marshal(webhookPayload{
		Content:         content,
		AllowedMentions: allowedMentions{Parse: []string{"roles"}},
	})
	if err != nil {
		return Posted{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Posted{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Posted{}, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Posted{}, fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	posted := Posted{ChannelID: msg.ChannelID, At: p.now()}
	var created struct {
		ID string `json:"id"`
	}
	if len(respBody) > 0 && json.Unmarshal(respBody, &created) == nil && created.ID != "" {
		posted.ID = created.ID
	} else {
		posted.ID = uuid.NewString()
	}
	return posted, nil
}

func (p *WebhookPoster) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
