package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts messages to an incoming webhook.
type Slack struct {
	url    string
	client *http.Client
}

// NewSlack creates a Slack webhook sender.
func NewSlack(url string) *Slack {
	return &Slack{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Send implements Sender. Text is posted when set, otherwise the subject.
func (s *Slack) Send(ctx context.Context, msg Message) error {
	text := msg.Text
	if text == "" {
		text = msg.Subject
	}

	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("post to slack: unexpected status %d", res.StatusCode)
	}
	return nil
}
