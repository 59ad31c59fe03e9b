package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/bulletin/internal/events"
)

// MattermostHandler posts activity.published events to a Mattermost
// incoming webhook. Other event types are acknowledged and ignored.
type MattermostHandler struct {
	webhookURL string
	client     *http.Client
	username   string
	linkBase   string
}

// MattermostOption configures a MattermostHandler.
type MattermostOption func(*MattermostHandler)

// WithHTTPClient overrides the HTTP client used for webhook calls.
func WithHTTPClient(client *http.Client) MattermostOption {
	return func(h *MattermostHandler) { h.client = client }
}

// WithLinkBase appends a link to {base}/{activity_id} to every post.
func WithLinkBase(base string) MattermostOption {
	return func(h *MattermostHandler) { h.linkBase = strings.TrimRight(base, "/") }
}

// NewMattermostHandler constructs a handler for the given webhook URL.
func NewMattermostHandler(webhookURL string, opts ...MattermostOption) *MattermostHandler {
	h := &MattermostHandler{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		username:   "bulletin",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type webhookPost struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

// Handle formats the event and posts it. Malformed payloads and 4xx
// responses are permanent. Transport errors and 5xx are returned as is so
// the processor retries them.
func (h *MattermostHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.ActivityPublishedType {
		return nil
	}

	var event events.ActivityPublished
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrPermanent, msg.EventType, err)
	}
	if event.ActivityID == "" {
		return fmt.Errorf("%w: %s without activity_id", ErrPermanent, msg.EventType)
	}

	body, err := json.Marshal(webhookPost{Text: h.format(event), Username: h.username})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		recordChatPost("transport_error")
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		recordChatPost("server_error")
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	case resp.StatusCode >= 300:
		recordChatPost("rejected")
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: webhook returned %d: %s", ErrPermanent, resp.StatusCode, bytes.TrimSpace(data))
	}
	recordChatPost("ok")
	return nil
}

func (h *MattermostHandler) format(event events.ActivityPublished) string {
	label := map[string]string{
		"announcement": "announcement",
		"poll":         "poll",
		"voting":       "vote",
		"form":         "form",
	}[event.EventType]
	if label == "" {
		label = "activity"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New %s published: **%s**", label, event.Title)
	if h.linkBase != "" {
		fmt.Fprintf(&b, "\n%s/%s", h.linkBase, event.ActivityID)
	}
	return b.String()
}
