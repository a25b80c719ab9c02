package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Embed colors.
const (
	ColorGreen = 0x00ff00
	ColorRed   = 0xff0000
)

// WebhookSink posts events to a Discord webhook as embeds.
type WebhookSink struct {
	url    string
	client *http.Client
}

var _ Sink = (*WebhookSink)(nil)

// NewWebhookSink creates a sink for the webhook at url.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, client: client}
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func (s *WebhookSink) Send(ctx context.Context, e Event) error {
	color := ColorRed
	if e.Kind == KindRequest {
		color = ColorGreen
	}
	body, err := json.Marshal(webhookPayload{Embeds: []embed{{
		Title:       e.Title,
		Description: e.Message,
		Color:       color,
	}}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink. If logger is nil, slog.Default() is used.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Send(_ context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Kind != KindRequest {
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, "audit",
		"id", e.ID,
		"kind", e.Kind,
		"title", e.Title,
		"status", e.Status,
		"message", e.Message,
	)
	return nil
}
