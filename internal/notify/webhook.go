// Package notify posts finished digests to a chat channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/gitlab"
)

// Notifier delivers a message to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Webhook posts {"text": ...} to a Mattermost or Slack incoming webhook.
type Webhook struct {
	client *gitlab.Client
	logger zerolog.Logger
}

type payload struct {
	Text string `json:"text"`
}

// NewWebhook returns a Webhook for url. A nil httpClient means a plain http.Client.
func NewWebhook(url string, httpClient gitlab.HTTPClient, logger zerolog.Logger) *Webhook {
	opts := []gitlab.Option{gitlab.WithLogger(logger)}
	if httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(httpClient))
	}
	return &Webhook{
		client: gitlab.NewClient(url, "", 0, opts...),
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Notify posts text. Any 2xx response is success; the response body is ignored.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	header := http.Header{"Content-Type": []string{"application/json"}}
	if _, err := w.client.Request(ctx, http.MethodPost, "", nil, header, body); err != nil && !apperrors.IsDecode(err) {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	w.logger.Info().Int("bytes", len(text)).Msg("posted summary to webhook")
	return nil
}
