// Package notify delivers outbound LINE traffic: per-user push messages and
// broadcasts on the operator notification channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qms/clinic-queue/pkg/logging"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

var ErrProviderFailure = errors.New("provider failure")

type Provider interface {
	Send(ctx context.Context, message, recipient string) error
}

type Options struct {
	LineAPI      *messaging_api.MessagingApiAPI
	WebhookURL   string
	WebhookToken string
	Logger       *logging.Logger
}

// NewLineAPI builds a Messaging API client for one channel token.
func NewLineAPI(token, baseURL string, client *http.Client) (*messaging_api.MessagingApiAPI, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	opts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(client)}
	if baseURL != "" {
		opts = append(opts, messaging_api.WithEndpoint(strings.TrimRight(baseURL, "/")))
	}
	return messaging_api.NewMessagingApiAPI(token, opts...)
}

func NewProvider(kind string, options Options) Provider {
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "push")

	switch kind {
	case "line":
		if options.LineAPI == nil {
			return logProvider{logger: logger}
		}
		return linePushProvider{api: options.LineAPI}
	case "", "stub", "log":
		return logProvider{logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if options.WebhookURL == "" {
			return logProvider{logger: logger}
		}
		return webhookProvider{url: options.WebhookURL, token: options.WebhookToken}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind, token: options.WebhookToken}
		}
		return logProvider{logger: logger}
	}
}

type linePushProvider struct {
	api *messaging_api.MessagingApiAPI
}

func (p linePushProvider) Send(ctx context.Context, message, recipient string) error {
	_, err := p.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       recipient,
		Messages: []messaging_api.MessageInterface{messaging_api.TextMessage{Text: message}},
	}, "")
	if err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	return nil
}

type logProvider struct {
	logger *logging.Logger
}

func (p logProvider) Send(ctx context.Context, message, recipient string) error {
	p.logger.InfoContext(ctx, "push", "recipient", recipient, "message", message)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message, recipient string) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message, recipient string) error {
	return ErrProviderFailure
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Send(ctx context.Context, message, recipient string) error {
	payload := map[string]string{
		"channel":   "line",
		"recipient": recipient,
		"message":   message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected request: %d", resp.StatusCode)
	}
	return nil
}
