package linebot

import (
	"context"
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Messenger is the subset of the Messaging API the bot talks to.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
	DisplayName(ctx context.Context, userID string) (string, error)
}

type LineMessenger struct {
	api *messaging_api.MessagingApiAPI
}

func NewLineMessenger(api *messaging_api.MessagingApiAPI) *LineMessenger {
	return &LineMessenger{api: api}
}

func (m *LineMessenger) Reply(ctx context.Context, replyToken string, texts ...string) error {
	if replyToken == "" || len(texts) == 0 {
		return nil
	}
	messages := make([]messaging_api.MessageInterface, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, messaging_api.TextMessage{Text: text})
	}
	_, err := m.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   messages,
	})
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}

func (m *LineMessenger) DisplayName(ctx context.Context, userID string) (string, error) {
	profile, err := m.api.WithContext(ctx).GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("line profile: %w", err)
	}
	return profile.DisplayName, nil
}
