package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrTelegramNotConfigured indicates a missing bot token or chat id.
var ErrTelegramNotConfigured = errors.New("notify: telegram bot token and chat id required")

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	APIURL   string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// TelegramSender posts messages through the Bot API sendMessage method.
type TelegramSender struct {
	client *resty.Client
	token  string
	chatID string
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramSender builds a sender over resty.
func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, ErrTelegramNotConfigured
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultTelegramAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &TelegramSender{client: client, token: cfg.BotToken, chatID: cfg.ChatID}, nil
}

// Send posts text to the configured chat.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	var out sendMessageResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{ChatID: s.chatID, Text: text}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + s.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("notify: telegram status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}
