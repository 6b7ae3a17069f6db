package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	// telegramTextLimit is the sendMessage text cap.
	telegramTextLimit = 4096
)

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSender posts to a chat through the Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// TelegramOption customises a TelegramSender.
type TelegramOption func(*TelegramSender)

// WithTelegramAPI points the sender at another Bot API host.
func WithTelegramAPI(apiURL string) TelegramOption {
	return func(t *TelegramSender) {
		t.apiURL = strings.TrimRight(apiURL, "/")
	}
}

func NewTelegramSender(token, chatID string, opts ...TelegramOption) *TelegramSender {
	t := &TelegramSender{
		apiURL: defaultTelegramAPI,
		token:  token,
		chatID: chatID,
		client: newSenderClient(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send renders title in bold above message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, "telegram", t.apiURL+"/bot"+t.token+"/sendMessage", telegramMessage{
		ChatID:                t.chatID,
		Text:                  truncate(fmt.Sprintf("*%s*\n%s", title, message), telegramTextLimit),
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
