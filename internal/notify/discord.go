package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordContentLimit is the webhook content cap.
const discordContentLimit = 2000

type discordPayload struct {
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
}

// DiscordSender posts to a channel webhook. Discord answers 204 on success.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   username,
		client:     newSenderClient(),
	}
}

// Send renders title in bold above message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordPayload{
		Username: d.username,
		Content:  truncate(fmt.Sprintf("**%s**\n%s", title, message), discordContentLimit),
	})
}

func (d *DiscordSender) Name() string { return "discord" }
