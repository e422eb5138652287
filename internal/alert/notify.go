package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"

	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
)

// Format renders an alert as a single chat line plus optional body.
func Format(a *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(a.Severity), a.Subject)
	if a.SampleID != "" {
		fmt.Fprintf(&b, " (sample %s", a.SampleID)
		if a.Test != "" {
			fmt.Fprintf(&b, ", %s", a.Test)
		}
		b.WriteString(")")
	}
	if a.Body != "" {
		b.WriteString("\n")
		b.WriteString(a.Body)
	}
	return b.String()
}

// postWebhookFunc matches slackapi.PostWebhookContext.
type postWebhookFunc func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack posts alerts to an incoming webhook.
type Slack struct {
	url  string
	post postWebhookFunc
}

// NewSlack returns a Slack notifier for webhookURL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{url: webhookURL, post: slackapi.PostWebhookContext}
}

// Name implements Notifier.
func (s *Slack) Name() string { return "slack" }

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, a *models.Alert) error {
	msg := &slackapi.WebhookMessage{
		Text: Format(a),
		Attachments: []slackapi.Attachment{{
			Color: color(a.Severity),
			Fields: []slackapi.AttachmentField{
				{Title: "Kind", Value: a.Kind, Short: true},
				{Title: "Request", Value: a.RequestID, Short: true},
			},
		}},
	}
	if err := s.post(ctx, s.url, msg); err != nil {
		return fmt.Errorf("alert: slack webhook: %w", err)
	}
	return nil
}

// session abstracts the discordgo.Session method we use, enabling test mocks.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord sends alerts to a channel through the REST API.
type Discord struct {
	sess      session
	channelID string
}

// NewDiscord creates a Discord notifier authenticated with a bot token.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	if botToken == "" || channelID == "" {
		return nil, fmt.Errorf("alert: discord bot token and channel are required")
	}
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &Discord{sess: dg, channelID: channelID}, nil
}

// Name implements Notifier.
func (d *Discord) Name() string { return "discord" }

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, a *models.Alert) error {
	if _, err := d.sess.ChannelMessageSend(d.channelID, Format(a), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alert: discord send: %w", err)
	}
	return nil
}

func color(severity string) string {
	switch severity {
	case SeverityCritical:
		return "danger"
	case SeverityWarn:
		return "warning"
	default:
		return "good"
	}
}
