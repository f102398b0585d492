package email

import (
	"context"
	"fmt"

	"instacares-notify/internal/domain/notification"

	"github.com/mrz1836/postmark"
)

var _ notification.Provider = (*PostmarkProvider)(nil)

// PostmarkConfig holds the Postmark server settings.
type PostmarkConfig struct {
	ServerToken   string
	AccountToken  string
	FromAddress   string
	FromName      string
	ReplyTo       string
	MessageStream string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// PostmarkProvider sends emails through Postmark's transactional API.
type PostmarkProvider struct {
	cfg    PostmarkConfig
	client *postmark.Client
}

// NewPostmarkProvider creates a Postmark-backed email provider.
func NewPostmarkProvider(cfg PostmarkConfig) (*PostmarkProvider, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("postmark: server token is required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("postmark: from address is required")
	}
	if cfg.MessageStream == "" {
		cfg.MessageStream = "outbound"
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &PostmarkProvider{cfg: cfg, client: client}, nil
}

// Channel returns the email channel identifier.
func (p *PostmarkProvider) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Prepare normalizes the recipient address and fills in a plain-text body.
func (p *PostmarkProvider) Prepare(msg *notification.Message) error {
	return prepareMessage(msg)
}

// Send delivers an email and returns Postmark's message ID.
func (p *PostmarkProvider) Send(ctx context.Context, msg *notification.Message) notification.DeliveryResult {
	email := postmark.Email{
		From:          formatFrom(p.cfg.FromName, p.cfg.FromAddress),
		ReplyTo:       p.cfg.ReplyTo,
		To:            msg.To,
		Subject:       msg.Subject,
		Tag:           string(msg.Type),
		TextBody:      msg.Text,
		HTMLBody:      msg.HTML,
		TrackOpens:    true,
		MessageStream: p.cfg.MessageStream,
	}
	if msg.NotificationID != "" {
		email.Metadata = map[string]string{"notification_id": msg.NotificationID}
	}

	resp, err := p.client.SendEmail(ctx, email)
	if resp.ErrorCode > 0 {
		return notification.Failed(PostmarkCategory(resp.ErrorCode),
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	if err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("postmark: %w", err))
	}

	return notification.Delivered(resp.MessageID)
}

// PostmarkCategory maps a Postmark API error code to an error category.
// See https://postmarkapp.com/developer/api/overview#error-codes.
func PostmarkCategory(code int64) notification.ErrorCategory {
	switch code {
	case 300:
		return notification.CategoryInvalidAddress
	case 10, 400, 401, 405, 406, 412:
		return notification.CategoryPermissionDenied
	case 429:
		return notification.CategoryRateLimited
	}
	return notification.CategoryUnknown
}
