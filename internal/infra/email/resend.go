package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"instacares-notify/internal/domain/notification"
)

const defaultResendBaseURL = "https://api.resend.com"

var _ notification.Provider = (*ResendProvider)(nil)

// ResendConfig holds the Resend account settings.
type ResendConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// ResendProvider sends emails using the Resend API.
type ResendProvider struct {
	cfg        ResendConfig
	httpClient *http.Client
}

// NewResendProvider creates a new Resend email provider.
func NewResendProvider(cfg ResendConfig) *ResendProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultResendBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ResendProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Channel returns the email channel identifier.
func (p *ResendProvider) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Prepare normalizes the recipient address and fills in a plain-text body.
func (p *ResendProvider) Prepare(msg *notification.Message) error {
	return prepareMessage(msg)
}

// Send delivers an email via the Resend API and returns the message ID.
func (p *ResendProvider) Send(ctx context.Context, msg *notification.Message) notification.DeliveryResult {
	payload := map[string]any{
		"from":    formatFrom(p.cfg.FromName, p.cfg.FromAddress),
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"text":    msg.Text,
	}
	if msg.HTML != "" {
		payload["html"] = msg.HTML
	}
	if msg.NotificationID != "" {
		payload["headers"] = map[string]string{"X-Notification-ID": msg.NotificationID}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("marshaling email payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message    string `json:"message"`
			StatusCode int    `json:"statusCode"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		detail := errResp.Message
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return notification.Failed(ResendCategory(resp.StatusCode), fmt.Errorf("resend: %s", detail))
	}

	var successResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("parsing resend response: %w", err))
	}

	return notification.Delivered(successResp.ID)
}

// ResendCategory maps a Resend HTTP status to an error category.
func ResendCategory(status int) notification.ErrorCategory {
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return notification.CategoryInvalidAddress
	case http.StatusUnauthorized, http.StatusForbidden:
		return notification.CategoryPermissionDenied
	case http.StatusTooManyRequests:
		return notification.CategoryRateLimited
	}
	return notification.CategoryUnknown
}
