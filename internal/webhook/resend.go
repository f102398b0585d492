package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"

	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"
)

type resendEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string `json:"email_id"`
		Bounce  struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"bounce"`
	} `json:"data"`
}

// Resend handles POST /api/v1/webhooks/resend
// Receives delivery status updates from Resend webhooks.
func (h *Handler) Resend(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		common.Error(c, http.StatusBadRequest, "reading webhook body: "+err.Error())
		return
	}

	if h.cfg.ResendSigningSecret != "" {
		if err := VerifySvix(h.cfg.ResendSigningSecret, c.Request.Header, body); err != nil {
			common.HandleError(c, common.NewUnauthorizedError(err.Error()))
			return
		}
	}

	var event resendEvent
	if err := json.Unmarshal(body, &event); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}
	if event.Data.EmailID == "" {
		common.Error(c, http.StatusBadRequest, "data.email_id is required")
		return
	}

	report := &notification.DeliveryReport{ProviderID: event.Data.EmailID}
	if t, err := time.Parse(time.RFC3339Nano, event.CreatedAt); err == nil {
		report.At = t
	}

	switch event.Type {
	case "email.delivered":
		report.Status = notification.StatusDelivered
	case "email.bounced":
		report.Status = notification.StatusFailed
		report.Category = notification.CategoryInvalidAddress
		report.ErrorMessage = "bounced"
		if event.Data.Bounce.Message != "" {
			report.ErrorMessage = "bounced: " + event.Data.Bounce.Message
		}
	default:
		ignored(c, "resend", "event type "+event.Type)
		return
	}

	h.apply(c, "resend", report)
}

// VerifySvix checks the Svix signature Resend attaches to every webhook:
// the svix-id, svix-timestamp and svix-signature headers, with a five
// minute timestamp tolerance.
func VerifySvix(secret string, header http.Header, body []byte) error {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return fmt.Errorf("invalid webhook signing secret: %w", err)
	}
	if err := wh.Verify(body, header); err != nil {
		return fmt.Errorf("invalid webhook signature: %w", err)
	}
	return nil
}
