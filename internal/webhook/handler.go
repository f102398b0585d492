// Package webhook receives asynchronous delivery reports from the email and
// SMS providers and applies them to stored notification events.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"

	"github.com/gin-gonic/gin"
)

// ReportApplier applies a delivery report to the event store.
type ReportApplier interface {
	HandleDeliveryReport(ctx context.Context, report *notification.DeliveryReport) error
}

// Config holds the secrets used to authenticate provider callbacks. An empty
// secret disables verification for that provider.
type Config struct {
	// TwilioAuthToken signs Twilio status callbacks.
	TwilioAuthToken string
	// PublicURL is the externally visible base URL Twilio calls, without the
	// path. Falls back to the request's scheme and host when empty.
	PublicURL string
	// ResendSigningSecret is the whsec_ secret of the Resend endpoint.
	ResendSigningSecret string
}

// Handler handles provider webhooks.
type Handler struct {
	reports ReportApplier
	cfg     Config
}

// NewHandler creates a new webhook handler.
func NewHandler(reports ReportApplier, cfg Config) *Handler {
	if cfg.TwilioAuthToken == "" {
		slog.Warn("twilio webhook signature verification disabled")
	}
	if cfg.ResendSigningSecret == "" {
		slog.Warn("resend webhook signature verification disabled")
	}
	return &Handler{reports: reports, cfg: cfg}
}

// RegisterRoutes registers webhook routes to the given router group. These
// routes authenticate by provider signature, not API key.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/twilio", h.Twilio)
	rg.POST("/webhooks/resend", h.Resend)
}

// apply hands a report to the service. Reports for unknown provider IDs are
// acknowledged so the provider does not keep redelivering them.
func (h *Handler) apply(c *gin.Context, provider string, report *notification.DeliveryReport) {
	err := h.reports.HandleDeliveryReport(c.Request.Context(), report)

	var notFound *common.NotFoundError
	switch {
	case err == nil:
		common.Success(c, http.StatusOK, gin.H{"status": "processed"})
	case errors.As(err, &notFound):
		slog.Warn("webhook for unknown message", "provider", provider, "provider_id", report.ProviderID)
		common.Success(c, http.StatusOK, gin.H{"status": "ignored"})
	default:
		slog.Error("webhook processing failed",
			"provider", provider,
			"provider_id", report.ProviderID,
			"status", report.Status,
			"error", err,
		)
		common.HandleError(c, err)
	}
}

func ignored(c *gin.Context, provider, reason string) {
	slog.Info("ignoring webhook event", "provider", provider, "reason", reason)
	common.Success(c, http.StatusOK, gin.H{"status": "ignored"})
}

// requestURL rebuilds the URL the provider called.
func (h *Handler) requestURL(c *gin.Context) string {
	base := strings.TrimRight(h.cfg.PublicURL, "/")
	if base == "" {
		scheme := "https"
		if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
			scheme = "http"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + c.Request.URL.RequestURI()
}
