package notification

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"instacares-notify/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	dispatcher *Dispatcher
	service    *Service
}

// NewHandler creates a new notification handler.
func NewHandler(dispatcher *Dispatcher, service *Service) *Handler {
	return &Handler{dispatcher: dispatcher, service: service}
}

// Send handles POST /api/v1/notifications
// Dispatches a notification synchronously over every requested channel.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.dispatcher.Send(c.Request.Context(), &req)
	if err != nil {
		slog.Warn("send notification rejected",
			"error", err,
			"type", req.Type,
			"channels", req.Channels,
		)
		common.HandleError(c, err)
		return
	}

	respond(c, res)
}

// SendBookingConfirmation handles POST /api/v1/notifications/booking-confirmation
func (h *Handler) SendBookingConfirmation(c *gin.Context) {
	var in BookingConfirmation
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.dispatcher.SendBookingConfirmation(c.Request.Context(), in)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	respond(c, res)
}

// SendPickupReminder handles POST /api/v1/notifications/pickup-reminder
func (h *Handler) SendPickupReminder(c *gin.Context) {
	var in PickupReminder
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.dispatcher.SendPickupReminder(c.Request.Context(), in)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	respond(c, res)
}

// SendEmergencyAlert handles POST /api/v1/notifications/emergency-alert
func (h *Handler) SendEmergencyAlert(c *gin.Context) {
	var in EmergencyAlert
	if err := c.ShouldBindJSON(&in); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.dispatcher.SendEmergencyAlert(c.Request.Context(), in)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	respond(c, res)
}

// GetNotification handles GET /api/v1/notifications/:id
func (h *Handler) GetNotification(c *gin.Context) {
	event, err := h.service.GetNotification(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, event)
}

// ListRetries handles GET /api/v1/notifications/:id/retries
func (h *Handler) ListRetries(c *gin.Context) {
	retries, err := h.service.ListRetries(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, retries)
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	resp, err := h.service.ListNotifications(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, resp)
}

// Stats handles GET /api/v1/notifications/stats?window=24h
func (h *Handler) Stats(c *gin.Context) {
	var window time.Duration
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			common.Error(c, http.StatusBadRequest, "invalid window: "+raw)
			return
		}
		window = d
	}

	stats, err := h.service.Stats(c.Request.Context(), window)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
	})
}

// RegisterRoutes registers notification routes to the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/notifications", h.Send)
	rg.POST("/notifications/booking-confirmation", h.SendBookingConfirmation)
	rg.POST("/notifications/pickup-reminder", h.SendPickupReminder)
	rg.POST("/notifications/emergency-alert", h.SendEmergencyAlert)
	rg.GET("/notifications", h.ListNotifications)
	rg.GET("/notifications/stats", h.Stats)
	rg.GET("/notifications/:id", h.GetNotification)
	rg.GET("/notifications/:id/retries", h.ListRetries)
}

// respond maps an aggregated dispatch result to an HTTP status. Any
// successful channel is a 200; rate limiting on every channel is a 429 and
// any other total failure a 502, both carrying the per-channel detail.
func respond(c *gin.Context, res *SendResult) {
	switch {
	case res.Success:
		common.Success(c, http.StatusOK, res)
	case res.AllRateLimited():
		common.HandleErrorWithData(c, common.NewRateLimitError("rate limit exceeded", res.RetryAfterSeconds), res)
	case len(res.Errors) == 0:
		// Every channel was skipped by user preferences.
		common.Success(c, http.StatusOK, res)
	default:
		common.HandleErrorWithData(c, common.NewProviderError(failedChannels(res), strings.Join(res.Errors, "; ")), res)
	}
}

func failedChannels(res *SendResult) string {
	var chans []string
	for _, o := range res.Outcomes {
		if o.Kind.Failed() {
			chans = append(chans, string(o.Channel))
		}
	}
	return strings.Join(chans, ",")
}
