package webhook

import (
	"net/http"

	"instacares-notify/internal/common"
	"instacares-notify/internal/infra/sms"

	"github.com/gin-gonic/gin"
)

// Twilio handles POST /api/v1/webhooks/twilio
// Receives message status callbacks (form encoded) from Twilio.
func (h *Handler) Twilio(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}
	form := c.Request.PostForm

	if h.cfg.TwilioAuthToken != "" {
		sig := c.GetHeader("X-Twilio-Signature")
		if !sms.ValidateSignature(h.cfg.TwilioAuthToken, h.requestURL(c), form, sig) {
			common.HandleError(c, common.NewUnauthorizedError("invalid twilio signature"))
			return
		}
	}

	status := sms.ParseStatusCallback(form)
	if status.MessageSID == "" {
		common.Error(c, http.StatusBadRequest, "MessageSid is required")
		return
	}

	report, ok := status.DeliveryReport()
	if !ok {
		ignored(c, "twilio", "intermediate status "+status.MessageStatus)
		return
	}

	h.apply(c, "twilio", report)
}
