package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var _ notification.Provider = (*TwilioProvider)(nil)

// TwilioConfig holds the Twilio account settings.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is used unless MessagingServiceSID is set.
	FromNumber          string
	MessagingServiceSID string
	// StatusCallbackURL receives delivery reports when set.
	StatusCallbackURL string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// TwilioProvider sends SMS messages through the Twilio Messages API.
type TwilioProvider struct {
	cfg  TwilioConfig
	rest *twilio.RestClient
}

// NewTwilioProvider creates a new Twilio SMS provider.
func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.BaseURL != "" {
		if base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/")); err == nil && base.Host != "" {
			httpClient.Transport = rebaseTransport{base: base, next: http.DefaultTransport}
		}
	}

	c := &twclient.Client{
		Credentials: twclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  httpClient,
	}
	c.SetAccountSid(cfg.AccountSID)

	return &TwilioProvider{
		cfg:  cfg,
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{Client: c}),
	}
}

// rebaseTransport points the SDK's fixed api.twilio.com URLs at another host.
type rebaseTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t rebaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}

// Channel returns the SMS channel identifier.
func (p *TwilioProvider) Channel() notification.Channel {
	return notification.ChannelSMS
}

// Prepare normalizes the destination to E.164 and applies content policy.
func (p *TwilioProvider) Prepare(msg *notification.Message) error {
	to, err := NormalizePhone(msg.To)
	if err != nil {
		return err
	}
	if err := ValidateContent(msg.Type, msg.Text); err != nil {
		return err
	}
	msg.To = to
	return nil
}

type createResult struct {
	msg *twapi.ApiV2010Message
	err error
}

// Send delivers an SMS and returns the Twilio message SID. The SDK call does
// not take a context, so the send runs in its own goroutine and Send returns
// a timeout failure once ctx is done; the HTTP client timeout bounds the
// goroutine.
func (p *TwilioProvider) Send(ctx context.Context, msg *notification.Message) notification.DeliveryResult {
	params := &twapi.CreateMessageParams{}
	params.SetPathAccountSid(p.cfg.AccountSID)
	params.SetTo(msg.To)
	params.SetBody(msg.Text)
	if p.cfg.MessagingServiceSID != "" {
		params.SetMessagingServiceSid(p.cfg.MessagingServiceSID)
	} else {
		params.SetFrom(p.cfg.FromNumber)
	}
	if p.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(p.cfg.StatusCallbackURL)
	}

	done := make(chan createResult, 1)
	go func() {
		m, err := p.rest.Api.CreateMessage(params)
		done <- createResult{msg: m, err: err}
	}()

	var res createResult
	select {
	case <-ctx.Done():
		return notification.Failed(notification.CategoryTimeout, fmt.Errorf("twilio: %w", ctx.Err()))
	case res = <-done:
	}

	if res.err != nil {
		return twilioFailure(res.err)
	}
	if res.msg == nil || res.msg.Sid == nil {
		return notification.Failed(notification.CategoryUnknown, errors.New("twilio: response carried no message sid"))
	}
	return notification.Delivered(*res.msg.Sid)
}

// twilioFailure classifies an SDK error. API errors carry Twilio's numeric
// code; anything else is a transport or decoding problem.
func twilioFailure(err error) notification.DeliveryResult {
	var restErr *twclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return notification.Failed(notification.CategoryUnknown, fmt.Errorf("twilio: %w", err))
	}

	category := TwilioCategory(restErr.Code)
	if category == notification.CategoryUnknown && restErr.Status == http.StatusTooManyRequests {
		category = notification.CategoryRateLimited
	}

	detail := restErr.Message
	if detail == "" {
		detail = fmt.Sprintf("status %d", restErr.Status)
	}
	if restErr.Code != 0 {
		detail = fmt.Sprintf("%d - %s", restErr.Code, detail)
	}
	return notification.Failed(category, fmt.Errorf("twilio: %s", detail))
}

// TwilioCategory maps a Twilio error code to an error category.
// See https://www.twilio.com/docs/api/errors.
func TwilioCategory(code int) notification.ErrorCategory {
	switch code {
	case 21211, 21217, 21401:
		return notification.CategoryInvalidNumber
	case 21614, 21612, 21407:
		return notification.CategoryUnsupportedNumberType
	case 21408, 21610, 20003:
		return notification.CategoryPermissionDenied
	case 20429, 14107:
		return notification.CategoryRateLimited
	}
	return notification.CategoryUnknown
}

// StatusReport is a parsed Twilio status callback.
type StatusReport struct {
	MessageSID    string
	MessageStatus string
	ErrorCode     int
}

// ParseStatusCallback extracts the fields of a Twilio status callback form.
func ParseStatusCallback(form url.Values) StatusReport {
	code, _ := strconv.Atoi(form.Get("ErrorCode"))
	return StatusReport{
		MessageSID:    form.Get("MessageSid"),
		MessageStatus: form.Get("MessageStatus"),
		ErrorCode:     code,
	}
}

// DeliveryReport converts a callback into a delivery report. ok is false for
// intermediate statuses (queued, sending, sent) that carry no final outcome.
func (r StatusReport) DeliveryReport() (report *notification.DeliveryReport, ok bool) {
	switch r.MessageStatus {
	case "delivered":
		return &notification.DeliveryReport{
			ProviderID: r.MessageSID,
			Status:     notification.StatusDelivered,
		}, true
	case "undelivered", "failed":
		category := TwilioCategory(r.ErrorCode)
		return &notification.DeliveryReport{
			ProviderID:   r.MessageSID,
			Status:       notification.StatusFailed,
			Category:     category,
			ErrorMessage: fmt.Sprintf("twilio reported %s (error code %d)", r.MessageStatus, r.ErrorCode),
		}, true
	}
	return nil, false
}

// ValidateSignature checks the X-Twilio-Signature header of a callback
// against the full callback URL and the POST parameters.
func ValidateSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}

	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}

	validator := twclient.NewRequestValidator(authToken)
	return validator.Validate(fullURL, params, signature)
}
