package sms_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/sms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"(555) 123-4567", "+15551234567", false},
		{"+1 555 123 4567", "+15551234567", false},
		{"+44 20 7946 0958", "+442079460958", false},
		{"12345", "", true},
		{"", "", true},
		{"+1234567890123456", "", true},
	}
	for _, tt := range tests {
		got, err := sms.NormalizePhone(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		notifType notification.NotificationType
		body      string
		wantErr   bool
	}{
		{"plain reminder", notification.TypePickupReminder, "Pickup at 3pm", false},
		{"empty", notification.TypePickupReminder, "   ", true},
		{"too long", notification.TypeCaregiverMessage, strings.Repeat("a", sms.MaxBodyLength+1), true},
		{"max length", notification.TypeCaregiverMessage, strings.Repeat("é", sms.MaxBodyLength), false},
		{"marketing without opt out", notification.TypeMarketing, "Spring discount on sitters", true},
		{"marketing with opt out", notification.TypeMarketing, "Spring discount. Reply STOP to unsubscribe", false},
		{"spam dollars", notification.TypeCaregiverMessage, "Win $$$ today", true},
		{"spam urgent click", notification.TypeSecurityAlert, "urgent: please click here", true},
		{"spam winner", notification.TypeCaregiverMessage, "You are a Winner", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sms.ValidateContent(tt.notifType, tt.body)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTwilioPrepare(t *testing.T) {
	t.Parallel()

	p := sms.NewTwilioProvider(sms.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000"})

	msg := &notification.Message{Type: notification.TypePickupReminder, To: "555-123-4567", Text: "Pickup at 3pm"}
	require.NoError(t, p.Prepare(msg))
	assert.Equal(t, "+15551234567", msg.To)

	bad := &notification.Message{Type: notification.TypePickupReminder, To: "123", Text: "Pickup at 3pm"}
	assert.Error(t, p.Prepare(bad))
	assert.Equal(t, "123", bad.To)
}

func TestTwilioSend(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		gotUser, gotPass, _ = r.BasicAuth()
		assert.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	p := sms.NewTwilioProvider(sms.TwilioConfig{
		AccountSID:        "AC123",
		AuthToken:         "secret",
		FromNumber:        "+15550000000",
		StatusCallbackURL: "https://notify.example.com/api/v1/webhooks/twilio",
		BaseURL:           srv.URL,
	})

	res := p.Send(context.Background(), &notification.Message{To: "+15551234567", Text: "hello"})
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, "SM42", res.ProviderID)
	assert.Equal(t, "AC123", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "+15551234567", gotForm.Get("To"))
	assert.Equal(t, "+15550000000", gotForm.Get("From"))
	assert.Equal(t, "hello", gotForm.Get("Body"))
	assert.Equal(t, "https://notify.example.com/api/v1/webhooks/twilio", gotForm.Get("StatusCallback"))
}

func TestTwilioSendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   notification.ErrorCategory
	}{
		{"invalid number", http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`, notification.CategoryInvalidNumber},
		{"landline", http.StatusBadRequest, `{"code":21614,"message":"not a mobile number"}`, notification.CategoryUnsupportedNumberType},
		{"blacklisted", http.StatusBadRequest, `{"code":21610,"message":"unsubscribed recipient"}`, notification.CategoryPermissionDenied},
		{"throttled", http.StatusTooManyRequests, `{"message":"Too Many Requests","status":429}`, notification.CategoryRateLimited},
		{"throttled with code", http.StatusTooManyRequests, `{"code":20429,"message":"Too Many Requests","status":429}`, notification.CategoryRateLimited},
		{"server error", http.StatusInternalServerError, `oops`, notification.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := sms.NewTwilioProvider(sms.TwilioConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550000000", BaseURL: srv.URL})
			res := p.Send(context.Background(), &notification.Message{To: "+15551234567", Text: "hi"})
			require.False(t, res.OK())
			assert.Equal(t, tt.want, res.Category)
		})
	}
}

func TestTwilioSendHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM-late"}`))
	}))
	defer srv.Close()
	defer close(release)

	p := sms.NewTwilioProvider(sms.TwilioConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550000000", BaseURL: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := p.Send(ctx, &notification.Message{To: "+15551234567", Text: "hi"})
	require.False(t, res.OK())
	assert.Equal(t, notification.CategoryTimeout, res.Category)
}

func TestStatusCallbackDeliveryReport(t *testing.T) {
	t.Parallel()

	report, ok := sms.ParseStatusCallback(url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"delivered"},
	}).DeliveryReport()
	require.True(t, ok)
	assert.Equal(t, "SM1", report.ProviderID)
	assert.Equal(t, notification.StatusDelivered, report.Status)

	report, ok = sms.ParseStatusCallback(url.Values{
		"MessageSid":    {"SM2"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"21211"},
	}).DeliveryReport()
	require.True(t, ok)
	assert.Equal(t, notification.StatusFailed, report.Status)
	assert.Equal(t, notification.CategoryInvalidNumber, report.Category)

	_, ok = sms.ParseStatusCallback(url.Values{"MessageSid": {"SM3"}, "MessageStatus": {"sent"}}).DeliveryReport()
	assert.False(t, ok)
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	const token = "12345"
	const callback = "https://mycompany.com/myapp.php?foo=1&bar=2"
	form := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(callback + "CallSidCA1234567890ABCDECaller+12349013030Digits1234From+12349013030To+18005551212"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, sms.ValidateSignature(token, callback, form, sig))
	assert.False(t, sms.ValidateSignature(token, callback, form, "bogus"))
	assert.False(t, sms.ValidateSignature("other", callback, form, sig))
	assert.False(t, sms.ValidateSignature(token, callback, form, ""))
}
