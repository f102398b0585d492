package sms

import (
	"fmt"
	"regexp"
	"strings"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"
)

// MaxBodyLength is the longest body Twilio accepts, split into up to ten
// concatenated segments.
const MaxBodyLength = 1600

var (
	nonDigits = regexp.MustCompile(`\D`)

	optOutPattern = regexp.MustCompile(`(?i)\b(stop|opt[ -]?out|unsubscribe)\b`)

	spamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\$\$`),
		regexp.MustCompile(`FREE!`),
		regexp.MustCompile(`(?i)URGENT.*CLICK`),
		regexp.MustCompile(`(?i)\bact now\b`),
		regexp.MustCompile(`(?i)\bwinner\b`),
	}
)

// NormalizePhone converts a phone number to E.164. Ten-digit numbers are
// assumed to be North American and get a +1 prefix.
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) > 10 && len(digits) <= 15:
		return "+" + digits, nil
	}
	return "", common.NewValidationError(fmt.Sprintf("invalid phone number: %q", raw))
}

// ValidateContent enforces carrier and compliance rules on an SMS body.
func ValidateContent(notifType notification.NotificationType, body string) error {
	if strings.TrimSpace(body) == "" {
		return common.NewValidationError("sms body is empty")
	}
	if n := len([]rune(body)); n > MaxBodyLength {
		return common.NewValidationError(fmt.Sprintf("sms body too long: %d characters (max %d)", n, MaxBodyLength))
	}
	if notifType == notification.TypeMarketing && !optOutPattern.MatchString(body) {
		return common.NewValidationError("marketing sms must include opt-out instructions")
	}
	for _, p := range spamPatterns {
		if p.MatchString(body) {
			return common.NewValidationError("sms body matches a blocked spam pattern")
		}
	}
	return nil
}
