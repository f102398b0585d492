package email

import (
	"fmt"
	"net/mail"
	"strings"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"
)

// DefaultSubject is used when a notification carries no subject line.
const DefaultSubject = "InstaCares notification"

// prepareMessage validates the recipient address and fills in the parts
// every email needs. It is shared by all email providers.
func prepareMessage(msg *notification.Message) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(msg.To))
	if err != nil {
		return common.NewValidationError(fmt.Sprintf("invalid email address: %q", msg.To))
	}
	msg.To = addr.Address
	if msg.ToName == "" {
		msg.ToName = addr.Name
	}

	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = DefaultSubject
	}
	if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.HTML) == "" {
		return common.NewValidationError("email body is empty")
	}
	return nil
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return (&mail.Address{Name: name, Address: address}).String()
}
