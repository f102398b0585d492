package notification

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoResolver is returned by the convenience senders when the dispatcher
// was built without a ContentResolver.
var ErrNoResolver = errors.New("content resolver not configured")

// Recipient identifies who receives a notification.
type Recipient struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Name   string `json:"name"`
}

// BookingConfirmation is the input for SendBookingConfirmation.
type BookingConfirmation struct {
	Recipient
	BookingID     string    `json:"booking_id" binding:"required"`
	CaregiverName string    `json:"caregiver_name"`
	ChildName     string    `json:"child_name"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Address       string    `json:"address"`
	Channels      []Channel `json:"channels"`
}

// PickupReminder is the input for SendPickupReminder.
type PickupReminder struct {
	Recipient
	BookingID      string    `json:"booking_id" binding:"required"`
	ChildName      string    `json:"child_name"`
	PickupAt       time.Time `json:"pickup_at"`
	PickupLocation string    `json:"pickup_location"`
}

// EmergencyAlert is the input for SendEmergencyAlert.
type EmergencyAlert struct {
	Recipient
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	ChildName   string `json:"child_name"`
	Message     string `json:"message" binding:"required"`
	Location    string `json:"location"`
}

// emergencyMaxAttempts is the attempt budget for emergency alerts.
const emergencyMaxAttempts = 10

// SendBookingConfirmation notifies a parent that a booking is confirmed.
// Email only unless channels are given.
func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, in BookingConfirmation) (*SendResult, error) {
	channels := in.Channels
	if len(channels) == 0 {
		channels = []Channel{ChannelEmail}
	}
	return d.sendResolved(ctx, TypeBookingConfirmation, in.Recipient, map[string]any{
		"Name":          in.Name,
		"BookingID":     in.BookingID,
		"CaregiverName": in.CaregiverName,
		"ChildName":     in.ChildName,
		"StartsAt":      formatTime(in.StartsAt),
		"EndsAt":        formatTime(in.EndsAt),
		"Address":       in.Address,
	}, &SendRequest{
		Channels:    channels,
		Priority:    PriorityNormal,
		ContextType: "booking",
		ContextID:   in.BookingID,
	})
}

// SendPickupReminder sends a CRITICAL reminder over email and SMS.
func (d *Dispatcher) SendPickupReminder(ctx context.Context, in PickupReminder) (*SendResult, error) {
	return d.sendResolved(ctx, TypePickupReminder, in.Recipient, map[string]any{
		"Name":           in.Name,
		"BookingID":      in.BookingID,
		"ChildName":      in.ChildName,
		"PickupAt":       formatTime(in.PickupAt),
		"PickupLocation": in.PickupLocation,
	}, &SendRequest{
		Channels:    []Channel{ChannelEmail, ChannelSMS},
		Priority:    PriorityCritical,
		ContextType: "booking",
		ContextID:   in.BookingID,
	})
}

// SendEmergencyAlert sends a CRITICAL alert over email and SMS with the
// largest retry budget.
func (d *Dispatcher) SendEmergencyAlert(ctx context.Context, in EmergencyAlert) (*SendResult, error) {
	return d.sendResolved(ctx, TypeEmergencyAlert, in.Recipient, map[string]any{
		"Name":      in.Name,
		"ChildName": in.ChildName,
		"Message":   in.Message,
		"Location":  in.Location,
	}, &SendRequest{
		Channels:    []Channel{ChannelEmail, ChannelSMS},
		Priority:    PriorityCritical,
		ContextType: in.ContextType,
		ContextID:   in.ContextID,
		MaxRetries:  emergencyMaxAttempts,
	})
}

func (d *Dispatcher) sendResolved(ctx context.Context, notifType NotificationType, to Recipient, data map[string]any, req *SendRequest) (*SendResult, error) {
	if d.resolver == nil {
		return nil, ErrNoResolver
	}

	content, err := d.resolver.Resolve(notifType, data)
	if err != nil {
		return nil, fmt.Errorf("resolving %s content: %w", notifType, err)
	}

	req.Type = notifType
	req.TemplateID = content.TemplateID
	req.Subject = content.Subject
	req.Content = content.Text
	req.HTMLContent = content.HTML
	req.UserID = to.UserID
	req.Email = to.Email
	req.Phone = to.Phone
	req.Name = to.Name

	return d.Send(ctx, req)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Mon, Jan 2 at 3:04 PM MST")
}
