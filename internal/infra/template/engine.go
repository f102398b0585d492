package template

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"instacares-notify/internal/domain/notification"
)

//go:embed templates/layout.html
var layoutFS embed.FS

// ErrUnmappedType is returned when no template is registered for a type.
var ErrUnmappedType = errors.New("no template registered for notification type")

var _ notification.ContentResolver = (*Engine)(nil)

// templateMeta holds the subject and body templates for one notification type.
type templateMeta struct {
	Subject string
	Body    string
}

// fields are the data keys templates may reference. Missing keys render as
// empty strings instead of "<no value>".
var fields = []string{
	"Name", "BookingID", "CaregiverName", "ChildName", "StartsAt", "EndsAt",
	"Address", "PickupAt", "PickupLocation", "Message", "Location",
	"Amount", "Reason", "SenderName", "Offer",
}

// registry maps notification types to their templates. Bodies are plain
// text shared by SMS and email; blank lines separate paragraphs.
var registry = map[notification.NotificationType]templateMeta{
	notification.TypeBookingConfirmation: {
		Subject: "Booking confirmed{{if .ChildName}} for {{.ChildName}}{{end}}",
		Body: `Hi {{or .Name "there"}},

Your InstaCares booking {{.BookingID}} is confirmed{{if .CaregiverName}} with {{.CaregiverName}}{{end}}.{{if .StartsAt}} It starts {{.StartsAt}}{{if .EndsAt}} and ends {{.EndsAt}}{{end}}.{{end}}{{if .Address}}

Location: {{.Address}}{{end}}`,
	},
	notification.TypeBookingCancelled: {
		Subject: "Booking {{.BookingID}} cancelled",
		Body: `Hi {{or .Name "there"}},

Your InstaCares booking {{.BookingID}} has been cancelled.{{if .Reason}} Reason: {{.Reason}}{{end}}`,
	},
	notification.TypeBookingReminder: {
		Subject: "Reminder: upcoming booking {{.BookingID}}",
		Body: `Hi {{or .Name "there"}},

This is a reminder that booking {{.BookingID}}{{if .CaregiverName}} with {{.CaregiverName}}{{end}} starts {{or .StartsAt "soon"}}.`,
	},
	notification.TypePickupReminder: {
		Subject: "Pickup reminder{{if .ChildName}} for {{.ChildName}}{{end}}",
		Body: `Hi {{or .Name "there"}},

Please remember to pick up {{or .ChildName "your child"}}{{if .PickupAt}} at {{.PickupAt}}{{end}}{{if .PickupLocation}} from {{.PickupLocation}}{{end}}.`,
	},
	notification.TypePaymentReceived: {
		Subject: "Payment received",
		Body: `Hi {{or .Name "there"}},

We received your payment{{if .Amount}} of {{.Amount}}{{end}}{{if .BookingID}} for booking {{.BookingID}}{{end}}. Thank you.`,
	},
	notification.TypePaymentFailed: {
		Subject: "Payment failed",
		Body: `Hi {{or .Name "there"}},

Your payment{{if .Amount}} of {{.Amount}}{{end}}{{if .BookingID}} for booking {{.BookingID}}{{end}} could not be processed.{{if .Reason}} Reason: {{.Reason}}{{end}} Please update your payment method in the InstaCares app.`,
	},
	notification.TypeSecurityAlert: {
		Subject: "Security alert on your InstaCares account",
		Body: `Hi {{or .Name "there"}},

{{or .Message "We noticed unusual activity on your account."}} If this was not you, reset your password in the InstaCares app.`,
	},
	notification.TypeEmergencyAlert: {
		Subject: `EMERGENCY: {{or .ChildName "InstaCares alert"}}`,
		Body: `EMERGENCY ALERT{{if .ChildName}} regarding {{.ChildName}}{{end}}.

{{.Message}}{{if .Location}}

Location: {{.Location}}{{end}}

Please respond immediately.`,
	},
	notification.TypeCaregiverMessage: {
		Subject: "New message{{if .SenderName}} from {{.SenderName}}{{end}}",
		Body: `Hi {{or .Name "there"}},

{{if .SenderName}}{{.SenderName}} sent you a message{{else}}You have a new message{{end}}: {{.Message}}`,
	},
	notification.TypeMarketing: {
		Subject: "News from InstaCares",
		Body: `Hi {{or .Name "there"}},

{{or .Offer .Message}}

Reply STOP to unsubscribe.`,
	},
}

type compiled struct {
	id      string
	subject *texttemplate.Template
	body    *texttemplate.Template
}

// Engine resolves notification content from embedded templates. All
// templates are parsed at construction; Resolve does no I/O.
type Engine struct {
	templates map[notification.NotificationType]compiled
	layout    *htmltemplate.Template
}

// NewEngine parses every registered template and verifies that each declared
// notification type has one.
func NewEngine() (*Engine, error) {
	layout, err := htmltemplate.ParseFS(layoutFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parsing layout template: %w", err)
	}

	e := &Engine{
		templates: make(map[notification.NotificationType]compiled, len(registry)),
		layout:    layout,
	}

	for _, t := range notification.AllTypes() {
		meta, ok := registry[t]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnmappedType, t)
		}
		subject, err := texttemplate.New(string(t) + ".subject").Parse(meta.Subject)
		if err != nil {
			return nil, fmt.Errorf("parsing %s subject: %w", t, err)
		}
		body, err := texttemplate.New(string(t) + ".body").Parse(meta.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing %s body: %w", t, err)
		}
		e.templates[t] = compiled{
			id:      TemplateID(t),
			subject: subject,
			body:    body,
		}
	}

	return e, nil
}

// TemplateID returns the stable template identifier for a type.
func TemplateID(t notification.NotificationType) string {
	return "instacares." + string(t) + ".v1"
}

// Resolve produces the subject, text and HTML content for a notification type.
func (e *Engine) Resolve(notifType notification.NotificationType, data map[string]any) (*notification.Content, error) {
	tmpl, ok := e.templates[notifType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedType, notifType)
	}

	vars := make(map[string]any, len(fields)+len(data))
	for _, f := range fields {
		vars[f] = ""
	}
	for k, v := range data {
		vars[k] = v
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("executing %s subject: %w", notifType, err)
	}
	if err := tmpl.body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("executing %s body: %w", notifType, err)
	}

	content := &notification.Content{
		TemplateID: tmpl.id,
		Subject:    strings.TrimSpace(subject.String()),
		Text:       strings.TrimSpace(body.String()),
	}

	var html bytes.Buffer
	err := e.layout.Execute(&html, map[string]any{
		"Subject":    content.Subject,
		"Paragraphs": paragraphs(content.Text),
		"Urgent":     notifType.IsEmergency(),
	})
	if err != nil {
		return nil, fmt.Errorf("executing layout for %s: %w", notifType, err)
	}
	content.HTML = html.String()

	return content, nil
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
