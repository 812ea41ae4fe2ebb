package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"
)

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateAccessCode        = "access_code"
)

var templates = map[string]struct {
	subject string
	body    *template.Template
}{
	TemplateOrderConfirmation: {
		subject: "Your order is confirmed",
		body: template.Must(template.New(TemplateOrderConfirmation).Parse(
			"Thank you for your order {{.order_id}}.\n\nWe received your payment of {{.amount}}.\n")),
	},
	TemplateAccessCode: {
		subject: "Your verification code",
		body: template.Must(template.New(TemplateAccessCode).Parse(
			"Your verification code is {{.code}}.\n\nIt expires at {{.expires_at}}. If you did not ask for it, ignore this email.\n")),
	},
}

// Render builds the message for a template from its data.
func Render(name, to string, data map[string]any) (Message, error) {
	t, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown template %q", ErrPermanent, name)
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: to, Subject: t.subject, Text: buf.String(), Template: name}, nil
}

// AddressFunc resolves the email address of a step-up subject.
type AddressFunc func(ctx context.Context, subjectID string) (string, error)

// AccessCodeSender mails step-up codes.
type AccessCodeSender struct {
	mailer  Mailer
	address AddressFunc
}

func NewAccessCodeSender(mailer Mailer, address AddressFunc) *AccessCodeSender {
	return &AccessCodeSender{mailer: mailer, address: address}
}

func (s *AccessCodeSender) SendAccessCode(ctx context.Context, subjectID, code string, expiresAt time.Time) error {
	to, err := s.address(ctx, subjectID)
	if err != nil {
		return err
	}
	msg, err := Render(TemplateAccessCode, to, map[string]any{
		"code":       code,
		"expires_at": expiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}
