// Package notification delivers customer email: order confirmations from the
// notification stream and step-up access codes.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// ErrPermanent marks a delivery the mail API refused; retrying will not help.
var ErrPermanent = errors.New("permanent delivery failure")

// Message is one outbound email.
type Message struct {
	To       string `json:"to"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	Template string `json:"-"`
	// DedupeKey lets the mail API drop duplicates on its side too.
	DedupeKey string `json:"-"`
}

// Mailer sends a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPMailer posts messages to a transactional mail API.
type HTTPMailer struct {
	client *resty.Client
	from   string
}

func NewHTTPMailer(baseURL, apiKey, from string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &HTTPMailer{client: client, from: from}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.from
	}
	req := m.client.R().SetContext(ctx).SetBody(msg)
	if msg.DedupeKey != "" {
		req.SetHeader("Idempotency-Key", msg.DedupeKey)
	}
	resp, err := req.Post("/messages")
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	switch {
	case resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests:
		return fmt.Errorf("mail api returned %d", resp.StatusCode())
	case resp.IsError():
		return fmt.Errorf("%w: mail api returned %d", ErrPermanent, resp.StatusCode())
	}
	return nil
}

// LogMailer only logs messages. It is used in development and sandbox mode.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("template", msg.Template).
		Msg("Mail sent (log mode)")
	return nil
}
