package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/pkg/retry"
	"github.com/cassiomorais/orderrecon/pkg/signer"
	"github.com/go-resty/resty/v2"
)

const contentTypeJSON = "application/json"

// ClientConfig configures one provider's outbound client and inbound verifier.
type ClientConfig struct {
	BaseURL  string
	ClientID string
	APIKey   string
	// APISecret signs outbound requests.
	APISecret string
	// WebhookSecret verifies inbound webhooks and callbacks.
	WebhookSecret string
	WebhookPath   string
	Timeout       time.Duration
	Skew          time.Duration
	Policy        signer.VerificationPolicy
}

// Client is a signed JSON client for a provider API. Every call gets a
// per-attempt timeout and one retry on transient failures.
type Client struct {
	http     *resty.Client
	signer   *signer.Signer
	verifier *signer.Signer
	policy   signer.VerificationPolicy
	path     string
	timeout  time.Duration
	retry    retry.Config
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", contentTypeJSON)
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-API-Key", cfg.APIKey)
	}

	rc := retry.ProviderConfig()
	rc.RetryIf = isTransient

	return &Client{
		http:     httpClient,
		signer:   signer.New(cfg.ClientID, cfg.APISecret),
		verifier: signer.New(cfg.ClientID, cfg.WebhookSecret, signer.WithSkew(cfg.Skew)),
		policy:   cfg.Policy,
		path:     cfg.WebhookPath,
		timeout:  timeout,
		retry:    rc,
	}
}

// Do sends a signed request and decodes a 2xx JSON response into out.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return retry.Do(ctx, c.retry, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req := c.http.R().
			SetContext(attemptCtx).
			SetHeader("Authorization", c.signer.SignNow(method, path, body, contentTypeJSON))
		if body != nil {
			req.SetHeader("Content-Type", contentTypeJSON).SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return classifyTransportError(err)
		}
		switch {
		case resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s %s returned %d", domainErrors.ErrProviderUnavailable, method, path, resp.StatusCode())
		case resp.StatusCode() == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s returned 404", domainErrors.ErrNoProviderHandle, method, path)
		case resp.StatusCode() >= 400:
			return fmt.Errorf("%w: %s %s returned %d: %s", domainErrors.ErrProviderRejected, method, path, resp.StatusCode(), truncate(resp.Body()))
		}

		if out == nil || len(resp.Body()) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domainErrors.ErrProviderUnavailable, err)
		}
		return nil
	})
}

// Verify checks an inbound webhook signature under the configured policy.
func (c *Client) Verify(raw []byte, signatureHeader string) error {
	return c.policy.Check(c.verifier, http.MethodPost, c.path, contentTypeJSON, signatureHeader, raw)
}

// VerifyCallback checks a redirect signature computed over the encoded query.
func (c *Client) VerifyCallback(path string, encodedQuery []byte, signature string) error {
	return c.policy.Check(c.verifier, http.MethodGet, path, formContentType, signature, encodedQuery)
}

const formContentType = "application/x-www-form-urlencoded"

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domainErrors.ErrProviderTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return retry.Unrecoverable(err)
	}
	return fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
}

func isTransient(err error) bool {
	return errors.Is(err, domainErrors.ErrProviderTimeout) || errors.Is(err, domainErrors.ErrProviderUnavailable)
}

func truncate(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 256 {
		b = b[:256]
	}
	return string(b)
}
