// Package signer implements the OPA-Auth HMAC request signature used between
// the service and its payment providers.
//
// Header format:
//
//	hmac OPA-Auth:<clientID>:<mac>:<nonce>:<timestamp>:<digest>
//
// The MAC is base64(HMAC-SHA256(secret, canonical)) over
//
//	path \n method \n nonce \n timestamp \n contentType \n digest
//
// where digest is base64(SHA-256(contentType + body)), or the literal
// "empty" (with contentType also "empty") when there is no body.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	scheme = "hmac OPA-Auth:"
	empty  = "empty"

	// DefaultSkew is the accepted clock difference between signer and verifier.
	DefaultSkew = 120 * time.Second
)

// ErrSignatureInvalid is the only error Verify returns.
var ErrSignatureInvalid = errors.New("signature invalid")

// Signer signs and verifies requests for one client id and shared secret.
type Signer struct {
	clientID string
	secret   []byte
	skew     time.Duration
	now      func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithSkew overrides the accepted timestamp skew.
func WithSkew(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.skew = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// New creates a Signer.
func New(clientID, secret string, opts ...Option) *Signer {
	s := &Signer{
		clientID: clientID,
		secret:   []byte(secret),
		skew:     DefaultSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewNonce returns a random single-use nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Digest returns the body digest and the content type as they appear in the
// canonical string.
func Digest(body []byte, contentType string) (digest, ct string) {
	if len(body) == 0 {
		return empty, empty
	}
	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), contentType
}

func canonical(method, path, nonce string, ts int64, contentType, digest string) string {
	return strings.Join([]string{
		path,
		strings.ToUpper(method),
		nonce,
		strconv.FormatInt(ts, 10),
		contentType,
		digest,
	}, "\n")
}

func (s *Signer) mac(msg string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(m.Sum(nil))
}

// Sign returns the Authorization header value for the request.
func (s *Signer) Sign(method, path, nonce string, ts int64, body []byte, contentType string) string {
	digest, ct := Digest(body, contentType)
	mac := s.mac(canonical(method, path, nonce, ts, ct, digest))
	return scheme + strings.Join([]string{
		s.clientID, mac, nonce, strconv.FormatInt(ts, 10), digest,
	}, ":")
}

// SignNow signs with a fresh nonce and the current time.
func (s *Signer) SignNow(method, path string, body []byte, contentType string) string {
	return s.Sign(method, path, NewNonce(), s.now().Unix(), body, contentType)
}

type parsed struct {
	clientID string
	mac      string
	nonce    string
	ts       int64
	digest   string
}

func parse(header string) (parsed, bool) {
	var p parsed
	if !strings.HasPrefix(header, scheme) {
		return p, false
	}
	parts := strings.Split(strings.TrimPrefix(header, scheme), ":")
	if len(parts) != 5 {
		return p, false
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return p, false
	}
	p = parsed{clientID: parts[0], mac: parts[1], nonce: parts[2], ts: ts, digest: parts[4]}
	return p, p.clientID != "" && p.mac != "" && p.nonce != ""
}

// Verify checks header against the request. Every check is evaluated before
// the result is decided, and every failure returns ErrSignatureInvalid.
func (s *Signer) Verify(method, path, contentType, header string, body []byte) error {
	p, parsedOK := parse(header)

	digest, ct := Digest(body, contentType)
	expectedMAC := s.mac(canonical(method, path, p.nonce, p.ts, ct, digest))

	ok := 1
	if !parsedOK {
		ok = 0
	}
	ok &= subtle.ConstantTimeCompare([]byte(p.clientID), []byte(s.clientID))
	ok &= subtle.ConstantTimeCompare([]byte(p.digest), []byte(digest))
	ok &= subtle.ConstantTimeCompare([]byte(p.mac), []byte(expectedMAC))

	delta := s.now().Unix() - p.ts
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > s.skew {
		ok = 0
	}

	if ok != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// VerificationPolicy decides whether inbound signatures are checked.
// It is fixed at startup, never toggled per request.
type VerificationPolicy int

const (
	PolicyAlways VerificationPolicy = iota
	PolicyNever
)

// ParsePolicy maps a config value to a policy. Anything other than "never"
// verifies.
func ParsePolicy(v string) VerificationPolicy {
	if strings.EqualFold(strings.TrimSpace(v), "never") {
		return PolicyNever
	}
	return PolicyAlways
}

func (p VerificationPolicy) String() string {
	if p == PolicyNever {
		return "never"
	}
	return "always"
}

// Check verifies header under the policy.
func (p VerificationPolicy) Check(s *Signer, method, path, contentType, header string, body []byte) error {
	if p == PolicyNever {
		return nil
	}
	if s == nil {
		return ErrSignatureInvalid
	}
	return s.Verify(method, path, contentType, header, body)
}
