package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GrantScope marks a token as a step-up grant rather than a session token.
const GrantScope = "step_up"

// StepUpConfig tunes code issuance and verification.
type StepUpConfig struct {
	CodeLength  int
	TTL         time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	Pepper      string
	GrantTTL    time.Duration
	GrantSecret []byte
	IssueLimit  int
	IssueWindow time.Duration
}

func (c *StepUpConfig) setDefaults() {
	if c.CodeLength <= 0 {
		c.CodeLength = accesscode.DefaultLength
	}
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.GrantTTL <= 0 {
		c.GrantTTL = 10 * time.Minute
	}
	if c.IssueLimit <= 0 {
		c.IssueLimit = 5
	}
	if c.IssueWindow <= 0 {
		c.IssueWindow = time.Hour
	}
}

// Grant is proof of a recent successful step-up for one session.
type Grant struct {
	Token     string
	SubjectID string
	SessionID string
	ExpiresAt time.Time
}

// GrantClaims is the JWT body of a grant token.
type GrantClaims struct {
	SessionID string `json:"sid"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

// StepUpService issues and verifies one-time access codes guarding sensitive reads.
type StepUpService struct {
	store   accesscode.Store
	limiter accesscode.Limiter
	sender  accesscode.Sender
	cfg     StepUpConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewStepUpService(
	store accesscode.Store,
	limiter accesscode.Limiter,
	sender accesscode.Sender,
	cfg StepUpConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *StepUpService {
	cfg.setDefaults()
	return &StepUpService{
		store:   store,
		limiter: limiter,
		sender:  sender,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue creates a code bound to the caller's session and sends it out of
// band. Only the salted hash is stored. The plaintext is returned for the
// sender path and must never reach an HTTP response.
func (s *StepUpService) Issue(ctx context.Context, subjectID string, binding accesscode.Binding) (string, error) {
	if binding.Empty() {
		return "", domainErrors.NewValidationError("binding", "session binding is required")
	}

	allowed, err := s.limiter.Allow(ctx, "stepup:issue:"+subjectID, s.cfg.IssueLimit, s.cfg.IssueWindow)
	if err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	if !allowed {
		s.metrics.StepUp("issue", "rate_limited")
		s.logger.Info().Str("subject_id", subjectID).Str("reason", "rate_limited").Msg("Access code refused")
		return "", domainErrors.ErrRateLimited
	}

	now := s.now()
	existing, err := s.store.Get(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if existing != nil && !existing.Expired(now) && now.Sub(existing.IssuedAt) < s.cfg.Cooldown {
		s.metrics.StepUp("issue", "cooldown")
		s.logger.Info().Str("subject_id", subjectID).Str("reason", "cooldown").Msg("Access code refused")
		return "", domainErrors.ErrCooldown
	}

	code, err := accesscode.Generate(s.cfg.CodeLength)
	if err != nil {
		return "", err
	}
	salt, err := accesscode.NewSalt()
	if err != nil {
		return "", err
	}
	record := &accesscode.AccessCode{
		SubjectID:   subjectID,
		CodeHash:    accesscode.Hash(salt, code, s.cfg.Pepper),
		Salt:        salt,
		ExpiresAt:   now.Add(s.cfg.TTL).UTC(),
		MaxAttempts: s.cfg.MaxAttempts,
		Binding:     binding,
		IssuedAt:    now.UTC(),
	}
	if err := s.store.Save(ctx, record, s.cfg.TTL); err != nil {
		return "", err
	}

	if err := s.sender.SendAccessCode(ctx, subjectID, code, record.ExpiresAt); err != nil {
		// an undeliverable code must not block a retry behind the cooldown
		_ = s.store.Delete(ctx, subjectID)
		s.metrics.StepUp("issue", "send_failed")
		return "", fmt.Errorf("send access code: %w", err)
	}

	s.metrics.StepUp("issue", "ok")
	s.logger.Info().Str("subject_id", subjectID).Time("expires_at", record.ExpiresAt).Msg("Access code issued")
	return code, nil
}

// Verify checks candidate against the subject's live code. Checks run in a
// fixed order; a missing binding is refused before any attempt is consumed.
func (s *StepUpService) Verify(ctx context.Context, subjectID, candidate string, binding accesscode.Binding) (*Grant, error) {
	grant, err := s.verify(ctx, subjectID, candidate, binding)
	if err != nil {
		var denied *accesscode.DeniedError
		if errors.As(err, &denied) {
			s.metrics.StepUp("verify", string(denied.Reason))
			s.logger.Info().Str("subject_id", subjectID).Str("reason", string(denied.Reason)).Msg("Access code denied")
		}
		return nil, err
	}
	s.metrics.StepUp("verify", "ok")
	return grant, nil
}

func (s *StepUpService) verify(ctx context.Context, subjectID, candidate string, binding accesscode.Binding) (*Grant, error) {
	now := s.now()
	code, err := s.store.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, deny(accesscode.ReasonNotFound, domainErrors.ErrCodeNotFound)
	}
	if code.Expired(now) {
		if err := s.store.Delete(ctx, subjectID); err != nil {
			return nil, err
		}
		return nil, deny(accesscode.ReasonExpired, domainErrors.ErrCodeExpired)
	}
	if code.Exhausted() {
		if err := s.store.Delete(ctx, subjectID); err != nil {
			return nil, err
		}
		return nil, deny(accesscode.ReasonExhausted, domainErrors.ErrCodeExhausted)
	}
	if binding.Empty() {
		return nil, deny(accesscode.ReasonBindingMissing, domainErrors.ErrBindingMissing)
	}

	// the snapshot above may be stale under concurrent guesses; only an
	// attempt counted against the stored budget is compared
	reservation, err := s.store.ReserveAttempt(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	switch reservation {
	case accesscode.ReservationGone:
		return nil, deny(accesscode.ReasonNotFound, domainErrors.ErrCodeNotFound)
	case accesscode.ReservationExhausted:
		return nil, deny(accesscode.ReasonExhausted, domainErrors.ErrCodeExhausted)
	}

	if !code.Binding.Matches(binding) {
		return nil, deny(accesscode.ReasonBindingMismatch, domainErrors.ErrBindingMismatch)
	}
	if !code.Matches(candidate, s.cfg.Pepper) {
		return nil, deny(accesscode.ReasonInvalidCode, domainErrors.ErrCodeInvalid)
	}

	consumed, err := s.store.Consume(ctx, subjectID, code.CodeHash)
	if err != nil {
		return nil, err
	}
	if !consumed {
		// a concurrent verification already used the code
		return nil, deny(accesscode.ReasonNotFound, domainErrors.ErrCodeNotFound)
	}
	return s.newGrant(subjectID, binding.SessionID, now)
}

func deny(reason accesscode.Reason, err error) error {
	return &accesscode.DeniedError{Reason: reason, Err: err}
}

func (s *StepUpService) newGrant(subjectID, sessionID string, now time.Time) (*Grant, error) {
	expires := now.Add(s.cfg.GrantTTL)
	claims := GrantClaims{
		SessionID: sessionID,
		Scope:     GrantScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.GrantSecret)
	if err != nil {
		return nil, fmt.Errorf("sign grant: %w", err)
	}
	return &Grant{Token: token, SubjectID: subjectID, SessionID: sessionID, ExpiresAt: expires.UTC()}, nil
}

// ParseGrant validates a grant token and checks it belongs to subject and session.
func (s *StepUpService) ParseGrant(token, subjectID, sessionID string) (*Grant, error) {
	claims := &GrantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.cfg.GrantSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, domainErrors.ErrStepUpRequired
	}
	if claims.Scope != GrantScope || claims.Subject != subjectID || claims.SessionID != sessionID {
		return nil, domainErrors.ErrStepUpRequired
	}
	return &Grant{
		Token:     token,
		SubjectID: claims.Subject,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
