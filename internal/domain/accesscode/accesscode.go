package accesscode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Alphabet excludes characters that are easy to misread (0/O, 1/I/L).
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// DefaultLength is the number of characters in a generated code.
const DefaultLength = 8

// Binding ties a code to the session and device it was issued to.
type Binding struct {
	SessionID       string `json:"session_id"`
	FingerprintHash string `json:"fingerprint_hash"`
}

// Empty reports whether no binding was presented.
func (b Binding) Empty() bool {
	return b.SessionID == "" && b.FingerprintHash == ""
}

// Matches compares both fields in constant time.
func (b Binding) Matches(other Binding) bool {
	s := subtle.ConstantTimeCompare([]byte(b.SessionID), []byte(other.SessionID))
	f := subtle.ConstantTimeCompare([]byte(b.FingerprintHash), []byte(other.FingerprintHash))
	return s&f == 1
}

// AccessCode is the stored form of a one-time code. The plaintext is never kept.
type AccessCode struct {
	SubjectID   string    `json:"subject_id"`
	CodeHash    string    `json:"code_hash"`
	Salt        string    `json:"salt"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Binding     Binding   `json:"binding"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c *AccessCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Exhausted reports whether no verification attempts remain.
func (c *AccessCode) Exhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

// Generate returns a random code of n characters drawn from Alphabet.
func Generate(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	base := big.NewInt(int64(len(Alphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		sb.WriteByte(Alphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// NewSalt returns 16 random bytes, hex encoded.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Normalize upper-cases the candidate and strips separators users commonly type.
func Normalize(candidate string) string {
	r := strings.NewReplacer(" ", "", "-", "", "\t", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(candidate)))
}

// Hash computes SHA-256(salt + code + pepper), hex encoded.
func Hash(salt, code, pepper string) string {
	sum := sha256.Sum256([]byte(salt + code + pepper))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether candidate hashes to the stored hash.
func (c *AccessCode) Matches(candidate, pepper string) bool {
	got := Hash(c.Salt, Normalize(candidate), pepper)
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.CodeHash)) == 1
}

// Reason names why a verification was denied. It is logged, never returned to clients.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonExpired         Reason = "expired"
	ReasonExhausted       Reason = "exhausted"
	ReasonBindingMissing  Reason = "binding_missing"
	ReasonBindingMismatch Reason = "binding_mismatch"
	ReasonInvalidCode     Reason = "invalid_code"
)

// DeniedError is returned by verification for every refusal.
type DeniedError struct {
	Reason Reason
	Err    error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access code denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}
