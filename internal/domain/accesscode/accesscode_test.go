package accesscode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := Generate(DefaultLength)
		require.NoError(t, err)
		assert.Len(t, code, DefaultLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(Alphabet, c), "unexpected char %q", c)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestAlphabet_NoAmbiguousCharacters(t *testing.T) {
	for _, c := range "01OIL" {
		assert.False(t, strings.ContainsRune(Alphabet, c), "alphabet contains %q", c)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AB23CD45", Normalize(" ab23-cd45 "))
	assert.Equal(t, "AB23CD45", Normalize("AB23 CD45"))
}

func TestMatches(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	code := &AccessCode{Salt: salt, CodeHash: Hash(salt, "AB23CD45", "pepper")}

	assert.True(t, code.Matches("ab23-cd45", "pepper"))
	assert.False(t, code.Matches("AB23CD46", "pepper"))
	assert.False(t, code.Matches("AB23CD45", "other-pepper"))
}

func TestHash_SaltChangesDigest(t *testing.T) {
	assert.NotEqual(t, Hash("s1", "CODE", "p"), Hash("s2", "CODE", "p"))
}

func TestExpiredAndExhausted(t *testing.T) {
	now := time.Now()
	c := &AccessCode{ExpiresAt: now.Add(time.Minute), MaxAttempts: 5}
	assert.False(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Minute)))

	c.Attempts = 4
	assert.False(t, c.Exhausted())
	c.Attempts = 5
	assert.True(t, c.Exhausted())
}

func TestBinding(t *testing.T) {
	b := Binding{SessionID: "sess-1", FingerprintHash: "fp-1"}
	assert.True(t, b.Matches(Binding{SessionID: "sess-1", FingerprintHash: "fp-1"}))
	assert.False(t, b.Matches(Binding{SessionID: "sess-2", FingerprintHash: "fp-1"}))
	assert.False(t, b.Matches(Binding{SessionID: "sess-1", FingerprintHash: "fp-2"}))
	assert.True(t, Binding{}.Empty())
	assert.False(t, b.Empty())
}

func TestDeniedError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&DeniedError{Reason: ReasonExpired, Err: cause})

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, ReasonExpired, denied.Reason)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "access code denied: expired", err.Error())
}
