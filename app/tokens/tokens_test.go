package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestIssuer(t *testing.T, secret string) (*Issuer, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss, err := NewIssuer(secret, c.Now)
	require.NoError(t, err)
	return iss, c
}

func TestIssueAndParse(t *testing.T) {
	iss, c := newTestIssuer(t, "s3cret")

	raw, err := iss.Issue("Alice@Example.com", IntentFresh, 10*time.Minute)
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, IntentFresh, claims.Intent)
	assert.Equal(t, c.t.Add(10*time.Minute), claims.ExpiresAt())
	assert.False(t, claims.Expired(c.t))
}

func TestParseDoesNotEnforceExpiry(t *testing.T) {
	iss, c := newTestIssuer(t, "s3cret")

	raw, err := iss.Issue("alice@example.com", IntentRefresh, time.Minute)
	require.NoError(t, err)

	c.t = c.t.Add(time.Hour)
	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, IntentRefresh, claims.Intent)
	assert.True(t, claims.Expired(iss.Now()))
}

func TestParseRejects(t *testing.T) {
	iss, _ := newTestIssuer(t, "s3cret")
	other, _ := newTestIssuer(t, "another")

	good, err := iss.Issue("alice@example.com", IntentReset, time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("alice@example.com", IntentReset, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(good, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not-a-token"},
		{name: "other secret", raw: foreign},
		{name: "bad signature", raw: tampered},
		{name: "unsigned", raw: parts[0] + "." + parts[1] + "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Parse(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssueUnknownIntent(t *testing.T) {
	iss, _ := newTestIssuer(t, "s3cret")
	_, err := iss.Issue("alice@example.com", Intent("admin"), time.Minute)
	assert.Error(t, err)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", nil)
	assert.Error(t, err)
}
