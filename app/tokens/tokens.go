// Package tokens issues and parses the signed, time-limited tokens mailed to
// subscribers for email verification and password reset.
package tokens

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Intent records what a token was issued for.
type Intent string

const (
	IntentFresh   Intent = "fresh"
	IntentRefresh Intent = "refresh"
	IntentReset   Intent = "reset"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentFresh, IntentRefresh, IntentReset:
		return true
	}
	return false
}

// ErrInvalidToken covers malformed tokens and signature mismatches.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload of a token.
type Claims struct {
	Email  string           `json:"email_id"`
	Intent Intent           `json:"token_type"`
	Expiry *jwt.NumericDate `json:"exp"`
}

// ExpiresAt returns the expiry instant carried by the token.
func (c Claims) ExpiresAt() time.Time {
	if c.Expiry == nil {
		return time.Time{}
	}
	return c.Expiry.Time()
}

// Expired reports whether the token is past its expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Issuer signs and verifies tokens with a key derived from the application secret.
type Issuer struct {
	key    []byte
	signer jose.Signer
	now    func() time.Time
}

// NewIssuer derives an HS256 key from secret. now defaults to time.Now.
func NewIssuer(secret string, now func() time.Time) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if now == nil {
		now = time.Now
	}
	sum := sha256.Sum256([]byte(secret))
	key := sum[:]

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("create token signer: %w", err)
	}
	return &Issuer{key: key, signer: signer, now: now}, nil
}

// Issue returns a token for email that expires ttl from now.
func (i *Issuer) Issue(email string, intent Intent, ttl time.Duration) (string, error) {
	if !intent.Valid() {
		return "", fmt.Errorf("unknown token intent %q", intent)
	}
	claims := Claims{
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Intent: intent,
		Expiry: jwt.NewNumericDate(i.now().Add(ttl)),
	}
	raw, err := jwt.Signed(i.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return raw, nil
}

// Parse verifies the signature and decodes the claims. Expiry is not checked
// here; callers decide what an expired token means for its intent.
func (i *Issuer) Parse(raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return claims, ErrInvalidToken
	}
	if err := tok.Claims(i.key, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Email == "" || !claims.Intent.Valid() || claims.Expiry == nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Now exposes the issuer clock so callers judge expiry against the same time source.
func (i *Issuer) Now() time.Time {
	return i.now()
}
