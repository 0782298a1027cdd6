// Package streamauth issues and checks short-lived tokens for the push
// endpoints. Browsers cannot attach Basic Auth to EventSource or WebSocket
// requests, so those endpoints accept ?token= instead.
package streamauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenPrefix identifies the token format.
	TokenPrefix = "wlc1"

	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 5 * time.Minute
)

// Scope limits which endpoint a token opens.
type Scope string

// Token scopes.
const (
	ScopeSSE Scope = "sse"
	ScopeWS  Scope = "ws"
)

// Errors returned by Verify.
var (
	ErrEmptySecret      = errors.New("secret cannot be empty")
	ErrInvalidFormat    = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidScope     = errors.New("invalid token scope")
)

// Claims is the token payload.
type Claims struct {
	ID     string  `json:"jti"`
	Exp    int64   `json:"exp"`
	Iat    int64   `json:"iat"`
	Scopes []Scope `json:"scp"`
}

// Allows reports whether the claims include scope.
func (c Claims) Allows(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Issuer signs and verifies tokens with one secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.ttl = d
		}
	}
}

// WithNow sets the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer returns an Issuer for secret.
func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	i := &Issuer{secret: secret, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the validity of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns a token of the form wlc1.<payload>.<sig> valid for scopes.
func (i *Issuer) Issue(scopes ...Scope) (string, error) {
	now := i.now()
	claims := Claims{
		ID:     uuid.NewString(),
		Exp:    now.Add(i.ttl).Unix(),
		Iat:    now.Unix(),
		Scopes: scopes,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signed := TokenPrefix + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signed + "." + base64.RawURLEncoding.EncodeToString(i.sign(signed)), nil
}

// Verify checks signature, expiry and scope of token.
func (i *Issuer) Verify(token string, scope Scope) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != TokenPrefix {
		return Claims{}, ErrInvalidFormat
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidFormat
	}
	if !hmac.Equal(sig, i.sign(parts[0]+"."+parts[1])) {
		return Claims{}, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidFormat
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidFormat
	}

	if i.now().Unix() > claims.Exp {
		return Claims{}, ErrTokenExpired
	}
	if !claims.Allows(scope) {
		return Claims{}, ErrInvalidScope
	}
	return claims, nil
}

func (i *Issuer) sign(s string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(s))
	return mac.Sum(nil)
}
