// Package auth issues and validates the HS256 tokens that guard the event
// stream and sign webhook deliveries.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Token scopes. Each scope signs with its own derived key.
const (
	ScopeEvents  = "events"
	ScopeWebhook = "webhook"
)

const (
	issuer = "ztpserver"

	// webhookTokenTTL bounds how long a captured delivery can be replayed.
	webhookTokenTTL = 5 * time.Minute
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims holds the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
	// Digest is the hex SHA-256 of the signed request body (webhook scope).
	Digest string `json:"digest,omitempty"`
}

// TokenService signs and validates scoped tokens.
type TokenService struct {
	keys map[string][]byte
}

// NewTokenService derives one signing key per scope from secret.
func NewTokenService(secret []byte) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	keys := make(map[string][]byte, 2)
	for _, scope := range []string{ScopeEvents, ScopeWebhook} {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(issuer+"/"+scope)), key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", scope, err)
		}
		keys[scope] = key
	}
	return &TokenService{keys: keys}, nil
}

// Issue returns a signed token for scope. A zero ttl means no expiry.
func (s *TokenService) Issue(scope, subject string, ttl time.Duration) (string, error) {
	return s.sign(scope, subject, ttl, "")
}

// SignBody returns a short-lived webhook token bound to body.
func (s *TokenService) SignBody(topic string, body []byte) (string, error) {
	return s.sign(ScopeWebhook, topic, webhookTokenTTL, HashBody(body))
}

// Validate parses tokenString and checks it was issued for scope.
func (s *TokenService) Validate(tokenString, scope string) (*Claims, error) {
	key, ok := s.keys[scope]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, scope)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != scope {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyBody validates a webhook token and checks it matches body.
func (s *TokenService) VerifyBody(tokenString string, body []byte) (*Claims, error) {
	claims, err := s.Validate(tokenString, ScopeWebhook)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.Digest), []byte(HashBody(body))) != 1 {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrInvalidToken)
	}
	return claims, nil
}

func (s *TokenService) sign(scope, subject string, ttl time.Duration, digest string) (string, error) {
	key, ok := s.keys[scope]
	if !ok {
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Scope:  scope,
		Digest: digest,
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", scope, err)
	}
	return signed, nil
}

// HashBody returns the hex SHA-256 of body.
func HashBody(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}
