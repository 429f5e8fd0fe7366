// Package session resolves the signed-in user for gateway calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// Provider returns the id of the current user, or an error matching
// apperror.ErrUnauthenticated when there is no session.
type Provider interface {
	CurrentUser(ctx context.Context) (string, error)
}

// Static is a provider with a fixed user. An empty Static has no session.
type Static string

func (s Static) CurrentUser(context.Context) (string, error) {
	if s == "" {
		return "", apperror.E(apperror.KindUnauthenticated, "session.CurrentUser", "no active session")
	}
	return string(s), nil
}

type contextKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFromContext returns the user id stored by WithUser.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextProvider reads the user placed into the context by WithUser.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (string, error) {
	if id := UserFromContext(ctx); id != "" {
		return id, nil
	}
	return "", apperror.E(apperror.KindUnauthenticated, "session.CurrentUser", "no active session")
}

// Claims are the access token claims issued by the hosted auth service.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// TokenVerifier validates HS256 access tokens. The subject claim is the user id.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// VerifierOption configures a TokenVerifier.
type VerifierOption func(*TokenVerifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *TokenVerifier) { v.issuer = issuer }
}

// WithAudience requires aud to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *TokenVerifier) { v.audience = audience }
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *TokenVerifier) { v.leeway = d }
}

func NewTokenVerifier(secret string, opts ...VerifierOption) *TokenVerifier {
	v := &TokenVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses and validates token and returns its claims.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	const op = "session.Verify"

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.E(apperror.KindUnauthenticated, op, "missing token")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, &apperror.Error{Kind: apperror.KindUnauthenticated, Op: op, Message: msg, Err: err}
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, apperror.E(apperror.KindUnauthenticated, op, "token has no subject")
	}
	return claims, nil
}

// Sign issues a token for userID valid for ttl. Used by tools and tests.
func (v *TokenVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "authenticated",
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
