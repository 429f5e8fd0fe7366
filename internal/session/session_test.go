package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

func TestStatic(t *testing.T) {
	id, err := Static("user-1").CurrentUser(context.Background())
	if err != nil || id != "user-1" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := Static("").CurrentUser(context.Background()); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestContextProvider(t *testing.T) {
	var p ContextProvider
	if _, err := p.CurrentUser(context.Background()); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	id, err := p.CurrentUser(WithUser(context.Background(), "user-2"))
	if err != nil || id != "user-2" {
		t.Fatalf("got %q, %v", id, err)
	}
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("secret", WithIssuer("auth"), WithAudience("authenticated"))

	t.Run("round trip", func(t *testing.T) {
		token, err := v.Sign("user-3", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		claims, err := v.Verify(token)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if claims.Subject != "user-3" {
			t.Fatalf("subject = %q", claims.Subject)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, err := v.Sign("user-3", -time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		_, err = v.Verify(token)
		if !errors.Is(err, apperror.ErrUnauthenticated) || !errors.Is(err, jwt.ErrTokenExpired) {
			t.Fatalf("expected expired token error, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := NewTokenVerifier("other", WithIssuer("auth"), WithAudience("authenticated")).Sign("user-3", time.Hour)
		if _, err := v.Verify(token); !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, _ := NewTokenVerifier("secret", WithIssuer("elsewhere"), WithAudience("authenticated")).Sign("user-3", time.Hour)
		if _, err := v.Verify(token); !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := v.Verify("  "); !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Fatalf("expected unauthenticated, got %v", err)
		}
	})
}
