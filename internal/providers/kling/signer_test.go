package kling

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tryon/internal/domain"
)

func TestSignProducesVerifiableToken(t *testing.T) {
	cred := domain.Credential{AccessKeyID: "ak-123", SecretKey: "sk-secret"}
	now := time.Now()

	token, err := Sign(cred, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if !token.ExpiresAt.After(token.IssuedAt) {
		t.Fatalf("expiry %s is not after issuance %s", token.ExpiresAt, token.IssuedAt)
	}
	if got := token.ExpiresAt.Sub(token.IssuedAt); got != 30*time.Minute {
		t.Fatalf("validity window = %s, want 30m", got)
	}

	parsed, err := jwt.ParseWithClaims(token.Value, &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		return []byte(cred.SecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer != cred.AccessKeyID {
		t.Fatalf("iss = %q, want %q", claims.Issuer, cred.AccessKeyID)
	}
	if !claims.ExpiresAt.Time.Equal(token.ExpiresAt) {
		t.Fatalf("exp claim %s does not match token expiry %s", claims.ExpiresAt.Time, token.ExpiresAt)
	}
	if !claims.NotBefore.Time.Before(claims.IssuedAt.Time) {
		t.Fatalf("nbf %s should precede iat %s", claims.NotBefore.Time, claims.IssuedAt.Time)
	}
	if typ := parsed.Header["typ"]; typ != "JWT" {
		t.Fatalf("typ header = %v, want JWT", typ)
	}
}

func TestSignRejectsWrongSecret(t *testing.T) {
	token, err := Sign(domain.Credential{AccessKeyID: "ak", SecretKey: "right"}, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	_, err = jwt.Parse(token.Value, func(tok *jwt.Token) (any, error) {
		return []byte("wrong"), nil
	})
	if err == nil {
		t.Fatalf("expected signature verification failure")
	}
}

func TestSignRejectsInvalidCredentials(t *testing.T) {
	cases := []domain.Credential{
		{AccessKeyID: "ak", SecretKey: ""},
		{AccessKeyID: "", SecretKey: "sk"},
		{AccessKeyID: "ak", SecretKey: "has space"},
		{AccessKeyID: "ak", SecretKey: "line\nbreak"},
	}
	for _, cred := range cases {
		if _, err := Sign(cred, time.Now(), time.Minute); !errors.Is(err, domain.ErrInvalidCredential) {
			t.Fatalf("Sign(%+v) error = %v, want ErrInvalidCredential", cred, err)
		}
		if _, err := NewSigner(cred, time.Minute); !errors.Is(err, domain.ErrInvalidCredential) {
			t.Fatalf("NewSigner(%+v) error = %v, want ErrInvalidCredential", cred, err)
		}
	}
}

func TestSignerIsPureFunctionOfTime(t *testing.T) {
	signer, err := NewSigner(domain.Credential{AccessKeyID: "ak", SecretKey: "sk"}, 0)
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, _ := signer.Sign(at)
	b, _ := signer.Sign(at)
	if a.Value != b.Value {
		t.Fatalf("same instant produced different tokens")
	}
	if a.ExpiresAt.Sub(a.IssuedAt) != DefaultTokenTTL {
		t.Fatalf("default ttl not applied: %s", a.ExpiresAt.Sub(a.IssuedAt))
	}
	c, _ := signer.Sign(at.Add(time.Minute))
	if c.Value == a.Value {
		t.Fatalf("later instant produced identical token")
	}
}
