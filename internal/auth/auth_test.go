package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, sub, name string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name: name,
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("s3cret")
	tok := signToken(t, "s3cret", "u42", "Ada", time.Now().Add(time.Hour))
	id, ok := v.Verify("Bearer " + tok)
	if !ok {
		t.Fatalf("expected valid token")
	}
	if id.UserID != "u42" || id.Name != "Ada" || id.Guest {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerify_WrongKeyFailsOpen(t *testing.T) {
	v := NewVerifier("s3cret")
	tok := signToken(t, "other", "u42", "Ada", time.Now().Add(time.Hour))
	if _, ok := v.Verify(tok); ok {
		t.Fatalf("token signed with wrong key must not verify")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	v := NewVerifier("s3cret")
	tok := signToken(t, "s3cret", "u42", "Ada", time.Now().Add(-time.Hour))
	if _, ok := v.Verify(tok); ok {
		t.Fatalf("expired token must not verify")
	}
}

func TestVerify_EmptyOrNoSecret(t *testing.T) {
	if _, ok := NewVerifier("s3cret").Verify(""); ok {
		t.Fatalf("empty token must not verify")
	}
	tok := signToken(t, "s3cret", "u42", "", time.Now().Add(time.Hour))
	if _, ok := NewVerifier("").Verify(tok); ok {
		t.Fatalf("verifier without a secret must treat everyone as guest")
	}
}

func TestGuest_Unique(t *testing.T) {
	a, b := Guest(), Guest()
	if a.UserID == b.UserID {
		t.Fatalf("guest ids must be unique")
	}
	if !a.Guest || a.Name == "" {
		t.Fatalf("guest identity malformed: %+v", a)
	}
}
