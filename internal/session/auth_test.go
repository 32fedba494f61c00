package session

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "u7"})

	sub, err := verifyToken(signed, testSecret)
	if err != nil {
		t.Fatalf("verifyToken: %v", err)
	}
	if sub != "u7" {
		t.Errorf("expected principal u7, got %s", sub)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "u7"})

	if _, err := verifyToken(signed, "other-secret"); err == nil {
		t.Error("token signed with another secret should be rejected")
	}
}

func TestVerifyToken_NoSubject(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"aud": "fanout"})

	if _, err := verifyToken(signed, testSecret); err == nil {
		t.Error("token without sub claim should be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	if tok, err := extractToken(r); err != nil || tok != "abc" {
		t.Errorf("header extraction failed: tok=%q err=%v", tok, err)
	}

	r = httptest.NewRequest("GET", "/ws?token=xyz", nil)
	if tok, err := extractToken(r); err != nil || tok != "xyz" {
		t.Errorf("query extraction failed: tok=%q err=%v", tok, err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if _, err := extractToken(r); err == nil {
		t.Error("missing token should be an error")
	}
}
