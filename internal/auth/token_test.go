package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService([]byte("test-secret-key-32bytes-long!!"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestIssueAndValidate(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue(ScopeEvents, "dashboard", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ts.Validate(token, ScopeEvents)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dashboard")
	}
	if claims.Issuer != "ztpserver" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "ztpserver")
	}
	if claims.ExpiresAt == nil {
		t.Error("expected expiry to be set")
	}
}

func TestIssue_NoExpiry(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Issue(ScopeEvents, "ops", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ts.Validate(token, ScopeEvents)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService([]byte("secret-two-is-32-bytes-long!!!!"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	wrongSecret, _ := other.Issue(ScopeEvents, "x", time.Hour)
	expired, _ := ts.Issue(ScopeEvents, "x", -time.Second)
	webhookToken, _ := ts.SignBody("ztp.node.registered", []byte("{}"))

	tests := []struct {
		name  string
		token string
		scope string
	}{
		{"wrong secret", wrongSecret, ScopeEvents},
		{"expired", expired, ScopeEvents},
		{"garbage", "not.a.jwt", ScopeEvents},
		{"cross scope", webhookToken, ScopeEvents},
		{"unknown scope", webhookToken, "admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Validate(tt.token, tt.scope)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSignAndVerifyBody(t *testing.T) {
	ts := newTestTokenService(t)
	body := []byte(`{"event":"ztp.node.registered"}`)

	token, err := ts.SignBody("ztp.node.registered", body)
	if err != nil {
		t.Fatalf("SignBody: %v", err)
	}

	claims, err := ts.VerifyBody(token, body)
	if err != nil {
		t.Fatalf("VerifyBody: %v", err)
	}
	if claims.Subject != "ztp.node.registered" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Digest != HashBody(body) {
		t.Errorf("Digest = %q, want %q", claims.Digest, HashBody(body))
	}

	if _, err := ts.VerifyBody(token, []byte(`{"event":"tampered"}`)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered body: err = %v, want ErrInvalidToken", err)
	}
}

func TestNewTokenService_EmptySecret(t *testing.T) {
	if _, err := NewTokenService(nil); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestHashBody_Deterministic(t *testing.T) {
	h1 := HashBody([]byte("payload"))
	h2 := HashBody([]byte("payload"))
	if h1 != h2 {
		t.Error("HashBody should be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("len(HashBody) = %d, want 64", len(h1))
	}
}
