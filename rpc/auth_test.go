package rpc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signAuthToken(t *testing.T, secret, subject, issuer string, controller bool, expiresIn time.Duration) string {
	t.Helper()
	claims := stationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Controller: controller,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	cfg := AuthConfig{HMACSecret: []byte("secret")}
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	if _, err := cfg.authenticate(req); err != errMissingBearer {
		t.Fatalf("expected errMissingBearer, got %v", err)
	}
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	cfg := AuthConfig{HMACSecret: []byte("secret")}
	token := signAuthToken(t, "secret", "alice", "", true, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	ctx, err := cfg.authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if string(ctx.Principal) != "alice" || !ctx.IsController {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	cfg := AuthConfig{HMACSecret: []byte("secret")}
	token := signAuthToken(t, "wrong-secret", "alice", "", false, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := cfg.authenticate(req); err == nil {
		t.Fatalf("expected a token signed with the wrong secret to be rejected")
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	cfg := AuthConfig{HMACSecret: []byte("secret")}
	token := signAuthToken(t, "secret", "alice", "", false, -time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := cfg.authenticate(req); err == nil {
		t.Fatalf("expected an expired token to be rejected")
	}
}

func TestAuthenticateEnforcesConfiguredIssuer(t *testing.T) {
	cfg := AuthConfig{HMACSecret: []byte("secret"), Issuer: "stationd"}
	token := signAuthToken(t, "secret", "alice", "someone-else", false, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, err := cfg.authenticate(req); err == nil {
		t.Fatalf("expected a token with the wrong issuer to be rejected")
	}
}
