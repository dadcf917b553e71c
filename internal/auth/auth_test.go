package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("admin", "s3cret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	userID, err := ValidateToken(token, "s3cret")
	if err != nil || userID != "admin" {
		t.Fatalf("ValidateToken() = %q, %v", userID, err)
	}

	if _, err := ValidateToken(token, "other"); err == nil {
		t.Error("token accepted with the wrong secret")
	}

	expired, _ := GenerateToken("admin", "s3cret", -time.Minute)
	if _, err := ValidateToken(expired, "s3cret"); err == nil {
		t.Error("expired token accepted")
	}
}

func TestCheckAdminPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		cfg      Config
		password string
		want     bool
	}{
		{"hash match", Config{PasswordHash: hash}, "hunter2", true},
		{"hash mismatch", Config{PasswordHash: hash}, "hunter3", false},
		{"hash wins over plain", Config{PasswordHash: hash, Password: "plain"}, "plain", false},
		{"plain match", Config{Password: "plain"}, "plain", true},
		{"nothing configured", Config{}, "", false},
		{"empty attempt", Config{Password: "plain"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.CheckAdminPassword(tt.password); got != tt.want {
				t.Errorf("CheckAdminPassword(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	cfg := Config{JWTSecret: "s3cret", Password: "plain", TokenDuration: time.Hour}

	token, expires, err := cfg.Login("plain")
	if err != nil || token == "" || time.Until(expires) <= 0 {
		t.Fatalf("Login() = %q, %v, %v", token, expires, err)
	}
	if _, _, err := cfg.Login("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, _, err := (Config{Password: "plain"}).Login("plain"); !errors.Is(err, ErrDisabled) {
		t.Errorf("missing secret error = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	cfg := Config{JWTSecret: "s3cret", Password: "plain"}
	token, _ := GenerateToken("admin", "s3cret", time.Minute)

	var seenUser string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		cfg    Config
		header string
		want   int
	}{
		{"valid token", cfg, "Bearer " + token, http.StatusNoContent},
		{"missing header", cfg, "", http.StatusUnauthorized},
		{"wrong scheme", cfg, "Basic " + token, http.StatusUnauthorized},
		{"garbage token", cfg, "Bearer nope", http.StatusUnauthorized},
		{"disabled", Config{}, "Bearer " + token, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler
			if !tt.cfg.Enabled() {
				h = Middleware(tt.cfg)(handler)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/lifecycle/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if seenUser != "admin" {
		t.Errorf("user in context = %q", seenUser)
	}
}
