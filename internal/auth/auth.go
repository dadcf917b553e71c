// Package auth guards the admin endpoints that trigger lifecycle runs.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dxbevents/eventkeeper/internal/config"
)

type contextKey string

const userIDContextKey contextKey = "userID"

const (
	issuer               = "eventkeeper"
	defaultTokenDuration = 12 * time.Hour
	adminUser            = "admin"
)

// Config holds authentication configuration.
type Config struct {
	JWTSecret     string
	PasswordHash  string
	Password      string
	TokenDuration time.Duration
}

// FromConfig builds the auth settings from the loaded service config.
func FromConfig(cfg config.AuthConfig) Config {
	return Config{
		JWTSecret:     cfg.JWTSecret,
		PasswordHash:  cfg.PasswordHash,
		Password:      cfg.Password,
		TokenDuration: defaultTokenDuration,
	}
}

// Enabled reports whether admin endpoints can be used at all. Without a
// signing secret and a password they stay locked.
func (c Config) Enabled() bool {
	return c.JWTSecret != "" && (c.PasswordHash != "" || c.Password != "")
}

// CheckAdminPassword verifies a login attempt. The bcrypt hash wins when both
// forms are configured.
func (c Config) CheckAdminPassword(password string) bool {
	if password == "" {
		return false
	}
	if c.PasswordHash != "" {
		return CheckPassword(password, c.PasswordHash)
	}
	if c.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
}

// Login checks the password and issues a token for the admin user.
func (c Config) Login(password string) (string, time.Time, error) {
	if !c.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if !c.CheckAdminPassword(password) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	duration := c.TokenDuration
	if duration <= 0 {
		duration = defaultTokenDuration
	}
	token, err := GenerateToken(adminUser, c.JWTSecret, duration)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, time.Now().Add(duration), nil
}

var (
	ErrDisabled           = fmt.Errorf("admin authentication is not configured")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
)

// Claims represents the JWT claims.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new signed token.
func GenerateToken(userID string, secret string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a token and returns the user ID.
func ValidateToken(tokenString string, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.UserID, nil
	}

	return "", fmt.Errorf("invalid token")
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash.
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Middleware rejects requests without a valid bearer token.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				writeError(w, http.StatusServiceUnavailable, "configuration", ErrDisabled.Error())
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header format")
				return
			}

			userID, err := ValidateToken(parts[1], cfg.JWTSecret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext extracts the user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"kind": kind, "message": message},
	})
}
