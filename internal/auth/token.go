package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSafetyGap is subtracted from a token's lifetime so a token
// that expires mid-operation is treated as already expired.
const DefaultSafetyGap = 30 * time.Second

// TokenExpired reports whether a JWT's exp claim is within gap of now.
// Tokens that cannot be parsed or carry no exp claim count as expired.
func TokenExpired(token string, gap time.Duration, now time.Time) bool {
	claims := jwt.MapClaims{}
	// The signature is the backend's concern; the agent only needs the
	// expiry claim.
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !now.Add(gap).Before(exp.Time)
}

// savedToken is the on-disk token envelope.
type savedToken struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// loadTokenFile reads a previously saved access token. A missing file
// returns an empty token and no error.
func loadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	var saved savedToken
	if err := json.Unmarshal(data, &saved); err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}
	return saved.AccessToken, nil
}

// saveTokenFile persists the access token atomically with owner-only
// permissions.
func saveTokenFile(path, token string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.MarshalIndent(savedToken{AccessToken: token, SavedAt: now.UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write token temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}
