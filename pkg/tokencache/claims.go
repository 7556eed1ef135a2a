package tokencache

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDClaims are the identity token claims the client reads. Signatures are not verified here;
// the backend verifies tokens during exchange.
type IDClaims struct {
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Username          string `json:"username"`
	jwt.RegisteredClaims
}

// DisplayUsername returns the most specific username claim present.
func (claims *IDClaims) DisplayUsername() string {
	if claims == nil {
		return ""
	}
	for _, candidate := range []string{claims.Username, claims.PreferredUsername, claims.Email, claims.Subject} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// DecodeIDToken decodes token claims without verifying the signature.
func DecodeIDToken(tokenString string) (*IDClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token_cache.decode: %w", ErrMalformedToken)
	}
	claims := &IDClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(tokenString, claims); parseErr != nil {
		return nil, fmt.Errorf("token_cache.decode: %w: %v", ErrMalformedToken, parseErr)
	}
	return claims, nil
}

// ExpiresAt returns the exp claim embedded in an identity token.
func ExpiresAt(idToken string) (time.Time, error) {
	claims, err := DecodeIDToken(idToken)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token_cache.expires_at: %w", ErrMissingExpiry)
	}
	return claims.ExpiresAt.Time, nil
}
