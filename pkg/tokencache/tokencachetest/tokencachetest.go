// Package tokencachetest provides helpers for seeding credential caches in tests.
package tokencachetest

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/highland/pkg/tokencache"
)

// FixedClock always reports the same instant.
type FixedClock struct {
	Current time.Time
}

// Now returns the fixed instant.
func (clock FixedClock) Now() time.Time {
	return clock.Current
}

// MintIDToken signs an identity token for subject that expires at expiresAt.
// The signature uses a throwaway key; the cache never verifies it.
func MintIDToken(t testing.TB, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokencache.IDClaims{
		Email:             subject + "@example.com",
		PreferredUsername: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte("tokencachetest-signing-key"))
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

// Seed writes bundle for username and marks username as the current user.
func Seed(t testing.TB, store tokencache.WritableStore, keys tokencache.Keys, username string, bundle tokencache.CredentialBundle) {
	t.Helper()
	ctx := context.Background()
	if err := tokencache.Save(ctx, store, keys, username, bundle); err != nil {
		t.Fatalf("seed bundle: %v", err)
	}
	if err := tokencache.SetCurrentUser(ctx, store, keys, username); err != nil {
		t.Fatalf("seed current user: %v", err)
	}
}

// ValidBundle returns a bundle for username whose identity token expires an hour after now.
func ValidBundle(t testing.TB, username string, now time.Time) tokencache.CredentialBundle {
	t.Helper()
	return tokencache.CredentialBundle{
		IDToken:      MintIDToken(t, username, now.Add(time.Hour)),
		AccessToken:  "access-" + username,
		RefreshToken: "refresh-" + username,
	}
}

// ExpiredBundle returns a bundle for username whose identity token expired an hour before now.
func ExpiredBundle(t testing.TB, username string, now time.Time) tokencache.CredentialBundle {
	t.Helper()
	return tokencache.CredentialBundle{
		IDToken:      MintIDToken(t, username, now.Add(-time.Hour)),
		AccessToken:  "stale-access-" + username,
		RefreshToken: "refresh-" + username,
	}
}
