package tokencache

import (
	"context"
	"fmt"
	"strings"
)

// DefaultNamespace prefixes every key written by the identity provider SDK.
const DefaultNamespace = "HighlandIdentityProvider"

const (
	idTokenSuffix      = "idToken"
	accessTokenSuffix  = "accessToken"
	refreshTokenSuffix = "refreshToken"
	lastAuthUserSuffix = "LastAuthUser"
)

// CredentialBundle is the cached identity/access/refresh token triple for one user.
type CredentialBundle struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
}

// Complete reports whether all three tokens are present.
func (bundle CredentialBundle) Complete() bool {
	return strings.TrimSpace(bundle.IDToken) != "" &&
		strings.TrimSpace(bundle.AccessToken) != "" &&
		strings.TrimSpace(bundle.RefreshToken) != ""
}

// Store is the read side of persistent credential storage.
// A missing key is reported with found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

// WritableStore is implemented by storage backends. Only the identity provider writes through it.
type WritableStore interface {
	Store
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// Keys lays out storage keys as <Namespace>.<ClientID>.<username>.<token>.
type Keys struct {
	Namespace string
	ClientID  string
}

// NewKeys applies DefaultNamespace when namespace is blank.
func NewKeys(namespace string, clientID string) Keys {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return Keys{Namespace: namespace, ClientID: clientID}
}

// IDTokenKey returns the key holding the user's identity token.
func (keys Keys) IDTokenKey(username string) string {
	return keys.userKey(username, idTokenSuffix)
}

// AccessTokenKey returns the key holding the user's access token.
func (keys Keys) AccessTokenKey(username string) string {
	return keys.userKey(username, accessTokenSuffix)
}

// RefreshTokenKey returns the key holding the user's refresh token.
func (keys Keys) RefreshTokenKey(username string) string {
	return keys.userKey(username, refreshTokenSuffix)
}

// LastAuthUserKey returns the key naming the most recently signed-in user.
func (keys Keys) LastAuthUserKey() string {
	return keys.clientKey(lastAuthUserSuffix)
}

// ClientKey returns a client-scoped key for auxiliary state kept next to the tokens.
func (keys Keys) ClientKey(name string) string {
	return keys.clientKey(name)
}

func (keys Keys) clientKey(name string) string {
	return fmt.Sprintf("%s.%s.%s", keys.namespace(), keys.ClientID, name)
}

func (keys Keys) userKey(username string, suffix string) string {
	return fmt.Sprintf("%s.%s.%s.%s", keys.namespace(), keys.ClientID, username, suffix)
}

func (keys Keys) namespace() string {
	if strings.TrimSpace(keys.Namespace) == "" {
		return DefaultNamespace
	}
	return keys.Namespace
}
