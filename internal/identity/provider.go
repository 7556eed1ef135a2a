// Package identity implements the identity-provider side of the session layer: signing users in,
// renewing their sessions, signing them out, and federating identity tokens into storage credentials.
// Tokens are written to the credential cache here and only here.
package identity

import (
	"context"
	"errors"

	"github.com/tyemirov/highland/pkg/tokencache"
	"golang.org/x/oauth2"
)

// Sentinel errors exposed by identity providers.
var (
	ErrNoCurrentUser        = errors.New("identity.no_current_user")
	ErrNoRefreshToken       = errors.New("identity.no_refresh_token")
	ErrRefreshFailed        = errors.New("identity.refresh_failed")
	ErrAuthenticationFailed = errors.New("identity.authentication_failed")
	ErrMissingIDToken       = errors.New("identity.missing_id_token")
	ErrMissingClientID      = errors.New("identity.missing_client_id")
	ErrMissingEndpoint      = errors.New("identity.missing_endpoint")
	ErrMissingStore         = errors.New("identity.missing_store")
	ErrFederationStatus     = errors.New("identity.federation_status")
	ErrInvalidFederation    = errors.New("identity.invalid_federation_response")
)

// Provider signs users in and hands out fresh credential bundles.
type Provider interface {
	// CurrentUser returns the most recently signed-in username.
	CurrentUser(ctx context.Context) (string, error)
	// Session returns a valid bundle for the current user, renewing it when the cached one expired.
	Session(ctx context.Context) (tokencache.CredentialBundle, error)
	// Authenticate signs a user in with a password.
	Authenticate(ctx context.Context, username string, password string) (tokencache.CredentialBundle, error)
	// SignOut forgets the current user's cached credentials.
	SignOut(ctx context.Context) error
}

// Federation resolves storage identities for identity tokens.
type Federation interface {
	IdentityID(ctx context.Context, idToken string) (string, error)
	Credentials(ctx context.Context, identityID string, idToken string) (*oauth2.Token, error)
}
