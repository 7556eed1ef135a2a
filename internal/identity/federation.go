package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	federationIdentityPath    = "/identity/id"
	federationCredentialsPath = "/identity/credentials"
	maxFederationBodyBytes    = 1 << 20
)

// FederationConfig configures HTTPFederation.
type FederationConfig struct {
	Endpoint       string
	IdentityPoolID string
	ProviderName   string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// HTTPFederation exchanges identity tokens for a pool identity and storage credentials over JSON HTTP.
type HTTPFederation struct {
	endpoint       string
	identityPoolID string
	providerName   string
	httpClient     *http.Client
	validate       *validator.Validate
	logger         *zap.Logger
}

var _ Federation = (*HTTPFederation)(nil)

type identityIDRequest struct {
	IdentityPoolID string            `json:"identity_pool_id"`
	Logins         map[string]string `json:"logins"`
}

type identityIDResponse struct {
	IdentityID string `json:"identity_id" validate:"required"`
}

type credentialsRequest struct {
	IdentityID string            `json:"identity_id"`
	Logins     map[string]string `json:"logins"`
}

type credentialsResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at" validate:"gte=0"`
}

// NewHTTPFederation validates the configuration and returns a federation client.
func NewHTTPFederation(configuration FederationConfig) (*HTTPFederation, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(configuration.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("identity.federation.new: %w", ErrMissingEndpoint)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFederation{
		endpoint:       endpoint,
		identityPoolID: strings.TrimSpace(configuration.IdentityPoolID),
		providerName:   strings.TrimSpace(configuration.ProviderName),
		httpClient:     httpClient,
		validate:       validator.New(),
		logger:         logger,
	}, nil
}

// IdentityID resolves the pool identity that owns idToken.
func (federation *HTTPFederation) IdentityID(ctx context.Context, idToken string) (string, error) {
	var response identityIDResponse
	request := identityIDRequest{IdentityPoolID: federation.identityPoolID, Logins: federation.logins(idToken)}
	if err := federation.post(ctx, federationIdentityPath, request, &response); err != nil {
		return "", fmt.Errorf("identity.federation.get_id: %w", err)
	}
	return response.IdentityID, nil
}

// Credentials issues short-lived storage credentials for identityID.
func (federation *HTTPFederation) Credentials(ctx context.Context, identityID string, idToken string) (*oauth2.Token, error) {
	var response credentialsResponse
	request := credentialsRequest{IdentityID: identityID, Logins: federation.logins(idToken)}
	if err := federation.post(ctx, federationCredentialsPath, request, &response); err != nil {
		return nil, fmt.Errorf("identity.federation.credentials: %w", err)
	}
	tokenType := response.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{AccessToken: response.AccessToken, TokenType: tokenType}
	if response.ExpiresAt > 0 {
		token.Expiry = time.Unix(response.ExpiresAt, 0).UTC()
	}
	return token, nil
}

func (federation *HTTPFederation) logins(idToken string) map[string]string {
	return map[string]string{federation.providerName: idToken}
}

func (federation *HTTPFederation) post(ctx context.Context, path string, payload any, target any) error {
	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return marshalErr
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, federation.endpoint+path, bytes.NewReader(body))
	if requestErr != nil {
		return requestErr
	}
	request.Header.Set("Content-Type", "application/json")
	response, doErr := federation.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer response.Body.Close()

	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxFederationBodyBytes))
	if readErr != nil {
		return readErr
	}
	if response.StatusCode != http.StatusOK {
		federation.logger.Warn("federation request rejected",
			zap.String("code", "identity.federation_status"),
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return fmt.Errorf("%w: status %d", ErrFederationStatus, response.StatusCode)
	}
	if decodeErr := json.Unmarshal(responseBody, target); decodeErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFederation, decodeErr)
	}
	if validateErr := federation.validate.Struct(target); validateErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFederation, validateErr)
	}
	return nil
}
