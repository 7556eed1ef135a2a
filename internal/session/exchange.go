package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
)

// JSONContentType is sent with every JSON body posted to the backend.
const JSONContentType = "application/json;charset=UTF-8"

const maxExchangeBodyBytes = 1 << 20

// ExchangeMode selects which tokens are posted to the backend to open a Backend Session.
type ExchangeMode string

const (
	// ExchangeBothTokens posts {"access_token","id_token"} to /auth_tokens.
	ExchangeBothTokens ExchangeMode = "auth_tokens"
	// ExchangeAccessToken posts {"access_token"} to /access_token.
	ExchangeAccessToken ExchangeMode = "access_token"
)

// ParseExchangeMode accepts the configured mode name; empty selects ExchangeBothTokens.
func ParseExchangeMode(raw string) (ExchangeMode, error) {
	switch ExchangeMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExchangeBothTokens:
		return ExchangeBothTokens, nil
	case ExchangeAccessToken:
		return ExchangeAccessToken, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidExchangeMode, raw)
	}
}

// Path returns the backend endpoint for the mode.
func (mode ExchangeMode) Path() string {
	if mode == ExchangeAccessToken {
		return "/access_token"
	}
	return "/auth_tokens"
}

type exchangeRequest struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
}

// ExchangeResponse is the backend's optional description of the session it opened.
type ExchangeResponse struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

// exchange posts bundle to the backend. Any status other than 200 is a failure.
func (manager *Manager) exchange(ctx context.Context, bundle tokencache.CredentialBundle) (ExchangeResponse, error) {
	payload := exchangeRequest{AccessToken: bundle.AccessToken}
	if manager.exchangeMode == ExchangeBothTokens {
		payload.IDToken = bundle.IDToken
	}
	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return ExchangeResponse{}, marshalErr
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, manager.endpoint(manager.exchangeMode.Path()), bytes.NewReader(body))
	if requestErr != nil {
		return ExchangeResponse{}, requestErr
	}
	request.Header.Set("Content-Type", JSONContentType)
	request.Header.Set("Accept", "application/json")

	response, doErr := manager.httpClient.Do(request)
	if doErr != nil {
		return ExchangeResponse{}, doErr
	}
	defer response.Body.Close()
	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxExchangeBodyBytes))
	if readErr != nil {
		return ExchangeResponse{}, readErr
	}
	if response.StatusCode != http.StatusOK {
		return ExchangeResponse{}, fmt.Errorf("status %d", response.StatusCode)
	}

	var described ExchangeResponse
	if len(bytes.TrimSpace(responseBody)) > 0 {
		if decodeErr := json.Unmarshal(responseBody, &described); decodeErr != nil {
			manager.logger.Debug("exchange response not json",
				zap.String("code", "session.exchange_response_ignored"),
				zap.Error(decodeErr))
		}
	}
	return described, nil
}

func (manager *Manager) postLogout(ctx context.Context) error {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, manager.endpoint(manager.logoutPath), nil)
	if requestErr != nil {
		return requestErr
	}
	response, doErr := manager.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxExchangeBodyBytes))
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", response.StatusCode)
	}
	return nil
}

func (manager *Manager) endpoint(path string) string {
	return manager.baseURL + "/" + strings.TrimLeft(path, "/")
}
