package session

import "errors"

// Sentinel errors exposed by the session manager.
var (
	// ErrSessionUnavailable is satisfied by every failure to establish a session.
	ErrSessionUnavailable     = errors.New("session.unavailable")
	ErrIdentityProviderFailed = errors.New("session.identity_provider_failed")
	ErrExchangeFailed         = errors.New("session.exchange_failed")
	ErrStorageUnavailable     = errors.New("session.storage_unavailable")
	ErrLogoutFailed           = errors.New("session.logout_failed")
	ErrMissingCache           = errors.New("session.missing_cache")
	ErrMissingProvider        = errors.New("session.missing_provider")
	ErrMissingBaseURL         = errors.New("session.missing_base_url")
	ErrInvalidExchangeMode    = errors.New("session.invalid_exchange_mode")
)
