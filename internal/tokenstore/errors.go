package tokenstore

import "errors"

var (
	// ErrUnsupportedScheme indicates that no backend is available for the URL scheme.
	ErrUnsupportedScheme = errors.New("token_store.unsupported_scheme")
	// ErrEmptyKey indicates that an operation was attempted with a blank key.
	ErrEmptyKey = errors.New("token_store.empty_key")

	errSQLiteEmptyPath  = errors.New("token_store.sqlite.empty_path")
	errSQLiteInvalidURL = errors.New("token_store.sqlite.invalid_url")
	errBadgerEmptyPath  = errors.New("token_store.badger.empty_path")
)
