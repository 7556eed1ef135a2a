package tokencache

import (
	"context"
	"errors"
	"fmt"
)

// Save writes a bundle for username. Identity providers call this after sign-in or refresh;
// the bundle is replaced wholesale.
func Save(ctx context.Context, store WritableStore, keys Keys, username string, bundle CredentialBundle) error {
	entries := []struct {
		key   string
		value string
	}{
		{key: keys.IDTokenKey(username), value: bundle.IDToken},
		{key: keys.AccessTokenKey(username), value: bundle.AccessToken},
		{key: keys.RefreshTokenKey(username), value: bundle.RefreshToken},
	}
	for _, entry := range entries {
		if err := store.Set(ctx, entry.key, entry.value); err != nil {
			return fmt.Errorf("token_cache.save: %w", err)
		}
	}
	return nil
}

// Remove deletes every cached entry for username.
func Remove(ctx context.Context, store WritableStore, keys Keys, username string) error {
	var removeErrs []error
	for _, key := range []string{keys.IDTokenKey(username), keys.AccessTokenKey(username), keys.RefreshTokenKey(username)} {
		if err := store.Delete(ctx, key); err != nil {
			removeErrs = append(removeErrs, err)
		}
	}
	if len(removeErrs) > 0 {
		return fmt.Errorf("token_cache.remove: %w", errors.Join(removeErrs...))
	}
	return nil
}

// SetCurrentUser records username as the most recently signed-in user.
func SetCurrentUser(ctx context.Context, store WritableStore, keys Keys, username string) error {
	if err := store.Set(ctx, keys.LastAuthUserKey(), username); err != nil {
		return fmt.Errorf("token_cache.set_current_user: %w", err)
	}
	return nil
}

// ClearCurrentUser forgets the most recently signed-in user.
func ClearCurrentUser(ctx context.Context, store WritableStore, keys Keys) error {
	if err := store.Delete(ctx, keys.LastAuthUserKey()); err != nil {
		return fmt.Errorf("token_cache.clear_current_user: %w", err)
	}
	return nil
}
