// Package store persists session credentials behind a small key-value
// interface so the token lifecycle does not depend on where they live.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fintrack/fintrack/internal/models"
)

// Keys under which the session is persisted.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Store is durable string storage. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// LoadSession reads the persisted session. Missing keys yield zero values;
// a corrupt user record is dropped rather than failing the load.
func LoadSession(ctx context.Context, s Store) (models.Session, error) {
	var sess models.Session

	access, _, err := s.Get(ctx, KeyAccessToken)
	if err != nil {
		return sess, fmt.Errorf("failed to read access token: %w", err)
	}
	refresh, _, err := s.Get(ctx, KeyRefreshToken)
	if err != nil {
		return sess, fmt.Errorf("failed to read refresh token: %w", err)
	}
	raw, ok, err := s.Get(ctx, KeyUser)
	if err != nil {
		return sess, fmt.Errorf("failed to read user: %w", err)
	}

	sess.AccessToken = access
	sess.RefreshToken = refresh
	if ok && raw != "" {
		var u models.User
		if json.Unmarshal([]byte(raw), &u) == nil {
			sess.User = u
		}
	}
	return sess, nil
}

// SaveSession writes all three keys. The refresh token is always written,
// as an empty string when there is none.
func SaveSession(ctx context.Context, s Store, sess models.Session) error {
	if err := s.Set(ctx, KeyAccessToken, sess.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := s.Set(ctx, KeyRefreshToken, sess.RefreshToken); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return SaveUser(ctx, s, sess.User)
}

func SaveUser(ctx context.Context, s Store, u models.User) error {
	if u == nil {
		return s.Remove(ctx, KeyUser)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.Set(ctx, KeyUser, string(data)); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// Clear removes every session key. All removals are attempted; the first
// error is returned.
func Clear(ctx context.Context, s Store) error {
	var first error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := s.Remove(ctx, key); err != nil && first == nil {
			first = fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}
	return first
}
