// Package session is the single source of truth for "am I logged in, and as
// whom". It caches the access token and user record in memory and writes
// every change through to the durable store.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/flight"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshInterval is how often a held access token is proactively
// refreshed. Access tokens live about 15 minutes server-side.
const DefaultRefreshInterval = 10 * time.Minute

var errNotAuthenticated = errors.New("not authenticated")

// Authenticator is the part of the API client the holder needs.
type Authenticator interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (models.User, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, refreshToken string) error
	SetListener(l apiclient.Listener)
}

type Options struct {
	RefreshInterval time.Duration
	Logger          *logrus.Logger
}

type Holder struct {
	api      Authenticator
	store    store.Store
	logger   *logrus.Logger
	interval time.Duration
	verifies *flight.Group[models.User]

	mu          sync.RWMutex
	accessToken string
	user        models.User

	ready     chan struct{}
	readyOnce sync.Once
}

func New(api Authenticator, st store.Store, opts Options) *Holder {
	h := &Holder{
		api:      api,
		store:    st,
		logger:   opts.Logger,
		interval: opts.RefreshInterval,
		verifies: flight.New[models.User]("verify"),
		ready:    make(chan struct{}),
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.interval <= 0 {
		h.interval = DefaultRefreshInterval
	}
	api.SetListener(h)
	return h
}

// Initialize loads the persisted session and confirms it with the server.
// A session the server rejects is wiped. The holder is marked ready when
// Initialize returns, whatever the outcome.
func (h *Holder) Initialize(ctx context.Context) error {
	defer h.readyOnce.Do(func() { close(h.ready) })

	sess, err := store.LoadSession(ctx, h.store)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load stored session")
		return err
	}

	h.mu.Lock()
	h.accessToken = sess.AccessToken
	h.user = sess.User
	h.mu.Unlock()

	if sess.AccessToken == "" {
		return nil
	}

	u, err := h.api.VerifyAccessToken(ctx, sess.AccessToken)
	if err != nil {
		h.logger.WithError(err).Info("Stored session rejected by server, clearing it")
		h.clear(ctx)
		return nil
	}

	h.mu.Lock()
	h.user = u
	h.mu.Unlock()
	if err := store.SaveUser(ctx, h.store, u); err != nil {
		h.logger.WithError(err).Error("Failed to persist verified user")
	}
	return nil
}

// Ready is closed once Initialize has finished.
func (h *Holder) Ready() <-chan struct{} {
	return h.ready
}

// Loading reports whether Initialize is still in progress (or not run yet).
func (h *Holder) Loading() bool {
	select {
	case <-h.ready:
		return false
	default:
		return true
	}
}

func (h *Holder) WaitReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Holder) AccessToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.accessToken
}

func (h *Holder) User() models.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.user
}

// Authenticated reports whether an access token is held. The user record
// alone does not count.
func (h *Holder) Authenticated() bool {
	return h.AccessToken() != ""
}

// Verify returns the confirmed user, or ok=false when the session is not
// valid. A cached user is returned without a network call unless force is
// set; concurrent non-forced callers share one verification.
func (h *Holder) Verify(ctx context.Context, force bool) (u models.User, ok bool) {
	h.mu.RLock()
	token, cached := h.accessToken, h.user
	h.mu.RUnlock()

	if token == "" {
		return nil, false
	}
	if cached != nil && !force {
		return cached, true
	}
	if force {
		h.verifies.Forget()
	}

	u, _, err := h.verifies.Do(ctx, h.verify)
	if err != nil {
		h.logger.WithError(err).Debug("Session verification failed")
		return nil, false
	}
	return u, true
}

func (h *Holder) verify(ctx context.Context) (models.User, error) {
	token := h.AccessToken()
	if token == "" {
		return nil, errNotAuthenticated
	}

	u, err := h.api.VerifyAccessToken(ctx, token)
	if err == nil {
		return h.acceptUser(ctx, token, u)
	}
	if !apiclient.IsUnauthorized(err) {
		return nil, err
	}

	refreshToken, _, serr := h.store.Get(ctx, store.KeyRefreshToken)
	if serr != nil || refreshToken == "" {
		return nil, err
	}
	newToken, err := h.api.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !h.replaceAccessToken(ctx, token, newToken) {
		return nil, errNotAuthenticated
	}

	u, err = h.api.VerifyAccessToken(ctx, newToken)
	if err != nil {
		return nil, err
	}
	return h.acceptUser(ctx, newToken, u)
}

// acceptUser merges a verified user into the cache, unless the session
// changed while the verification was in flight.
func (h *Holder) acceptUser(ctx context.Context, token string, u models.User) (models.User, error) {
	h.mu.Lock()
	if h.accessToken != token {
		h.mu.Unlock()
		return nil, errNotAuthenticated
	}
	merged := h.user.Merge(u)
	h.user = merged
	h.mu.Unlock()

	if err := store.SaveUser(ctx, h.store, merged); err != nil {
		h.logger.WithError(err).Error("Failed to persist verified user")
	}
	return merged, nil
}

// Login installs a new session, replacing whatever was there.
func (h *Holder) Login(ctx context.Context, accessToken, refreshToken string, user models.User) error {
	h.mu.Lock()
	h.accessToken = accessToken
	h.user = user
	h.mu.Unlock()
	h.verifies.Forget()

	return store.SaveSession(ctx, h.store, models.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

// Logout tells the server to blacklist the refresh token, then clears the
// session locally. The server call is best effort and never blocks the
// local logout.
func (h *Holder) Logout(ctx context.Context) error {
	refreshToken, _, err := h.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read refresh token for logout")
	}
	if refreshToken != "" {
		if err := h.api.Logout(ctx, refreshToken); err != nil {
			h.logger.WithError(err).Debug("Server-side logout failed, ignoring")
		}
	}
	return h.clear(ctx)
}

// Refresh mints a new access token from the stored refresh token. It never
// clears credentials on failure; callers decide what a failure means.
func (h *Holder) Refresh(ctx context.Context) bool {
	refreshToken, _, err := h.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read refresh token")
		return false
	}
	if refreshToken == "" {
		return false
	}

	token, err := h.api.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		h.logger.WithError(err).Warn("Token refresh failed")
		return false
	}

	h.mu.Lock()
	h.accessToken = token
	h.mu.Unlock()
	if err := h.store.Set(ctx, store.KeyAccessToken, token); err != nil {
		h.logger.WithError(err).Error("Failed to persist refreshed access token")
	}
	return true
}

// UpdateUser merges a profile update into the cached user and persists it.
func (h *Holder) UpdateUser(ctx context.Context, patch models.User) (models.User, error) {
	h.mu.Lock()
	if h.accessToken == "" {
		h.mu.Unlock()
		return nil, errNotAuthenticated
	}
	merged := h.user.Merge(patch)
	h.user = merged
	h.mu.Unlock()

	if err := store.SaveUser(ctx, h.store, merged); err != nil {
		return merged, err
	}
	return merged, nil
}

// TokenRefreshed implements apiclient.Listener.
func (h *Holder) TokenRefreshed(accessToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessToken = accessToken
}

// CredentialsCleared implements apiclient.Listener.
func (h *Holder) CredentialsCleared() {
	h.mu.Lock()
	h.accessToken = ""
	h.user = nil
	h.mu.Unlock()
	h.verifies.Forget()
}

func (h *Holder) replaceAccessToken(ctx context.Context, old, next string) bool {
	h.mu.Lock()
	if h.accessToken != old {
		h.mu.Unlock()
		return false
	}
	h.accessToken = next
	h.mu.Unlock()

	if err := h.store.Set(ctx, store.KeyAccessToken, next); err != nil {
		h.logger.WithError(err).Error("Failed to persist refreshed access token")
	}
	return true
}

func (h *Holder) clear(ctx context.Context) error {
	h.mu.Lock()
	h.accessToken = ""
	h.user = nil
	h.mu.Unlock()
	h.verifies.Forget()

	if err := store.Clear(ctx, h.store); err != nil {
		h.logger.WithError(err).Error("Failed to clear stored session")
		return err
	}
	return nil
}
