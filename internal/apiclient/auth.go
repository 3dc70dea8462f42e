package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fintrack/fintrack/internal/models"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/google/uuid"
)

// The auth endpoints are the token protocol itself, so they are sent once
// without 401 interception.

type Registration struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password"`
}

func (c *Client) Login(ctx context.Context, email, password string) (models.Session, error) {
	var payload authPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", body, &payload); err != nil {
		return models.Session{}, err
	}
	sess := payload.session()
	if sess.AccessToken == "" {
		return models.Session{}, fmt.Errorf("login response carried no access token")
	}
	return sess, nil
}

// Register creates an account. The server may or may not log the new user
// in; the returned session has an empty access token when it does not.
func (c *Client) Register(ctx context.Context, reg Registration) (models.Session, error) {
	var payload authPayload
	if err := c.call(ctx, http.MethodPost, "/auth/register", "", reg, &payload); err != nil {
		return models.Session{}, err
	}
	return payload.session(), nil
}

func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	return c.call(ctx, http.MethodPost, "/auth/request-otp", "", map[string]string{"phone": phone}, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, phone, otp string) (models.Session, error) {
	var payload authPayload
	body := map[string]string{"phone": phone, "otp": otp}
	if err := c.call(ctx, http.MethodPost, "/auth/verify-otp", "", body, &payload); err != nil {
		return models.Session{}, err
	}
	sess := payload.session()
	if sess.AccessToken == "" {
		return models.Session{}, fmt.Errorf("otp verification response carried no access token")
	}
	return sess, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token. It
// does not touch the store.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	var payload authPayload
	body := map[string]string{"token": refreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", "", body, &payload); err != nil {
		return "", err
	}
	access := payload.session().AccessToken
	if access == "" {
		return "", fmt.Errorf("refresh response carried no access token")
	}
	return access, nil
}

// VerifyAccessToken asks the server who accessToken belongs to.
func (c *Client) VerifyAccessToken(ctx context.Context, accessToken string) (models.User, error) {
	var payload authPayload
	if err := c.call(ctx, http.MethodGet, "/auth/verify", accessToken, nil, &payload); err != nil {
		return nil, err
	}
	if payload.User == nil {
		return nil, fmt.Errorf("verify response carried no user")
	}
	return payload.User, nil
}

// Logout asks the server to blacklist refreshToken. Callers treat failures
// as non-fatal.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return c.call(ctx, http.MethodPost, "/auth/logout", c.storedAccessToken(ctx), body, nil)
}

// AccessToken returns the stored access token, if any.
func (c *Client) AccessToken(ctx context.Context) string {
	return c.storedAccessToken(ctx)
}

// Store exposes the credential store the client reads from.
func (c *Client) Store() store.Store {
	return c.store
}

func (c *Client) call(ctx context.Context, method, path, token string, body, out any) error {
	data, err := encodeBody(body)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, &Request{Method: method, Path: path}, data, token, uuid.NewString())
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	return resp.decode(out)
}
