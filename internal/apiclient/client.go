// Package apiclient is the authenticated HTTP client for the finance API.
//
// Every request carries the stored access token. A 401 triggers one shared
// refresh of the access token and a single replay of the original request;
// concurrent failures wait on the same refresh instead of issuing their own.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fintrack/fintrack/internal/flight"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Navigator sends the user to a client-side route. It is called with the
// login path when the session cannot be recovered.
type Navigator func(path string)

// Listener observes credential changes made by the client so in-memory
// session state can follow the store.
type Listener interface {
	TokenRefreshed(accessToken string)
	CredentialsCleared()
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      store.Store
	Navigate   Navigator
	LoginPath  string
	Logger     *logrus.Logger
	Metrics    *Metrics
}

type Client struct {
	baseURL   string
	http      *http.Client
	store     store.Store
	navigate  Navigator
	loginPath string
	logger    *logrus.Logger
	metrics   *Metrics
	refreshes *flight.Group[string]

	mu       sync.RWMutex
	listener Listener
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", opts.BaseURL)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      opts.HTTPClient,
		store:     opts.Store,
		navigate:  opts.Navigate,
		loginPath: opts.LoginPath,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		refreshes: flight.New[string]("refresh"),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.navigate == nil {
		c.navigate = func(string) {}
	}
	if c.loginPath == "" {
		c.loginPath = "/login"
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c, nil
}

// SetListener registers the observer of refreshes and credential wipes.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Client) currentListener() Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

// Request describes one API call. Body is JSON-encoded once so the request
// can be replayed after a refresh.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}

// Do sends req with the stored access token and decodes a successful JSON
// response into out (when non-nil). On 401 it refreshes and replays the
// request at most once.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()

	token := c.storedAccessToken(ctx)
	resp, err := c.send(ctx, req, body, token, requestID)
	if err != nil {
		return err
	}
	if resp.ok() {
		return resp.decode(out)
	}

	apiErr := resp.err()
	if resp.status != http.StatusUnauthorized {
		return apiErr
	}

	if apiErr.Revoked() {
		c.logger.WithFields(logrus.Fields{
			"path":       req.Path,
			"request_id": requestID,
		}).Warn("Session revoked by server")
		c.endSession(ctx)
		return apiErr
	}

	newToken, err := c.refreshAfter(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNoRefreshToken) {
			return apiErr
		}
		return err
	}

	c.metrics.retried()
	resp, err = c.send(ctx, req, body, newToken, requestID)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	return resp.decode(out)
}

// refreshAfter obtains a usable access token after stale was rejected.
// Concurrent callers share one refresh.
func (c *Client) refreshAfter(ctx context.Context, stale string) (string, error) {
	token, _, err := c.refreshes.Do(ctx, func(ctx context.Context) (string, error) {
		if current := c.storedAccessToken(ctx); current != "" && current != stale {
			// Another cycle already replaced the token this request carried.
			return current, nil
		}

		refreshToken, _, err := c.store.Get(ctx, store.KeyRefreshToken)
		if err != nil {
			c.logger.WithError(err).Error("Failed to read refresh token")
		}
		if refreshToken == "" {
			c.logger.Info("No refresh token stored, ending session")
			c.endSession(ctx)
			return "", ErrNoRefreshToken
		}

		access, err := c.RefreshAccessToken(ctx, refreshToken)
		if err != nil {
			c.metrics.refreshed("failure")
			c.logger.WithError(err).Warn("Token refresh failed, ending session")
			c.endSession(ctx)
			return "", fmt.Errorf("failed to refresh access token: %w", err)
		}
		c.metrics.refreshed("success")

		if err := c.store.Set(ctx, store.KeyAccessToken, access); err != nil {
			c.logger.WithError(err).Error("Failed to persist refreshed access token")
		}
		if l := c.currentListener(); l != nil {
			l.TokenRefreshed(access)
		}
		return access, nil
	})
	return token, err
}

// endSession wipes stored credentials and sends the user to the login route.
func (c *Client) endSession(ctx context.Context) {
	if err := store.Clear(ctx, c.store); err != nil {
		c.logger.WithError(err).Error("Failed to clear stored credentials")
	}
	if l := c.currentListener(); l != nil {
		l.CredentialsCleared()
	}
	c.navigate(c.loginPath)
}

func (c *Client) storedAccessToken(ctx context.Context) string {
	token, _, err := c.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		c.logger.WithError(err).Error("Failed to read access token")
		return ""
	}
	return token
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

func (r *response) err() *Error { return parseError(r.status, r.body) }

func (r *response) decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *Request, body []byte, token, requestID string) (*response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.request(req.Method, 0)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.metrics.request(req.Method, httpResp.StatusCode)
	c.logger.WithFields(logrus.Fields{
		"method":      req.Method,
		"path":        req.Path,
		"status":      httpResp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
		"request_id":  requestID,
	}).Debug("API request")

	return &response{status: httpResp.StatusCode, body: data}, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return data, nil
}
