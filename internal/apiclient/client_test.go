package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fintrack/fintrack/internal/logging"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeAPI struct {
	mu                  sync.Mutex
	validToken          string
	nextToken           string
	refreshDelay        time.Duration
	refreshStatus       int
	alwaysUnauthorized  bool
	unauthorizedMessage string

	refreshCalls  int
	refreshBodies []string
	resourceCalls int
	seenTokens    []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ledger", func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		f.mu.Lock()
		f.resourceCalls++
		f.seenTokens = append(f.seenTokens, bearer)
		authorized := !f.alwaysUnauthorized && bearer == f.validToken
		msg := f.unauthorizedMessage
		f.mu.Unlock()

		if !authorized {
			if msg == "" {
				msg = "jwt expired"
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": msg})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": bearer})
	})
	mux.HandleFunc("POST /api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.refreshCalls++
		f.refreshBodies = append(f.refreshBodies, body.Token)
		delay, status, next := f.refreshDelay, f.refreshStatus, f.nextToken
		f.mu.Unlock()

		time.Sleep(delay)
		if status != 0 {
			writeJSON(w, status, map[string]any{"error": map[string]string{"code": "INVALID_TOKEN", "message": "Invalid refresh token"}})
			return
		}
		f.mu.Lock()
		f.validToken = next
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": next})
	})
	mux.HandleFunc("GET /api/v1/broken", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": map[string]string{"code": "INVALID_MONTH", "message": "month must be YYYY-MM"}})
	})
	return mux
}

func (f *fakeAPI) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func (f *fakeAPI) resourceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resourceCalls
}

func (f *fakeAPI) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seenTokens...)
}

func (f *fakeAPI) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshBodies...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.paths)
}

type listenerRecorder struct {
	mu        sync.Mutex
	refreshed []string
	cleared   int
}

func (l *listenerRecorder) TokenRefreshed(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshed = append(l.refreshed, token)
}

func (l *listenerRecorder) CredentialsCleared() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared++
}

type harness struct {
	api      *fakeAPI
	server   *httptest.Server
	store    *store.MemoryStore
	nav      *navRecorder
	listener *listenerRecorder
	registry *prometheus.Registry
	client   *Client
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	h := &harness{
		api:      api,
		server:   srv,
		store:    store.NewMemoryStore(),
		nav:      &navRecorder{},
		listener: &listenerRecorder{},
		registry: prometheus.NewRegistry(),
	}
	client, err := New(Options{
		BaseURL:   srv.URL + "/api/v1",
		Store:     h.store,
		Navigate:  h.nav.navigate,
		LoginPath: "/login",
		Logger:    logging.Discard(),
		Metrics:   NewMetrics(h.registry),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetListener(h.listener)
	h.client = client
	return h
}

func (h *harness) seed(t *testing.T, access, refresh string) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.Set(ctx, store.KeyAccessToken, access); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.store.Set(ctx, store.KeyRefreshToken, refresh); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.store.Set(ctx, store.KeyUser, `{"id":1}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDoAttachesBearerToken(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "A1"})
	h.seed(t, "A1", "R1")

	var out struct{ Token string }
	if err := h.client.Get(context.Background(), "/ledger", nil, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Token != "A1" {
		t.Fatalf("expected bearer A1, got %q", out.Token)
	}
	if h.api.refreshCount() != 0 {
		t.Fatalf("no refresh expected")
	}
}

func TestDoWithoutTokenSendsUnauthenticated(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "A1"})

	err := h.client.Get(context.Background(), "/ledger", nil, nil)
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401, got %v", err)
	}
	if h.api.tokens()[0] != "" {
		t.Fatalf("expected no Authorization header, got %q", h.api.tokens()[0])
	}
	if h.api.refreshCount() != 0 {
		t.Fatalf("refresh must not be called without a refresh token")
	}
	if h.nav.count() != 1 {
		t.Fatalf("expected navigation to login")
	}
}

func TestExpiredTokenIsRefreshedAndReplayed(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "A-current", nextToken: "A2"})
	h.seed(t, "A1", "R1")

	var out struct{ Token string }
	if err := h.client.Get(context.Background(), "/ledger", nil, &out); err != nil {
		t.Fatalf("get: %v", err)
	}

	if out.Token != "A2" {
		t.Fatalf("expected replay with A2, got %q", out.Token)
	}
	if got := h.api.tokens(); len(got) != 2 || got[0] != "A1" || got[1] != "A2" {
		t.Fatalf("unexpected token sequence %v", got)
	}
	if h.api.bodies()[0] != "R1" {
		t.Fatalf("refresh must send the stored refresh token, got %q", h.api.bodies()[0])
	}
	if v, _, _ := h.store.Get(context.Background(), store.KeyAccessToken); v != "A2" {
		t.Fatalf("expected A2 persisted, got %q", v)
	}
	if len(h.listener.refreshed) != 1 || h.listener.refreshed[0] != "A2" {
		t.Fatalf("listener not notified: %v", h.listener.refreshed)
	}
	if got := testutil.ToFloat64(h.client.metrics.Refreshes.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected one successful refresh metric, got %v", got)
	}
	if got := testutil.ToFloat64(h.client.metrics.Retries); got != 1 {
		t.Fatalf("expected one retry metric, got %v", got)
	}
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "expired", nextToken: "A2", refreshDelay: 50 * time.Millisecond})
	h.seed(t, "A1", "R1")

	const n = 10
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out struct{ Token string }
			errs[i] = h.client.Get(context.Background(), "/ledger", nil, &out)
			tokens[i] = out.Token
		}(i)
	}
	wg.Wait()

	if h.api.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", h.api.refreshCount())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if tokens[i] != "A2" {
			t.Fatalf("request %d replayed with %q", i, tokens[i])
		}
	}
}

func TestConcurrentUnauthorizedShareRefreshFailure(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "expired", refreshStatus: http.StatusUnauthorized, refreshDelay: 50 * time.Millisecond})
	h.seed(t, "A1", "R1")

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.client.Get(context.Background(), "/ledger", nil, nil)
		}(i)
	}
	wg.Wait()

	if h.api.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", h.api.refreshCount())
	}
	for i, err := range errs {
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_TOKEN" {
			t.Fatalf("request %d: expected the refresh error, got %v", i, err)
		}
	}
	if len(h.store.Snapshot()) != 0 {
		t.Fatalf("expected credentials cleared, got %v", h.store.Snapshot())
	}
	if h.nav.count() != 1 || h.nav.paths[0] != "/login" {
		t.Fatalf("expected one navigation to /login, got %v", h.nav.paths)
	}
	if got := testutil.ToFloat64(h.client.metrics.Refreshes.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected one failed refresh metric, got %v", got)
	}
}

func TestRetryHappensAtMostOnce(t *testing.T) {
	h := newHarness(t, &fakeAPI{alwaysUnauthorized: true, nextToken: "A2"})
	h.seed(t, "A1", "R1")

	err := h.client.Get(context.Background(), "/ledger", nil, nil)
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 after the single retry, got %v", err)
	}
	if h.api.refreshCount() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", h.api.refreshCount())
	}
	if h.api.resourceCount() != 2 {
		t.Fatalf("expected original call plus one replay, got %d", h.api.resourceCount())
	}
}

func TestRevokedTokenSkipsRefresh(t *testing.T) {
	for _, msg := range []string{"Token has been revoked", "token is blacklisted"} {
		t.Run(msg, func(t *testing.T) {
			h := newHarness(t, &fakeAPI{validToken: "other", unauthorizedMessage: msg})
			h.seed(t, "A1", "R1")

			err := h.client.Get(context.Background(), "/ledger", nil, nil)
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Message != msg {
				t.Fatalf("expected original error, got %v", err)
			}
			if h.api.refreshCount() != 0 {
				t.Fatalf("refresh must not be attempted for a revoked token")
			}
			if len(h.store.Snapshot()) != 0 {
				t.Fatalf("expected credentials cleared, got %v", h.store.Snapshot())
			}
			if h.nav.count() != 1 {
				t.Fatalf("expected redirect to login")
			}
			if h.listener.cleared != 1 {
				t.Fatalf("expected listener notified of cleared credentials")
			}
		})
	}
}

func TestMissingRefreshTokenEndsSession(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "other"})
	h.seed(t, "A1", "")

	err := h.client.Get(context.Background(), "/ledger", nil, nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "jwt expired" {
		t.Fatalf("expected the original 401, got %v", err)
	}
	if h.api.refreshCount() != 0 {
		t.Fatalf("no refresh call expected")
	}
	if len(h.store.Snapshot()) != 0 || h.nav.count() != 1 {
		t.Fatalf("expected session ended")
	}
}

func TestRefreshReusesTokenReplacedByEarlierCycle(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "A2"})
	h.seed(t, "A2", "R1")

	token, err := h.client.refreshAfter(context.Background(), "A1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if token != "A2" {
		t.Fatalf("expected current token, got %q", token)
	}
	if h.api.refreshCount() != 0 {
		t.Fatalf("stale request must not trigger a second refresh")
	}
}

func TestNonAuthErrorsPropagate(t *testing.T) {
	h := newHarness(t, &fakeAPI{validToken: "A1"})
	h.seed(t, "A1", "R1")

	err := h.client.Get(context.Background(), "/broken", nil, nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "INVALID_MONTH" || apiErr.Message != "month must be YYYY-MM" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if h.nav.count() != 0 || len(h.store.Snapshot()) != 3 {
		t.Fatalf("non-auth errors must not touch the session")
	}
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "/api", Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error for relative base url")
	}
	if _, err := New(Options{BaseURL: "http://localhost"}); err == nil {
		t.Fatalf("expected error for missing store")
	}
}
