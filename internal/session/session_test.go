package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/logging"
	"github.com/fintrack/fintrack/internal/models"
	"github.com/fintrack/fintrack/internal/store"
)

type fakeAuth struct {
	mu         sync.Mutex
	users      map[string]models.User
	refreshTo  string
	refreshErr error
	logoutErr  error
	verifyErr  error
	verifyErrs []error
	verifyGate chan struct{}

	verifyCalls   int
	refreshCalls  int
	logoutCalls   int
	logoutRefresh string
	listener      apiclient.Listener
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{users: map[string]models.User{}}
}

func (f *fakeAuth) VerifyAccessToken(ctx context.Context, token string) (models.User, error) {
	f.mu.Lock()
	f.verifyCalls++
	gate := f.verifyGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.verifyErrs) > 0 {
		err := f.verifyErrs[0]
		f.verifyErrs = f.verifyErrs[1:]
		return nil, err
	}
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	u, ok := f.users[token]
	if !ok {
		return nil, &apiclient.Error{StatusCode: http.StatusUnauthorized, Message: "jwt expired"}
	}
	return u, nil
}

func (f *fakeAuth) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.refreshTo, nil
}

func (f *fakeAuth) Logout(ctx context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.logoutRefresh = refreshToken
	return f.logoutErr
}

func (f *fakeAuth) SetListener(l apiclient.Listener) {
	f.listener = l
}

func (f *fakeAuth) counts() (verify, refresh, logout int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.refreshCalls, f.logoutCalls
}

func newHolder(t *testing.T, api *fakeAuth) (*Holder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	h := New(api, st, Options{Logger: logging.Discard()})
	return h, st
}

func TestNewRegistersAsListener(t *testing.T) {
	api := newFakeAuth()
	h, _ := newHolder(t, api)
	if api.listener != h {
		t.Fatalf("holder must register itself as the client listener")
	}
}

func TestLoginRoundTrip(t *testing.T) {
	api := newFakeAuth()
	h, st := newHolder(t, api)
	ctx := context.Background()

	if err := h.Login(ctx, "tok", "", models.User{"id": float64(1)}); err != nil {
		t.Fatalf("login: %v", err)
	}

	snap := st.Snapshot()
	want := map[string]string{
		store.KeyAccessToken:  "tok",
		store.KeyRefreshToken: "",
		store.KeyUser:         `{"id":1}`,
	}
	if len(snap) != len(want) {
		t.Fatalf("unexpected storage %v", snap)
	}
	for k, v := range want {
		if got, ok := snap[k]; !ok || got != v {
			t.Fatalf("key %s: want %q, got %q (present=%v)", k, v, got, ok)
		}
	}

	if err := h.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(st.Snapshot()) != 0 {
		t.Fatalf("expected storage cleared, got %v", st.Snapshot())
	}
	if _, _, logouts := api.counts(); logouts != 0 {
		t.Fatalf("no server logout expected without a refresh token")
	}
}

func TestVerifyUsesCacheUnlessForced(t *testing.T) {
	api := newFakeAuth()
	api.users["A1"] = models.User{"id": float64(1), "firstname": "Jo", "lastLogin": "2024-01-01"}
	h, st := newHolder(t, api)
	ctx := context.Background()

	if err := h.Login(ctx, "A1", "R1", models.User{"id": float64(1), "firstname": "Jo"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	u, ok := h.Verify(ctx, false)
	if !ok || u.FirstName() != "Jo" {
		t.Fatalf("expected cached user, got %v %v", u, ok)
	}
	if verifies, _, _ := api.counts(); verifies != 0 {
		t.Fatalf("cached verify must not hit the network")
	}

	u, ok = h.Verify(ctx, true)
	if !ok {
		t.Fatalf("forced verify failed")
	}
	if u.ID() != "1" || u.FirstName() != "Jo" || u["lastLogin"] != "2024-01-01" {
		t.Fatalf("expected merged user, got %v", u)
	}
	if verifies, _, _ := api.counts(); verifies != 1 {
		t.Fatalf("forced verify must issue one call, got %d", verifies)
	}
	if st.Snapshot()[store.KeyUser] != `{"firstname":"Jo","id":1,"lastLogin":"2024-01-01"}` {
		t.Fatalf("merged user not persisted: %s", st.Snapshot()[store.KeyUser])
	}

	h.Verify(ctx, true)
	if verifies, _, _ := api.counts(); verifies != 2 {
		t.Fatalf("every forced verify issues a call, got %d", verifies)
	}
}

func TestVerifyTwiceIssuesOneCall(t *testing.T) {
	api := newFakeAuth()
	api.users["A1"] = models.User{"id": "u1"}
	h, _ := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "R1", nil)

	if _, ok := h.Verify(ctx, false); !ok {
		t.Fatalf("first verify failed")
	}
	if _, ok := h.Verify(ctx, false); !ok {
		t.Fatalf("second verify failed")
	}
	if verifies, _, _ := api.counts(); verifies != 1 {
		t.Fatalf("expected one network call, got %d", verifies)
	}
}

func TestConcurrentVerifyIsSingleFlight(t *testing.T) {
	api := newFakeAuth()
	api.users["A1"] = models.User{"id": "u1"}
	api.verifyGate = make(chan struct{})
	h, _ := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "R1", nil)

	const n = 5
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.Verify(ctx, false)
		}(i)
	}
	time.Sleep(30 * time.Millisecond)
	close(api.verifyGate)
	wg.Wait()

	if verifies, _, _ := api.counts(); verifies != 1 {
		t.Fatalf("expected one shared verification, got %d", verifies)
	}
	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d did not get the shared result", i)
		}
	}
}

func TestLoginDetachesPendingVerify(t *testing.T) {
	api := newFakeAuth()
	api.users["A1"] = models.User{"id": "u1"}
	api.users["B1"] = models.User{"id": "u2"}
	api.verifyGate = make(chan struct{})
	h, _ := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "RA", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Verify(ctx, false)
	}()
	for deadline := time.Now().Add(time.Second); ; {
		if verifies, _, _ := api.counts(); verifies == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("verification for the first session never started")
		}
		time.Sleep(time.Millisecond)
	}

	_ = h.Login(ctx, "B1", "RB", nil)
	var (
		user models.User
		ok   bool
	)
	go func() {
		defer wg.Done()
		user, ok = h.Verify(ctx, false)
	}()
	time.Sleep(30 * time.Millisecond)
	close(api.verifyGate)
	wg.Wait()

	if !ok || user.ID() != "u2" {
		t.Fatalf("new session should verify as u2, got ok=%v user=%v", ok, user)
	}
	if verifies, _, _ := api.counts(); verifies != 2 {
		t.Fatalf("expected a fresh verification for the new session, got %d calls", verifies)
	}
}

func TestVerifyWithoutTokenSkipsNetwork(t *testing.T) {
	api := newFakeAuth()
	h, _ := newHolder(t, api)

	if _, ok := h.Verify(context.Background(), true); ok {
		t.Fatalf("expected false without a token")
	}
	if verifies, _, _ := api.counts(); verifies != 0 {
		t.Fatalf("no network call expected")
	}
}

func TestVerifyRefreshesOnceOnUnauthorized(t *testing.T) {
	api := newFakeAuth()
	api.users["A2"] = models.User{"id": "u1", "email": "jo@example.com"}
	api.refreshTo = "A2"
	h, st := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "R1", models.User{"id": "u1"})

	u, ok := h.Verify(ctx, true)
	if !ok || u.Email() != "jo@example.com" {
		t.Fatalf("expected user after refresh, got %v %v", u, ok)
	}
	verifies, refreshes, _ := api.counts()
	if verifies != 2 || refreshes != 1 {
		t.Fatalf("expected verify, refresh, verify; got %d verifies and %d refreshes", verifies, refreshes)
	}
	if h.AccessToken() != "A2" || st.Snapshot()[store.KeyAccessToken] != "A2" {
		t.Fatalf("refreshed token not installed")
	}
}

func TestVerifyFailuresReturnFalseWithoutClearing(t *testing.T) {
	t.Run("refresh fails", func(t *testing.T) {
		api := newFakeAuth()
		api.refreshErr = errors.New("refresh rejected")
		h, st := newHolder(t, api)
		ctx := context.Background()
		_ = h.Login(ctx, "A1", "R1", nil)

		if _, ok := h.Verify(ctx, true); ok {
			t.Fatalf("expected false")
		}
		if st.Snapshot()[store.KeyAccessToken] != "A1" {
			t.Fatalf("verify must not clear stored tokens")
		}
	})

	t.Run("server error", func(t *testing.T) {
		api := newFakeAuth()
		api.verifyErr = &apiclient.Error{StatusCode: http.StatusInternalServerError, Message: "boom"}
		h, _ := newHolder(t, api)
		ctx := context.Background()
		_ = h.Login(ctx, "A1", "R1", nil)

		if _, ok := h.Verify(ctx, true); ok {
			t.Fatalf("expected false")
		}
		if _, refreshes, _ := api.counts(); refreshes != 0 {
			t.Fatalf("non-401 failures must not refresh")
		}
		if !h.Authenticated() {
			t.Fatalf("token must survive a failed verification")
		}
	})
}

func TestLogoutSurvivesServerFailure(t *testing.T) {
	api := newFakeAuth()
	api.logoutErr = errors.New("network down")
	h, st := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "R1", models.User{"id": "u1"})

	if err := h.Logout(ctx); err != nil {
		t.Fatalf("logout must succeed locally: %v", err)
	}
	if _, _, logouts := api.counts(); logouts != 1 || api.logoutRefresh != "R1" {
		t.Fatalf("expected blacklist call with R1, got %d calls (%q)", logouts, api.logoutRefresh)
	}
	if len(st.Snapshot()) != 0 {
		t.Fatalf("expected storage cleared, got %v", st.Snapshot())
	}
	if h.Authenticated() || h.User() != nil {
		t.Fatalf("expected memory cleared")
	}
}

func TestRefresh(t *testing.T) {
	api := newFakeAuth()
	api.refreshTo = "A2"
	h, st := newHolder(t, api)
	ctx := context.Background()

	if h.Refresh(ctx) {
		t.Fatalf("expected false without refresh token")
	}
	if _, refreshes, _ := api.counts(); refreshes != 0 {
		t.Fatalf("no network call expected")
	}

	_ = h.Login(ctx, "A1", "R1", models.User{"id": "u1"})
	if !h.Refresh(ctx) {
		t.Fatalf("expected refresh to succeed")
	}
	if h.AccessToken() != "A2" || st.Snapshot()[store.KeyAccessToken] != "A2" {
		t.Fatalf("new token not persisted")
	}

	api.refreshErr = errors.New("expired")
	if h.Refresh(ctx) {
		t.Fatalf("expected failure")
	}
	snap := st.Snapshot()
	if snap[store.KeyAccessToken] != "A2" || snap[store.KeyRefreshToken] != "R1" {
		t.Fatalf("failed refresh must leave credentials alone, got %v", snap)
	}
}

func TestInitialize(t *testing.T) {
	t.Run("valid session", func(t *testing.T) {
		api := newFakeAuth()
		api.users["A1"] = models.User{"id": "u1", "firstname": "Server"}
		h, st := newHolder(t, api)
		ctx := context.Background()
		_ = store.SaveSession(ctx, st, models.Session{AccessToken: "A1", RefreshToken: "R1", User: models.User{"id": "u1", "stale": true}})

		if !h.Loading() {
			t.Fatalf("expected loading before Initialize")
		}
		if err := h.Initialize(ctx); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if h.Loading() {
			t.Fatalf("expected ready after Initialize")
		}
		u := h.User()
		if u.FirstName() != "Server" || u["stale"] != nil {
			t.Fatalf("expected server copy to replace the user, got %v", u)
		}
	})

	t.Run("rejected session", func(t *testing.T) {
		api := newFakeAuth()
		h, st := newHolder(t, api)
		ctx := context.Background()
		_ = store.SaveSession(ctx, st, models.Session{AccessToken: "A1", RefreshToken: "R1"})

		if err := h.Initialize(ctx); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if h.Authenticated() || len(st.Snapshot()) != 0 {
			t.Fatalf("expected rejected session cleared")
		}
	})

	t.Run("empty store", func(t *testing.T) {
		api := newFakeAuth()
		h, _ := newHolder(t, api)
		if err := h.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if verifies, _, _ := api.counts(); verifies != 0 {
			t.Fatalf("no verification without a token")
		}
		if err := h.WaitReady(context.Background()); err != nil {
			t.Fatalf("wait ready: %v", err)
		}
	})
}

func TestListenerKeepsMemoryInSync(t *testing.T) {
	api := newFakeAuth()
	h, _ := newHolder(t, api)
	ctx := context.Background()
	_ = h.Login(ctx, "A1", "R1", models.User{"id": "u1"})

	h.TokenRefreshed("A2")
	if h.AccessToken() != "A2" {
		t.Fatalf("expected refreshed token in memory")
	}
	h.CredentialsCleared()
	if h.Authenticated() || h.User() != nil {
		t.Fatalf("expected memory cleared")
	}
}

func TestUpdateUserMerges(t *testing.T) {
	api := newFakeAuth()
	h, st := newHolder(t, api)
	ctx := context.Background()

	if _, err := h.UpdateUser(ctx, models.User{"firstname": "X"}); err == nil {
		t.Fatalf("expected error when logged out")
	}

	_ = h.Login(ctx, "A1", "R1", models.User{"id": "u1", "firstname": "Jo"})
	u, err := h.UpdateUser(ctx, models.User{"profilePhoto": "p.png"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.FirstName() != "Jo" || u["profilePhoto"] != "p.png" {
		t.Fatalf("unexpected merge %v", u)
	}
	if st.Snapshot()[store.KeyUser] != `{"firstname":"Jo","id":"u1","profilePhoto":"p.png"}` {
		t.Fatalf("update not persisted: %s", st.Snapshot()[store.KeyUser])
	}
}
