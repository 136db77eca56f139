package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeltedButter77/robotnic/store"
)

type fakeLifecycle struct {
	refreshes  int
	reconciles int
	refreshErr error
	removed    int
}

func (f *fakeLifecycle) RefreshAll(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeLifecycle) Reconcile(context.Context) (int, error) {
	f.reconciles++
	return f.removed, nil
}

type downStore struct{ *store.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func clearAdminEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN", "RATE_LIMIT_BACKEND"} {
		t.Setenv(k, "")
	}
	t.Setenv("RATE_LIMIT_ENABLED", "0")
}

func newTestMux(t *testing.T, opts Options) http.Handler {
	t.Helper()
	clearAdminEnv(t)
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = &fakeLifecycle{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMux(ctx, opts)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h := newTestMux(t, Options{})
	rr := do(h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a correlation id header")
	}

	h = newTestMux(t, Options{Store: downStore{store.NewMemory()}})
	if rr := do(h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz with a down store = %d", rr.Code)
	}
}

func TestReadyz(t *testing.T) {
	gatewayErr := errors.New("session not connected")
	tests := []struct {
		name   string
		opts   Options
		code   int
		failed string
	}{
		{"ready", Options{GatewayReady: func() error { return nil }}, http.StatusOK, ""},
		{"store down", Options{Store: downStore{store.NewMemory()}}, http.StatusServiceUnavailable, "store"},
		{"gateway down", Options{GatewayReady: func() error { return gatewayErr }}, http.StatusServiceUnavailable, "gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(newTestMux(t, tt.opts), http.MethodGet, "/readyz", "")
			if rr.Code != tt.code {
				t.Fatalf("code = %d, want %d (%s)", rr.Code, tt.code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["failed_check"] != tt.failed {
				t.Errorf("failed_check = %q, want %q", resp["failed_check"], tt.failed)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	_ = st.UpsertCreatorChannel(ctx, store.CreatorChannel{GuildID: "g", ChannelID: "c"})
	_ = st.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g", ChannelID: "t1", CreatorID: "c", SequenceNumber: 1})
	_ = st.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g", ChannelID: "t2", CreatorID: "c", SequenceNumber: 2})

	rr := do(newTestMux(t, Options{Store: st, RenameWorkers: func() int { return 3 }}), http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]float64
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["temp_channels"] != 2 || resp["creator_channels"] != 1 || resp["rename_workers"] != 3 {
		t.Errorf("status body = %v", resp)
	}
}

func TestAdminCreators(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	h := newTestMux(t, Options{Store: st})

	rr := do(h, http.MethodPost, "/admin/creators", `{"guild_id":"g","channel_id":"c1","template":"{user}'s Room","user_limit":5,"overwrite_policy":"inherit_category"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rr.Code, rr.Body.String())
	}
	cc, err := st.GetCreatorChannel(ctx, "c1")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if cc.ChildNameTemplate != "{user}'s Room" || cc.UserLimit != 5 || cc.OverwritePolicy != store.OverwriteInheritCategory {
		t.Errorf("stored %+v", cc)
	}

	bad := []string{
		`{"channel_id":"c2"}`,
		`{"guild_id":"g","channel_id":"c2","user_limit":100}`,
		`{"guild_id":"g","channel_id":"c2","category_policy":"specific"}`,
		`{"guild_id":"g","channel_id":"c2","overwrite_policy":"copy"}`,
		`not json`,
	}
	for _, body := range bad {
		if rr := do(h, http.MethodPost, "/admin/creators", body); rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: code = %d, want 400", body, rr.Code)
		}
	}

	rr = do(h, http.MethodGet, "/admin/creators?guild_id=g", "")
	var list []creatorView
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ChannelID != "c1" || list[0].CategoryPolicy != "same_as_creator" {
		t.Errorf("list = %+v", list)
	}

	if rr := do(h, http.MethodDelete, "/admin/creators/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d", rr.Code)
	}
	if rr := do(h, http.MethodDelete, "/admin/creators/c1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rr.Code)
	}
	if _, err := st.GetCreatorChannel(ctx, "c1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("creator still stored after delete")
	}
}

func TestAdminJobs(t *testing.T) {
	lc := &fakeLifecycle{removed: 2}
	h := newTestMux(t, Options{Lifecycle: lc})

	if rr := do(h, http.MethodGet, "/admin/refresh", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET refresh = %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/admin/refresh", ""); rr.Code != http.StatusOK || lc.refreshes != 1 {
		t.Errorf("refresh = %d, calls=%d", rr.Code, lc.refreshes)
	}
	rr := do(h, http.MethodPost, "/admin/reconcile", "")
	var resp map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp["removed"] != float64(2) {
		t.Errorf("reconcile = %d %v", rr.Code, resp)
	}

	lc.refreshErr = errors.New("one channel failed")
	if rr := do(h, http.MethodPost, "/admin/refresh", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("failing refresh = %d", rr.Code)
	}
}

func TestAdminRequiresAuthWhenConfigured(t *testing.T) {
	clearAdminEnv(t)
	t.Setenv("ADMIN_TOKEN", "secret")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewMux(ctx, Options{Store: store.NewMemory(), Lifecycle: &fakeLifecycle{}})

	if rr := do(h, http.MethodGet, "/admin/creators", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("admin without token = %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/admin/creators", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("admin with token = %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz must stay public, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Options{Store: store.NewMemory(), Lifecycle: &fakeLifecycle{}}, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

// slowLifecycle holds RefreshAll open until release is closed.
type slowLifecycle struct {
	fakeLifecycle
	entered chan struct{}
	release chan struct{}
}

func (s *slowLifecycle) RefreshAll(ctx context.Context) error {
	close(s.entered)
	<-s.release
	return nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestStartWaitsForInFlightRequests(t *testing.T) {
	clearAdminEnv(t)
	addr := freeAddr(t)
	lc := &slowLifecycle{entered: make(chan struct{}), release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Options{Store: store.NewMemory(), Lifecycle: lc}, addr) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	status := make(chan int, 1)
	go func() {
		resp, err := http.Post("http://"+addr+"/admin/refresh", "application/json", nil)
		if err != nil {
			status <- 0
			return
		}
		_ = resp.Body.Close()
		status <- resp.StatusCode
	}()
	<-lc.entered

	cancel()
	select {
	case err := <-done:
		t.Fatalf("Start returned %v with a request still in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(lc.release)
	if code := <-status; code != http.StatusOK {
		t.Errorf("in-flight request status = %d, want 200", code)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the request drained")
	}
}
