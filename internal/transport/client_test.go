package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benvon/hospital-portal/internal/apitest"
	"github.com/benvon/hospital-portal/internal/credentials"
	"github.com/benvon/hospital-portal/internal/effects"
	"github.com/benvon/hospital-portal/internal/metrics"
	"github.com/benvon/hospital-portal/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type harness struct {
	server   *apitest.Server
	store    *credentials.Store
	client   *Client
	progress *effects.ProgressCounter
	recorder *effects.Recorder
	registry *prometheus.Registry
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	h := &harness{
		server:   apitest.NewServer(t),
		store:    credentials.NewStore(credentials.NewMemoryKV()),
		progress: &effects.ProgressCounter{},
		recorder: &effects.Recorder{},
		registry: prometheus.NewRegistry(),
	}
	m, err := metrics.New(h.registry)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	h.client, err = NewClient(h.store, Options{
		BaseURL:    h.server.BaseURL(),
		Timeout:    timeout,
		Progress:   h.progress,
		Notifier:   h.recorder,
		Redirector: h.recorder,
		Metrics:    m,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return h
}

func (h *harness) signIn(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := h.server.IssueToken(1, apitest.AdminPhone, exp)
	if err := h.store.SetToken(context.Background(), tok); err != nil {
		t.Fatalf("Failed to store token: %v", err)
	}
	return tok
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	store := credentials.NewStore(credentials.NewMemoryKV())
	tests := []struct {
		name    string
		creds   Credentials
		baseURL string
		wantErr bool
	}{
		{name: "valid", creds: store, baseURL: "http://localhost:8080/api"},
		{name: "missing store", creds: nil, baseURL: "http://localhost:8080/api", wantErr: true},
		{name: "relative base URL", creds: store, baseURL: "/api", wantErr: true},
		{name: "empty base URL", creds: store, baseURL: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient(tt.creds, Options{BaseURL: tt.baseURL})
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.timeout != DefaultTimeout {
				t.Errorf("Expected default timeout %v, got %v", DefaultTimeout, c.timeout)
			}
			if c.loginPath != DefaultLoginPath {
				t.Errorf("Expected default login path %q, got %q", DefaultLoginPath, c.loginPath)
			}
		})
	}
}

func TestSend_AttachesBearerOnlyWhenStored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	ctx := context.Background()

	if _, err := h.client.Send(ctx, Envelope{Method: http.MethodGet, Path: "/hospital/list"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := h.server.LastAuthorization("/hospital/list"); got != "" {
		t.Errorf("Expected no Authorization header, got %q", got)
	}

	tok := h.signIn(t, time.Now().Add(time.Hour))
	if _, err := h.client.Send(ctx, Envelope{Method: http.MethodGet, Path: "/hospital/list"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := h.server.LastAuthorization("/hospital/list"); got != "Bearer "+tok {
		t.Errorf("Expected bearer header, got %q", got)
	}
}

func TestSend_StampsRequestID(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make([]string, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get(RequestIDHeader))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"code":200,"data":null}`))
	}))
	defer srv.Close()

	c, err := NewClient(credentials.NewStore(credentials.NewMemoryKV()), Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Send(context.Background(), Envelope{Path: "/ping"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] == "" || seen[1] == "" {
		t.Fatalf("Expected two request ids, got %v", seen)
	}
	if seen[0] == seen[1] {
		t.Errorf("Expected distinct request ids, got %q twice", seen[0])
	}
}

func TestSend_UnauthorizedForcesLogout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		setup func(t *testing.T, h *harness)
	}{
		{
			name: "expired token on a non-profile call",
			path: "/admin/hospitals",
			setup: func(t *testing.T, h *harness) {
				h.signIn(t, time.Now().Add(-time.Minute))
			},
		},
		{
			name: "401 on an unauthenticated endpoint",
			path: "/hospital/list",
			setup: func(t *testing.T, h *harness) {
				h.signIn(t, time.Now().Add(time.Hour))
				h.server.Override("/hospital/list", apitest.Override{Status: http.StatusUnauthorized, Body: `{"code":401}`})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, time.Second)
			tt.setup(t, h)
			ctx := context.Background()
			if err := h.store.SetProfile(ctx, &models.UserProfile{ID: 1}); err != nil {
				t.Fatalf("Failed to store profile: %v", err)
			}

			outcome, err := h.client.Send(ctx, Envelope{Method: http.MethodGet, Path: tt.path})
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("Expected ErrUnauthorized, got %v", err)
			}
			if !outcome.ForceLogout {
				t.Error("Expected ForceLogout outcome")
			}

			tok, _ := h.store.Token(ctx)
			profile, _ := h.store.Profile(ctx)
			if tok != "" || profile != nil {
				t.Errorf("Expected empty store, got token %q profile %v", tok, profile)
			}
			if got := h.recorder.Redirects(); len(got) != 1 || got[0] != DefaultLoginPath {
				t.Errorf("Expected one redirect to %s, got %v", DefaultLoginPath, got)
			}
			if got := h.recorder.Errors(); len(got) != 1 || got[0] != MsgSessionExpired {
				t.Errorf("Expected session expired message, got %v", got)
			}
		})
	}
}

func TestSend_BusinessErrorKeepsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	ctx := context.Background()
	h.signIn(t, time.Now().Add(time.Hour))

	_, err := h.client.Send(ctx, Envelope{
		Method: http.MethodPut,
		Path:   "/user/password",
		Body:   models.PasswordChange{OldPassword: "wrong-one", NewPassword: "another1"},
	})
	var be *BusinessError
	if !errors.As(err, &be) {
		t.Fatalf("Expected *BusinessError, got %v", err)
	}
	if be.Code != 400 || be.Message != "Old password is incorrect" {
		t.Errorf("Unexpected business error: %+v", be)
	}
	if tok, _ := h.store.Token(ctx); tok == "" {
		t.Error("Expected token to survive a business error")
	}
	if got := h.recorder.Errors(); len(got) != 1 || got[0] != "Old password is incorrect" {
		t.Errorf("Expected server message to be shown, got %v", got)
	}
	if len(h.recorder.Redirects()) != 0 {
		t.Errorf("Expected no redirect, got %v", h.recorder.Redirects())
	}
}

func TestSend_TransportFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		delay    time.Duration
		sentinel error
		message  string
	}{
		{name: "forbidden", status: http.StatusForbidden, sentinel: ErrForbidden, message: MsgForbidden},
		{name: "not found", status: http.StatusNotFound, sentinel: ErrNotFound, message: MsgNotFound},
		{name: "server error", status: http.StatusInternalServerError, sentinel: ErrServer, message: MsgServerError},
		{name: "timeout", delay: 500 * time.Millisecond, sentinel: ErrTimeout, message: MsgTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 100*time.Millisecond)
			h.signIn(t, time.Now().Add(time.Hour))
			h.server.Override("/hospital/list", apitest.Override{Status: tt.status, Delay: tt.delay, Body: `{"code":200}`})

			_, err := h.client.Send(context.Background(), Envelope{Path: "/hospital/list"})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Expected %v, got %v", tt.sentinel, err)
			}
			if got := h.recorder.Errors(); len(got) != 1 || got[0] != tt.message {
				t.Errorf("Expected message %q, got %v", tt.message, got)
			}
			if tok, _ := h.store.Token(context.Background()); tok == "" {
				t.Error("Expected token to survive a non-401 failure")
			}
		})
	}
}

func TestSend_NetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	rec := &effects.Recorder{}
	c, err := NewClient(credentials.NewStore(credentials.NewMemoryKV()), Options{BaseURL: base, Notifier: rec})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	_, err = c.Send(context.Background(), Envelope{Path: "/hospital/list"})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Expected ErrNetwork, got %v", err)
	}
	if got := rec.Errors(); len(got) != 1 || got[0] != MsgNetwork {
		t.Errorf("Expected network message, got %v", got)
	}
}

func TestSend_ProgressBalanced(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	h.server.Override("/broken", apitest.Override{Status: http.StatusBadGateway})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/hospital/list"
			if i%2 == 0 {
				path = "/broken"
			}
			_, _ = h.client.Send(context.Background(), Envelope{Path: path})
		}(i)
	}
	wg.Wait()

	if h.progress.Active() {
		t.Error("Expected progress to be stopped after all calls settled")
	}
}

// effectWatcher records whether progress was still running when each effect fired
type effectWatcher struct {
	progress *effects.ProgressCounter
	mu       sync.Mutex
	active   []bool
}

func (w *effectWatcher) observe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = append(w.active, w.progress.Active())
}

func (w *effectWatcher) Error(string)    { w.observe() }
func (w *effectWatcher) Redirect(string) { w.observe() }

func TestSend_ProgressStoppedBeforeEffects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		wantEffects int
	}{
		{name: "unauthorized notifies and redirects", status: http.StatusUnauthorized, wantEffects: 2},
		{name: "server error notifies", status: http.StatusInternalServerError, wantEffects: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := apitest.NewServer(t)
			srv.Override("/hospital/list", apitest.Override{Status: tt.status})
			progress := &effects.ProgressCounter{}
			watcher := &effectWatcher{progress: progress}

			client, err := NewClient(credentials.NewStore(credentials.NewMemoryKV()), Options{
				BaseURL:    srv.BaseURL(),
				Timeout:    time.Second,
				Progress:   progress,
				Notifier:   watcher,
				Redirector: watcher,
			})
			if err != nil {
				t.Fatalf("Failed to create client: %v", err)
			}

			if _, err := client.Send(context.Background(), Envelope{Path: "/hospital/list"}); err == nil {
				t.Fatal("Expected an error")
			}
			if len(watcher.active) != tt.wantEffects {
				t.Fatalf("Expected %d effects, got %d", tt.wantEffects, len(watcher.active))
			}
			for i, active := range watcher.active {
				if active {
					t.Errorf("Expected progress stopped before effect %d", i)
				}
			}
			if progress.Active() {
				t.Error("Expected progress stopped after Send")
			}
		})
	}
}

func TestSend_UnencodableBodyIsNotANetworkError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)

	outcome, err := h.client.Send(context.Background(), Envelope{
		Method: http.MethodPut,
		Path:   "/user/info",
		Body:   map[string]any{"bad": make(chan int)},
	})
	if !errors.Is(err, ErrRequest) {
		t.Fatalf("Expected ErrRequest, got %v", err)
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) {
		t.Errorf("Expected a local failure, got %v", err)
	}
	if outcome.Reason != ReasonRequest || outcome.Message != MsgRequestFailed {
		t.Errorf("Expected reason %q with %q, got %q with %q", ReasonRequest, MsgRequestFailed, outcome.Reason, outcome.Message)
	}
	if n := h.server.Calls("/user/info"); n != 0 {
		t.Errorf("Expected no request to reach the server, got %d", n)
	}
	if got := h.recorder.Errors(); len(got) != 1 || got[0] != MsgRequestFailed {
		t.Errorf("Expected %q shown to the user, got %v", MsgRequestFailed, got)
	}
	if h.progress.Active() {
		t.Error("Expected progress stopped")
	}
}

func TestDo_DecodesData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)

	var page models.PageResult[models.Hospital]
	err := h.client.Do(context.Background(), Envelope{
		Path:  "/hospital/list",
		Query: map[string][]string{"keyword": {"ruijin"}},
	}, &page)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if page.Total != 1 || len(page.List) != 1 || page.List[0].Name != "Ruijin Hospital" {
		t.Errorf("Unexpected page: %+v", page)
	}
}

func TestDo_Multipart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	h.signIn(t, time.Now().Add(time.Hour))

	var url string
	err := h.client.Do(context.Background(), Envelope{
		Method:    http.MethodPost,
		Path:      "/user/avatar",
		Multipart: &File{FileName: "me.png", Content: strings.NewReader("png-bytes")},
	}, &url)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if url != "/uploads/avatar/1/me.png" {
		t.Errorf("Expected avatar url, got %q", url)
	}
}

func TestSend_RecordsOutcomeMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Second)
	h.server.Override("/missing", apitest.Override{Status: http.StatusNotFound})

	_, _ = h.client.Send(context.Background(), Envelope{Path: "/hospital/list"})
	_, _ = h.client.Send(context.Background(), Envelope{Path: "/missing"})

	expected := `
# HELP portal_transport_outcomes_total Classified outcomes of outbound API calls.
# TYPE portal_transport_outcomes_total counter
portal_transport_outcomes_total{kind="success",reason="none"} 1
portal_transport_outcomes_total{kind="transport_error",reason="not_found"} 1
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "portal_transport_outcomes_total"); err != nil {
		t.Error(err)
	}
}

// Mutates the global tracer provider, so it does not run in parallel.
func TestSend_PropagatesTraceContext(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	c, err := NewClient(credentials.NewStore(credentials.NewMemoryKV()), Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if _, err := c.Send(context.Background(), Envelope{Path: "/ping"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if traceparent == "" {
		t.Error("Expected traceparent header to be injected")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "portal.request" {
		t.Fatalf("Expected one portal.request span, got %d", len(spans))
	}
}
