package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"phonescreen-console/internal/audit"
	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/events"
	"phonescreen-console/internal/reconcile"
	"phonescreen-console/internal/reporting"
	"phonescreen-console/internal/summary"
	"phonescreen-console/internal/telephony"

	"github.com/gin-gonic/gin"
)

type stubGateway struct {
	handle    telephony.CallHandle
	createErr error
	listErr   error
	creates   atomic.Int32
	lastLimit atomic.Int32
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) HealthCheck(ctx context.Context) error { return nil }

func (g *stubGateway) CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CallHandle, error) {
	g.creates.Add(1)
	return g.handle, g.createErr
}

func (g *stubGateway) FetchDetails(ctx context.Context, providerCallID string) (telephony.CallDetails, error) {
	return telephony.CallDetails{}, nil
}

func (g *stubGateway) ListCalls(ctx context.Context, limit int) (json.RawMessage, error) {
	g.lastLimit.Store(int32(limit))
	if g.listErr != nil {
		return nil, g.listErr
	}
	return json.RawMessage(`[{"id":"vapi-9"}]`), nil
}

type stubSummarizer struct {
	text    string
	err     error
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *stubSummarizer) Summarize(ctx context.Context, t summary.Transcript) (string, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.release != nil {
		<-s.release
	}
	return s.text, s.err
}

type testServer struct {
	router  *gin.Engine
	store   *callstore.MemoryStore
	gateway *stubGateway
	sum     *stubSummarizer
	driver  *reconcile.Driver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		store:   callstore.NewMemoryStore(),
		gateway: &stubGateway{handle: telephony.CallHandle{ProviderCallID: "vapi-1", Status: calls.CallStatusInitiated}},
		sum:     &stubSummarizer{text: "fresh summary"},
	}
	bus := events.NewBus()
	store := callstore.NewNotifying(ts.store, bus, nil, nil)
	auditSvc := audit.NewService(audit.NewMemoryRepo(0), nil)
	ts.driver = reconcile.NewDriver(store, ts.gateway, ts.sum, auditSvc, nil, nil, reconcile.Config{
		Tick:       10 * time.Millisecond,
		FetchDelay: time.Minute,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ts.driver.Shutdown(ctx)
	})

	h := Handlers{
		Gateway:    ts.gateway,
		Summarizer: ts.sum,
		Store:      store,
		Driver:     ts.driver,
		Stats:      reporting.NewStatsView(reporting.NewService(store), bus, nil),
		Audit:      auditSvc,
		Checks: map[string]func(context.Context) error{
			"gateway": ts.gateway.HealthCheck,
		},
		clock: func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	ts.router = gin.New()
	h.Register(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func TestCreateCall_MissingFieldsRejectedBeforeGateway(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"recipientName":"Ada"}`,
		`{"phoneNumber":"+15550001111","recipientName":""}`,
	} {
		w := ts.do(t, http.MethodPost, "/calls", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, w.Code)
		}
		if got := errorOf(t, w); got != "Phone number and recipient name are required" {
			t.Fatalf("unexpected error %q", got)
		}
	}
	if n := ts.gateway.creates.Load(); n != 0 {
		t.Fatalf("gateway called %d times", n)
	}
}

func TestCreateCall_ReturnsHandle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/calls", `{"phoneNumber":"+15550001111","recipientName":"Ada"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[createCallResponse](t, w)
	if got.ID != "vapi-1" || got.Status != calls.CallStatusInitiated {
		t.Fatalf("unexpected handle %+v", got)
	}
	if got.PhoneNumber != "+15550001111" || got.RecipientName != "Ada" {
		t.Fatalf("request not echoed: %+v", got)
	}
	if got.CreatedAt.IsZero() || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Fatalf("timestamps not set: %+v", got)
	}

	all, _ := ts.store.GetAll(context.Background())
	if len(all) != 0 {
		t.Fatalf("provider boundary must not store, got %d calls", len(all))
	}
}

func TestCreateCall_ErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "missing key",
			err:  fmt.Errorf("%w: Vapi API key not configured", calls.ErrConfiguration),
			want: "Vapi API key not configured",
		},
		{
			name: "provider failure",
			err:  &telephony.ProviderError{Provider: "vapi", Endpoint: "create_call", StatusCode: 400, Message: "customer.number must be E.164"},
			want: "Failed to create call: customer.number must be E.164",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.gateway.createErr = tc.err

			w := ts.do(t, http.MethodPost, "/calls", `{"phoneNumber":"+15550001111","recipientName":"Ada"}`)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", w.Code)
			}
			if got := errorOf(t, w); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestListCalls_LimitHandling(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/calls", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := ts.gateway.lastLimit.Load(); got != 10 {
		t.Fatalf("expected default limit 10, got %d", got)
	}
	if !strings.Contains(w.Body.String(), "vapi-9") {
		t.Fatalf("payload not passed through: %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/calls?limit=3", "")
	if w.Code != http.StatusOK || ts.gateway.lastLimit.Load() != 3 {
		t.Fatalf("limit not forwarded: code=%d limit=%d", w.Code, ts.gateway.lastLimit.Load())
	}

	for _, raw := range []string{"abc", "0", "-2"} {
		w = ts.do(t, http.MethodGet, "/calls?limit="+raw, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", raw, w.Code)
		}
	}
	if ts.gateway.lastLimit.Load() != 3 {
		t.Fatalf("rejected limit reached the gateway: %d", ts.gateway.lastLimit.Load())
	}
}

func TestListCalls_ProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.gateway.listErr = &telephony.ProviderError{Provider: "vapi", Endpoint: "list_calls", StatusCode: 502, Message: "Bad Gateway"}

	w := ts.do(t, http.MethodGet, "/calls", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := errorOf(t, w); got != "Failed to fetch calls: Bad Gateway" {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestSummarize(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/summaries", `{}`)
	if w.Code != http.StatusBadRequest || errorOf(t, w) != "Transcript is required" {
		t.Fatalf("expected 400 Transcript is required, got %d %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/summaries", `{"transcript":[{"role":"assistant","content":"Hi"},{"role":"user","content":"Hello"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w)["summary"]; got != "fresh summary" {
		t.Fatalf("unexpected summary %q", got)
	}

	ts.sum.err = fmt.Errorf("%w: Failed to generate summary: rate limited", calls.ErrGeneration)
	w = ts.do(t, http.MethodPost, "/summaries", `{"transcript":"agent: hi"}`)
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != "Failed to generate summary" {
		t.Fatalf("expected 500 Failed to generate summary, got %d %s", w.Code, w.Body.String())
	}
}

func TestConsole_StartOpenEndAndEvents(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/console/calls", `{"phoneNumber":"+15550001111","recipientName":"Ada"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[callView](t, w)
	if started.Call.ID == "" || started.Call.VapiCallID != "vapi-1" {
		t.Fatalf("unexpected call %+v", started.Call)
	}
	if started.Session == nil || !started.Session.ClockRunning {
		t.Fatalf("expected running clock, got %+v", started.Session)
	}

	// Provider ids address the same record.
	w = ts.do(t, http.MethodGet, "/console/calls/vapi-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	opened := decode[callView](t, w)
	if opened.Call.ID != started.Call.ID {
		t.Fatalf("provider id resolved to %q, want %q", opened.Call.ID, started.Call.ID)
	}

	w = ts.do(t, http.MethodPost, "/console/calls/"+started.Call.ID+"/end", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ended := decode[callView](t, w)
	if ended.Call.Status != calls.CallStatusCompleted || ended.Call.EndedAt == nil {
		t.Fatalf("call not ended: %+v", ended.Call)
	}
	if ended.Session == nil || ended.Session.ClockRunning || !ended.Session.FetchScheduled {
		t.Fatalf("unexpected session after end: %+v", ended.Session)
	}

	w = ts.do(t, http.MethodGet, "/console/calls/vapi-1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var trail struct {
		CallID string        `json:"callId"`
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if trail.CallID != started.Call.ID || len(trail.Events) < 2 {
		t.Fatalf("unexpected trail %+v", trail)
	}
	if trail.Events[0].Type != audit.EventTypeCallCreated || trail.Events[1].Type != audit.EventTypeCallEnded {
		t.Fatalf("unexpected event order: %s, %s", trail.Events[0].Type, trail.Events[1].Type)
	}

	w = ts.do(t, http.MethodDelete, "/console/calls/"+started.Call.ID+"/session", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/console/calls/"+started.Call.ID+"/session", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for closed session, got %d", w.Code)
	}
}

func TestConsole_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/console/calls/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/console/calls", `{"phoneNumber":"","recipientName":"Ada"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := errorOf(t, w); got != "Phone number and recipient name are required" {
		t.Fatalf("sentinel prefix leaked: %q", got)
	}

	ts.gateway.createErr = &telephony.ProviderError{Provider: "vapi", Endpoint: "create_call", Message: "dial tcp: timeout", Err: errors.New("timeout")}
	w = ts.do(t, http.MethodPost, "/console/calls", `{"phoneNumber":"+15550001111","recipientName":"Ada"}`)
	if w.Code != http.StatusInternalServerError || errorOf(t, w) != "Failed to create call: dial tcp: timeout" {
		t.Fatalf("unexpected provider failure response %d %s", w.Code, w.Body.String())
	}
}

func TestConsole_SummaryInFlightConflicts(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.store.Replace(context.Background(), calls.Call{
		ID:            "c1",
		VapiCallID:    "vapi-1",
		PhoneNumber:   "+15550001111",
		RecipientName: "Ada",
		Status:        calls.CallStatusCompleted,
		StartedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Transcript:    calls.Ptr("agent: Hi\ncandidate: Hello"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts.sum.started = make(chan struct{})
	ts.sum.release = make(chan struct{})

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- ts.do(t, http.MethodPost, "/console/calls/c1/summary", "") }()

	select {
	case <-ts.sum.started:
	case <-time.After(time.Second):
		t.Fatal("summarizer never started")
	}

	w := ts.do(t, http.MethodPost, "/console/calls/c1/summary", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	close(ts.sum.release)
	w = <-first
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[callView](t, w)
	if got.Call.Summary == nil || *got.Call.Summary != "fresh summary" {
		t.Fatalf("summary not stored: %+v", got.Call)
	}
}

func TestConsole_ClearAndStats(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := ts.do(t, http.MethodPost, "/console/calls", `{"phoneNumber":"+15550001111","recipientName":"Ada"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
	}

	w := ts.do(t, http.MethodGet, "/console/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	stats := decode[reporting.CallsSummary](t, w)
	if stats.TotalCalls != 2 || stats.Candidates != 1 || stats.InProgressCalls != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w = ts.do(t, http.MethodDelete, "/console/calls", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/console/calls", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
