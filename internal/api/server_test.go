package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robofit/arcor2-sub003/internal/control"
	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/storage"
)

type fixedState struct {
	mu sync.Mutex
	st runtime.State
}

func (f *fixedState) State() runtime.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

type fakeJournal struct {
	rows []storage.EventRow
	err  error
}

func (f *fakeJournal) Append(time.Time, string, []byte, string) error { return nil }
func (f *fakeJournal) Query(limit int) ([]storage.EventRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}
func (f *fakeJournal) Close() error { return nil }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(st runtime.State, opts Options) (*Server, *control.Mux) {
	mux := control.NewMux(1)
	if opts.Emitter == nil {
		opts.Emitter = events.NewEmitter(discard{})
	}
	opts.State = &fixedState{st: st}
	opts.Control = mux
	opts.PackageID = "pkg1"
	return NewServer(opts), mux
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(runtime.StateRunning, Options{})

	w := do(t, s.Handler(), "GET", "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.APIVersion == "" {
		t.Error("expected api_version")
	}
}

func TestEventsEndpoint(t *testing.T) {
	em := events.NewEmitter(discard{})
	for _, st := range []string{"running", "pausing", "paused"} {
		em.Emit(events.PackageState, events.PackageStateData{State: st, PackageID: "pkg1"})
	}
	s, _ := newTestServer(runtime.StatePaused, Options{Emitter: em})

	w := do(t, s.Handler(), "GET", "/events?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var got []events.Event
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if !strings.Contains(string(got[1].Data), "paused") {
		t.Errorf("expected newest event last, got %s", got[1].Data)
	}
}

func TestStateEndpoint(t *testing.T) {
	s, _ := newTestServer(runtime.StatePaused, Options{})

	w := do(t, s.Handler(), "GET", "/package/state")
	var resp StateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.State != "paused" || resp.PackageID != "pkg1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCommandEndpoints(t *testing.T) {
	tests := []struct {
		state runtime.State
		path  string
		code  int
		want  control.Command
	}{
		{runtime.StateRunning, "/package/pause", http.StatusAccepted, control.Pause},
		{runtime.StatePaused, "/package/resume", http.StatusAccepted, control.Resume},
		{runtime.StatePaused, "/package/step", http.StatusAccepted, control.Step},
		{runtime.StatePaused, "/package/pause", http.StatusConflict, ""},
		{runtime.StateRunning, "/package/resume", http.StatusConflict, ""},
		{runtime.StateStopped, "/package/step", http.StatusConflict, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.state)+tt.path, func(t *testing.T) {
			s, mux := newTestServer(tt.state, Options{})

			w := do(t, s.Handler(), "POST", tt.path)
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, w.Code)
			}

			select {
			case got := <-mux.Commands():
				if got != tt.want {
					t.Errorf("queued %q, want %q", got, tt.want)
				}
			default:
				if tt.want != "" {
					t.Errorf("expected %q to be queued", tt.want)
				}
			}
		})
	}
}

func TestCommandQueueFull(t *testing.T) {
	s, mux := newTestServer(runtime.StateRunning, Options{})
	mux.Push(control.Pause)

	w := do(t, s.Handler(), "POST", "/package/pause")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestCommandRequiresPost(t *testing.T) {
	s, _ := newTestServer(runtime.StateRunning, Options{})

	w := do(t, s.Handler(), "GET", "/package/pause")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestCommandRequiresAuth(t *testing.T) {
	s, mux := newTestServer(runtime.StateRunning, Options{Auth: testAuth()})

	w := do(t, s.Handler(), "POST", "/package/pause")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	req := httptest.NewRequest("POST", "/package/pause", nil)
	req.SetBasicAuth("operator", "opsecret")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}
	if len(mux.Commands()) != 1 {
		t.Error("expected the command to be queued")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	run := "run-1"
	j := &fakeJournal{rows: []storage.EventRow{
		{EventID: 2, Event: events.PackageState, PackageID: "pkg1", RunID: &run},
		{EventID: 1, Event: events.PackageInfo, PackageID: "pkg1", RunID: &run},
	}}
	s, _ := newTestServer(runtime.StateRunning, Options{Journal: j})

	w := do(t, s.Handler(), "GET", "/events/history?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var rows []storage.EventRow
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != 2 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestHistoryEndpointErrors(t *testing.T) {
	s, _ := newTestServer(runtime.StateRunning, Options{})
	if w := do(t, s.Handler(), "GET", "/events/history"); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 without journal, got %d", w.Code)
	}

	s, _ = newTestServer(runtime.StateRunning, Options{Journal: &fakeJournal{err: errors.New("connection refused")}})
	w := do(t, s.Handler(), "GET", "/events/history")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Error("internal error details must not leak")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	em := events.NewEmitter(discard{})
	em.Emit(events.PackageState, events.PackageStateData{State: "running"})
	s, _ := newTestServer(runtime.StateRunning, Options{Emitter: em})
	s.SetMQTTConnected(true)

	w := do(t, s.Handler(), "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"# TYPE arcor2_events_total counter",
		`arcor2_events_total{package="pkg1"`,
		`arcor2_mqtt_connected{package="pkg1"`,
		`state="running"} 1`,
		`state="paused"} 0`,
		"arcor2_journal_configured",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if !strings.Contains(body, "} 1\n") {
		t.Error("expected a metric with value 1")
	}
}

func TestCommandAllowed(t *testing.T) {
	if !commandAllowed(control.Resume, runtime.StatePausing) {
		t.Error("resume should be accepted while pausing")
	}
	if commandAllowed(control.Command("x"), runtime.StateRunning) {
		t.Error("unknown command accepted")
	}
}
