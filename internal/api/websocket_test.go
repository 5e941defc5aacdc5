package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/runtime"
)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func dialEvents(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	return dialEventsQuery(t, s, "")
}

func dialEventsQuery(t *testing.T, s *Server, query string) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("failed to connect: %v", err)
	}
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	em := events.NewEmitter(discard{})
	for i := 0; i < 5; i++ {
		em.Emit(events.RobotJoints, events.RobotJointsData{RobotID: "r1"})
	}
	s, _ := newTestServer(runtime.StateRunning, Options{Emitter: em})

	conn, done := dialEvents(t, s)
	defer done()

	for i := 0; i < 5; i++ {
		if e := readEvent(t, conn); e.Name != events.RobotJoints {
			t.Errorf("expected %q, got %q", events.RobotJoints, e.Name)
		}
	}
}

func TestWebSocketReceivesLiveEvents(t *testing.T) {
	em := events.NewEmitter(discard{})
	s, _ := newTestServer(runtime.StateRunning, Options{Emitter: em})

	conn, done := dialEvents(t, s)
	defer done()

	waitFor(t, 2*time.Second, func() bool {
		return em.Broadcaster().SubscriberCount() == 1
	}, "subscriber registered")

	em.Emit(events.ActionStateBefore, events.ActionStateBeforeData{ActionID: "a1", ObjectID: "robot", ActionName: "move"})

	e := readEvent(t, conn)
	if e.Name != events.ActionStateBefore {
		t.Errorf("expected %q, got %q", events.ActionStateBefore, e.Name)
	}
	if !strings.Contains(string(e.Data), `"a1"`) {
		t.Errorf("unexpected data %s", e.Data)
	}
}

func TestWebSocketUnsubscribesOnClose(t *testing.T) {
	em := events.NewEmitter(discard{})
	s, _ := newTestServer(runtime.StateRunning, Options{Emitter: em})

	conn, done := dialEvents(t, s)
	waitFor(t, 2*time.Second, func() bool {
		return em.Broadcaster().SubscriberCount() == 1
	}, "subscriber registered")

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	done()

	waitFor(t, 2*time.Second, func() bool {
		return em.Broadcaster().SubscriberCount() == 0
	}, "subscriber removed")
}

func TestWebSocketRequiresAuth(t *testing.T) {
	s, _ := newTestServer(runtime.StateRunning, Options{Auth: testAuth()})
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without credentials")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 response, got %v", resp)
	}
}

func TestWebSocketFiltersAndLimitsReplay(t *testing.T) {
	em := events.NewEmitter(discard{})
	for _, id := range []string{"a1", "a2", "a3"} {
		em.Emit(events.ActionStateBefore, events.ActionStateBeforeData{ActionID: id, ObjectID: "robot", ActionName: "move"})
		em.Emit(events.ActionStateAfter, events.ActionStateAfterData{ActionID: id, ObjectID: "robot", ActionName: "move"})
	}
	s, _ := newTestServer(runtime.StateRunning, Options{Emitter: em})

	conn, done := dialEventsQuery(t, s, "?events=ActionStateAfter,PackageState&recent=2")
	defer done()

	// The last two buffered events are Before/After of a3; only After passes.
	e := readEvent(t, conn)
	if e.Name != events.ActionStateAfter || !strings.Contains(string(e.Data), `"a3"`) {
		t.Fatalf("unexpected replayed event %s %s", e.Name, e.Data)
	}

	waitFor(t, 2*time.Second, func() bool {
		return em.Broadcaster().SubscriberCount() == 1
	}, "subscriber registered")
	em.Emit(events.RobotJoints, events.RobotJointsData{RobotID: "r1"})
	em.Emit(events.PackageState, events.PackageStateData{State: "paused"})

	if e := readEvent(t, conn); e.Name != events.PackageState {
		t.Errorf("expected %q, got %q", events.PackageState, e.Name)
	}
}

func TestParseStreamQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/events?events=+A+,,B&recent=100000", nil)
	q := parseStreamQuery(r)
	if !q.wants(events.Event{Name: "A"}) || !q.wants(events.Event{Name: "B"}) || q.wants(events.Event{Name: "C"}) {
		t.Errorf("unexpected filter %v", q.names)
	}
	if q.replay != maxReplay {
		t.Errorf("replay = %d, want %d", q.replay, maxReplay)
	}

	q = parseStreamQuery(httptest.NewRequest("GET", "/ws/events?recent=-1", nil))
	if q.names != nil || q.replay != defaultReplay {
		t.Errorf("unexpected defaults %+v", q)
	}
}
