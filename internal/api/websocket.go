package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robofit/arcor2-sub003/internal/events"
)

const (
	defaultReplay = 50
	maxReplay     = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamQuery is the parsed query of /ws/events: "events" is a
// comma-separated list of event names to forward (all when empty) and
// "recent" the number of buffered events replayed on connect.
type streamQuery struct {
	names  map[string]bool
	replay int
}

func parseStreamQuery(r *http.Request) streamQuery {
	q := streamQuery{replay: defaultReplay}
	for _, n := range strings.Split(r.URL.Query().Get("events"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			if q.names == nil {
				q.names = make(map[string]bool)
			}
			q.names[n] = true
		}
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("recent")); err == nil && v >= 0 {
		q.replay = min(v, maxReplay)
	}
	return q
}

func (q streamQuery) wants(e events.Event) bool {
	return q.names == nil || q.names[e.Name]
}

type wsPeer struct {
	conn *websocket.Conn
}

func (p wsPeer) send(e events.Event) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(e)
}

func (p wsPeer) ping() error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.PingMessage, nil)
}

// readLoop consumes client frames so pongs and close frames are handled.
// The returned channel is closed when the client goes away.
func (p wsPeer) readLoop() <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := p.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

// wsEventsHandler streams telemetry to a websocket client: first the
// replayed recent events, then live ones until either side closes.
func (s *Server) wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := parseStreamQuery(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	peer := wsPeer{conn: conn}
	defer conn.Close()

	b := s.opts.Emitter.Broadcaster()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	if q.replay > 0 {
		for _, e := range s.opts.Emitter.RecentEvents(q.replay) {
			if !q.wants(e) {
				continue
			}
			if err := peer.send(e); err != nil {
				s.logger.Debug("ws replay failed", "error", err)
				return
			}
		}
	}

	gone := peer.readLoop()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if !q.wants(e) {
				continue
			}
			if err := peer.send(e); err != nil {
				s.logger.Debug("ws send failed", "event", e.Name, "error", err)
				return
			}
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				return
			}
		}
	}
}
