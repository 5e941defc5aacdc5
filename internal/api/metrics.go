package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/version"
)

var packageStates = []runtime.State{
	runtime.StateUndefined,
	runtime.StateRunning,
	runtime.StatePausing,
	runtime.StatePaused,
	runtime.StateResuming,
	runtime.StateStopping,
	runtime.StateStopped,
}

type metric struct {
	name  string
	kind  string
	help  string
	value any
}

func writeHeader(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler serves the Prometheus text exposition format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	mqttConnected := s.mqttConnected
	s.mu.RUnlock()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	labels := fmt.Sprintf(`package=%q,instance=%q,version=%q`, s.opts.PackageID, hostname, version.Version)
	b := s.opts.Emitter.Broadcaster()

	metrics := []metric{
		{"arcor2_uptime_seconds", "gauge", "Seconds since the execution runtime started", time.Since(s.startTime).Seconds()},
		{"arcor2_events_total", "counter", "Telemetry events emitted since startup", s.opts.Emitter.TotalCount()},
		{"arcor2_mqtt_connected", "gauge", "1 if the MQTT broker is connected", boolGauge(mqttConnected)},
		{"arcor2_journal_configured", "gauge", "1 if an event journal is configured", boolGauge(s.opts.Journal != nil)},
		{"arcor2_ws_clients", "gauge", "Active WebSocket clients", b.SubscriberCount()},
		{"arcor2_ws_dropped_events_total", "counter", "Events skipped for WebSocket clients with a full buffer", b.Dropped()},
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	for _, m := range metrics {
		writeHeader(w, m.name, m.kind, m.help)
		fmt.Fprintf(w, "%s{%s} %v\n", m.name, labels, m.value)
	}

	state := s.opts.State.State()
	writeHeader(w, "arcor2_package_state", "gauge", "1 for the current package state")
	for _, st := range packageStates {
		fmt.Fprintf(w, "arcor2_package_state{%s,state=%q} %d\n", labels, st, boolGauge(st == state))
	}
}
