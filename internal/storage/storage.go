// Package storage defines the event journal shared by the postgres and
// sqlite backends.
package storage

import (
	"encoding/json"
	"time"
)

const (
	DefaultLimit = 200
	MaxLimit     = 10000
)

// EventRow is one journaled telemetry event.
type EventRow struct {
	EventID   int64           `json:"event_id"`
	Timestamp time.Time       `json:"ts"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	PackageID string          `json:"package_id"`
	RunID     *string         `json:"run_id,omitempty"`
}

// Journal persists events of one package. Append matches events.Store.
type Journal interface {
	Append(ts time.Time, name string, data []byte, runID string) error
	Query(limit int) ([]EventRow, error)
	Close() error
}

// ClampLimit bounds a query limit to (0, MaxLimit], using DefaultLimit for
// non-positive values.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Nullable returns nil for an empty string.
func Nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
