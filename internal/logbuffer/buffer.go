/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory for the
// diagnostics endpoint.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a new log buffer with the specified capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add adds a log entry to the buffer.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// QueryParams filters entries returned by Query.
type QueryParams struct {
	Level     string // debug, info, warn, error
	Component string // e.g. secondary, syncloop, player
	TrackID   string // matches a track_id or target_id field
	Search    string // case-insensitive match on the message
	Limit     int    // 0 = all
}

// Query returns matching entries, newest first.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	search := strings.ToLower(params.Search)
	var out []LogEntry
	for i := 0; i < b.count; i++ {
		idx := (b.head - 1 - i + b.capacity) % b.capacity
		entry := b.entries[idx]

		if params.Level != "" && entry.Level != params.Level {
			continue
		}
		if params.Component != "" && entry.Component != params.Component {
			continue
		}
		if params.TrackID != "" && entry.Fields["track_id"] != params.TrackID && entry.Fields["target_id"] != params.TrackID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(entry.Message), search) {
			continue
		}

		out = append(out, entry)
		if params.Limit > 0 && len(out) == params.Limit {
			break
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Writer adapts the buffer to a zerolog JSON output.
type Writer struct {
	buffer *Buffer
}

// NewWriter creates a writer that captures logs to the buffer.
func NewWriter(buffer *Buffer) io.Writer {
	return &Writer{buffer: buffer}
}

// Write implements io.Writer. Lines that are not JSON objects are ignored.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	entry := LogEntry{Timestamp: time.Now(), Fields: make(map[string]any)}
	if lvl, ok := raw["level"].(string); ok {
		entry.Level = lvl
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
	}
	if comp, ok := raw["component"].(string); ok {
		entry.Component = comp
	}
	if ts, ok := raw["time"].(float64); ok {
		entry.Timestamp = time.Unix(int64(ts), 0)
	}
	for k, v := range raw {
		switch k {
		case "level", "message", "component", "time":
		default:
			entry.Fields[k] = v
		}
	}

	w.buffer.Add(entry)
	return len(p), nil
}
