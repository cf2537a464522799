// Package applog captures script console output into per-app ring buffers.
//
// Both sides of the world keep one buffer instance: the client buffer feeds
// the script editor's AI "fix" requests, the server buffer backs admin
// inspection. Entries are bounded per app; overflow drops the oldest.
package applog

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Recognized entry levels. Unknown levels are captured as "log".
const (
	LevelLog     = "log"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelTime    = "time"
	LevelTimeEnd = "timeEnd"
)

// Entry is one captured console call.
type Entry struct {
	Timestamp  string   `json:"timestamp"`
	Level      string   `json:"level"`
	Args       []string `json:"args"`
	Message    string   `json:"message"`
	Label      string   `json:"label,omitempty"`
	DurationMS *int64   `json:"durationMs,omitempty"`
}

// Config bounds a buffer. Zero values fall back to the defaults.
type Config struct {
	MaxEntries int
	MaxArgLen  int
	MaxMsgLen  int
}

const (
	defaultMaxEntries = 20
	defaultMaxMsgLen  = 1200
)

// Buffer holds per-app capped entry rings and timer scopes.
type Buffer struct {
	cfg Config

	mu      sync.Mutex
	entries map[string][]Entry
	timers  map[string]map[string]time.Time
}

// NewClient returns a buffer sized for the in-browser side of the world.
func NewClient() *Buffer {
	return NewBuffer(Config{MaxEntries: 20, MaxArgLen: 300, MaxMsgLen: 1200})
}

// NewServer returns a buffer sized for the authoritative server.
func NewServer() *Buffer {
	return NewBuffer(Config{MaxEntries: 20, MaxArgLen: 400, MaxMsgLen: 1200})
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxArgLen <= 0 {
		cfg.MaxArgLen = 300
	}
	if cfg.MaxMsgLen <= 0 {
		cfg.MaxMsgLen = defaultMaxMsgLen
	}
	return &Buffer{
		cfg:     cfg,
		entries: make(map[string][]Entry),
		timers:  make(map[string]map[string]time.Time),
	}
}

// Capture records one console call for an app. Empty app ids are dropped;
// unknown levels degrade to "log".
func (b *Buffer) Capture(appID, level string, args ...any) {
	if b == nil || strings.TrimSpace(appID) == "" {
		return
	}
	switch level {
	case LevelLog, LevelWarn, LevelError, LevelTime, LevelTimeEnd:
	default:
		level = LevelLog
	}
	entry := Entry{
		Timestamp: isoNow(),
		Level:     level,
		Args:      make([]string, 0, len(args)),
	}
	for _, a := range args {
		entry.Args = append(entry.Args, truncate(Serialize(a), b.cfg.MaxArgLen))
	}
	entry.Message = truncate(strings.Join(entry.Args, " "), b.cfg.MaxMsgLen)
	b.push(appID, entry)
}

func (b *Buffer) push(appID string, entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := append(b.entries[appID], entry)
	if overflow := len(ring) - b.cfg.MaxEntries; overflow > 0 {
		ring = append(ring[:0], ring[overflow:]...)
	}
	b.entries[appID] = ring
}

// Entries returns up to limit most recent entries, oldest first, as deep
// copies. limit <= 0 means the buffer ceiling.
func (b *Buffer) Entries(appID string, limit int) []Entry {
	if b == nil {
		return nil
	}
	if limit <= 0 || limit > b.cfg.MaxEntries {
		limit = b.cfg.MaxEntries
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.entries[appID]
	if len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]Entry, len(ring))
	for i, e := range ring {
		cp := e
		cp.Args = append([]string(nil), e.Args...)
		if e.DurationMS != nil {
			d := *e.DurationMS
			cp.DurationMS = &d
		}
		out[i] = cp
	}
	return out
}

// Clear forgets an app's entries and timers.
func (b *Buffer) Clear(appID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, appID)
	delete(b.timers, appID)
}

// StartTimer begins a labeled stopwatch for the app and records a "time"
// entry. Absent labels normalize to "default".
func (b *Buffer) StartTimer(appID, label string) {
	if b == nil || strings.TrimSpace(appID) == "" {
		return
	}
	label = normalizeLabel(label)
	b.mu.Lock()
	scope := b.timers[appID]
	if scope == nil {
		scope = make(map[string]time.Time)
		b.timers[appID] = scope
	}
	scope[label] = time.Now()
	b.mu.Unlock()

	entry := Entry{
		Timestamp: isoNow(),
		Level:     LevelTime,
		Args:      []string{label},
		Message:   label,
		Label:     label,
	}
	b.push(appID, entry)
}

// EndTimer stops a labeled stopwatch, records a "timeEnd" entry carrying the
// elapsed milliseconds, and returns them. A timer that was never started
// returns nil and records nothing.
func (b *Buffer) EndTimer(appID, label string) *int64 {
	if b == nil || strings.TrimSpace(appID) == "" {
		return nil
	}
	label = normalizeLabel(label)
	b.mu.Lock()
	scope := b.timers[appID]
	start, ok := scope[label]
	if ok {
		delete(scope, label)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	ms := time.Since(start).Milliseconds()
	msg := label + ": " + strconv.FormatInt(ms, 10) + "ms"
	entry := Entry{
		Timestamp:  isoNow(),
		Level:      LevelTimeEnd,
		Args:       []string{msg},
		Message:    truncate(msg, b.cfg.MaxMsgLen),
		Label:      label,
		DurationMS: &ms,
	}
	b.push(appID, entry)
	return &ms
}

func normalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "default"
	}
	return label
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

func isoNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
