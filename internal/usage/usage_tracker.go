package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1995parham/neshan-go/internal/logging"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

const maxEvents = 200

type contextKey struct{}

type commandKey struct{}

type cacheMarkerKey struct{}

// Tracker manages API call accounting and persistence.
type Tracker struct {
	mu            sync.Mutex
	data          UsageData
	filePath      string
	dirty         bool
	autoSaveDelay time.Duration
	autoSaveTimer *time.Timer
}

// NewTracker creates a tracker persisting to filePath.
func NewTracker(filePath string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath:      filePath,
		autoSaveDelay: 5 * time.Second,
		data:          newUsageData(),
	}

	if err := t.Load(); err != nil {
		logging.UsageWarn("Ignoring unreadable usage file %s: %v", filePath, err)
		t.data = newUsageData()
	}
	return t, nil
}

func newUsageData() UsageData {
	return UsageData{
		Version: "1.0",
		Aggregate: AggregatedStats{
			ByOperation: make(map[string]CallCounts),
			ByStatus:    make(map[string]CallCounts),
			ByDay:       make(map[string]CallCounts),
		},
	}
}

// Path returns the persistence file.
func (t *Tracker) Path() string {
	return t.filePath
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	if t.data.Aggregate.ByOperation == nil {
		t.data.Aggregate.ByOperation = make(map[string]CallCounts)
	}
	if t.data.Aggregate.ByStatus == nil {
		t.data.Aggregate.ByStatus = make(map[string]CallCounts)
	}
	if t.data.Aggregate.ByDay == nil {
		t.data.Aggregate.ByDay = make(map[string]CallCounts)
	}
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// Close stops the pending autosave and flushes to disk.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoSaveTimer != nil {
		t.autoSaveTimer.Stop()
		t.autoSaveTimer = nil
	}
	if !t.dirty {
		return nil
	}
	return t.saveLocked()
}

// Track records one API call.
func (t *Tracker) Track(ctx context.Context, c Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := StatusOf(c.Err)
	now := time.Now().UTC()

	event := UsageEvent{
		RequestID: c.RequestID,
		Timestamp: now,
		Operation: c.Operation,
		Status:    status,
		Latency:   c.Latency,
		CacheHit:  c.CacheHit,
		Command:   CommandFromContext(ctx),
	}
	t.data.Events = append(t.data.Events, event)
	if len(t.data.Events) > maxEvents {
		t.data.Events = t.data.Events[len(t.data.Events)-maxEvents:]
	}

	t.data.Aggregate.Total.Add(c)
	addToMap(t.data.Aggregate.ByOperation, c.Operation, c)
	addToMap(t.data.Aggregate.ByStatus, status, c)
	addToMap(t.data.Aggregate.ByDay, now.Format("2006-01-02"), c)

	logging.Usage("%s %s status=%s cache_hit=%v latency=%v", c.RequestID, c.Operation, status, c.CacheHit, c.Latency)

	// Debounced auto-save
	if !t.dirty {
		t.dirty = true
		t.autoSaveTimer = time.AfterFunc(t.autoSaveDelay, func() {
			if err := t.Save(); err != nil {
				logging.UsageWarn("Autosave failed: %v", err)
			}
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByOperation = copyCountsMap(stats.ByOperation)
	stats.ByStatus = copyCountsMap(stats.ByStatus)
	stats.ByDay = copyCountsMap(stats.ByDay)
	return stats
}

// RecentEvents returns up to n of the most recent events, oldest first.
func (t *Tracker) RecentEvents(n int) []UsageEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.data.Events
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return append([]UsageEvent(nil), events...)
}

// Reset clears all recorded usage and persists the empty state.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = newUsageData()
	return t.saveLocked()
}

// StatusOf classifies a call result for the by-status breakdown.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, neshan.ErrMissingAPIKey), errors.Is(err, neshan.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, neshan.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, neshan.ErrNotFound):
		return "not_found"
	case errors.Is(err, neshan.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, neshan.ErrMaxRetries):
		return "retries_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		var apiErr *neshan.APIError
		if errors.As(err, &apiErr) {
			return fmt.Sprintf("http_%d", apiErr.StatusCode)
		}
		return "error"
	}
}

func copyCountsMap(src map[string]CallCounts) map[string]CallCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]CallCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]CallCounts, key string, c Call) {
	entry := m[key]
	entry.Add(c)
	m[key] = entry
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(contextKey{}).(*Tracker)
	return t
}

// WithCommand tags calls made under ctx with the CLI command that issued them.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey{}, command)
}

// CommandFromContext returns the command tag, or "" when unset.
func CommandFromContext(ctx context.Context) string {
	s, _ := ctx.Value(commandKey{}).(string)
	return s
}

// CacheMarker records whether a lookup was answered locally.
type CacheMarker struct {
	hit atomic.Bool
}

// Hit reports whether MarkCacheHit was called under the marker's context.
func (m *CacheMarker) Hit() bool {
	return m != nil && m.hit.Load()
}

// WithCacheMarker installs a fresh marker in ctx.
func WithCacheMarker(ctx context.Context) (context.Context, *CacheMarker) {
	m := &CacheMarker{}
	return context.WithValue(ctx, cacheMarkerKey{}, m), m
}

// MarkCacheHit flags the call running under ctx as served from cache.
// It is a no-op when no marker is installed.
func MarkCacheHit(ctx context.Context) {
	if m, ok := ctx.Value(cacheMarkerKey{}).(*CacheMarker); ok {
		m.hit.Store(true)
	}
}
