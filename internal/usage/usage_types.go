package usage

import "time"

// UsageData represents the root structure stored in persistence.
type UsageData struct {
	Version   string          `json:"version"`
	Events    []UsageEvent    `json:"events,omitempty"` // most recent calls, bounded by maxEvents
	Aggregate AggregatedStats `json:"aggregate"`
}

// UsageEvent represents a single Neshan API call.
type UsageEvent struct {
	RequestID string        `json:"request_id"`
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"` // direction, reverse, search, geocode, distance-matrix
	Status    string        `json:"status"`    // ok, unauthorized, rate_limited, ...
	Latency   time.Duration `json:"latency_ns"`
	CacheHit  bool          `json:"cache_hit,omitempty"`
	Command   string        `json:"command,omitempty"`
}

// Call describes a finished call handed to Tracker.Track.
type Call struct {
	RequestID string
	Operation string
	Err       error
	Latency   time.Duration
	CacheHit  bool
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total       CallCounts            `json:"total"`
	ByOperation map[string]CallCounts `json:"by_operation"`
	ByStatus    map[string]CallCounts `json:"by_status"`
	ByDay       map[string]CallCounts `json:"by_day"` // YYYY-MM-DD, UTC
}

// CallCounts holds call and latency sums.
// Calls includes cache hits; Calls-CacheHits is what reached the API.
type CallCounts struct {
	Calls     int64         `json:"calls"`
	Errors    int64         `json:"errors"`
	CacheHits int64         `json:"cache_hits"`
	LatencyNS time.Duration `json:"latency_ns"`
}

// Add records one call.
func (cc *CallCounts) Add(c Call) {
	cc.Calls++
	if c.Err != nil {
		cc.Errors++
	}
	if c.CacheHit {
		cc.CacheHits++
	}
	cc.LatencyNS += c.Latency
}

// APICalls returns the number of calls that were not served from cache.
func (cc CallCounts) APICalls() int64 {
	return cc.Calls - cc.CacheHits
}

// MeanLatency returns the average latency per call.
func (cc CallCounts) MeanLatency() time.Duration {
	if cc.Calls == 0 {
		return 0
	}
	return cc.LatencyNS / time.Duration(cc.Calls)
}
