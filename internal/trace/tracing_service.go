// Package trace wraps a neshan.Service so every call is tagged, logged and
// accounted for.
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/1995parham/neshan-go/internal/logging"
	"github.com/1995parham/neshan-go/internal/usage"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

// Recorder receives one entry per finished call.
type Recorder interface {
	Track(ctx context.Context, c usage.Call)
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID assigned by TracingService, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// TracingService wraps any neshan.Service and records all calls.
type TracingService struct {
	underlying neshan.Service
	recorder   Recorder
	newID      func() string
}

var _ neshan.Service = (*TracingService)(nil)

// New creates a tracing wrapper. recorder may be nil.
func New(underlying neshan.Service, recorder Recorder) *TracingService {
	return &TracingService{
		underlying: underlying,
		recorder:   recorder,
		newID:      uuid.NewString,
	}
}

// begin assigns a request ID and installs a cache marker for the call.
func (ts *TracingService) begin(ctx context.Context, op, detail string) (context.Context, func(error)) {
	id := ts.newID()
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	ctx, marker := usage.WithCacheMarker(ctx)

	log := logging.Get(logging.CategoryAPI).With("request_id", id, "op", op)
	log.Debug("started %s", detail)
	start := time.Now()

	return ctx, func(err error) {
		latency := time.Since(start)
		hit := marker.Hit()
		if err != nil {
			log.Warn("failed after %v: %v", latency, err)
		} else {
			log.Info("completed in %v (cache_hit=%v)", latency, hit)
		}
		if ts.recorder != nil {
			ts.recorder.Track(ctx, usage.Call{
				RequestID: id,
				Operation: op,
				Err:       err,
				Latency:   latency,
				CacheHit:  hit,
			})
		}
	}
}

// Route implements neshan.Service with tracing.
func (ts *TracingService) Route(ctx context.Context, vehicle neshan.VehicleType, origin, destination neshan.Point, opts neshan.RouteOptions) (*neshan.Routes, error) {
	ctx, done := ts.begin(ctx, "direction", vehicle.String()+" "+origin.String()+" -> "+destination.String())
	routes, err := ts.underlying.Route(ctx, vehicle, origin, destination, opts)
	done(err)
	return routes, err
}

// ReverseGeocode implements neshan.Service with tracing.
func (ts *TracingService) ReverseGeocode(ctx context.Context, point neshan.Point) (*neshan.PostalAddress, error) {
	ctx, done := ts.begin(ctx, "reverse", point.String())
	addr, err := ts.underlying.ReverseGeocode(ctx, point)
	done(err)
	return addr, err
}

// Search implements neshan.Service with tracing.
func (ts *TracingService) Search(ctx context.Context, term string, near neshan.Point) (*neshan.SearchResult, error) {
	ctx, done := ts.begin(ctx, "search", term+" near "+near.String())
	res, err := ts.underlying.Search(ctx, term, near)
	done(err)
	return res, err
}

// Geocode implements neshan.Service with tracing.
func (ts *TracingService) Geocode(ctx context.Context, address string) (*neshan.GeocodeResult, error) {
	ctx, done := ts.begin(ctx, "geocode", address)
	res, err := ts.underlying.Geocode(ctx, address)
	done(err)
	return res, err
}

// DistanceMatrix implements neshan.Service with tracing.
func (ts *TracingService) DistanceMatrix(ctx context.Context, vehicle neshan.VehicleType, origins, destinations []neshan.Point) (*neshan.DistanceMatrix, error) {
	ctx, done := ts.begin(ctx, "distance-matrix", vehicle.String())
	m, err := ts.underlying.DistanceMatrix(ctx, vehicle, origins, destinations)
	done(err)
	return m, err
}
