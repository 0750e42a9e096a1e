package store

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/1995parham/neshan-go/internal/logging"
	"github.com/1995parham/neshan-go/internal/usage"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

// CachingService serves repeated lookups from the cache and forwards the rest.
// Cache failures are logged and never fail the request. DistanceMatrix is not cached.
type CachingService struct {
	next      neshan.Service
	cache     *Cache
	precision int
}

var _ neshan.Service = (*CachingService)(nil)

// NewCachingService wraps next. precision is the number of decimals kept in
// coordinate keys; nearby points within that precision share an entry.
func NewCachingService(next neshan.Service, cache *Cache, precision int) *CachingService {
	if precision < 0 {
		precision = 0
	}
	return &CachingService{next: next, cache: cache, precision: precision}
}

// PointKey renders p rounded to the given number of decimals.
func PointKey(p neshan.Point, precision int) string {
	scale := math.Pow(10, float64(precision))
	lat := math.Round(p.Latitude*scale) / scale
	lng := math.Round(p.Longitude*scale) / scale
	return strconv.FormatFloat(lat, 'f', precision, 64) + "," + strconv.FormatFloat(lng, 'f', precision, 64)
}

func (s *CachingService) lookup(ctx context.Context, op, key string, out any) bool {
	hit, err := s.cache.Get(ctx, op, key, out)
	if err != nil {
		logging.CacheWarn("Lookup failed, falling through to API: %v", err)
		return false
	}
	if hit {
		usage.MarkCacheHit(ctx)
	}
	return hit
}

func (s *CachingService) store(ctx context.Context, op, key string, v any) {
	if err := s.cache.Put(ctx, op, key, v); err != nil {
		logging.CacheWarn("Store failed: %v", err)
	}
}

// Route implements neshan.Service.
func (s *CachingService) Route(ctx context.Context, vehicle neshan.VehicleType, origin, destination neshan.Point, opts neshan.RouteOptions) (*neshan.Routes, error) {
	key := strings.Join([]string{
		vehicle.String(),
		PointKey(origin, s.precision),
		PointKey(destination, s.precision),
		strconv.FormatBool(opts.AvoidTrafficZone),
		strconv.FormatBool(opts.AvoidOddEvenZone),
		strconv.FormatBool(opts.Alternative),
	}, "|")

	var cached neshan.Routes
	if s.lookup(ctx, "direction", key, &cached) {
		return &cached, nil
	}
	routes, err := s.next.Route(ctx, vehicle, origin, destination, opts)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "direction", key, routes)
	return routes, nil
}

// ReverseGeocode implements neshan.Service.
func (s *CachingService) ReverseGeocode(ctx context.Context, point neshan.Point) (*neshan.PostalAddress, error) {
	key := PointKey(point, s.precision)

	var cached neshan.PostalAddress
	if s.lookup(ctx, "reverse", key, &cached) {
		return &cached, nil
	}
	addr, err := s.next.ReverseGeocode(ctx, point)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "reverse", key, addr)
	return addr, nil
}

// Search implements neshan.Service.
func (s *CachingService) Search(ctx context.Context, term string, near neshan.Point) (*neshan.SearchResult, error) {
	key := strings.TrimSpace(term) + "|" + PointKey(near, s.precision)

	var cached neshan.SearchResult
	if s.lookup(ctx, "search", key, &cached) {
		return &cached, nil
	}
	res, err := s.next.Search(ctx, term, near)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "search", key, res)
	return res, nil
}

// Geocode implements neshan.Service.
func (s *CachingService) Geocode(ctx context.Context, address string) (*neshan.GeocodeResult, error) {
	key := strings.TrimSpace(address)

	var cached neshan.GeocodeResult
	if s.lookup(ctx, "geocode", key, &cached) {
		return &cached, nil
	}
	res, err := s.next.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	s.store(ctx, "geocode", key, res)
	return res, nil
}

// DistanceMatrix implements neshan.Service; traffic-dependent answers are not cached.
func (s *CachingService) DistanceMatrix(ctx context.Context, vehicle neshan.VehicleType, origins, destinations []neshan.Point) (*neshan.DistanceMatrix, error) {
	return s.next.DistanceMatrix(ctx, vehicle, origins, destinations)
}
