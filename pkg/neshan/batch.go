package neshan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds ReverseGeocodeBatch when no limit is given.
const DefaultBatchConcurrency = 4

// ReverseGeocodeBatch reverse geocodes points with at most concurrency calls in flight.
// Results are index-aligned with points. The first failure cancels the remaining
// calls and is returned.
func ReverseGeocodeBatch(ctx context.Context, svc Service, points []Point, concurrency int) ([]*PostalAddress, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]*PostalAddress, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, p := range points {
		g.Go(func() error {
			addr, err := svc.ReverseGeocode(gctx, p)
			if err != nil {
				return fmt.Errorf("point %d (%s): %w", i, p, err)
			}
			results[i] = addr
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
