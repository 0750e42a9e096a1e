package neshan

import (
	"context"
	"fmt"
	"net/url"
)

// DistanceMatrix estimates travel distance and time for every origin/destination pair.
// https://platform.neshan.org/api/distance-matrix
func (c *Client) DistanceMatrix(ctx context.Context, vehicle VehicleType, origins, destinations []Point) (*DistanceMatrix, error) {
	if err := vehicle.Validate(); err != nil {
		return nil, err
	}
	if len(origins) == 0 {
		return nil, fmt.Errorf("%w: no origins", ErrInvalidArgument)
	}
	if len(destinations) == 0 {
		return nil, fmt.Errorf("%w: no destinations", ErrInvalidArgument)
	}
	for _, p := range append(append([]Point{}, origins...), destinations...) {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	query := url.Values{}
	query.Set("type", vehicle.String())
	query.Set("origins", joinPoints(origins))
	query.Set("destinations", joinPoints(destinations))

	var matrix DistanceMatrix
	if err := c.get(ctx, "distance-matrix", "/v1/distance-matrix", query, &matrix); err != nil {
		return nil, err
	}
	return &matrix, nil
}
