package neshan

import (
	"context"
	"net/url"
	"strconv"
)

// Route finds route(s) from origin to destination.
// https://platform.neshan.org/api/direction
func (c *Client) Route(ctx context.Context, vehicle VehicleType, origin, destination Point, opts RouteOptions) (*Routes, error) {
	if err := vehicle.Validate(); err != nil {
		return nil, err
	}
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("type", vehicle.String())
	query.Set("origin", origin.String())
	query.Set("destination", destination.String())
	query.Set("avoid_traffic_zone", strconv.FormatBool(opts.AvoidTrafficZone))
	// The direction endpoint has always been called with this spelling.
	query.Set("avoid_odd_event_zone", strconv.FormatBool(opts.AvoidOddEvenZone))
	query.Set("alternative", strconv.FormatBool(opts.Alternative))

	var routes Routes
	if err := c.get(ctx, "direction", "/v3/direction", query, &routes); err != nil {
		return nil, err
	}
	return &routes, nil
}
