package neshan

import (
	"context"
	"net/url"
)

// ReverseGeocode finds the postal address of a point.
// https://platform.neshan.org/api/reverse-geocoding
func (c *Client) ReverseGeocode(ctx context.Context, point Point) (*PostalAddress, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("lat", formatFloat(point.Latitude))
	query.Set("lng", formatFloat(point.Longitude))

	var address PostalAddress
	if err := c.get(ctx, "reverse", "/v2/reverse", query, &address); err != nil {
		return nil, err
	}
	return &address, nil
}
