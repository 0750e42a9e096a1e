package neshan

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Search looks up places matching term, ranked around near.
// https://platform.neshan.org/api/search
func (c *Client) Search(ctx context.Context, term string, near Point) (*SearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: empty search term", ErrInvalidArgument)
	}
	if err := near.Validate(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("term", term)
	query.Set("lat", formatFloat(near.Latitude))
	query.Set("lng", formatFloat(near.Longitude))

	var result SearchResult
	if err := c.get(ctx, "search", "/v1/search", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Geocode resolves a textual address to a location.
// https://platform.neshan.org/api/geocoding
func (c *Client) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}

	query := url.Values{}
	query.Set("address", address)

	var result GeocodeResult
	if err := c.get(ctx, "geocode", "/v4/geocoding", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
