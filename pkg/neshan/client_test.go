package neshan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClientWithConfig(Config{
		APIKey:           "test-key",
		BaseURL:          srv.URL,
		Timeout:          5 * time.Second,
		MaxRetries:       2,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  5 * time.Millisecond,
	})
	return client, srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

var (
	tehranNorth = Point{Latitude: 35.731984409609694, Longitude: 51.392684661470156}
	karaj       = Point{Latitude: 35.723680037006304, Longitude: 50.953103738230396}
)

func TestRoute_SendsQueryAndHeaders(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/direction", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Api-Key"))
		assert.Equal(t, "neshan-go", r.Header.Get("User-Agent"))

		q := r.URL.Query()
		assert.Equal(t, "motorcycle", q.Get("type"))
		assert.Equal(t, "35.731984409609694,51.392684661470156", q.Get("origin"))
		assert.Equal(t, "35.723680037006304,50.953103738230396", q.Get("destination"))
		assert.Equal(t, "true", q.Get("avoid_traffic_zone"))
		assert.Equal(t, "false", q.Get("avoid_odd_event_zone"))
		assert.Equal(t, "true", q.Get("alternative"))

		writeJSON(w, http.StatusOK, `{"routes":[{"overview_polyline":{"points":"_p~iF~ps|U"},"legs":[
			{"summary":"آزادراه تهران - کرج","distance":{"value":41700,"text":"۴۱.۷ کیلومتر"},"duration":{"value":2460,"text":"۴۱ دقیقه"},
			 "steps":[{"name":"ستارخان","instruction":"به سمت غرب","bearing_after":270,"type":"depart","distance":{"value":120,"text":"۱۲۰ متر"},"duration":{"value":20,"text":"۲۰ ثانیه"},"polyline":"","start_location":[51.39,35.73]}]}]}]}`)
	})

	routes, err := client.Route(context.Background(), Motorcycle, tehranNorth, karaj,
		RouteOptions{AvoidTrafficZone: true, Alternative: true})
	require.NoError(t, err)
	require.Len(t, routes.Routes, 1)

	want := Leg{
		Summary:  "آزادراه تهران - کرج",
		Distance: Distance{Value: 41700, Text: "۴۱.۷ کیلومتر"},
		Duration: Duration{Value: 2460, Text: "۴۱ دقیقه"},
		Steps: []Step{{
			Name:          "ستارخان",
			Instruction:   "به سمت غرب",
			BearingAfter:  270,
			Type:          "depart",
			Distance:      Distance{Value: 120, Text: "۱۲۰ متر"},
			Duration:      Duration{Value: 20, Text: "۲۰ ثانیه"},
			StartLocation: []float64{51.39, 35.73},
		}},
	}
	if diff := cmp.Diff(want, routes.Routes[0].Legs[0]); diff != "" {
		t.Errorf("leg mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 41700.0, routes.Routes[0].Distance())
	assert.Equal(t, 2460.0, routes.Routes[0].Duration())

	points, err := routes.Routes[0].OverviewPolyline.Decode()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-9)
}

func TestReverseGeocode_DecodesOptionalFields(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/reverse", r.URL.Path)
		assert.Equal(t, "35.731984409609694", r.URL.Query().Get("lat"))
		assert.Equal(t, "51.392684661470156", r.URL.Query().Get("lng"))
		writeJSON(w, http.StatusOK, `{"status":"OK","formatted_address":"تهران، قزل قلعه","route_name":"خیابان قزل قلعه",
			"neighbourhood":"قزل قلعه","city":"تهران","state":"استان تهران","place":null,"municipality_zone":"6",
			"in_traffic_zone":true,"in_odd_even_zone":true}`)
	})

	addr, err := client.ReverseGeocode(context.Background(), tehranNorth)
	require.NoError(t, err)

	require.NotNil(t, addr.Neighbourhood)
	assert.Equal(t, "قزل قلعه", *addr.Neighbourhood)
	require.NotNil(t, addr.MunicipalityZone)
	assert.Equal(t, "6", *addr.MunicipalityZone)
	assert.Nil(t, addr.Place)
	assert.Equal(t, "تهران", addr.City)
	assert.True(t, addr.InTrafficZone)
	assert.True(t, addr.InOddEvenZone)
}

func TestAPIError_NotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, `{"status":"ERROR","code":480,"message":"Key not found"}`)
	})

	_, err := client.ReverseGeocode(context.Background(), tehranNorth)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 480, apiErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Key not found", err.Error())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, IsTemporary(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIError_NonJSONBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("  no such endpoint \n"))
	})

	_, err := client.Geocode(context.Background(), "تهران")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "no such endpoint", err.Error())
}

func TestRetry_RateLimitThenSuccess(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, `{"code":429,"message":"Too many requests"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"OK","location":{"x":51.4,"y":35.7}}`)
	})

	res, err := client.Geocode(context.Background(), "میدان آزادی")
	require.NoError(t, err)
	assert.Equal(t, Point{Latitude: 35.7, Longitude: 51.4}, res.Location.Point())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_Exhausted(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, `{"code":503,"message":"maintenance"}`)
	})

	_, err := client.ReverseGeocode(context.Background(), tehranNorth)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.True(t, IsRetryExhausted(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "maintenance", apiErr.Message)
	assert.Equal(t, int32(3), calls.Load())
}

// dropConnection closes the underlying connection without writing a response.
func dropConnection(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	hj, ok := w.(http.Hijacker)
	require.True(t, ok, "response writer does not support hijacking")
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestRetry_TransportErrorThenSuccess(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			dropConnection(t, w)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":"OK","formatted_address":"تهران، خیابان ولیعصر","city":"تهران"}`)
	})

	addr, err := client.ReverseGeocode(context.Background(), tehranNorth)
	require.NoError(t, err)
	assert.Equal(t, "تهران", addr.City)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_TransportErrorExhausted(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		dropConnection(t, w)
	})

	_, err := client.ReverseGeocode(context.Background(), tehranNorth)
	require.Error(t, err)
	assert.True(t, IsRetryExhausted(err))
	assert.Contains(t, err.Error(), "request failed")

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, int32(3), calls.Load())
}

func TestMissingAPIKey_NoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := NewClientWithConfig(Config{BaseURL: srv.URL})
	_, err := client.Route(context.Background(), Car, tehranNorth, karaj, RouteOptions{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, int32(0), calls.Load())
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{"code":502,"message":"bad gateway"}`)
	}))
	defer srv.Close()

	client := NewClientWithConfig(Config{
		APIKey:           "k",
		BaseURL:          srv.URL,
		MaxRetries:       5,
		RetryBackoffBase: time.Hour,
		RetryBackoffMax:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.ReverseGeocode(ctx, tehranNorth)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMalformedSuccessBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"routes": [`)
	})

	_, err := client.Route(context.Background(), Car, tehranNorth, karaj, RouteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse direction response")
}

func TestSearch_Query(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "کافه", r.URL.Query().Get("term"))
		assert.Equal(t, "35.7", r.URL.Query().Get("lat"))
		assert.Equal(t, "51.4", r.URL.Query().Get("lng"))
		writeJSON(w, http.StatusOK, `{"count":1,"items":[{"title":"کافه","address":"ونک","neighbourhood":"ونک","region":"تهران","type":"cafe","category":"place","location":{"x":51.41,"y":35.75}}]}`)
	})

	res, err := client.Search(context.Background(), "  کافه ", Point{Latitude: 35.7, Longitude: 51.4})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, Point{Latitude: 35.75, Longitude: 51.41}, res.Items[0].Location.Point())
}

func TestDistanceMatrix_Query(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/distance-matrix", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "car", q.Get("type"))
		assert.Equal(t, "35.7,51.4|35.8,51.5", q.Get("origins"))
		assert.Equal(t, "35.9,51.6", q.Get("destinations"))
		writeJSON(w, http.StatusOK, `{"status":"Ok","origin_addresses":["a","b"],"destination_addresses":["c"],
			"rows":[{"elements":[{"status":"Ok","duration":{"value":600,"text":"۱۰ دقیقه"},"distance":{"value":5000,"text":"۵ کیلومتر"}}]},
			        {"elements":[{"status":"Ok","duration":{"value":300,"text":"۵ دقیقه"},"distance":{"value":2500,"text":"۲.۵ کیلومتر"}}]}]}`)
	})

	origins := []Point{{Latitude: 35.7, Longitude: 51.4}, {Latitude: 35.8, Longitude: 51.5}}
	dests := []Point{{Latitude: 35.9, Longitude: 51.6}}
	m, err := client.DistanceMatrix(context.Background(), Car, origins, dests)
	require.NoError(t, err)

	el, ok := m.Element(1, 0)
	require.True(t, ok)
	assert.Equal(t, 2500.0, el.Distance.Value)
	_, ok = m.Element(2, 0)
	assert.False(t, ok)
}

func TestInvalidArguments(t *testing.T) {
	client := NewClient("k")
	ctx := context.Background()

	_, err := client.Search(ctx, "   ", tehranNorth)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Geocode(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.DistanceMatrix(ctx, Car, nil, []Point{karaj})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.DistanceMatrix(ctx, Car, []Point{karaj}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.ReverseGeocode(ctx, Point{Latitude: 91})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.Route(ctx, Car, tehranNorth, Point{Longitude: 200}, RouteOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUnknownVehicleType_NoRequest(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `{}`)
	})
	ctx := context.Background()

	_, err := client.Route(ctx, VehicleType(7), tehranNorth, karaj, RouteOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = client.DistanceMatrix(ctx, VehicleType(-1), []Point{tehranNorth}, []Point{karaj})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, int32(0), calls.Load())
}

func TestPacing_SpacesRequests(t *testing.T) {
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{"status":"OK","location":{"x":1,"y":2}}`)
	}))
	defer srv.Close()

	client := NewClientWithConfig(Config{
		APIKey:             "k",
		BaseURL:            srv.URL,
		MinRequestInterval: 30 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_, err := client.Geocode(context.Background(), "x")
		require.NoError(t, err)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 40*time.Millisecond)
}

func TestBackoff_Capped(t *testing.T) {
	client := NewClientWithConfig(Config{
		APIKey:           "k",
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  3 * time.Second,
	})
	assert.Equal(t, time.Second, client.backoff(1))
	assert.Equal(t, 2*time.Second, client.backoff(2))
	assert.Equal(t, 3*time.Second, client.backoff(3))
	assert.Equal(t, 3*time.Second, client.backoff(40))
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(Config{APIKey: "k", BaseURL: "http://example.test/"})
	assert.Equal(t, "http://example.test", client.BaseURL())
	assert.Equal(t, 30*time.Second, client.timeout)
	assert.Equal(t, DefaultUserAgent, client.userAgent)
}
