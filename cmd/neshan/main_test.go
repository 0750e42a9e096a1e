package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1995parham/neshan-go/internal/logging"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

type fakeNeshan struct {
	*httptest.Server
	hits   map[string]*atomic.Int32
	status int
}

func newFakeNeshan(t *testing.T) *fakeNeshan {
	t.Helper()
	f := &fakeNeshan{
		hits: map[string]*atomic.Int32{
			"/v2/reverse":         {},
			"/v3/direction":       {},
			"/v1/search":          {},
			"/v4/geocoding":       {},
			"/v1/distance-matrix": {},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := f.hits[r.URL.Path]; ok {
			c.Add(1)
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"status":"ERROR","code":480,"message":"Invalid Api Key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v2/reverse":
			_, _ = w.Write([]byte(`{"status":"OK","formatted_address":"تهران، خیابان آزادی","route_name":"خیابان آزادی","neighbourhood":null,"city":"تهران","state":"استان تهران","place":null,"municipality_zone":"9","in_traffic_zone":false,"in_odd_even_zone":true}`))
		case "/v3/direction":
			_, _ = w.Write([]byte(`{"routes":[{"overview_polyline":{"points":"_p~iF~ps|U_ulLnnqC"},"legs":[{"summary":"بزرگراه همت","distance":{"value":5400,"text":"۵.۴ کیلومتر"},"duration":{"value":720,"text":"۱۲ دقیقه"},"steps":[{"name":"همت","instruction":"به سمت شرق","distance":{"value":5400,"text":"۵.۴ کیلومتر"},"duration":{"value":720,"text":"۱۲ دقیقه"}}]}]}]}`))
		case "/v1/search":
			_, _ = w.Write([]byte(`{"count":1,"items":[{"title":"کافه","address":"میدان ونک","type":"cafe","location":{"x":51.4,"y":35.75}}]}`))
		case "/v4/geocoding":
			_, _ = w.Write([]byte(`{"status":"OK","location":{"x":51.338,"y":35.699}}`))
		case "/v1/distance-matrix":
			_, _ = w.Write([]byte(`{"status":"Ok","rows":[{"elements":[{"status":"Ok","distance":{"value":1000,"text":"1 km"},"duration":{"value":60,"text":"1 min"}}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)

	t.Setenv("NESHAN_BASE_URL", f.URL)
	t.Setenv("NESHAN_API_KEY", "test-key")
	t.Setenv("NESHAN_RS_API_KEY", "")
	t.Setenv("NESHAN_CACHE_PATH", "")
	t.Setenv("NESHAN_CACHE_DRIVER", "")
	return f
}

func (f *fakeNeshan) calls(path string) int32 {
	return f.hits[path].Load()
}

// runCLI executes the command tree in ws and returns combined output.
func runCLI(t *testing.T, ws string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--workspace", ws}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestReverseCommand_CachesAndTracksUsage(t *testing.T) {
	f := newFakeNeshan(t)
	ws := t.TempDir()

	out, err := runCLI(t, ws, "", "reverse", "35.7,51.4", "--json")
	require.NoError(t, err)
	var addr neshan.PostalAddress
	require.NoError(t, json.Unmarshal([]byte(out), &addr))
	assert.Equal(t, "تهران", addr.City)
	assert.Nil(t, addr.Neighbourhood)

	out, err = runCLI(t, ws, "", "reverse", "35.7,51.4")
	require.NoError(t, err)
	assert.Contains(t, out, "خیابان آزادی")
	assert.Equal(t, int32(1), f.calls("/v2/reverse"), "second lookup served from cache")

	out, err = runCLI(t, ws, "", "usage", "--json")
	require.NoError(t, err)
	var report struct {
		Stats struct {
			Total struct {
				Calls     int64 `json:"calls"`
				CacheHits int64 `json:"cache_hits"`
			} `json:"total"`
		} `json:"stats"`
		Recent []struct {
			Command string `json:"command"`
		} `json:"recent"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, int64(2), report.Stats.Total.Calls)
	assert.Equal(t, int64(1), report.Stats.Total.CacheHits)
	require.Len(t, report.Recent, 2)
	assert.Equal(t, "reverse", report.Recent[0].Command)

	_, err = os.Stat(filepath.Join(ws, ".neshan", "usage.json"))
	assert.NoError(t, err)
}

func TestNoCacheFlag(t *testing.T) {
	f := newFakeNeshan(t)
	ws := t.TempDir()

	for i := 0; i < 2; i++ {
		_, err := runCLI(t, ws, "", "--no-cache", "geocode", "تهران", "میدان", "آزادی")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), f.calls("/v4/geocoding"))
	_, err := os.Stat(filepath.Join(ws, ".neshan", "cache.db"))
	assert.True(t, os.IsNotExist(err), "cache database should not be created")
}

func TestRouteCommand(t *testing.T) {
	newFakeNeshan(t)
	ws := t.TempDir()

	out, err := runCLI(t, ws, "", "route", "35.73,51.39", "35.70,51.40", "--vehicle", "motorcycle", "--steps")
	require.NoError(t, err)
	assert.Contains(t, out, "Route 1")
	assert.Contains(t, out, "5.4 km")
	assert.Contains(t, out, "12m0s")
	assert.Contains(t, out, "به سمت شرق")

	out, err = runCLI(t, ws, "", "route", "35.73,51.39", "35.70,51.40", "--json", "--decode")
	require.NoError(t, err)
	var routes []struct {
		Path []neshan.Point `json:"path"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	require.Len(t, routes, 1)
	assert.Len(t, routes[0].Path, 2)
}

func TestRouteCommand_InvalidArguments(t *testing.T) {
	f := newFakeNeshan(t)
	ws := t.TempDir()

	_, err := runCLI(t, ws, "", "route", "not-a-point", "35.70,51.40")
	assert.ErrorIs(t, err, neshan.ErrInvalidArgument)
	_, err = runCLI(t, ws, "", "route", "35.73,51.39", "35.70,51.40", "--vehicle", "bus")
	assert.ErrorIs(t, err, neshan.ErrInvalidArgument)
	assert.Equal(t, int32(0), f.calls("/v3/direction"))
}

func TestSearchAndMatrixCommands(t *testing.T) {
	f := newFakeNeshan(t)
	ws := t.TempDir()

	out, err := runCLI(t, ws, "", "search", "کافه", "--near", "35.75,51.41")
	require.NoError(t, err)
	assert.Contains(t, out, "میدان ونک")

	out, err = runCLI(t, ws, "", "matrix", "--origin", "36.31,59.53", "--destination", "36.34,59.47", "--json")
	require.NoError(t, err)
	var m neshan.DistanceMatrix
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	el, ok := m.Element(0, 0)
	require.True(t, ok)
	assert.Equal(t, 1000.0, el.Distance.Value)

	_, err = runCLI(t, ws, "", "matrix", "--origin", "36.31,59.53", "--destination", "36.34,59.47")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls("/v1/distance-matrix"), "matrix responses are not cached")
}

func TestBatchReverseFromStdin(t *testing.T) {
	f := newFakeNeshan(t)
	ws := t.TempDir()

	input := "# depots\n35.70,51.40\n\n35.71,51.41\n35.72,51.42\n"
	out, err := runCLI(t, ws, input, "batch-reverse", "--json", "--concurrency", "2")
	require.NoError(t, err)

	var entries []batchEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, 35.71, entries[1].Point.Latitude)
	assert.Equal(t, "تهران", entries[2].Address.City)
	assert.Equal(t, int32(3), f.calls("/v2/reverse"))
}

func TestMissingAPIKey(t *testing.T) {
	f := newFakeNeshan(t)
	t.Setenv("NESHAN_API_KEY", "")
	ws := t.TempDir()

	_, err := runCLI(t, ws, "", "reverse", "35.7,51.4")
	require.Error(t, err)
	assert.ErrorIs(t, err, neshan.ErrMissingAPIKey)
	assert.Contains(t, renderError(err), "--api-key")
	assert.Equal(t, int32(0), f.calls("/v2/reverse"))

	_, err = runCLI(t, ws, "", "--api-key", "flag-key", "reverse", "35.7,51.4")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls("/v2/reverse"))
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	f := newFakeNeshan(t)
	f.status = http.StatusUnauthorized
	ws := t.TempDir()

	_, err := runCLI(t, ws, "", "reverse", "35.7,51.4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, neshan.ErrUnauthorized))
	assert.Contains(t, renderError(err), "rejected")
	assert.Equal(t, int32(1), f.calls("/v2/reverse"))
}

func TestCacheCommands(t *testing.T) {
	newFakeNeshan(t)
	ws := t.TempDir()

	// Each run opens the cache afresh, so misses must come from the store.
	_, err := runCLI(t, ws, "", "reverse", "35.7,51.4")
	require.NoError(t, err)
	_, err = runCLI(t, ws, "", "reverse", "35.8,51.5")
	require.NoError(t, err)

	out, err := runCLI(t, ws, "", "cache", "stats", "--json")
	require.NoError(t, err)
	var report struct {
		Driver string `json:"driver"`
		Stats  struct {
			Entries int64            `json:"entries"`
			Hits    int64            `json:"hits"`
			Misses  int64            `json:"misses"`
			ByOp    map[string]int64 `json:"by_op"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "sqlite", report.Driver)
	assert.Equal(t, int64(2), report.Stats.Entries)
	assert.Equal(t, int64(0), report.Stats.Hits)
	assert.Equal(t, int64(2), report.Stats.Misses)
	assert.Equal(t, int64(2), report.Stats.ByOp["reverse"])

	out, err = runCLI(t, ws, "", "cache", "purge", "--expired")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 entries")

	out, err = runCLI(t, ws, "", "cache", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 2 entries")
}

func logFiles(t *testing.T, ws, category string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(ws, ".neshan", "logs", "*_"+category+".log"))
	require.NoError(t, err)
	return matches
}

func TestFileLogging(t *testing.T) {
	newFakeNeshan(t)
	t.Cleanup(logging.CloseAll)

	t.Run("off by default", func(t *testing.T) {
		ws := t.TempDir()
		_, err := runCLI(t, ws, "", "reverse", "35.7,51.4")
		require.NoError(t, err)
		assert.NoDirExists(t, filepath.Join(ws, ".neshan", "logs"))
	})

	t.Run("debug_mode from --config", func(t *testing.T) {
		ws := t.TempDir()
		custom := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(custom, []byte("logging:\n  debug_mode: true\n"), 0600))

		_, err := runCLI(t, ws, "", "--config", custom, "reverse", "35.7,51.4")
		require.NoError(t, err)
		assert.Len(t, logFiles(t, ws, "boot"), 1)
		assert.Len(t, logFiles(t, ws, "api"), 1)
	})

	t.Run("--verbose", func(t *testing.T) {
		ws := t.TempDir()
		_, err := runCLI(t, ws, "", "--verbose", "reverse", "35.7,51.4")
		require.NoError(t, err)
		assert.Len(t, logFiles(t, ws, "boot"), 1)
		require.Len(t, logFiles(t, ws, "cli"), 1)

		data, err := os.ReadFile(logFiles(t, ws, "cli")[0])
		require.NoError(t, err)
		assert.Contains(t, string(data), "no_cache=false")
	})
}

func TestConfigInitAndShow(t *testing.T) {
	newFakeNeshan(t)
	t.Setenv("NESHAN_API_KEY", "")
	ws := t.TempDir()

	out, err := runCLI(t, ws, "", "--api-key", "secret-key-1234", "config", "init")
	require.NoError(t, err)
	path := filepath.Join(ws, ".neshan", "config.yaml")
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = runCLI(t, ws, "", "config", "init")
	assert.Error(t, err, "existing config is not overwritten without --force")

	out, err = runCLI(t, ws, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "****1234")
	assert.NotContains(t, out, "secret-key")

	out, err = runCLI(t, ws, "", "config", "show", "--json")
	require.NoError(t, err)
	var shown map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "****1234", shown["api"]["api_key"])
	assert.Contains(t, shown, "cache")
	assert.NotContains(t, out, "APIKey")
}

func TestReadPoints(t *testing.T) {
	points, err := readPoints(strings.NewReader("35.7,51.4\n  # comment\n 36.3 , 59.5 \n"))
	require.NoError(t, err)
	assert.Equal(t, []neshan.Point{{Latitude: 35.7, Longitude: 51.4}, {Latitude: 36.3, Longitude: 59.5}}, points)

	_, err = readPoints(strings.NewReader("35.7,51.4\nnope\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = readPoints(strings.NewReader("\n# only comments\n"))
	assert.ErrorIs(t, err, neshan.ErrInvalidArgument)
}

func TestParsePointList(t *testing.T) {
	points, err := parsePointList([]string{"1,2|3,4", "5,6"})
	require.NoError(t, err)
	assert.Len(t, points, 3)

	_, err = parsePointList([]string{"|"})
	assert.ErrorIs(t, err, neshan.ErrInvalidArgument)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("abc"))
	assert.Equal(t, "****6789", maskKey("123456789"))
}
