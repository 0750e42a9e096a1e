package neshan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/twpayne/go-polyline"
)

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String returns the "lat,lng" form Neshan expects in query strings.
func (p Point) String() string {
	return formatFloat(p.Latitude) + "," + formatFloat(p.Longitude)
}

// ParsePoint parses a "lat,lng" pair.
func ParsePoint(s string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("%w: point %q is not lat,lng", ErrInvalidArgument, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q: %v", ErrInvalidArgument, parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q: %v", ErrInvalidArgument, parts[1], err)
	}
	p := Point{Latitude: lat, Longitude: lng}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// Validate reports whether the coordinate is inside the WGS84 range.
func (p Point) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidArgument, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidArgument, p.Longitude)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinPoints(points []Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = p.String()
	}
	return strings.Join(parts, "|")
}

// VehicleType selects the routing profile.
type VehicleType int

const (
	Car VehicleType = iota
	Motorcycle
)

func (v VehicleType) String() string {
	switch v {
	case Car:
		return "car"
	case Motorcycle:
		return "motorcycle"
	default:
		return "unknown"
	}
}

// Validate rejects values outside the known routing profiles.
func (v VehicleType) Validate() error {
	if v != Car && v != Motorcycle {
		return fmt.Errorf("%w: unknown vehicle type %d", ErrInvalidArgument, int(v))
	}
	return nil
}

// ParseVehicleType maps "car" or "motorcycle" to a VehicleType.
func ParseVehicleType(s string) (VehicleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "car":
		return Car, nil
	case "motorcycle", "motor":
		return Motorcycle, nil
	default:
		return Car, fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidArgument, s)
	}
}

// RouteOptions are the optional switches of the direction endpoint.
type RouteOptions struct {
	// AvoidTrafficZone finds routes that do not cross the traffic plan zone.
	AvoidTrafficZone bool
	// AvoidOddEvenZone finds routes that do not cross the odd-even zone.
	AvoidOddEvenZone bool
	// Alternative returns alternative routes besides the primary one.
	Alternative bool
}

// Routes is the direction endpoint response.
type Routes struct {
	Routes []Route `json:"routes"`
}

// Route is one candidate path from origin to destination.
type Route struct {
	OverviewPolyline Polyline `json:"overview_polyline"`
	Legs             []Leg    `json:"legs"`
}

// Distance returns the sum of the leg distances in meters.
func (r Route) Distance() float64 {
	var total float64
	for _, leg := range r.Legs {
		total += leg.Distance.Value
	}
	return total
}

// Duration returns the sum of the leg durations in seconds.
func (r Route) Duration() float64 {
	var total float64
	for _, leg := range r.Legs {
		total += leg.Duration.Value
	}
	return total
}

// Leg is the part of a route between two waypoints.
type Leg struct {
	Summary  string   `json:"summary"`
	Duration Duration `json:"duration"`
	Distance Distance `json:"distance"`
	Steps    []Step   `json:"steps,omitempty"`
}

// Step is a single maneuver inside a leg.
type Step struct {
	Name          string    `json:"name"`
	Instruction   string    `json:"instruction"`
	BearingAfter  int       `json:"bearing_after"`
	Type          string    `json:"type"`
	Modifier      string    `json:"modifier,omitempty"`
	Distance      Distance  `json:"distance"`
	Duration      Duration  `json:"duration"`
	Polyline      string    `json:"polyline"`
	StartLocation []float64 `json:"start_location,omitempty"`
}

// Distance in meters with its Persian text form.
type Distance struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

// Duration in seconds with its Persian text form.
type Duration struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

// Polyline is an encoded polyline (precision 5).
type Polyline struct {
	Points string `json:"points"`
}

// Decode expands the encoded polyline into points.
func (p Polyline) Decode() ([]Point, error) {
	return DecodePolyline(p.Points)
}

// DecodePolyline expands an encoded polyline string into points.
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}
	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{Latitude: c[0], Longitude: c[1]}
	}
	return points, nil
}

// PostalAddress is the reverse geocoding response.
type PostalAddress struct {
	FormattedAddress string  `json:"formatted_address"`
	RouteName        string  `json:"route_name"`
	Neighbourhood    *string `json:"neighbourhood"`
	City             string  `json:"city"`
	State            string  `json:"state"`
	Place            *string `json:"place"`
	MunicipalityZone *string `json:"municipality_zone"`
	InTrafficZone    bool    `json:"in_traffic_zone"`
	InOddEvenZone    bool    `json:"in_odd_even_zone"`
}

// Location is Neshan's x/y coordinate pair: x is longitude, y is latitude.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point converts the location to a Point.
func (l Location) Point() Point {
	return Point{Latitude: l.Y, Longitude: l.X}
}

// SearchResult is the search endpoint response.
type SearchResult struct {
	Count int          `json:"count"`
	Items []SearchItem `json:"items"`
}

// SearchItem is one matched place.
type SearchItem struct {
	Title         string   `json:"title"`
	Address       string   `json:"address"`
	Neighbourhood string   `json:"neighbourhood"`
	Region        string   `json:"region"`
	Type          string   `json:"type"`
	Category      string   `json:"category"`
	Location      Location `json:"location"`
}

// GeocodeResult is the geocoding endpoint response.
type GeocodeResult struct {
	Status   string   `json:"status"`
	Location Location `json:"location"`
}

// DistanceMatrix is the distance-matrix endpoint response.
// Rows follow the origins order, elements follow the destinations order.
type DistanceMatrix struct {
	Status               string      `json:"status"`
	OriginAddresses      []string    `json:"origin_addresses"`
	DestinationAddresses []string    `json:"destination_addresses"`
	Rows                 []MatrixRow `json:"rows"`
}

// MatrixRow holds the elements for one origin.
type MatrixRow struct {
	Elements []MatrixElement `json:"elements"`
}

// MatrixElement is the travel estimate for one origin/destination pair.
type MatrixElement struct {
	Status   string   `json:"status"`
	Duration Duration `json:"duration"`
	Distance Distance `json:"distance"`
}

// Element returns the estimate from origin i to destination j.
func (m *DistanceMatrix) Element(i, j int) (MatrixElement, bool) {
	if i < 0 || i >= len(m.Rows) {
		return MatrixElement{}, false
	}
	row := m.Rows[i]
	if j < 0 || j >= len(row.Elements) {
		return MatrixElement{}, false
	}
	return row.Elements[j], true
}
