package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate. JSON and API payloads carry coordinates as a
// [longitude, latitude] pair following the GeoJSON convention.
type Point struct {
	Longitude float64
	Latitude  float64
}

// ParseCoordinates validates a raw coordinate pair and returns the point.
// The pair must contain exactly two elements in [longitude, latitude] order.
func ParseCoordinates(coords []float64) (Point, error) {
	if len(coords) != 2 {
		return Point{}, fmt.Errorf("coordinates must be a [longitude, latitude] pair, got %d elements", len(coords))
	}

	p := Point{Longitude: coords[0], Latitude: coords[1]}
	if p.Longitude < -180 || p.Longitude > 180 {
		return Point{}, fmt.Errorf("longitude %v out of range [-180, 180]", p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return Point{}, fmt.Errorf("latitude %v out of range [-90, 90]", p.Latitude)
	}
	return p, nil
}

// DistanceMeters computes the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(a, b Point) float64 {
	latA := a.Latitude * math.Pi / 180
	latB := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a latitude/longitude rectangle enclosing a radius search,
// used as a cheap SQL prefilter before exact haversine distances are checked.
type BoundingBox struct {
	MinLongitude float64
	MaxLongitude float64
	MinLatitude  float64
	MaxLatitude  float64
}

// BoundsForRadius returns the bounding box containing all points within
// radiusMeters of the centre. Near the poles the longitude span degenerates,
// so it is clamped to the full range.
func BoundsForRadius(centre Point, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / earthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(centre.Latitude * math.Pi / 180)
	var lonDelta float64
	if cosLat <= 1e-9 {
		lonDelta = 180
	} else {
		lonDelta = latDelta / cosLat
	}

	box := BoundingBox{
		MinLongitude: centre.Longitude - lonDelta,
		MaxLongitude: centre.Longitude + lonDelta,
		MinLatitude:  math.Max(-90, centre.Latitude-latDelta),
		MaxLatitude:  math.Min(90, centre.Latitude+latDelta),
	}

	if box.MinLongitude < -180 {
		box.MinLongitude = -180
	}
	if box.MaxLongitude > 180 {
		box.MaxLongitude = 180
	}
	return box
}
