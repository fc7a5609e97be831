package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	p, err := ParseCoordinates([]float64{-71.0935, 42.3601})
	require.NoError(t, err)
	require.Equal(t, -71.0935, p.Longitude)
	require.Equal(t, 42.3601, p.Latitude)
}

func TestParseCoordinatesRejectsWrongArity(t *testing.T) {
	_, err := ParseCoordinates(nil)
	require.Error(t, err)

	_, err = ParseCoordinates([]float64{42.0})
	require.Error(t, err)

	_, err = ParseCoordinates([]float64{1, 2, 3})
	require.Error(t, err)
}

func TestParseCoordinatesRejectsOutOfRange(t *testing.T) {
	_, err := ParseCoordinates([]float64{-181, 0})
	require.Error(t, err)

	_, err = ParseCoordinates([]float64{0, 91})
	require.Error(t, err)
}

func TestDistanceMeters(t *testing.T) {
	// MIT Great Dome to Harvard Yard, roughly 3.0 km.
	dome := Point{Longitude: -71.0921, Latitude: 42.3601}
	yard := Point{Longitude: -71.1167, Latitude: 42.3744}

	d := DistanceMeters(dome, yard)
	require.InDelta(t, 2550, d, 300)

	require.Zero(t, DistanceMeters(dome, dome))
}

func TestBoundsForRadiusContainsNearbyPoints(t *testing.T) {
	centre := Point{Longitude: -71.09, Latitude: 42.36}
	box := BoundsForRadius(centre, 2000)

	require.Less(t, box.MinLatitude, centre.Latitude)
	require.Greater(t, box.MaxLatitude, centre.Latitude)

	// A point 1km east must fall inside the box.
	east := Point{Longitude: centre.Longitude + 0.012, Latitude: centre.Latitude}
	require.LessOrEqual(t, box.MinLongitude, east.Longitude)
	require.GreaterOrEqual(t, box.MaxLongitude, east.Longitude)
}

func TestBoundsForRadiusClampsAtPoles(t *testing.T) {
	box := BoundsForRadius(Point{Longitude: 0, Latitude: 89.9999}, 5000)
	require.Equal(t, 90.0, box.MaxLatitude)
	require.Equal(t, -180.0, box.MinLongitude)
	require.Equal(t, 180.0, box.MaxLongitude)
}
