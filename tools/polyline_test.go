package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

var samplePoints = []Point{{38.5, -120.2}, {40.7, -120.95}, {43.252, -126.453}}

func TestDecodePolyline(t *testing.T) {
	points, err := DecodePolyline(samplePolyline)
	require.NoError(t, err)
	require.Len(t, points, len(samplePoints))
	for i, want := range samplePoints {
		assert.InDelta(t, want.Lat(), points[i].Lat(), 1e-9)
		assert.InDelta(t, want.Lng(), points[i].Lng(), 1e-9)
	}
}

func TestEncodePolyline(t *testing.T) {
	assert.Equal(t, samplePolyline, EncodePolyline(samplePoints))
	assert.Equal(t, "", EncodePolyline(nil))
}

func TestDecodePolylineErrors(t *testing.T) {
	points, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, points)

	_, err = DecodePolyline("_p~iF")
	assert.ErrorIs(t, err, errTruncatedPolyline)

	_, err = DecodePolyline("_p~iF ps|U")
	assert.ErrorContains(t, err, "invalid polyline character")
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 111.195, Haversine(Point{0, 0}, Point{1, 0}), 0.01)
	assert.Zero(t, Haversine(Point{10, 10}, Point{10, 10}))
	assert.Zero(t, RouteLength([]Point{{1, 1}}))
}

// equator builds n points spaced 0.01 degrees of longitude apart (~1.11 km).
func equator(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{0, float64(i) * 0.01}
	}
	return points
}

func TestSampleByDistance(t *testing.T) {
	route := equator(11)
	assert.Equal(t, []Point{route[0], route[5], route[10]}, SampleByDistance(route, 5))
	assert.Equal(t, []Point{route[0], route[3], route[6], route[9], route[10]}, SampleByDistance(route, 3))
	assert.Equal(t, []Point{route[0], route[10]}, SampleByDistance(route, 100))
	assert.Empty(t, SampleByDistance(nil, 5))
}

func TestSampleByIndex(t *testing.T) {
	route := equator(11)
	assert.Equal(t, []Point{route[0], route[4], route[8], route[10]}, SampleByIndex(route, 4))
	assert.Equal(t, []Point{route[0], route[5], route[10]}, SampleByIndex(route, 5))
	assert.Equal(t, []Point{route[0], route[10]}, SampleByIndex(route, 20))
	assert.Equal(t, route, SampleByIndex(route, 0))
	assert.Equal(t, []Point{route[0]}, SampleByIndex(route[:1], 3))
	assert.Empty(t, SampleByIndex(nil, 3))
}
