package tools

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0088

const polylinePrecision = 1e5

// Point is a [lat, lng] pair in degrees. It encodes to JSON as a two element
// array.
type Point [2]float64

func (p Point) Lat() float64 { return p[0] }
func (p Point) Lng() float64 { return p[1] }

var errTruncatedPolyline = errors.New("truncated polyline")

// DecodePolyline decodes a Google encoded polyline with precision 5.
func DecodePolyline(encoded string) ([]Point, error) {
	points := make([]Point, 0, len(encoded)/4)
	var lat, lng int64
	for i := 0; i < len(encoded); {
		dlat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dlat
		lng += dlng
		points = append(points, Point{float64(lat) / polylinePrecision, float64(lng) / polylinePrecision})
	}
	return points, nil
}

func decodeValue(encoded string, i int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if i >= len(encoded) {
			return 0, i, errTruncatedPolyline
		}
		b := int64(encoded[i]) - 63
		if b < 0 || b > 0x3f {
			return 0, i, fmt.Errorf("invalid polyline character %q at %d", encoded[i], i)
		}
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
		if shift > 60 {
			return 0, i, errors.New("polyline value overflows")
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(points []Point) string {
	var b strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat() * polylinePrecision))
		lng := int64(math.Round(p.Lng() * polylinePrecision))
		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return b.String()
}

func encodeValue(b *strings.Builder, v int64) {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		b.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	b.WriteByte(byte(u + 63))
}

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b Point) float64 {
	toRad := math.Pi / 180
	lat1, lat2 := a.Lat()*toRad, b.Lat()*toRad
	dLat := lat2 - lat1
	dLng := (b.Lng() - a.Lng()) * toRad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RouteLength sums the haversine distance along points.
func RouteLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}

// SampleByDistance keeps the first point, then every point at least
// intervalKm away from the previously kept one, then the last point.
func SampleByDistance(points []Point, intervalKm float64) []Point {
	if len(points) == 0 {
		return []Point{}
	}
	sampled := []Point{points[0]}
	lastIdx := 0
	for i := 1; i < len(points); i++ {
		if Haversine(points[lastIdx], points[i]) >= intervalKm {
			sampled = append(sampled, points[i])
			lastIdx = i
		}
	}
	if lastIdx != len(points)-1 {
		sampled = append(sampled, points[len(points)-1])
	}
	return sampled
}

// SampleByIndex keeps every nth point plus the last one. Routes no longer
// than n collapse to their endpoints.
func SampleByIndex(points []Point, n int) []Point {
	if len(points) == 0 {
		return []Point{}
	}
	if n < 1 {
		n = 1
	}
	if len(points) <= n {
		if len(points) == 1 {
			return []Point{points[0]}
		}
		return []Point{points[0], points[len(points)-1]}
	}
	sampled := make([]Point, 0, len(points)/n+2)
	last := 0
	for i := 0; i < len(points); i += n {
		sampled = append(sampled, points[i])
		last = i
	}
	if last != len(points)-1 {
		sampled = append(sampled, points[len(points)-1])
	}
	return sampled
}
