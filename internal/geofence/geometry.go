package geofence

import (
	"errors"
	"fmt"
	"math"

	"herdwatch/internal/models"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// SRIDWGS84 WGS84 坐标系
const SRIDWGS84 = 4326

// ErrNoBoundary 边界点不足
var ErrNoBoundary = errors.New("farm boundary has fewer than 3 points")

// Polygon 把边界点转换为闭合的 go-geom 多边形（坐标顺序 lng, lat）
func Polygon(points []models.BoundaryPoint) (*geom.Polygon, error) {
	if !HasBoundary(points) {
		return nil, ErrNoBoundary
	}
	poly := Ordered(points)

	ring := make([]geom.Coord, 0, len(poly)+1)
	for _, p := range poly {
		ring = append(ring, geom.Coord{p.Longitude, p.Latitude})
	}
	first := ring[0]
	last := ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		ring = append(ring, geom.Coord{first[0], first[1]})
	}

	polygon, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return nil, fmt.Errorf("failed to build polygon: %w", err)
	}
	polygon.SetSRID(SRIDWGS84)

	return polygon, nil
}

// BoundaryGeoJSON 边界的 GeoJSON 表示
func BoundaryGeoJSON(points []models.BoundaryPoint) ([]byte, error) {
	polygon, err := Polygon(points)
	if err != nil {
		return nil, err
	}

	data, err := geojson.Marshal(polygon)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal boundary to GeoJSON: %w", err)
	}

	return data, nil
}

// Rect 由两个对角点构造矩形范围（X=lng, Y=lat）
func Rect(lat1, lng1, lat2, lng2 float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(
		math.Min(lng1, lng2), math.Min(lat1, lat2),
		math.Max(lng1, lng2), math.Max(lat1, lat2),
	)
}

// RectContains 点是否落在矩形范围内（含边）
func RectContains(b *geom.Bounds, lat, lng float64) bool {
	return lng >= b.Min(0) && lng <= b.Max(0) && lat >= b.Min(1) && lat <= b.Max(1)
}
