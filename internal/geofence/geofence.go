// Package geofence 提供牧场边界相关的几何计算：点在多边形内判定、Haversine 距离、点到边界距离。
package geofence

import (
	"math"
	"sort"

	"herdwatch/internal/models"
)

// EarthRadiusMeters 地球平均半径
const EarthRadiusMeters = 6371000.0

// MinBoundaryPoints 构成边界所需的最少点数
const MinBoundaryPoints = 3

// Ordered 按 sequence 排序后的边界点副本
func Ordered(points []models.BoundaryPoint) []models.BoundaryPoint {
	out := make([]models.BoundaryPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// HasBoundary 边界点数是否足够
func HasBoundary(points []models.BoundaryPoint) bool {
	return len(points) >= MinBoundaryPoints
}

// IsPointInPolygon 射线法判断点是否在边界内；少于 3 个点时返回 false。
// 点恰好落在边上时结果不确定。
func IsPointInPolygon(lat, lng float64, points []models.BoundaryPoint) bool {
	if !HasBoundary(points) {
		return false
	}
	poly := Ordered(points)

	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		xi, yi := poly[i].Latitude, poly[i].Longitude
		xj, yj := poly[j].Latitude, poly[j].Longitude

		if (yi > lng) != (yj > lng) &&
			lat < (xj-xi)*(lng-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}

	return inside
}

// HaversineMeters 两点间大圆距离（米）
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)

	h := hav(dLat) + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*hav(dLng)
	// 浮点误差可能让 h 略大于 1
	if h > 1 {
		h = 1
	}

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// DistanceToBoundary 点到边界（含首尾相连的边）的最短距离（米）；无边界点时返回 +Inf
func DistanceToBoundary(lat, lng float64, points []models.BoundaryPoint) float64 {
	if len(points) == 0 {
		return math.Inf(1)
	}
	poly := Ordered(points)

	minDistance := math.Inf(1)
	for i := 0; i < len(poly); i++ {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		d := distanceToSegment(lat, lng, a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		if d < minDistance {
			minDistance = d
		}
	}

	return minDistance
}

// distanceToSegment 在经纬度平面上投影并把参数限制在 [0,1]，再对投影点求 Haversine 距离
func distanceToSegment(lat, lng, lat1, lng1, lat2, lng2 float64) float64 {
	dx := lat2 - lat1
	dy := lng2 - lng1

	if dx == 0 && dy == 0 {
		return HaversineMeters(lat, lng, lat1, lng1)
	}

	t := ((lat-lat1)*dx + (lng-lng1)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	return HaversineMeters(lat, lng, lat1+t*dx, lng1+t*dy)
}

func hav(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
