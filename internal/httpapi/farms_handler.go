package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"herdwatch/internal/geofence"
	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// BoundaryStore 牧场边界读取（repository.BoundariesRepository 实现）
type BoundaryStore interface {
	GetFarmBoundary(ctx context.Context, farmID int64) ([]models.BoundaryPoint, error)
}

// BoundaryResponse 边界 + 可选的点位检测
type BoundaryResponse struct {
	FarmID         int64                  `json:"farm_id"`
	Points         []models.BoundaryPoint `json:"points"`
	GeoJSON        json.RawMessage        `json:"geojson"`
	Inside         *bool                  `json:"inside,omitempty"`
	DistanceMeters *float64               `json:"distance_meters,omitempty"`
}

// FarmsHandler 牧场接口
type FarmsHandler struct {
	boundaries BoundaryStore
	logger     *zap.Logger
}

func NewFarmsHandler(boundaries BoundaryStore, logger *zap.Logger) *FarmsHandler {
	return &FarmsHandler{boundaries: boundaries, logger: logger}
}

// Boundary GET /api/farms/{id}/boundary?lat=&lng=
// 带 lat/lng 时附加是否在界内以及到边界的距离（米）
func (h *FarmsHandler) Boundary(w http.ResponseWriter, r *http.Request) {
	farmID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.boundaries.GetFarmBoundary(r.Context(), farmID)
	if err != nil {
		h.logger.Error("Failed to load farm boundary", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load farm boundary")
		return
	}

	points = geofence.Ordered(points)
	gj, err := geofence.BoundaryGeoJSON(points)
	if err != nil {
		if errors.Is(err, geofence.ErrNoBoundary) {
			writeError(w, http.StatusNotFound, "farm has no boundary")
			return
		}
		h.logger.Error("Failed to encode farm boundary", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode farm boundary")
		return
	}

	resp := BoundaryResponse{FarmID: farmID, Points: points, GeoJSON: gj}

	q := r.URL.Query()
	if q.Has("lat") || q.Has("lng") {
		lat, err := parseFloatQuery(r, "lat")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lng, err := parseFloatQuery(r, "lng")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		inside := geofence.IsPointInPolygon(lat, lng, points)
		distance := geofence.DistanceToBoundary(lat, lng, points)
		resp.Inside = &inside
		resp.DistanceMeters = &distance
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}
