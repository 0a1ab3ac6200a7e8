package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"herdwatch/internal/geofence"
	"herdwatch/internal/ingestion"
	"herdwatch/internal/models"
	"herdwatch/internal/repository"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	areaWindow           = time.Hour
)

// Ingestor 接入服务（ingestion.Service 实现）
type Ingestor interface {
	Ingest(ctx context.Context, reading ingestion.Reading) (ingestion.Outcome, error)
	SaveSample(ctx context.Context, sample ingestion.ManualSample) (ingestion.Outcome, error)
}

// HistoryStore 定位历史读取（repository.LocationHistoryRepository 实现）
type HistoryStore interface {
	History(ctx context.Context, animalID int64, from, to time.Time) ([]models.LocationSample, error)
	LastSample(ctx context.Context, animalID int64) (*models.LocationSample, error)
	AnimalsInArea(ctx context.Context, area *geom.Bounds, from, to time.Time) ([]models.AnimalLocation, error)
}

// AnimalStore 牲畜查询（repository.AnimalsRepository 实现）
type AnimalStore interface {
	ListAnimalsWithTrackers(ctx context.Context, farmID int64) ([]*models.Animal, error)
}

// TrackingHandler 定位接入与查询
type TrackingHandler struct {
	ingest  Ingestor
	history HistoryStore
	animals AnimalStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewTrackingHandler(ingest Ingestor, history HistoryStore, animals AnimalStore, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		ingest:  ingest,
		history: history,
		animals: animals,
		logger:  logger,
		now:     time.Now,
	}
}

// TrackerData POST /api/tracking/tracker-data
// 未知设备返回 200 + status=discarded
func (h *TrackingHandler) TrackerData(w http.ResponseWriter, r *http.Request) {
	var reading ingestion.Reading
	if err := readBodyJSON(r, maxBodyBytes, &reading); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	outcome, err := h.ingest.Ingest(r.Context(), reading)
	if err != nil {
		h.fail(w, "Failed to process tracker data", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(outcome))
}

// SaveLocationHistory POST /api/tracking/save-location-history
func (h *TrackingHandler) SaveLocationHistory(w http.ResponseWriter, r *http.Request) {
	var sample ingestion.ManualSample
	if err := readBodyJSON(r, maxBodyBytes, &sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	outcome, err := h.ingest.SaveSample(r.Context(), sample)
	if err != nil {
		h.fail(w, "Failed to save location history", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(outcome))
}

// CurrentLocation GET /api/tracking/animal/{id}/current-location
func (h *TrackingHandler) CurrentLocation(w http.ResponseWriter, r *http.Request) {
	animalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sample, err := h.history.LastSample(r.Context(), animalID)
	if err != nil {
		h.fail(w, "Failed to get current location", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sample.View()))
}

// LocationHistory GET /api/tracking/animal/{id}/location-history?from=&to=（RFC3339，默认最近 24 小时）
func (h *TrackingHandler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	animalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := h.now().UTC()
	to, err := parseTimeQuery(r, "to", now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseTimeQuery(r, "from", to.Add(-defaultHistoryWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	samples, err := h.history.History(r.Context(), animalID, from, to)
	if err != nil {
		h.fail(w, "Failed to get location history", err)
		return
	}
	views := make([]models.LocationView, 0, len(samples))
	for i := range samples {
		views = append(views, samples[i].View())
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// FarmAnimals GET /api/tracking/farm/{id}/animals
// 牧场内带定位器的牲畜及其最新位置（无记录时 current_location 为 null）
func (h *TrackingHandler) FarmAnimals(w http.ResponseWriter, r *http.Request) {
	farmID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	animals, err := h.animals.ListAnimalsWithTrackers(r.Context(), farmID)
	if err != nil {
		h.fail(w, "Failed to list farm animals", err)
		return
	}

	out := make([]models.AnimalLocation, 0, len(animals))
	for _, a := range animals {
		loc := models.AnimalLocation{
			ID:        a.ID,
			Name:      a.Name,
			Tag:       a.Tag,
			Status:    a.Status,
			FarmID:    a.FarmID,
			TrackerID: a.TrackerID,
		}
		sample, err := h.history.LastSample(r.Context(), a.ID)
		switch {
		case err == nil:
			view := sample.View()
			loc.CurrentLocation = &view
		case !errors.Is(err, repository.ErrNotFound):
			h.fail(w, "Failed to list farm animals", err)
			return
		}
		out = append(out, loc)
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// AnimalsInArea GET /api/tracking/animals-in-area?lat1&lng1&lat2&lng2（最近 1 小时）
func (h *TrackingHandler) AnimalsInArea(w http.ResponseWriter, r *http.Request) {
	var coords [4]float64
	for i, key := range []string{"lat1", "lng1", "lat2", "lng2"} {
		v, err := parseFloatQuery(r, key)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		coords[i] = v
	}
	now := h.now().UTC()
	area := geofence.Rect(coords[0], coords[1], coords[2], coords[3])

	animals, err := h.history.AnimalsInArea(r.Context(), area, now.Add(-areaWindow), now)
	if err != nil {
		h.fail(w, "Failed to query animals in area", err)
		return
	}
	if animals == nil {
		animals = []models.AnimalLocation{}
	}
	writeJSON(w, http.StatusOK, Ok(animals))
}

func (h *TrackingHandler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}
