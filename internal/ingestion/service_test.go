package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"herdwatch/internal/alerting"
	"herdwatch/internal/evaluator"
	"herdwatch/internal/models"
	"herdwatch/internal/notify"
	"herdwatch/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// fakes
// ============================================

type fakeTrackers struct {
	byDevice map[string]*models.Tracker
	err      error
}

func (f *fakeTrackers) GetTrackerByDeviceID(_ context.Context, deviceID string) (*models.Tracker, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.byDevice[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeTrackers) GetTracker(_ context.Context, id int64) (*models.Tracker, error) {
	for _, t := range f.byDevice {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeAnimals map[int64]*models.Animal

func (f fakeAnimals) GetAnimal(_ context.Context, id int64) (*models.Animal, error) {
	a, ok := f[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

// fakeStore 定位记录、边界与告警的内存实现
type fakeStore struct {
	mu         sync.Mutex
	samples    []models.LocationSample
	heartbeats []repository.TrackerHeartbeat
	boundary   []models.BoundaryPoint
	alerts     []*models.Alert
	recordErr  error
	nextID     int64
}

func (f *fakeStore) RecordSample(_ context.Context, hb repository.TrackerHeartbeat, s *models.LocationSample) (int64, error) {
	if f.recordErr != nil {
		return 0, f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, hb)
	f.nextID++
	s.ID = f.nextID
	f.samples = append(f.samples, *s)
	return s.ID, nil
}

func (f *fakeStore) InsertSample(_ context.Context, s *models.LocationSample) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.samples = append(f.samples, *s)
	return s.ID, nil
}

func (f *fakeStore) RecentSamples(_ context.Context, animalID int64, _ int) ([]models.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LocationSample
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].AnimalID == animalID {
			out = append(out, f.samples[i])
		}
	}
	return out, nil
}

func (f *fakeStore) AverageActivity(_ context.Context, _ int64, _ int) (float64, error) {
	return 0, nil
}

func (f *fakeStore) GetFarmBoundary(_ context.Context, _ int64) ([]models.BoundaryPoint, error) {
	return f.boundary, nil
}

func (f *fakeStore) HasSimilarAlert(_ context.Context, animalID int64, kind models.AlertKind, _ int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.AnimalID == animalID && a.Kind == kind && !a.IsResolved {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateAlert(_ context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.alerts = append(f.alerts, &cp)
	return nil
}

func (f *fakeStore) MarkRead(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) Resolve(context.Context, string, time.Time) (bool, error) { return false, nil }

func (f *fakeStore) GetAlert(context.Context, string) (*models.AlertView, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeStore) ListAlerts(context.Context, repository.AlertFilter) ([]models.AlertView, error) {
	return nil, nil
}

func (f *fakeStore) CountAlerts(context.Context, repository.AlertFilter) (int, error) { return 0, nil }

type stubEvaluator struct {
	candidates []models.Candidate
}

func (s *stubEvaluator) Evaluate(context.Context, *models.Animal, *models.LocationSample) []models.Candidate {
	return s.candidates
}

type stubRaiser struct {
	mu     sync.Mutex
	raised []models.Candidate
	err    error
}

func (s *stubRaiser) Raise(_ context.Context, animal *models.Animal, c models.Candidate) (*models.AlertView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = append(s.raised, c)
	if s.err != nil {
		return nil, s.err
	}
	return &models.AlertView{Kind: c.Kind, AnimalID: animal.ID}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.LocationUpdate
}

func (r *recordingPublisher) PublishLocation(_ context.Context, u models.LocationUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

// ============================================
// setup
// ============================================

var assignedAnimal = int64(7)

var fixedNow = time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC)

var square = []models.BoundaryPoint{
	{Latitude: 0, Longitude: 0, Sequence: 1},
	{Latitude: 0, Longitude: 10, Sequence: 2},
	{Latitude: 10, Longitude: 10, Sequence: 3},
	{Latitude: 10, Longitude: 0, Sequence: 4},
}

func testTrackers() *fakeTrackers {
	return &fakeTrackers{byDevice: map[string]*models.Tracker{
		"TRK-001": {ID: 3, DeviceID: "TRK-001", AnimalID: &assignedAnimal, Status: models.TrackerStatusActive},
		"TRK-002": {ID: 4, DeviceID: "TRK-002", Status: models.TrackerStatusInactive},
	}}
}

func testAnimals() fakeAnimals {
	return fakeAnimals{7: {ID: 7, Name: "Bessie", FarmID: 5, Gender: "Female", Status: models.AnimalStatusActive}}
}

type harness struct {
	svc       *Service
	store     *fakeStore
	evaluator *stubEvaluator
	raiser    *stubRaiser
	publisher *recordingPublisher
}

func setupService() *harness {
	h := &harness{
		store:     &fakeStore{},
		evaluator: &stubEvaluator{},
		raiser:    &stubRaiser{},
		publisher: &recordingPublisher{},
	}
	h.svc = NewService(testTrackers(), testAnimals(), h.store, h.evaluator, h.raiser, h.publisher, nil, zap.NewNop())
	h.svc.now = func() time.Time { return fixedNow }
	return h
}

func validReading() Reading {
	return Reading{
		DeviceID:       "TRK-001",
		Latitude:       5,
		Longitude:      5,
		ActivityLevel:  40,
		Temperature:    38.5,
		BatteryLevel:   88,
		SignalStrength: 70,
		Timestamp:      time.Date(2026, 10, 2, 7, 0, 0, 0, time.FixedZone("COT", -5*3600)),
	}
}

// ============================================
// Ingest
// ============================================

func TestIngest_PersistsAndPublishes(t *testing.T) {
	h := setupService()

	out, err := h.svc.Ingest(context.Background(), validReading())

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, int64(7), out.AnimalID)
	assert.Equal(t, int64(1), out.SampleID)

	require.Len(t, h.store.samples, 1)
	assert.Equal(t, time.UTC, h.store.samples[0].Timestamp.Location())
	assert.Equal(t, time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC), h.store.samples[0].Timestamp)
	assert.Equal(t, int64(3), h.store.samples[0].TrackerID)

	require.Len(t, h.store.heartbeats, 1)
	assert.Equal(t, 88, h.store.heartbeats[0].BatteryLevel)
	assert.Equal(t, h.store.samples[0].Timestamp, h.store.heartbeats[0].LastSeen)

	require.Len(t, h.publisher.updates, 1)
	assert.Equal(t, int64(5), h.publisher.updates[0].FarmID)
	assert.Equal(t, "Bessie", h.publisher.updates[0].AnimalName)
}

func TestIngest_ZeroTimestampUsesNow(t *testing.T) {
	h := setupService()
	r := validReading()
	r.Timestamp = time.Time{}

	_, err := h.svc.Ingest(context.Background(), r)

	require.NoError(t, err)
	assert.Equal(t, fixedNow, h.store.samples[0].Timestamp)
}

func TestIngest_DiscardsUnknownAndUnassigned(t *testing.T) {
	h := setupService()

	r := validReading()
	r.DeviceID = "TRK-404"
	out, err := h.svc.Ingest(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, out.Status)
	assert.Equal(t, ReasonUnknownDevice, out.Reason)

	r.DeviceID = "TRK-002"
	out, err = h.svc.Ingest(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnassignedTracker, out.Reason)

	assert.Empty(t, h.store.samples)
	assert.Empty(t, h.publisher.updates)
}

func TestIngest_ValidationRejectsBeforePersistence(t *testing.T) {
	cases := map[string]func(*Reading){
		"missing device":  func(r *Reading) { r.DeviceID = "  " },
		"latitude":        func(r *Reading) { r.Latitude = 91 },
		"longitude":       func(r *Reading) { r.Longitude = -180.5 },
		"nan latitude":    func(r *Reading) { r.Latitude = math.NaN() },
		"activity high":   func(r *Reading) { r.ActivityLevel = 101 },
		"activity low":    func(r *Reading) { r.ActivityLevel = -1 },
		"infinite speed":  func(r *Reading) { r.Speed = math.Inf(1) },
		"nan temperature": func(r *Reading) { r.Temperature = math.NaN() },
		"battery high":    func(r *Reading) { r.BatteryLevel = 101 },
		"battery low":     func(r *Reading) { r.BatteryLevel = -5 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := setupService()
			r := validReading()
			mutate(&r)

			_, err := h.svc.Ingest(context.Background(), r)

			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, h.store.samples)
			assert.Empty(t, h.publisher.updates)
		})
	}
}

func TestIngest_StorageFailureAbortsSample(t *testing.T) {
	h := setupService()
	h.store.recordErr = errors.New("connection refused")
	h.evaluator.candidates = []models.Candidate{{Kind: models.AlertKindOutOfBounds, Severity: models.SeverityHigh}}

	_, err := h.svc.Ingest(context.Background(), validReading())

	assert.ErrorIs(t, err, ErrStorage)
	assert.Empty(t, h.raiser.raised)
	assert.Empty(t, h.publisher.updates)
}

func TestIngest_TrackerRemovedBeforeHeartbeatIsDiscarded(t *testing.T) {
	h := setupService()
	h.store.recordErr = fmt.Errorf("tracker id=3: %w", repository.ErrNotFound)
	h.evaluator.candidates = []models.Candidate{{Kind: models.AlertKindOutOfBounds, Severity: models.SeverityHigh}}

	out, err := h.svc.Ingest(context.Background(), validReading())

	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, out.Status)
	assert.Equal(t, ReasonUnknownDevice, out.Reason)
	assert.Empty(t, h.raiser.raised)
	assert.Empty(t, h.publisher.updates)
}

func TestIngest_LookupFailureIsStorageError(t *testing.T) {
	h := setupService()
	h.svc.trackers = &fakeTrackers{err: errors.New("timeout")}

	_, err := h.svc.Ingest(context.Background(), validReading())

	assert.ErrorIs(t, err, ErrStorage)
}

func TestIngest_AlertFailureStillPublishes(t *testing.T) {
	h := setupService()
	h.evaluator.candidates = []models.Candidate{
		{Kind: models.AlertKindOutOfBounds, Severity: models.SeverityHigh},
		{Kind: models.AlertKindLowActivity, Severity: models.SeverityMedium},
	}
	h.raiser.err = errors.New("alert store down")

	out, err := h.svc.Ingest(context.Background(), validReading())

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.Len(t, h.raiser.raised, 2)
	assert.Empty(t, out.Alerts)
	assert.Len(t, h.publisher.updates, 1)
}

// ============================================
// SaveSample
// ============================================

func TestSaveSample(t *testing.T) {
	h := setupService()

	out, err := h.svc.SaveSample(context.Background(), ManualSample{
		AnimalID: 7, TrackerID: 3, Latitude: 5, Longitude: 5, ActivityLevel: 50, SignalStrength: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	require.Len(t, h.store.samples, 1)
	assert.Empty(t, h.store.heartbeats)
	assert.Equal(t, fixedNow, h.store.samples[0].Timestamp)
	assert.Len(t, h.publisher.updates, 1)
}

func TestSaveSample_UnknownReferences(t *testing.T) {
	h := setupService()

	_, err := h.svc.SaveSample(context.Background(), ManualSample{AnimalID: 99, TrackerID: 3, ActivityLevel: 50})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = h.svc.SaveSample(context.Background(), ManualSample{AnimalID: 7, TrackerID: 99, ActivityLevel: 50})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = h.svc.SaveSample(context.Background(), ManualSample{AnimalID: 7, TrackerID: 3, Speed: -1})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, h.store.samples)
}

// ============================================
// 端到端：真实评估器 + 告警服务 + Hub
// ============================================

func TestIngest_OutsideBoundaryRaisesOneAlertAndOneNewAlertEvent(t *testing.T) {
	store := &fakeStore{boundary: square}
	hub := notify.NewHub(16, nil, zap.NewNop())
	fanout := notify.NewFanout(hub, nil, zap.NewNop())
	alerts := alerting.NewService(store, nil, fanout, nil, zap.NewNop())
	eval := evaluator.NewEvaluator(store, store, nil, zap.NewNop())
	svc := NewService(testTrackers(), testAnimals(), store, eval, alerts, fanout, nil, zap.NewNop())

	farmSub, err := hub.Subscribe(notify.FarmTopic(5))
	require.NoError(t, err)

	r := validReading()
	r.Latitude = 50
	r.Longitude = 50

	out, err := svc.Ingest(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, models.AlertKindOutOfBounds, out.Alerts[0].Kind)

	// 第二条同样越界，被去重
	_, err = svc.Ingest(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, store.alerts, 1)
	assert.Equal(t, models.AlertKindOutOfBounds, store.alerts[0].Kind)
	assert.Equal(t, models.SeverityHigh, store.alerts[0].Severity)
	assert.Equal(t, "Bessie has left the farm boundaries", store.alerts[0].Message)

	newAlerts, locations := 0, 0
	for len(farmSub.C()) > 0 {
		ev := <-farmSub.C()
		switch ev.Type {
		case notify.EventNewAlert:
			newAlerts++
		case notify.EventLocationUpdate:
			locations++
		}
	}
	assert.Equal(t, 1, newAlerts)
	assert.Equal(t, 2, locations)
}
