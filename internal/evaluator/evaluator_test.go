package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"herdwatch/internal/metrics"
	"herdwatch/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHistory struct {
	samples    map[int][]models.LocationSample // hoursBack -> 倒序记录
	avg        float64
	samplesErr error
	avgErr     error
}

func (f *fakeHistory) RecentSamples(_ context.Context, _ int64, hoursBack int) ([]models.LocationSample, error) {
	if f.samplesErr != nil {
		return nil, f.samplesErr
	}
	return f.samples[hoursBack], nil
}

func (f *fakeHistory) AverageActivity(_ context.Context, _ int64, _ int) (float64, error) {
	return f.avg, f.avgErr
}

type fakeBoundaries struct {
	points []models.BoundaryPoint
	err    error
}

func (f *fakeBoundaries) GetFarmBoundary(_ context.Context, _ int64) ([]models.BoundaryPoint, error) {
	return f.points, f.err
}

var squareBoundary = []models.BoundaryPoint{
	{Latitude: 0, Longitude: 0, Sequence: 1},
	{Latitude: 0, Longitude: 10, Sequence: 2},
	{Latitude: 10, Longitude: 10, Sequence: 3},
	{Latitude: 10, Longitude: 0, Sequence: 4},
}

var bessie = &models.Animal{ID: 7, Name: "Bessie", FarmID: 5}

var baseTime = time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC)

// stationary 生成 n 条几乎重合的倒序记录
func stationary(n int, lat, lng float64) []models.LocationSample {
	out := make([]models.LocationSample, n)
	for i := range out {
		out[i] = models.LocationSample{
			AnimalID:      7,
			Latitude:      lat + float64(i%3)*0.00001,
			Longitude:     lng,
			ActivityLevel: 10,
			Timestamp:     baseTime.Add(-time.Duration(i) * 5 * time.Minute),
		}
	}
	return out
}

func kinds(cs []models.Candidate) []models.AlertKind {
	out := make([]models.AlertKind, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Kind)
	}
	return out
}

func newTestEvaluator(h *fakeHistory, b *fakeBoundaries) *Evaluator {
	return NewEvaluator(h, b, nil, zap.NewNop())
}

// ============================================
// 越界
// ============================================

func TestEvaluate_OutsideBoundary(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{}, &fakeBoundaries{points: squareBoundary})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 15, Longitude: 5, ActivityLevel: 50})

	require.Len(t, got, 1)
	assert.Equal(t, models.AlertKindOutOfBounds, got[0].Kind)
	assert.Equal(t, models.SeverityHigh, got[0].Severity)
	assert.Equal(t, "Bessie has left the farm boundaries", got[0].Message)
}

func TestEvaluate_InsideBoundary(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{}, &fakeBoundaries{points: squareBoundary})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 5, Longitude: 5, ActivityLevel: 50})

	assert.Empty(t, got)
}

func TestEvaluate_NoBoundaryNeverBreaches(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{}, &fakeBoundaries{points: squareBoundary[:2]})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 50, Longitude: 50})

	assert.Empty(t, got)
}

// ============================================
// 不动
// ============================================

func TestEvaluate_ImmobileWithTwentySamples(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: stationary(20, 5, 5)}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 5, Longitude: 5, ActivityLevel: 10})

	require.Len(t, got, 1)
	assert.Equal(t, models.AlertKindImmobility, got[0].Kind)
	assert.Equal(t, models.SeverityMedium, got[0].Severity)
	assert.Equal(t, "Bessie has been immobile for over 2 hours", got[0].Message)
}

func TestEvaluate_ImmobilityNeedsTwentySamples(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: stationary(19, 5, 5)}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 5, Longitude: 5})

	assert.Empty(t, got)
}

func TestEvaluate_ImmobilityOnlyNewestTwentyCount(t *testing.T) {
	samples := stationary(25, 5, 5)
	// 第 21 条之后移动很远，不在判断范围内
	for i := 20; i < 25; i++ {
		samples[i].Latitude = 6
	}
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: samples}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 5, Longitude: 5})

	assert.Equal(t, []models.AlertKind{models.AlertKindImmobility}, kinds(got))
}

func TestEvaluate_ImmobilityMeasuresFromNewestSample(t *testing.T) {
	// 最早一条在中心，其余在其两侧约 6 米处；最新一条在东侧
	// 以最早为参照最大 6 米，以最新为参照西侧点约 12 米
	const offset = 0.000054 // ~6m 经度（赤道附近）
	samples := stationary(20, 0, 0)
	for i := range samples {
		samples[i].Latitude = 0
		if i%2 == 0 {
			samples[i].Longitude = offset
		} else {
			samples[i].Longitude = -offset
		}
	}
	samples[19].Longitude = 0
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: samples}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 0, Longitude: offset})

	assert.Empty(t, got)
}

func TestEvaluate_MovedWithinWindow(t *testing.T) {
	samples := stationary(20, 5, 5)
	samples[10].Latitude = 5.001 // ~111m
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: samples}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 5, Longitude: 5})

	assert.Empty(t, got)
}

// ============================================
// 活动量
// ============================================

func TestEvaluate_LowActivity(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{avg: 60}, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 10})

	require.Len(t, got, 1)
	assert.Equal(t, models.AlertKindLowActivity, got[0].Kind)
	assert.Equal(t, "Bessie showing unusually low activity levels", got[0].Message)
}

func TestEvaluate_LowActivityNeedsAbsoluteCeiling(t *testing.T) {
	// 25 < 0.3*100 但不低于 20
	e := newTestEvaluator(&fakeHistory{avg: 100}, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 25})

	assert.Empty(t, got)
}

func TestEvaluate_HighActivity(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{avg: 40}, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 85})

	require.Len(t, got, 1)
	assert.Equal(t, models.AlertKindHighActivity, got[0].Kind)
	assert.Equal(t, models.SeverityMedium, got[0].Severity)
	assert.Equal(t, "Bessie showing unusually high activity levels", got[0].Message)
}

func TestEvaluate_HighActivityNeedsAbsoluteFloor(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{avg: 30}, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 75})

	assert.Empty(t, got)
}

func TestEvaluate_ZeroAverageSkipsActivity(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{avg: 0}, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 0})

	assert.Empty(t, got)
}

// ============================================
// 规则隔离
// ============================================

func TestEvaluate_FailingRuleDoesNotStopOthers(t *testing.T) {
	m := metrics.New()
	h := &fakeHistory{samplesErr: errors.New("db down"), avg: 60}
	e := NewEvaluator(h, &fakeBoundaries{err: errors.New("db down")}, m, zap.NewNop())

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 5})

	assert.Equal(t, []models.AlertKind{models.AlertKindLowActivity}, kinds(got))

	// boundary + immobility
	n, err := testutil.GatherAndCount(m.Registry(), "herdwatch_rule_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEvaluate_MultipleRulesFire(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{2: stationary(20, 15, 5)}, avg: 60}
	e := newTestEvaluator(h, &fakeBoundaries{points: squareBoundary})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{Latitude: 15, Longitude: 5, ActivityLevel: 10})

	assert.ElementsMatch(t,
		[]models.AlertKind{models.AlertKindOutOfBounds, models.AlertKindImmobility, models.AlertKindLowActivity},
		kinds(got))
}

// ============================================
// 发情
// ============================================

func heatSamples(perDay ...int) []models.LocationSample {
	var out []models.LocationSample
	for day, n := range perDay {
		for i := 0; i < n; i++ {
			out = append(out, models.LocationSample{
				ActivityLevel: 75,
				Timestamp:     baseTime.AddDate(0, 0, -day).Add(-time.Duration(i) * time.Minute),
			})
		}
		// 低活动量记录不计入
		out = append(out, models.LocationSample{ActivityLevel: 20, Timestamp: baseTime.AddDate(0, 0, -day)})
	}
	return out
}

func TestEvaluateBreeding_TwoActiveDays(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{72: heatSamples(6, 6)}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got, err := e.EvaluateBreeding(context.Background(), bessie)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.AlertKindPossibleHeat, got[0].Kind)
	assert.Equal(t, models.SeverityLow, got[0].Severity)
	assert.Equal(t, "Bessie may be in heat - elevated activity detected", got[0].Message)
}

func TestEvaluateBreeding_FiveSamplesIsNotEnough(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{72: heatSamples(6, 5, 5)}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got, err := e.EvaluateBreeding(context.Background(), bessie)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluateBreeding_Error(t *testing.T) {
	e := newTestEvaluator(&fakeHistory{samplesErr: errors.New("timeout")}, &fakeBoundaries{})

	_, err := e.EvaluateBreeding(context.Background(), bessie)

	assert.Error(t, err)
}

func TestEvaluate_HeatNotPartOfIngestion(t *testing.T) {
	h := &fakeHistory{samples: map[int][]models.LocationSample{72: heatSamples(6, 6)}}
	e := newTestEvaluator(h, &fakeBoundaries{})

	got := e.Evaluate(context.Background(), bessie, &models.LocationSample{ActivityLevel: 75})

	assert.Empty(t, got)
}
