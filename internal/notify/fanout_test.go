package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"herdwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	seen  []Notification
	err   error
	block chan struct{}
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Handle(ctx context.Context, n Notification) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func testAlertView() models.AlertView {
	return models.AlertView{
		ID:         "a-1",
		Kind:       models.AlertKindOutOfBounds,
		Title:      "🚨 Animal Out of Bounds",
		Severity:   models.SeverityHigh,
		Message:    "Bessie has left the farm boundaries",
		AnimalID:   7,
		AnimalName: "Bessie",
		FarmID:     5,
		CreatedAt:  time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanout_NotifyAlertReachesFarmAndAnimalTopics(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())
	sink := &recordingSink{}
	d := NewDispatcher(8, 1, nil, zap.NewNop(), sink)
	d.Start(context.Background())
	defer d.Stop()

	farm, err := hub.Subscribe(FarmTopic(5))
	require.NoError(t, err)
	animal, err := hub.Subscribe(AnimalTopic(7))
	require.NoError(t, err)

	f := NewFanout(hub, d, zap.NewNop())
	f.NotifyAlert(context.Background(), testAlertView())

	ev := <-farm.C()
	assert.Equal(t, EventNewAlert, ev.Type)
	var got models.AlertView
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, "🚨 Animal Out of Bounds", got.Title)

	assert.Len(t, animal.C(), 1)
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFanout_PublishLocation(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())
	f := NewFanout(hub, nil, zap.NewNop())

	animal, err := hub.Subscribe(AnimalTopic(7))
	require.NoError(t, err)

	f.PublishLocation(context.Background(), models.LocationUpdate{
		AnimalID:   7,
		AnimalName: "Bessie",
		FarmID:     5,
		Location:   models.LocationView{Latitude: 1, Longitude: 2},
	})

	ev := <-animal.C()
	assert.Equal(t, EventLocationUpdate, ev.Type)
	assert.Equal(t, AnimalTopic(7), ev.Topic)

	var got models.LocationUpdate
	require.NoError(t, json.Unmarshal(ev.Payload, &got))
	assert.Equal(t, 2.0, got.Location.Longitude)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(1, 1, nil, zap.NewNop(), sink)

	// worker 未启动，队列容量 1
	assert.True(t, d.Dispatch(Notification{Event: Event{ID: "1"}}))
	assert.False(t, d.Dispatch(Notification{Event: Event{ID: "2"}}))

	close(sink.block)
	d.Start(context.Background())
	defer d.Stop()
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_SinkErrorDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	d := NewDispatcher(8, 2, nil, zap.NewNop(), failing, ok)
	d.Start(context.Background())
	defer d.Stop()

	d.Dispatch(Notification{Event: Event{ID: "1", Type: EventNewAlert}})

	assert.Eventually(t, func() bool { return ok.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, failing.count())
}

func TestDispatcher_NoSinks(t *testing.T) {
	d := NewDispatcher(1, 1, nil, zap.NewNop())
	assert.False(t, d.Dispatch(Notification{}))
	d.Stop()
}
