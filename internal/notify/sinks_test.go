package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"herdwatch/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func alertNotification(t *testing.T, v models.AlertView) Notification {
	n, err := NewNotification(EventNewAlert, v, FarmTopic(v.FarmID), AnimalTopic(v.AnimalID))
	require.NoError(t, err)
	return n
}

// ============================================
// Redis Stream
// ============================================

func TestStreamSink_AppendsAlerts(t *testing.T) {
	mr, client := setupMiniredis(t)
	sink := NewStreamSink(client, "herdwatch:alerts:stream", 100)

	require.NoError(t, sink.Handle(context.Background(), alertNotification(t, testAlertView())))

	loc, err := NewNotification(EventLocationUpdate, models.LocationUpdate{AnimalID: 7}, AnimalTopic(7))
	require.NoError(t, err)
	require.NoError(t, sink.Handle(context.Background(), loc))

	entries, err := mr.Stream("herdwatch:alerts:stream")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "NewAlert", values["type"])

	var got models.AlertView
	require.NoError(t, json.Unmarshal([]byte(values["data"]), &got))
	assert.Equal(t, "a-1", got.ID)
}

// ============================================
// Redis 转发
// ============================================

func TestRedisRelay_DeliversToOtherInstances(t *testing.T) {
	_, client := setupMiniredis(t)

	localHub := NewHub(4, nil, zap.NewNop())
	remoteHub := NewHub(4, nil, zap.NewNop())
	local := NewRedisRelay(client, "herdwatch:events", localHub, zap.NewNop())
	remote := NewRedisRelay(client, "herdwatch:events", remoteHub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, local.Start(ctx))
	defer local.Stop()
	require.NoError(t, remote.Start(ctx))
	defer remote.Stop()

	localSub, err := localHub.Subscribe(FarmTopic(5))
	require.NoError(t, err)
	remoteSub, err := remoteHub.Subscribe(FarmTopic(5))
	require.NoError(t, err)

	n := alertNotification(t, testAlertView())
	require.NoError(t, local.Handle(ctx, n))

	select {
	case ev := <-remoteSub.C():
		assert.Equal(t, n.ID, ev.ID)
		assert.Equal(t, FarmTopic(5), ev.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event not received")
	}

	// 本实例产生的通知不会被回投
	select {
	case ev := <-localSub.C():
		t.Fatalf("unexpected echo: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisRelay_IgnoresForeignOrigin(t *testing.T) {
	_, client := setupMiniredis(t)
	relay := NewRedisRelay(client, "herdwatch:events", NewHub(4, nil, zap.NewNop()), zap.NewNop())

	n := alertNotification(t, testAlertView())
	n.Origin = "another-instance"

	assert.NoError(t, relay.Handle(context.Background(), n))
}

// ============================================
// Kafka
// ============================================

type fakeKafkaWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_KeyedByAnimal(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := newKafkaSinkWithWriter(w, "herd-alerts")

	require.NoError(t, sink.Handle(context.Background(), alertNotification(t, testAlertView())))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "7", string(w.msgs[0].Key))
	var got models.AlertView
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "a-1", got.ID)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_SkipsLocationAndReportsErrors(t *testing.T) {
	w := &fakeKafkaWriter{}
	sink := newKafkaSinkWithWriter(w, "herd-alerts")

	loc, err := NewNotification(EventLocationUpdate, models.LocationUpdate{AnimalID: 7}, AnimalTopic(7))
	require.NoError(t, err)
	require.NoError(t, sink.Handle(context.Background(), loc))
	assert.Empty(t, w.msgs)

	w.err = errors.New("broker unavailable")
	assert.Error(t, sink.Handle(context.Background(), alertNotification(t, testAlertView())))
}

// ============================================
// Webhook
// ============================================

func TestWebhookSink_OnlyHighSeverity(t *testing.T) {
	var calls atomic.Int32
	var received WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())

	medium := testAlertView()
	medium.Severity = models.SeverityMedium
	require.NoError(t, sink.Handle(context.Background(), alertNotification(t, medium)))
	assert.Equal(t, int32(0), calls.Load())

	n := alertNotification(t, testAlertView())
	require.NoError(t, sink.Handle(context.Background(), n))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, n.ID, received.EventID)
	assert.Equal(t, "a-1", received.Alert.ID)
}

func TestWebhookSink_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, zap.NewNop())

	assert.Error(t, sink.Handle(context.Background(), alertNotification(t, testAlertView())))
}
