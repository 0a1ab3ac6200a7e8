package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTopic(t *testing.T) {
	kind, id, err := ParseTopic("farm:12")
	require.NoError(t, err)
	assert.Equal(t, TopicFarm, kind)
	assert.Equal(t, int64(12), id)

	kind, id, err = ParseTopic(AnimalTopic(7))
	require.NoError(t, err)
	assert.Equal(t, TopicAnimal, kind)
	assert.Equal(t, int64(7), id)

	for _, bad := range []string{"", "farm", "farm:", "farm:x", "farm:-1", "barn:1"} {
		_, _, err := ParseTopic(bad)
		assert.Error(t, err, bad)
	}
}

func TestHub_PublishToTopicSubscribers(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())

	farm, err := hub.Subscribe(FarmTopic(1))
	require.NoError(t, err)
	other, err := hub.Subscribe(FarmTopic(2))
	require.NoError(t, err)

	delivered := hub.Publish(Event{ID: "e1", Type: EventNewAlert, Topic: FarmTopic(1)})

	assert.Equal(t, 1, delivered)
	require.Len(t, farm.C(), 1)
	assert.Equal(t, "e1", (<-farm.C()).ID)
	assert.Len(t, other.C(), 0)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(2, nil, zap.NewNop())

	sub, err := hub.Subscribe(FarmTopic(1))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		hub.Publish(Event{Type: EventLocationUpdate, Topic: FarmTopic(1)})
	}

	assert.Len(t, sub.C(), 2)
}

func TestHub_JoinLeave(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())

	sub, err := hub.Subscribe()
	require.NoError(t, err)

	require.NoError(t, sub.Join(AnimalTopic(7)))
	assert.Error(t, sub.Join("pasture:1"))
	assert.Equal(t, 1, hub.SubscriberCount(AnimalTopic(7)))

	sub.Leave(AnimalTopic(7))
	sub.Leave(AnimalTopic(7))
	assert.Equal(t, 0, hub.SubscriberCount(AnimalTopic(7)))
	assert.Equal(t, 0, hub.Publish(Event{Topic: AnimalTopic(7)}))
}

func TestHub_SubscribeRejectsInvalidTopic(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())

	sub, err := hub.Subscribe(FarmTopic(1), "nope")

	assert.Error(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 0, hub.SubscriberCount(FarmTopic(1)))
}

func TestHub_CloseClosesChannel(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())

	sub, err := hub.Subscribe(FarmTopic(1))
	require.NoError(t, err)

	hub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Publish(Event{Topic: FarmTopic(1)}))
	assert.NoError(t, sub.Join(FarmTopic(1)))
	assert.Equal(t, 0, hub.SubscriberCount(FarmTopic(1)))
}

func TestHub_PublishNotificationAllTopics(t *testing.T) {
	hub := NewHub(4, nil, zap.NewNop())

	farm, err := hub.Subscribe(FarmTopic(5))
	require.NoError(t, err)
	animal, err := hub.Subscribe(AnimalTopic(7))
	require.NoError(t, err)

	n, err := NewNotification(EventNewAlert, map[string]int{"x": 1}, FarmTopic(5), AnimalTopic(7))
	require.NoError(t, err)

	assert.Equal(t, 2, hub.PublishNotification(n))

	fe := <-farm.C()
	ae := <-animal.C()
	assert.Equal(t, FarmTopic(5), fe.Topic)
	assert.Equal(t, AnimalTopic(7), ae.Topic)
	assert.Equal(t, fe.ID, ae.ID)
	assert.JSONEq(t, `{"x":1}`, string(fe.Payload))
}
