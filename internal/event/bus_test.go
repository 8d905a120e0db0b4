package event

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	var received []Event
	bus.Subscribe(TypeCrisisDetected, func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, evt)
	})

	bus.Publish(TypeCrisisDetected, map[string]interface{}{"clientId": "c-1"})
	bus.Drain()

	require.Len(t, received, 1)
	assert.Equal(t, TypeCrisisDetected, received[0].Type)
	assert.Equal(t, "c-1", received[0].Payload["clientId"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	counts := map[string]int{}
	subscribe := func(eventType string) {
		bus.Subscribe(eventType, func(Event) {
			mu.Lock()
			defer mu.Unlock()
			counts[eventType]++
		})
	}
	subscribe(TypeTaskOverdue)
	subscribe(TypeSessionCompleted)

	bus.Publish(TypeTaskOverdue, nil)
	bus.Drain()

	assert.Equal(t, 1, counts[TypeTaskOverdue])
	assert.Zero(t, counts[TypeSessionCompleted])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := testBus()

	var mu sync.Mutex
	calls := 0
	token := bus.Subscribe(TypeTaskCompleted, func(Event) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	bus.Publish(TypeTaskCompleted, nil)
	bus.Drain()
	bus.Unsubscribe(TypeTaskCompleted, token)
	bus.Publish(TypeTaskCompleted, nil)
	bus.Drain()

	assert.Equal(t, 1, calls)
}

func TestPublishFansOut(t *testing.T) {
	bus := testBus()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(TypeAssessmentCompleted, func(Event) { wg.Done() })
	}

	bus.Publish(TypeAssessmentCompleted, map[string]interface{}{"clientId": "c-2"})
	wg.Wait()
	bus.Drain()
}
