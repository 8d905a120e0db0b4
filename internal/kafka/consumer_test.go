package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/detector"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

func newTestConsumer(t *testing.T) (*Consumer, *event.Bus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(logger)

	return &Consumer{
		cfg: config.KafkaConfig{
			Topics: config.TopicsConfig{
				ClientMessages: "client-messages",
				Domain: map[string]string{
					"wellbeing-status-changed": event.TypeWellbeingStatusChanged,
				},
			},
		},
		detector: detector.NewLayeredDetector(nil, logger),
		bus:      bus,
		logger:   logger,
		metrics:  metrics.NewCollector(prometheus.NewRegistry()),
	}, bus
}

// collect records published events; read the slice only after bus.Drain.
func collect(bus *event.Bus, eventType string) *[]event.Event {
	var mu sync.Mutex
	var events []event.Event
	bus.Subscribe(eventType, func(evt event.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})
	return &events
}

func TestHandleClientMessageCrisis(t *testing.T) {
	c, bus := newTestConsumer(t)
	events := collect(bus, event.TypeCrisisDetected)

	c.handleClientMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: "client-messages",
		Value: []byte(`{"messageId":"m-1","clientId":"c-1","counselorId":"co-1","text":"I want to kill myself"}`),
	})
	bus.Drain()

	require.Len(t, *events, 1)
	evt := (*events)[0]
	assert.Equal(t, "c-1", evt.Payload["clientId"])
	assert.Equal(t, "m-1", evt.Payload["messageId"])
	assert.Equal(t, "high", evt.Payload["confidence"])
}

func TestHandleClientMessageNoCrisis(t *testing.T) {
	c, bus := newTestConsumer(t)
	events := collect(bus, event.TypeCrisisDetected)

	c.handleClientMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: "client-messages",
		Value: []byte(`{"messageId":"m-2","clientId":"c-1","text":"see you next week"}`),
	})
	bus.Drain()

	assert.Empty(t, *events)
}

func TestHandleClientMessageMalformed(t *testing.T) {
	c, bus := newTestConsumer(t)
	events := collect(bus, event.TypeCrisisDetected)

	c.handleClientMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: "client-messages",
		Value: []byte(`not json`),
	})
	bus.Drain()

	assert.Empty(t, *events)
}

func TestHandleDomainMessageRepublishes(t *testing.T) {
	c, bus := newTestConsumer(t)
	events := collect(bus, event.TypeWellbeingStatusChanged)

	c.handleDomainMessage(&sarama.ConsumerMessage{
		Topic: "wellbeing-status-changed",
		Value: []byte(`{"clientId":"c-3","previousStatus":"yellow","newStatus":"red"}`),
	})
	bus.Drain()

	require.Len(t, *events, 1)
	assert.Equal(t, "red", (*events)[0].Payload["newStatus"])
}

func TestHandleDomainMessageUnmappedTopic(t *testing.T) {
	c, bus := newTestConsumer(t)
	events := collect(bus, event.TypeWellbeingStatusChanged)

	c.handleDomainMessage(&sarama.ConsumerMessage{
		Topic: "unknown-topic",
		Value: []byte(`{}`),
	})
	bus.Drain()

	assert.Empty(t, *events)
}
