package event

import (
	"log/slog"
	"sync"
	"time"
)

// Known event types published on the bus. Rule triggers match against these
// strings verbatim.
const (
	TypeCrisisDetected             = "crisis.detected"
	TypeWellbeingStatusChanged     = "wellbeing.status.changed"
	TypeWellbeingTrajectoryChanged = "wellbeing.trajectory.changed"
	TypeAssessmentCompleted        = "assessment.completed"
	TypeAssessmentScoreChanged     = "assessment.score.changed"
	TypeTaskCompleted              = "task.completed"
	TypeTaskOverdue                = "task.overdue"
	TypeSessionCompleted           = "session.completed"
)

// KnownTypes lists every event type the workflow engine subscribes to.
var KnownTypes = []string{
	TypeCrisisDetected,
	TypeWellbeingStatusChanged,
	TypeWellbeingTrajectoryChanged,
	TypeAssessmentCompleted,
	TypeAssessmentScoreChanged,
	TypeTaskCompleted,
	TypeTaskOverdue,
	TypeSessionCompleted,
}

// Event is an immutable typed event with a flat payload. Payload keys are
// matched verbatim by rule conditions.
type Event struct {
	Type      string
	Payload   map[string]interface{}
	Timestamp time.Time
}

// Handler consumes a single event. Each delivery runs in its own goroutine;
// handlers must tolerate concurrent invocations.
type Handler func(evt Event)

// Token identifies a subscription for later removal.
type Token uint64

// Bus is an in-process publish/subscribe mechanism keyed by event-type string.
type Bus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	next   Token
	subs   map[string]map[Token]Handler
	wg     sync.WaitGroup
}

// NewBus creates a new in-process event bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string]map[Token]Handler),
	}
}

// Subscribe registers a handler for an event type and returns a token that
// can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	token := b.next
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[Token]Handler)
	}
	b.subs[eventType][token] = handler

	b.logger.Debug("Subscribed to event type", "event_type", eventType, "token", token)
	return token
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(eventType string, token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[eventType]; ok {
		delete(handlers, token)
		if len(handlers) == 0 {
			delete(b.subs, eventType)
		}
	}
}

// Publish delivers an event to every subscriber of its type. Each handler
// runs in its own goroutine: passes for distinct events are independent and
// carry no cross-pass ordering guarantee.
func (b *Bus) Publish(eventType string, payload map[string]interface{}) {
	evt := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[eventType]))
	for _, h := range b.subs[eventType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("No subscribers for event", "event_type", eventType)
		return
	}

	for _, handler := range handlers {
		handler := handler
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			handler(evt)
		}()
	}
}

// Drain blocks until all in-flight deliveries have completed. Used during
// shutdown and in tests.
func (b *Bus) Drain() {
	b.wg.Wait()
}
