package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// Handler processes one event. Errors and panics never reach the publisher.
type Handler func(Event)

// Bus is a synchronous in-process publish/subscribe bus. Delivery is in
// publication order per subscriber; subscriber failures are logged and
// swallowed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]Handler
	log         *logger.Logger
}

// NewBus creates an empty bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Kind][]Handler),
		log:         log.WithComponent("event-bus"),
	}
}

// Subscribe registers a handler for the given event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[kind] = append(b.subscribers[kind], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	for _, kind := range []Kind{
		ThreatIngested, AssociationCreated, RiskAssessmentCompleted,
		ReportGenerated, NotificationRuleUpdated, TicketStatusUpdated,
		CollectionFailureAlert,
	} {
		b.Subscribe(kind, h)
	}
}

// Publish dispatches the event to every subscriber of its kind. Publishers
// must call this only after their transaction has committed.
func (b *Bus) Publish(kind Kind, payload any) {
	event := Event{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subscribers[kind]))
	copy(handlers, b.subscribers[kind])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h)
	}
}

// dispatch invokes one handler, containing panics and never propagating
// errors to the publisher.
func (b *Bus) dispatch(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panic swallowed",
				"kind", event.Kind,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()

	h(event)
}
