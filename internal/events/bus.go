// Package events provides the in-process publish/subscribe bus the
// simulation uses to announce state changes to the server layer.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a category of event
type EventType string

const (
	DayCompleted   EventType = "day_completed"
	PriceUpdated   EventType = "price_updated"
	TradeExecuted  EventType = "trade_executed"
	LoanOriginated EventType = "loan_originated"
	LoanRepaid     EventType = "loan_repaid"
	AgentBankrupt  EventType = "agent_bankrupt"
	AgentExited    EventType = "agent_exited"
	ForumPosted    EventType = "forum_posted"
	RunCompleted   EventType = "run_completed"
)

// Event is one published occurrence
type Event struct {
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(event *Event)

// Bus fans events out to subscribers by type
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
	log      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type. The returned cancel
// function removes the subscription; long-lived subscribers may ignore it.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Publish delivers the event to every subscriber of its type
func (b *Bus) Publish(source string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type]))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.log.Debug().
		Str("event", string(event.Type)).
		Str("source", source).
		Int("subscribers", len(handlers)).
		Msg("Publishing event")

	for _, h := range handlers {
		h(event)
	}
}
