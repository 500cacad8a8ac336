package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/stockagent/internal/events"
)

// streamedEventTypes is everything the simulation publishes
var streamedEventTypes = []events.EventType{
	events.DayCompleted,
	events.PriceUpdated,
	events.TradeExecuted,
	events.LoanOriginated,
	events.LoanRepaid,
	events.AgentBankrupt,
	events.AgentExited,
	events.ForumPosted,
	events.RunCompleted,
}

// EventStreamHandler pushes simulation events to WebSocket clients
type EventStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventStreamHandler creates the event stream handler
func NewEventStreamHandler(bus *events.Bus, log zerolog.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_ws").Logger(),
	}
}

// handleEvents upgrades the connection and forwards events until the client
// disconnects. An optional "types" query parameter restricts the stream to a
// comma-separated subset of event types.
func (h *EventStreamHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var allowed map[events.EventType]bool
	if filter := r.URL.Query().Get("types"); filter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(filter, ",") {
			allowed[events.EventType(strings.TrimSpace(t))] = true
		}
	}

	// Buffered so a slow client drops events instead of blocking the step
	eventChan := make(chan *events.Event, 100)
	handler := func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event", string(event.Type)).Msg("Dropping event for slow client")
		}
	}

	var cancels []func()
	for _, eventType := range streamedEventTypes {
		if allowed != nil && !allowed[eventType] {
			continue
		}
		cancels = append(cancels, h.bus.Subscribe(eventType, handler))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Event stream client gone")
				return
			}
		}
	}
}
