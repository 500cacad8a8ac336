// Package decision implements the bounded ask-validate-retry protocol shared
// by all three decision kinds (loan, trade, forecast).
//
// The contract: at most maxAttempts transport calls per decision. A transport
// failure short-circuits to the kind's neutral default without further
// retries. A rejected reply is retried with the rejection reason embedded in
// the next prompt. Exhausting the budget also yields the neutral default.
// A misbehaving model can make an agent abstain, never stall the simulation.
package decision

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/llm"
)

// DefaultMaxAttempts is the transport-call budget per decision
const DefaultMaxAttempts = 3

// Validator parses and validates one raw reply into a structured result
type Validator[T any] func(reply string) (T, error)

// Request describes one decision to solicit
type Request[T any] struct {
	Kind        string // loan, trade or forecast; used for logging only
	Prompt      string // Fully composed prompt for the first attempt
	RetryPrompt func(reason string) string
	Validate    Validator[T]
	Neutral     T // Returned on transport failure or retry exhaustion
}

// Maker drives decisions through the transport
type Maker struct {
	transport   llm.Transport
	maxAttempts int
	log         zerolog.Logger
}

// NewMaker creates a decision maker. maxAttempts values below one fall back
// to DefaultMaxAttempts.
func NewMaker(transport llm.Transport, maxAttempts int, log zerolog.Logger) *Maker {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Maker{
		transport:   transport,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "decision").Logger(),
	}
}

// MaxAttempts returns the configured transport-call budget
func (m *Maker) MaxAttempts() int {
	return m.maxAttempts
}

// Chat sends the history through the transport without validation. Used for
// free-text solicitations that have no structured result.
func (m *Maker) Chat(ctx context.Context, history []domain.Message) (string, error) {
	return m.transport.Chat(ctx, history)
}

// Decide runs the retry protocol for one decision. Both the prompt and every
// reply are appended to conv, so later decisions see the full dialogue.
func Decide[T any](ctx context.Context, m *Maker, conv *llm.Conversation, req Request[T]) T {
	prompt := req.Prompt

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		conv.Append(domain.RoleUser, prompt)

		reply, err := m.transport.Chat(ctx, conv.Messages())
		if err != nil || reply == "" {
			// Transport failure is not retried here; the transport carries
			// its own retry policy and has already given up.
			m.log.Warn().
				Err(err).
				Str("kind", req.Kind).
				Int("attempt", attempt).
				Msg("Transport failed, using neutral default")
			return req.Neutral
		}
		conv.Append(domain.RoleAssistant, reply)

		result, verr := req.Validate(reply)
		if verr == nil {
			m.log.Debug().
				Str("kind", req.Kind).
				Int("attempt", attempt).
				Msg("Decision accepted")
			return result
		}

		m.log.Debug().
			Str("kind", req.Kind).
			Int("attempt", attempt).
			Str("reason", verr.Error()).
			Msg("Decision rejected")

		if attempt < m.maxAttempts {
			prompt = req.RetryPrompt(verr.Error())
		}
	}

	m.log.Warn().
		Str("kind", req.Kind).
		Int("max_attempts", m.maxAttempts).
		Msg("Retry budget exhausted, using neutral default")
	return req.Neutral
}
