package decision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/llm"
	"github.com/aristath/stockagent/internal/secretary"
)

// scriptedTransport replays canned replies in order; a nil entry simulates a
// transport failure.
type scriptedTransport struct {
	replies []*string
	calls   int
	history [][]domain.Message
}

func reply(s string) *string { return &s }

func (t *scriptedTransport) Chat(ctx context.Context, history []domain.Message) (string, error) {
	t.history = append(t.history, history)
	if t.calls >= len(t.replies) {
		return "", errors.New("script exhausted")
	}
	r := t.replies[t.calls]
	t.calls++
	if r == nil {
		return "", errors.New("transport unavailable")
	}
	return *r, nil
}

func loanRequest(sec *secretary.Secretary, maxLoan float64) Request[domain.LoanDecision] {
	return Request[domain.LoanDecision]{
		Kind:   "loan",
		Prompt: "decide whether to take a loan",
		RetryPrompt: func(reason string) string {
			return fmt.Sprintf("your reply was rejected: %s, try again", reason)
		},
		Validate: func(r string) (domain.LoanDecision, error) {
			return sec.CheckLoan(r, maxLoan, 3)
		},
		Neutral: domain.NoLoan(),
	}
}

func TestDecide_AcceptsFirstAttempt(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	transport := &scriptedTransport{replies: []*string{
		reply(`{"loan": "yes", "loan_type": 0, "amount": 100}`),
	}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 500))
	assert.True(t, dec.Wants)
	assert.Equal(t, 1, transport.calls)
	// prompt + reply recorded
	assert.Equal(t, 2, conv.Len())
}

func TestDecide_RetriesWithReasonThenAccepts(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	transport := &scriptedTransport{replies: []*string{
		reply(`no braces here`),
		reply(`{"loan": "no"}`),
	}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 500))
	assert.False(t, dec.Wants)
	assert.Equal(t, 2, transport.calls)

	// The second prompt embeds the first rejection reason
	second := transport.history[1]
	retryPrompt := second[len(second)-1]
	assert.Equal(t, domain.RoleUser, retryPrompt.Role)
	assert.Contains(t, retryPrompt.Content, "rejected")
}

func TestDecide_NeverExceedsMaxAttempts(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	bad := reply(`not json at all`)
	transport := &scriptedTransport{replies: []*string{bad, bad, bad, bad, bad}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 500))
	assert.Equal(t, domain.NoLoan(), dec)
	assert.Equal(t, 3, transport.calls)
}

func TestDecide_AmountExceedsMaxLoanScenario(t *testing.T) {
	// Loan reply asking for 200 with max_loan 150 keeps getting rejected;
	// after the budget runs out the decision degrades to "no loan".
	sec := secretary.New(zerolog.Nop())
	over := reply(`{"loan": "yes", "loan_type": 0, "amount": 200}`)
	transport := &scriptedTransport{replies: []*string{over, over, over}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 150))
	assert.False(t, dec.Wants)
	assert.Equal(t, 3, transport.calls)

	// Every retry prompt carried the max_loan reason
	for i := 1; i < len(transport.history); i++ {
		h := transport.history[i]
		assert.Contains(t, h[len(h)-1].Content, "max_loan")
	}
}

func TestDecide_TransportFailureShortCircuits(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	transport := &scriptedTransport{replies: []*string{nil}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 500))
	assert.Equal(t, domain.NoLoan(), dec)
	assert.Equal(t, 1, transport.calls) // no decision-layer retry on transport failure
}

func TestDecide_TransportFailureMidRetry(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	transport := &scriptedTransport{replies: []*string{
		reply(`garbage`),
		nil,
	}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, loanRequest(sec, 500))
	assert.Equal(t, domain.NoLoan(), dec)
	assert.Equal(t, 2, transport.calls)
}

func TestDecide_ForecastNeutralDefault(t *testing.T) {
	sec := secretary.New(zerolog.Nop())
	bad := reply(`{"buy_A": "yes"}`)
	transport := &scriptedTransport{replies: []*string{bad, bad, bad}}
	m := NewMaker(transport, 3, zerolog.Nop())
	conv := llm.NewConversation()

	dec := Decide(context.Background(), m, conv, Request[domain.ForecastDecision]{
		Kind:        "forecast",
		Prompt:      "forecast tomorrow",
		RetryPrompt: func(reason string) string { return "rejected: " + reason },
		Validate:    sec.CheckForecast,
		Neutral:     domain.NoForecast(),
	})
	assert.Equal(t, domain.NoForecast(), dec)
}

func TestNewMaker_DefaultsBadBudget(t *testing.T) {
	m := NewMaker(&scriptedTransport{}, 0, zerolog.Nop())
	require.Equal(t, DefaultMaxAttempts, m.MaxAttempts())
}
