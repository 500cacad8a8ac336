package agent

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/llm"
)

// Characters an agent can be assigned at creation. The character only feeds
// prompt context; it has no mechanical effect on the ledger.
var Characters = []string{"Conservative", "Aggressive", "Balanced", "Growth-Oriented"}

// Agent is one simulated market participant: a ledger plus the conversation
// history its decisions accumulate.
type Agent struct {
	Order           int
	ID              string
	Character       string
	Ledger          *Ledger
	Conv            *llm.Conversation
	InitialProperty float64
}

// EndowmentParams bounds the random starting endowment
type EndowmentParams struct {
	MinProperty   float64
	MaxProperty   float64
	PriceA        float64
	PriceB        float64
	RepaymentDays []int
}

// NewRandom creates an agent with a random character, a random endowment
// within the configured property bounds and one initial loan.
func NewRandom(order int, rng *rand.Rand, params EndowmentParams, loanTypes []domain.LoanType, log zerolog.Logger) *Agent {
	character := Characters[rng.Intn(len(Characters))]
	holdingA, holdingB, cash, debt := randomEndowment(rng, params, len(loanTypes))

	agentLog := log.With().Int("agent", order).Logger()
	ledger := NewLedger(cash, holdingA, holdingB, loanTypes, agentLog)
	ledger.loans = append(ledger.loans, debt)

	a := &Agent{
		Order:     order,
		ID:        uuid.NewString(),
		Character: character,
		Ledger:    ledger,
		Conv:      llm.NewConversation(),
	}
	a.InitialProperty = ledger.NetWorth(params.PriceA, params.PriceB)

	agentLog.Info().
		Str("character", character).
		Float64("cash", cash).
		Int("holding_a", holdingA).
		Int("holding_b", holdingB).
		Float64("initial_debt", debt.Amount).
		Msg("Agent initialized")
	return a
}

// randomEndowment draws holdings, cash and an initial debt until total
// property lands inside the configured bounds and the debt is covered by it.
func randomEndowment(rng *rand.Rand, params EndowmentParams, numLoanTypes int) (int, int, float64, domain.Loan) {
	var holdingA, holdingB int
	var cash, debtAmount float64

	for {
		holdingA = rng.Intn(int(params.MaxProperty/params.PriceA) + 1)
		holdingB = rng.Intn(int(params.MaxProperty/params.PriceB) + 1)
		cash = rng.Float64() * params.MaxProperty
		debtAmount = rng.Float64() * params.MaxProperty

		property := float64(holdingA)*params.PriceA + float64(holdingB)*params.PriceB + cash
		if property >= params.MinProperty && property <= params.MaxProperty && debtAmount <= property {
			break
		}
	}

	debt := domain.Loan{
		Amount:         debtAmount,
		TypeIndex:      rng.Intn(numLoanTypes),
		OriginationDay: 0,
		RepaymentDay:   params.RepaymentDays[rng.Intn(len(params.RepaymentDays))],
	}
	return holdingA, holdingB, cash, debt
}
