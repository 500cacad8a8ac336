// Package agent owns per-agent financial state and its mutation rules.
package agent

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/domain"
)

// BankruptcyOutcome is the result of a bankruptcy resolution pass
type BankruptcyOutcome string

const (
	// OutcomeNone means the agent was solvent and nothing happened
	OutcomeNone BankruptcyOutcome = "none"
	// OutcomeResolved means forced liquidation restored non-negative cash
	OutcomeResolved BankruptcyOutcome = "resolved"
	// OutcomeExited means the agent is irrecoverably insolvent and quit
	OutcomeExited BankruptcyOutcome = "exited"
)

// Ledger holds one agent's cash, holdings and loan book. All mutations go
// through its methods, which enforce the solvency and exit invariants. A
// ledger is owned by a single decision pipeline at a time; it is not safe
// for concurrent use.
type Ledger struct {
	cash      float64
	holdings  map[domain.Asset]int
	loans     []domain.Loan
	bankrupt  bool
	exited    bool
	loanTypes []domain.LoanType
	log       zerolog.Logger
}

// NewLedger creates a ledger with the given starting endowment
func NewLedger(cash float64, holdingA, holdingB int, loanTypes []domain.LoanType, log zerolog.Logger) *Ledger {
	return &Ledger{
		cash: cash,
		holdings: map[domain.Asset]int{
			domain.AssetA: holdingA,
			domain.AssetB: holdingB,
		},
		loanTypes: loanTypes,
		log:       log,
	}
}

// Cash returns current cash; transiently negative while bankrupt
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Holding returns the current position in one asset
func (l *Ledger) Holding(asset domain.Asset) int {
	return l.holdings[asset]
}

// Holdings returns a copy of both positions
func (l *Ledger) Holdings() map[domain.Asset]int {
	out := make(map[domain.Asset]int, len(l.holdings))
	for k, v := range l.holdings {
		out[k] = v
	}
	return out
}

// Loans returns a copy of the loan book
func (l *Ledger) Loans() []domain.Loan {
	out := make([]domain.Loan, len(l.loans))
	copy(out, l.loans)
	return out
}

// IsBankrupt reports whether the agent currently has unresolved negative cash
func (l *Ledger) IsBankrupt() bool {
	return l.bankrupt
}

// HasExited reports whether the agent has quit the simulation for good
func (l *Ledger) HasExited() bool {
	return l.exited
}

// NetWorth returns marked-to-market total property
func (l *Ledger) NetWorth(priceA, priceB float64) float64 {
	return l.cash +
		float64(l.holdings[domain.AssetA])*priceA +
		float64(l.holdings[domain.AssetB])*priceB
}

// TotalDebt returns the sum of outstanding loan principals
func (l *Ledger) TotalDebt() float64 {
	total := 0.0
	for _, loan := range l.loans {
		total += loan.Amount
	}
	return total
}

// TakeLoan appends the loan and credits its principal to cash. Returns false
// for exited agents or loans with an unknown type.
func (l *Ledger) TakeLoan(loan domain.Loan) bool {
	if l.exited {
		return false
	}
	if loan.TypeIndex < 0 || loan.TypeIndex >= len(l.loanTypes) || loan.Amount <= 0 {
		l.log.Warn().Int("loan_type", loan.TypeIndex).Float64("amount", loan.Amount).Msg("Rejected illegal loan")
		return false
	}

	l.loans = append(l.loans, loan)
	l.cash += loan.Amount

	l.log.Info().
		Float64("amount", loan.Amount).
		Int("loan_type", loan.TypeIndex).
		Int("repayment_day", loan.RepaymentDay).
		Float64("cash", l.cash).
		Msg("Loan originated")
	return true
}

// Buy settles a purchase at the given price. The funds check re-runs here
// because the settlement price may differ from the price the decision was
// validated against. No mutation happens on rejection.
func (l *Ledger) Buy(asset domain.Asset, price float64, quantity int) bool {
	if l.exited {
		return false
	}
	if !asset.Valid() || quantity <= 0 || price <= 0 {
		return false
	}

	cost := price * float64(quantity)
	if cost > l.cash {
		l.log.Warn().
			Str("asset", string(asset)).
			Int("quantity", quantity).
			Float64("price", price).
			Float64("cash", l.cash).
			Msg("Illegal buy, insufficient cash")
		return false
	}

	l.cash -= cost
	l.holdings[asset] += quantity

	l.log.Info().
		Str("asset", string(asset)).
		Int("quantity", quantity).
		Float64("price", price).
		Float64("cash", l.cash).
		Msg("Bought stock")
	return true
}

// Sell settles a sale at the given price. Rejects without mutation when the
// position is too small.
func (l *Ledger) Sell(asset domain.Asset, price float64, quantity int) bool {
	if l.exited {
		return false
	}
	if !asset.Valid() || quantity <= 0 || price <= 0 {
		return false
	}

	if quantity > l.holdings[asset] {
		l.log.Warn().
			Str("asset", string(asset)).
			Int("quantity", quantity).
			Int("holding", l.holdings[asset]).
			Msg("Illegal sell, insufficient holdings")
		return false
	}

	l.holdings[asset] -= quantity
	l.cash += price * float64(quantity)

	l.log.Info().
		Str("asset", string(asset)).
		Int("quantity", quantity).
		Float64("price", price).
		Float64("cash", l.cash).
		Msg("Sold stock")
	return true
}

// AccrueInterest charges one period of interest on every active loan. Rates
// are configured per accrual period and applied directly; no annualization
// happens here. Negative cash afterwards marks the agent bankrupt, but
// liquidation is a separate explicit pass. Returns the total charged.
func (l *Ledger) AccrueInterest() float64 {
	if l.exited {
		return 0
	}

	charged := 0.0
	for _, loan := range l.loans {
		interest := loan.Amount * l.loanTypes[loan.TypeIndex].Rate
		l.cash -= interest
		charged += interest
	}

	if charged > 0 {
		l.log.Info().Float64("interest", charged).Float64("cash", l.cash).Msg("Interest charged")
	}
	l.checkSolvency("interest accrual")
	return charged
}

// Repay settles every loan whose repayment day is the given day, debiting
// principal plus one term of interest and removing the loan. Negative cash
// afterwards marks the agent bankrupt. Returns the repaid loans.
func (l *Ledger) Repay(day int) []domain.Loan {
	if l.exited {
		return nil
	}

	var repaid []domain.Loan
	remaining := l.loans[:0]
	for _, loan := range l.loans {
		if loan.RepaymentDay != day {
			remaining = append(remaining, loan)
			continue
		}
		payment := loan.Amount * (1 + l.loanTypes[loan.TypeIndex].Rate)
		l.cash -= payment
		repaid = append(repaid, loan)
		l.log.Info().
			Float64("principal", loan.Amount).
			Float64("payment", payment).
			Float64("cash", l.cash).
			Msg("Loan repaid")
	}
	l.loans = remaining

	l.checkSolvency("loan repayment")
	return repaid
}

// ResolveBankruptcy force-liquidates holdings to restore non-negative cash.
// Idempotent: solvent agents are untouched. Asset A is always liquidated
// before asset B, in just enough whole units (rounded up) to cover the
// deficit. An agent whose total net worth is negative, or whose cash stays
// negative after selling everything, exits the simulation permanently.
func (l *Ledger) ResolveBankruptcy(priceA, priceB float64) BankruptcyOutcome {
	if l.exited {
		return OutcomeNone
	}
	if !l.bankrupt && l.cash >= 0 {
		return OutcomeNone
	}

	l.log.Info().
		Float64("cash", l.cash).
		Int("holding_a", l.holdings[domain.AssetA]).
		Int("holding_b", l.holdings[domain.AssetB]).
		Msg("Starting bankruptcy resolution")

	if l.NetWorth(priceA, priceB) < 0 {
		// Irrecoverably insolvent: everything goes, the agent quits
		l.liquidateAll(priceA, priceB)
		l.exited = true
		l.bankrupt = true
		l.log.Warn().Float64("cash", l.cash).Msg("Agent irrecoverably insolvent, exiting")
		return OutcomeExited
	}

	l.liquidateAsset(domain.AssetA, priceA)
	if l.cash < 0 {
		l.liquidateAsset(domain.AssetB, priceB)
	}

	if l.cash < 0 {
		l.exited = true
		l.bankrupt = true
		l.log.Warn().Float64("cash", l.cash).Msg("Cash still negative after full liquidation, exiting")
		return OutcomeExited
	}

	l.bankrupt = false
	l.log.Info().
		Float64("cash", l.cash).
		Int("holding_a", l.holdings[domain.AssetA]).
		Int("holding_b", l.holdings[domain.AssetB]).
		Msg("Bankruptcy resolved")
	return OutcomeResolved
}

// liquidateAsset sells just enough whole units to cover the cash deficit, or
// the whole position if that is not enough.
func (l *Ledger) liquidateAsset(asset domain.Asset, price float64) {
	if l.cash >= 0 || l.holdings[asset] == 0 || price <= 0 {
		return
	}

	deficit := -l.cash
	units := int(math.Ceil(deficit / price))
	if units > l.holdings[asset] {
		units = l.holdings[asset]
	}

	l.holdings[asset] -= units
	l.cash += float64(units) * price

	l.log.Info().
		Str("asset", string(asset)).
		Int("units", units).
		Float64("cash", l.cash).
		Msg("Force-liquidated holdings")
}

func (l *Ledger) liquidateAll(priceA, priceB float64) {
	l.cash += float64(l.holdings[domain.AssetA]) * priceA
	l.cash += float64(l.holdings[domain.AssetB]) * priceB
	l.holdings[domain.AssetA] = 0
	l.holdings[domain.AssetB] = 0
}

func (l *Ledger) checkSolvency(cause string) {
	if l.cash < 0 && !l.bankrupt {
		l.bankrupt = true
		l.log.Warn().Float64("cash", l.cash).Str("cause", cause).Msg("Cash went negative, agent is bankrupt")
	}
}
