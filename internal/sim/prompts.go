package sim

import (
	"fmt"
	"strings"

	"github.com/aristath/stockagent/internal/agent"
	"github.com/aristath/stockagent/internal/domain"
)

// PromptBuilder composes the prompts sent to agents. Swappable so tests can
// run the driver with trivial prompts.
type PromptBuilder interface {
	System(a *agent.Agent, loanTypes []domain.LoanType) string
	Loan(a *agent.Agent, day int, maxLoan float64, context string) string
	Trade(a *agent.Agent, day int, priceA, priceB float64, context string) string
	Forecast(a *agent.Agent, day int) string
	Forum(a *agent.Agent, day int) string
	Retry(reason string) string
}

// TemplatePrompts is the default prompt builder
type TemplatePrompts struct{}

// NewTemplatePrompts creates the default prompt builder
func NewTemplatePrompts() *TemplatePrompts {
	return &TemplatePrompts{}
}

// System composes the once-per-run system prompt establishing the agent's
// persona and the rules of the market.
func (p *TemplatePrompts) System(a *agent.Agent, loanTypes []domain.LoanType) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are trader %d in a simulated stock market with two stocks, A and B. ", a.Order)
	fmt.Fprintf(&sb, "Your investment character is: %s. Act consistently with it.\n", a.Character)
	sb.WriteString("Each trading day you may take a loan, trade once, and forecast the next day.\n")
	sb.WriteString("Available loan types:\n")
	for i, lt := range loanTypes {
		fmt.Fprintf(&sb, "  %d: %s, %d trading days, interest rate %.3f per period\n", i, lt.Name, lt.Duration, lt.Rate)
	}
	sb.WriteString("Always answer with exactly one JSON object and no other braces.\n")
	return sb.String()
}

// Loan composes the daily loan prompt
func (p *TemplatePrompts) Loan(a *agent.Agent, day int, maxLoan float64, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Day %d. ", day)
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Your cash is %.2f, you hold %d shares of A and %d of B, and your outstanding debt is %.2f.\n",
		a.Ledger.Cash(), a.Ledger.Holding(domain.AssetA), a.Ledger.Holding(domain.AssetB), a.Ledger.TotalDebt())
	fmt.Fprintf(&sb, "You may borrow up to %.2f today.\n", maxLoan)
	sb.WriteString(`Decide whether to take a loan. Reply with one JSON object: ` +
		`{"loan": "yes", "loan_type": <index>, "amount": <number>} or {"loan": "no"}.`)
	return sb.String()
}

// Trade composes the daily trading prompt
func (p *TemplatePrompts) Trade(a *agent.Agent, day int, priceA, priceB float64, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Day %d trading session. Stock A trades at %.2f, stock B at %.2f.\n", day, priceA, priceB)
	if context != "" {
		sb.WriteString(context)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Your cash is %.2f, you hold %d shares of A and %d of B.\n",
		a.Ledger.Cash(), a.Ledger.Holding(domain.AssetA), a.Ledger.Holding(domain.AssetB))
	sb.WriteString(`Submit one order. Reply with one JSON object: ` +
		`{"action_type": "buy", "stock": "A"|"B", "amount": <integer>, "price": <number>}, ` +
		`the same shape with "action_type": "sell", or {"action_type": "no"}.`)
	return sb.String()
}

// Forecast composes the end-of-day forecast prompt
func (p *TemplatePrompts) Forecast(a *agent.Agent, day int) string {
	return fmt.Sprintf("Day %d is over. Estimate your actions for tomorrow. "+
		`Reply with one JSON object with exactly these keys, each "yes" or "no": `+
		`{"buy_A": ..., "buy_B": ..., "sell_A": ..., "sell_B": ..., "loan": ...}.`, day)
}

// Forum composes the end-of-day message-board prompt. The reply is free text.
func (p *TemplatePrompts) Forum(a *agent.Agent, day int) string {
	return fmt.Sprintf("Day %d is over. Post one short message (a sentence or two) to the trader "+
		"message board about today's market. Write plain text, no JSON.", day)
}

// Retry wraps a rejection reason into the follow-up prompt
func (p *TemplatePrompts) Retry(reason string) string {
	return fmt.Sprintf("Your reply was rejected: %s. Answer again with exactly one valid JSON object.", reason)
}

var _ PromptBuilder = (*TemplatePrompts)(nil)
