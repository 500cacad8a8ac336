// Package domain provides core domain models and types.
package domain

// Asset identifies one of the two tradeable stocks
type Asset string

const (
	AssetA Asset = "A"
	AssetB Asset = "B"
)

// Valid reports whether the asset is one of the two known stocks
func (a Asset) Valid() bool {
	return a == AssetA || a == AssetB
}

// LoanType is a configured combination of duration and interest rate,
// selectable by index in loan decisions.
type LoanType struct {
	Name     string  `json:"name"`
	Duration int     `json:"duration"` // Term length in trading days
	Rate     float64 `json:"rate"`     // Interest rate per accrual period, applied directly at each accrual tick
}

// Loan is an outstanding loan on an agent's books.
// RepaymentDay is fixed at origination and never recomputed.
type Loan struct {
	Amount         float64 `json:"amount"`
	TypeIndex      int     `json:"loan_type"`
	OriginationDay int     `json:"origination_day"`
	RepaymentDay   int     `json:"repayment_date"`
}

// TradeKind is the action an agent takes in a trading session
type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
	TradeNone TradeKind = "no"
)

// LoanDecision is the validated outcome of a loan prompt.
// When Wants is false the other fields are meaningless.
type LoanDecision struct {
	Wants     bool    `json:"wants"`
	Amount    float64 `json:"amount,omitempty"`
	TypeIndex int     `json:"loan_type,omitempty"`
}

// NoLoan returns the neutral loan decision
func NoLoan() LoanDecision {
	return LoanDecision{}
}

// TradeDecision is the validated outcome of a trade prompt.
// Price is the agent's proposed price; settlement re-checks funds and
// holdings against whatever price actually applies.
type TradeDecision struct {
	Kind     TradeKind `json:"action_type"`
	Asset    Asset     `json:"stock,omitempty"`
	Quantity int       `json:"amount,omitempty"`
	Price    float64   `json:"price,omitempty"`
}

// NoTrade returns the neutral trade decision
func NoTrade() TradeDecision {
	return TradeDecision{Kind: TradeNone}
}

// ForecastDecision is the validated outcome of a next-day forecast prompt
type ForecastDecision struct {
	BuyA  bool `json:"buy_A"`
	BuyB  bool `json:"buy_B"`
	SellA bool `json:"sell_A"`
	SellB bool `json:"sell_B"`
	Loan  bool `json:"loan"`
}

// NoForecast returns the neutral all-"no" forecast
func NoForecast() ForecastDecision {
	return ForecastDecision{}
}

// Role tags a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in an agent's conversation history
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
