package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// DayCompletedData contains data for DayCompleted events
type DayCompletedData struct {
	Day          int     `json:"day"`
	ActiveAgents int     `json:"active_agents"`
	ExitedAgents int     `json:"exited_agents"`
	PriceA       float64 `json:"price_a"`
	PriceB       float64 `json:"price_b"`
}

// EventType returns the event type for DayCompletedData
func (d *DayCompletedData) EventType() EventType {
	return DayCompleted
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	Asset string  `json:"asset"`
	Price float64 `json:"price"`
	Day   int     `json:"day"`
}

// EventType returns the event type for PriceUpdatedData
func (d *PriceUpdatedData) EventType() EventType {
	return PriceUpdated
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	AgentID  string  `json:"agent_id"`
	Asset    string  `json:"asset"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Day      int     `json:"day"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// LoanOriginatedData contains data for LoanOriginated events
type LoanOriginatedData struct {
	AgentID      string  `json:"agent_id"`
	Amount       float64 `json:"amount"`
	LoanType     int     `json:"loan_type"`
	RepaymentDay int     `json:"repayment_day"`
	Day          int     `json:"day"`
}

// EventType returns the event type for LoanOriginatedData
func (d *LoanOriginatedData) EventType() EventType {
	return LoanOriginated
}

// LoanRepaidData contains data for LoanRepaid events
type LoanRepaidData struct {
	AgentID string  `json:"agent_id"`
	Amount  float64 `json:"amount"`
	Day     int     `json:"day"`
}

// EventType returns the event type for LoanRepaidData
func (d *LoanRepaidData) EventType() EventType {
	return LoanRepaid
}

// AgentBankruptData contains data for AgentBankrupt events
type AgentBankruptData struct {
	AgentID string  `json:"agent_id"`
	Cash    float64 `json:"cash"`
	Day     int     `json:"day"`
}

// EventType returns the event type for AgentBankruptData
func (d *AgentBankruptData) EventType() EventType {
	return AgentBankrupt
}

// AgentExitedData contains data for AgentExited events
type AgentExitedData struct {
	AgentID string  `json:"agent_id"`
	Cash    float64 `json:"cash"`
	Day     int     `json:"day"`
}

// EventType returns the event type for AgentExitedData
func (d *AgentExitedData) EventType() EventType {
	return AgentExited
}

// ForumPostedData contains data for ForumPosted events
type ForumPostedData struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
	Day     int    `json:"day"`
}

// EventType returns the event type for ForumPostedData
func (d *ForumPostedData) EventType() EventType {
	return ForumPosted
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID     string `json:"run_id"`
	TotalDays int    `json:"total_days"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}
