// Package sim drives the day-by-day simulation loop: every agent takes its
// loan, trading, forecast and forum turns, the ledgers settle, and the
// results are persisted and published.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/stockagent/internal/agent"
	"github.com/aristath/stockagent/internal/config"
	"github.com/aristath/stockagent/internal/decision"
	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/events"
	"github.com/aristath/stockagent/internal/market"
	"github.com/aristath/stockagent/internal/report"
	"github.com/aristath/stockagent/internal/secretary"
	"github.com/aristath/stockagent/internal/storage"
)

// Driver advances the simulation one trading day at a time
type Driver struct {
	cfg     config.SimConfig
	agents  []*agent.Agent
	quotes  *market.QuoteBoard
	maker   *decision.Maker
	sec     *secretary.Secretary
	store   *storage.RunStore
	reports *report.Builder
	bus     *events.Bus
	prompts PromptBuilder
	log     zerolog.Logger

	runID string

	mu  sync.Mutex // Serializes StepDay; one day runs at a time
	day int
}

// agentDayResult collects what one agent did during a day, so persistence
// and event publishing can happen after the concurrent phase.
type agentDayResult struct {
	agent    *agent.Agent
	loan     *domain.Loan
	trade    *storage.TradeRecord
	repaid   []domain.Loan
	interest float64
	outcome  agent.BankruptcyOutcome
	forecast domain.ForecastDecision
	forum    string
}

// NewDriver creates the run, its agents and their opening ledgers, and
// registers everything in storage.
func NewDriver(
	cfg config.SimConfig,
	quotes *market.QuoteBoard,
	maker *decision.Maker,
	sec *secretary.Secretary,
	store *storage.RunStore,
	reports *report.Builder,
	bus *events.Bus,
	prompts PromptBuilder,
	log zerolog.Logger,
) (*Driver, error) {
	d := &Driver{
		cfg:     cfg,
		quotes:  quotes,
		maker:   maker,
		sec:     sec,
		store:   store,
		reports: reports,
		bus:     bus,
		prompts: prompts,
		log:     log.With().Str("component", "sim").Logger(),
		runID:   uuid.NewString(),
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	params := agent.EndowmentParams{
		MinProperty:   cfg.MinInitialProperty,
		MaxProperty:   cfg.MaxInitialProperty,
		PriceA:        cfg.InitialPriceA,
		PriceB:        cfg.InitialPriceB,
		RepaymentDays: cfg.RepaymentDays,
	}

	records := make([]storage.AgentRecord, 0, cfg.Agents)
	for i := 0; i < cfg.Agents; i++ {
		a := agent.NewRandom(i, rng, params, cfg.LoanTypes, log)
		a.Conv.Append(domain.RoleSystem, prompts.System(a, cfg.LoanTypes))
		d.agents = append(d.agents, a)
		records = append(records, storage.AgentRecord{
			AgentID:         a.ID,
			Order:           a.Order,
			Character:       a.Character,
			InitialProperty: a.InitialProperty,
		})
	}

	if err := store.CreateRun(d.runID, cfg.TotalDays, records); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	d.log.Info().
		Str("run_id", d.runID).
		Int("agents", cfg.Agents).
		Int("total_days", cfg.TotalDays).
		Msg("Simulation initialized")
	return d, nil
}

// RunID returns the identifier of this run
func (d *Driver) RunID() string {
	return d.runID
}

// Day returns the last completed day, zero before the first step
func (d *Driver) Day() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.day
}

// Done reports whether the run has reached its final day
func (d *Driver) Done() bool {
	return d.Day() >= d.cfg.TotalDays
}

// Agents returns the agents of this run
func (d *Driver) Agents() []*agent.Agent {
	return d.agents
}

// AgentState is a read-only view of one agent's ledger at a step boundary
type AgentState struct {
	Order           int
	ID              string
	Character       string
	Cash            float64
	HoldingA        int
	HoldingB        int
	NetWorth        float64
	TotalDebt       float64
	InitialProperty float64
	Bankrupt        bool
	Exited          bool
	Loans           []domain.Loan
}

// AgentStates copies every agent's ledger under the step mutex. Ledgers are
// not safe for concurrent use, so live reads must go through this snapshot
// rather than the agents themselves.
func (d *Driver) AgentStates() []AgentState {
	d.mu.Lock()
	defer d.mu.Unlock()

	priceA, priceB := d.quotes.Snapshot()
	out := make([]AgentState, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, AgentState{
			Order:           a.Order,
			ID:              a.ID,
			Character:       a.Character,
			Cash:            a.Ledger.Cash(),
			HoldingA:        a.Ledger.Holding(domain.AssetA),
			HoldingB:        a.Ledger.Holding(domain.AssetB),
			NetWorth:        a.Ledger.NetWorth(priceA, priceB),
			TotalDebt:       a.Ledger.TotalDebt(),
			InitialProperty: a.InitialProperty,
			Bankrupt:        a.Ledger.IsBankrupt(),
			Exited:          a.Ledger.HasExited(),
			Loans:           a.Ledger.Loans(),
		})
	}
	return out
}

// Run steps through every remaining day until the run completes or the
// context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for !d.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.StepDay(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StepDay advances the simulation by one trading day. Agents act
// concurrently up to the configured limit; settlement only ever touches the
// acting agent's own ledger, so the phase is race-free. Persistence and
// event publishing happen afterwards on a single goroutine.
func (d *Driver) StepDay(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.day >= d.cfg.TotalDays {
		return fmt.Errorf("run already completed after day %d", d.day)
	}
	day := d.day + 1

	dayContext, err := d.buildDayContext(day)
	if err != nil {
		return err
	}

	priceA, priceB := d.quotes.Snapshot()
	results := make([]*agentDayResult, len(d.agents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, a := range d.agents {
		g.Go(func() error {
			results[i] = d.stepAgent(gctx, a, day, priceA, priceB, dayContext)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("day %d interrupted: %w", day, err)
	}

	d.settlePrices(day, results)
	if err := d.persistDay(day, results); err != nil {
		return err
	}
	d.publishDay(day, results)

	d.day = day
	if d.day >= d.cfg.TotalDays {
		if err := d.store.CompleteRun(d.runID); err != nil {
			return err
		}
		d.bus.Publish("sim", &events.RunCompletedData{RunID: d.runID, TotalDays: d.day})
		d.log.Info().Str("run_id", d.runID).Msg("Simulation completed")
	}
	return nil
}

// buildDayContext assembles the shared prompt context: yesterday's forum
// posts, plus the season report when the previous day was a report day.
func (d *Driver) buildDayContext(day int) (string, error) {
	if day == 1 {
		return "", nil
	}

	context := ""
	posts, err := d.store.ForumPostsForDay(d.runID, day-1)
	if err != nil {
		return "", err
	}
	if len(posts) > 0 {
		context = "Yesterday on the trader message board:\n"
		for _, p := range posts {
			context += "- " + p + "\n"
		}
	}

	for _, reportDay := range d.cfg.SeasonReportDays {
		if day-1 == reportDay {
			rep, err := d.reports.Build(d.runID, reportDay)
			if err != nil {
				return "", err
			}
			context += rep.PromptContext()
			break
		}
	}
	return context, nil
}

// stepAgent runs one agent's full day: loan, trade, repayment, bankruptcy
// resolution, forecast, forum post. Exited agents only produce a snapshot.
func (d *Driver) stepAgent(ctx context.Context, a *agent.Agent, day int, priceA, priceB float64, dayContext string) *agentDayResult {
	res := &agentDayResult{agent: a, outcome: agent.OutcomeNone}
	if a.Ledger.HasExited() {
		return res
	}

	// Loan phase
	maxLoan := d.maxLoan(a, priceA, priceB, day)
	if maxLoan > 0 {
		loanDec := decision.Decide(ctx, d.maker, a.Conv, decision.Request[domain.LoanDecision]{
			Kind:        "loan",
			Prompt:      d.prompts.Loan(a, day, maxLoan, dayContext),
			RetryPrompt: d.prompts.Retry,
			Validate: func(reply string) (domain.LoanDecision, error) {
				return d.sec.CheckLoan(reply, maxLoan, len(d.cfg.LoanTypes))
			},
			Neutral: domain.NoLoan(),
		})
		if loanDec.Wants {
			loan := domain.Loan{
				Amount:         loanDec.Amount,
				TypeIndex:      loanDec.TypeIndex,
				OriginationDay: day,
				RepaymentDay:   repaymentDay(day, d.cfg.LoanTypes[loanDec.TypeIndex].Duration, d.cfg.TotalDays),
			}
			if a.Ledger.TakeLoan(loan) {
				res.loan = &loan
			}
		}
	}

	// Trading phase; the funds check inside the validator uses the same
	// prices the settlement below uses.
	tradeDec := decision.Decide(ctx, d.maker, a.Conv, decision.Request[domain.TradeDecision]{
		Kind:        "trade",
		Prompt:      d.prompts.Trade(a, day, priceA, priceB, dayContext),
		RetryPrompt: d.prompts.Retry,
		Validate: func(reply string) (domain.TradeDecision, error) {
			return d.sec.CheckTrade(reply, a.Ledger.Cash(), a.Ledger.Holdings(), priceA, priceB)
		},
		Neutral: domain.NoTrade(),
	})
	if settled := d.settleTrade(a, day, tradeDec); settled != nil {
		res.trade = settled
	}

	// Repayment phase: interest accrues only on scheduled repayment days,
	// but loans due today settle regardless of the accrual calendar.
	if containsDay(d.cfg.RepaymentDays, day) {
		res.interest = a.Ledger.AccrueInterest()
	}
	res.repaid = a.Ledger.Repay(day)

	res.outcome = a.Ledger.ResolveBankruptcy(priceA, priceB)
	if a.Ledger.HasExited() {
		return res
	}

	// Forecast phase
	res.forecast = decision.Decide(ctx, d.maker, a.Conv, decision.Request[domain.ForecastDecision]{
		Kind:        "forecast",
		Prompt:      d.prompts.Forecast(a, day),
		RetryPrompt: d.prompts.Retry,
		Validate:    d.sec.CheckForecast,
		Neutral:     domain.NoForecast(),
	})

	res.forum = d.forumPost(ctx, a, day)
	return res
}

// settleTrade applies a validated trade decision to the agent's ledger at
// the agent's proposed price.
func (d *Driver) settleTrade(a *agent.Agent, day int, dec domain.TradeDecision) *storage.TradeRecord {
	var ok bool
	switch dec.Kind {
	case domain.TradeBuy:
		ok = a.Ledger.Buy(dec.Asset, dec.Price, dec.Quantity)
	case domain.TradeSell:
		ok = a.Ledger.Sell(dec.Asset, dec.Price, dec.Quantity)
	default:
		return nil
	}
	if !ok {
		return nil
	}
	return &storage.TradeRecord{
		AgentID:  a.ID,
		Day:      day,
		Asset:    dec.Asset,
		Side:     dec.Kind,
		Quantity: dec.Quantity,
		Price:    dec.Price,
	}
}

// forumPost solicits the free-text message-board post. It is not validated;
// an empty or failed reply simply means no post today.
func (d *Driver) forumPost(ctx context.Context, a *agent.Agent, day int) string {
	a.Conv.Append(domain.RoleUser, d.prompts.Forum(a, day))
	reply, err := d.maker.Chat(ctx, a.Conv.Messages())
	if err != nil || reply == "" {
		d.log.Debug().Err(err).Int("agent", a.Order).Msg("No forum post today")
		return ""
	}
	a.Conv.Append(domain.RoleAssistant, reply)
	return reply
}

// maxLoan is the borrowing ceiling: on day one the whole initial property
// less existing debt, afterwards half of current net worth less debt.
func (d *Driver) maxLoan(a *agent.Agent, priceA, priceB float64, day int) float64 {
	var limit float64
	if day == 1 {
		limit = a.InitialProperty - a.Ledger.TotalDebt()
	} else {
		limit = 0.5*a.Ledger.NetWorth(priceA, priceB) - a.Ledger.TotalDebt()
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// settlePrices moves each asset's quote to the mean of the day's executed
// trade prices. Assets with no trades keep their price.
func (d *Driver) settlePrices(day int, results []*agentDayResult) {
	sums := map[domain.Asset]float64{}
	counts := map[domain.Asset]int{}
	for _, res := range results {
		if res.trade == nil {
			continue
		}
		sums[res.trade.Asset] += res.trade.Price
		counts[res.trade.Asset]++
	}

	for asset, count := range counts {
		price := sums[asset] / float64(count)
		d.quotes.SetPrice(asset, price)
		d.bus.Publish("sim", &events.PriceUpdatedData{Asset: string(asset), Price: price, Day: day})
	}
}

func (d *Driver) persistDay(day int, results []*agentDayResult) error {
	priceA, priceB := d.quotes.Snapshot()
	if err := d.store.RecordPrices(d.runID, day, priceA, priceB); err != nil {
		return err
	}

	snapshots := make([]storage.AgentSnapshot, 0, len(results))
	for _, res := range results {
		a := res.agent

		if res.loan != nil {
			err := d.store.RecordLoanEvent(d.runID, storage.LoanEvent{
				AgentID: a.ID, Day: day, Kind: "originated",
				Amount: res.loan.Amount, LoanType: res.loan.TypeIndex, RepaymentDay: res.loan.RepaymentDay,
			})
			if err != nil {
				return err
			}
		}
		for _, loan := range res.repaid {
			err := d.store.RecordLoanEvent(d.runID, storage.LoanEvent{
				AgentID: a.ID, Day: day, Kind: "repaid",
				Amount: loan.Amount, LoanType: loan.TypeIndex, RepaymentDay: loan.RepaymentDay,
			})
			if err != nil {
				return err
			}
		}
		if res.trade != nil {
			if err := d.store.RecordTrade(d.runID, *res.trade); err != nil {
				return err
			}
		}
		if res.forum != "" {
			if err := d.store.RecordForumPost(d.runID, day, a.ID, res.forum); err != nil {
				return err
			}
		}

		snapshots = append(snapshots, storage.AgentSnapshot{
			AgentID:  a.ID,
			Day:      day,
			Cash:     a.Ledger.Cash(),
			HoldingA: a.Ledger.Holding(domain.AssetA),
			HoldingB: a.Ledger.Holding(domain.AssetB),
			NetWorth: a.Ledger.NetWorth(priceA, priceB),
			Bankrupt: a.Ledger.IsBankrupt(),
			Exited:   a.Ledger.HasExited(),
			Loans:    a.Ledger.Loans(),
		})
	}
	return d.store.SaveSnapshots(d.runID, snapshots)
}

func (d *Driver) publishDay(day int, results []*agentDayResult) {
	active := 0
	exited := 0
	for _, res := range results {
		a := res.agent
		if res.loan != nil {
			d.bus.Publish("sim", &events.LoanOriginatedData{
				AgentID: a.ID, Amount: res.loan.Amount, LoanType: res.loan.TypeIndex,
				RepaymentDay: res.loan.RepaymentDay, Day: day,
			})
		}
		for _, loan := range res.repaid {
			d.bus.Publish("sim", &events.LoanRepaidData{AgentID: a.ID, Amount: loan.Amount, Day: day})
		}
		if res.trade != nil {
			d.bus.Publish("sim", &events.TradeExecutedData{
				AgentID: a.ID, Asset: string(res.trade.Asset), Side: string(res.trade.Side),
				Quantity: res.trade.Quantity, Price: res.trade.Price, Day: day,
			})
		}
		if res.forum != "" {
			d.bus.Publish("sim", &events.ForumPostedData{AgentID: a.ID, Message: res.forum, Day: day})
		}
		switch res.outcome {
		case agent.OutcomeResolved:
			d.bus.Publish("sim", &events.AgentBankruptData{AgentID: a.ID, Cash: a.Ledger.Cash(), Day: day})
		case agent.OutcomeExited:
			d.bus.Publish("sim", &events.AgentExitedData{AgentID: a.ID, Cash: a.Ledger.Cash(), Day: day})
		}

		if a.Ledger.HasExited() {
			exited++
		} else {
			active++
		}
	}

	priceA, priceB := d.quotes.Snapshot()
	d.bus.Publish("sim", &events.DayCompletedData{
		Day: day, ActiveAgents: active, ExitedAgents: exited, PriceA: priceA, PriceB: priceB,
	})
	d.log.Info().
		Int("day", day).
		Int("active", active).
		Int("exited", exited).
		Msg("Day completed")
}

// repaymentDay clamps the due date to the final day so every loan resolves
// within the run.
func repaymentDay(day, duration, totalDays int) int {
	due := day + duration
	if due > totalDays {
		return totalDays
	}
	return due
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
