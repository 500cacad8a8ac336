package sim

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockagent/internal/config"
	"github.com/aristath/stockagent/internal/decision"
	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/events"
	"github.com/aristath/stockagent/internal/market"
	"github.com/aristath/stockagent/internal/report"
	"github.com/aristath/stockagent/internal/secretary"
	"github.com/aristath/stockagent/internal/storage"
)

// ruleTransport answers by inspecting the latest prompt. Safe for concurrent
// use since the driver evaluates agents in parallel.
type ruleTransport struct {
	mu    sync.Mutex
	calls int

	loanReply     string
	tradeReply    string
	forecastReply string
	forumReply    string
}

func defaultRules() *ruleTransport {
	return &ruleTransport{
		loanReply:     `{"loan": "no"}`,
		tradeReply:    `{"action_type": "buy", "stock": "A", "amount": 1, "price": 31}`,
		forecastReply: `{"buy_A": "yes", "buy_B": "no", "sell_A": "no", "sell_B": "no", "loan": "no"}`,
		forumReply:    "Quiet session, holding my positions.",
	}
}

func (t *ruleTransport) Chat(_ context.Context, history []domain.Message) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()

	prompt := history[len(history)-1].Content
	switch {
	case strings.Contains(prompt, "borrow up to"):
		return t.loanReply, nil
	case strings.Contains(prompt, "trading session"):
		return t.tradeReply, nil
	case strings.Contains(prompt, "Estimate your actions"):
		return t.forecastReply, nil
	case strings.Contains(prompt, "message board"):
		return t.forumReply, nil
	}
	return "", nil
}

func testSimConfig() config.SimConfig {
	return config.SimConfig{
		Agents:      3,
		TotalDays:   3,
		MaxAttempts: 3,
		Concurrency: 2,
		Seed:        11,
		LoanTypes: []domain.LoanType{
			{Name: "one-month", Duration: 22, Rate: 0.01},
		},
		RepaymentDays:      []int{2},
		SeasonReportDays:   []int{1},
		MinInitialProperty: 10000,
		MaxInitialProperty: 60000,
		InitialPriceA:      30,
		InitialPriceB:      40,
	}
}

func newTestDriver(t *testing.T, cfg config.SimConfig, transport *ruleTransport) (*Driver, *storage.RunStore, *events.Bus) {
	t.Helper()

	db, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "run.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	store := storage.NewRunStore(db, zerolog.Nop())
	quotes := market.NewQuoteBoard(cfg.InitialPriceA, cfg.InitialPriceB, zerolog.Nop())
	maker := decision.NewMaker(transport, cfg.MaxAttempts, zerolog.Nop())
	sec := secretary.New(zerolog.Nop())
	reports := report.NewBuilder(store, zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())

	driver, err := NewDriver(cfg, quotes, maker, sec, store, reports, bus, NewTemplatePrompts(), zerolog.Nop())
	require.NoError(t, err)
	return driver, store, bus
}

func TestStepDay_AdvancesAndPersists(t *testing.T) {
	cfg := testSimConfig()
	driver, store, bus := newTestDriver(t, cfg, defaultRules())

	days := 0
	bus.Subscribe(events.DayCompleted, func(*events.Event) { days++ })

	require.NoError(t, driver.StepDay(context.Background()))
	assert.Equal(t, 1, driver.Day())
	assert.Equal(t, 1, days)

	snapshots, err := store.SnapshotsForDay(driver.RunID(), 1)
	require.NoError(t, err)
	assert.Len(t, snapshots, cfg.Agents)

	posts, err := store.ForumPostsForDay(driver.RunID(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, posts)
}

func TestStepDay_TradesMoveThePrice(t *testing.T) {
	cfg := testSimConfig()
	driver, store, _ := newTestDriver(t, cfg, defaultRules())

	require.NoError(t, driver.StepDay(context.Background()))

	// Every agent bought A at 31, so the closing price is 31
	prices, err := store.PriceSeries(driver.RunID(), domain.AssetA)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.InDelta(t, 31.0, prices[0], 1e-9)

	// B saw no trades and kept its opening price
	pricesB, err := store.PriceSeries(driver.RunID(), domain.AssetB)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, pricesB[0], 1e-9)
}

func TestRun_CompletesAllDays(t *testing.T) {
	cfg := testSimConfig()
	driver, store, bus := newTestDriver(t, cfg, defaultRules())

	completed := false
	bus.Subscribe(events.RunCompleted, func(*events.Event) { completed = true })

	require.NoError(t, driver.Run(context.Background()))
	assert.True(t, driver.Done())
	assert.True(t, completed)
	assert.Equal(t, cfg.TotalDays, driver.Day())

	// Stepping past the end fails
	assert.Error(t, driver.StepDay(context.Background()))

	for day := 1; day <= cfg.TotalDays; day++ {
		snapshots, err := store.SnapshotsForDay(driver.RunID(), day)
		require.NoError(t, err)
		assert.Len(t, snapshots, cfg.Agents)
	}
}

func TestStepDay_RepaymentDaySettlesInitialDebt(t *testing.T) {
	cfg := testSimConfig()
	transport := defaultRules()
	transport.tradeReply = `{"action_type": "no"}`
	driver, store, _ := newTestDriver(t, cfg, transport)

	require.NoError(t, driver.StepDay(context.Background()))
	require.NoError(t, driver.StepDay(context.Background()))

	// Every agent starts with one loan due on day 2; after repayment no
	// loans remain on any surviving agent's books.
	snapshots, err := store.SnapshotsForDay(driver.RunID(), 2)
	require.NoError(t, err)
	for _, snap := range snapshots {
		if !snap.Exited {
			assert.Empty(t, snap.Loans, "agent %s should have repaid its initial debt", snap.AgentID)
		}
	}
}

func TestStepDay_LoanDecisionOriginatesLoan(t *testing.T) {
	cfg := testSimConfig()
	transport := defaultRules()
	transport.loanReply = `{"loan": "yes", "loan_type": 0, "amount": 100}`
	transport.tradeReply = `{"action_type": "no"}`
	driver, store, _ := newTestDriver(t, cfg, transport)

	// Note which agents can actually borrow 100 on day one
	canBorrow := map[string]bool{}
	for _, a := range driver.Agents() {
		canBorrow[a.ID] = driver.maxLoan(a, cfg.InitialPriceA, cfg.InitialPriceB, 1) >= 100
	}

	require.NoError(t, driver.StepDay(context.Background()))

	snapshots, err := store.SnapshotsForDay(driver.RunID(), 1)
	require.NoError(t, err)
	for _, snap := range snapshots {
		if !canBorrow[snap.AgentID] {
			continue
		}
		// Initial debt plus today's 100
		require.Len(t, snap.Loans, 2)
		assert.InDelta(t, 100.0, snap.Loans[1].Amount, 1e-9)
		assert.Equal(t, 1, snap.Loans[1].OriginationDay)
	}
}

func TestRun_LoanDueOffAccrualGridIsRepaid(t *testing.T) {
	// A loan taken on day 1 with the one-month term clamps to day 3, which
	// is not an accrual day (RepaymentDays is [2]). It must still settle on
	// its own due day.
	cfg := testSimConfig()
	transport := defaultRules()
	transport.loanReply = `{"loan": "yes", "loan_type": 0, "amount": 100}`
	transport.tradeReply = `{"action_type": "no"}`
	driver, store, _ := newTestDriver(t, cfg, transport)

	canBorrow := map[string]bool{}
	for _, a := range driver.Agents() {
		canBorrow[a.ID] = driver.maxLoan(a, cfg.InitialPriceA, cfg.InitialPriceB, 1) >= 100
	}

	require.NoError(t, driver.Run(context.Background()))

	dayOne, err := store.SnapshotsForDay(driver.RunID(), 1)
	require.NoError(t, err)
	for _, snap := range dayOne {
		if !canBorrow[snap.AgentID] {
			continue
		}
		require.Len(t, snap.Loans, 2)
		assert.Equal(t, cfg.TotalDays, snap.Loans[1].RepaymentDay)
	}

	final, err := store.SnapshotsForDay(driver.RunID(), cfg.TotalDays)
	require.NoError(t, err)
	for _, snap := range final {
		if !snap.Exited {
			assert.Empty(t, snap.Loans, "agent %s still owes past its due day", snap.AgentID)
		}
	}
}

func TestAgentStates_SnapshotContents(t *testing.T) {
	cfg := testSimConfig()
	driver, _, _ := newTestDriver(t, cfg, defaultRules())

	states := driver.AgentStates()
	require.Len(t, states, cfg.Agents)
	for i, state := range states {
		a := driver.Agents()[i]
		assert.Equal(t, a.ID, state.ID)
		assert.InDelta(t, a.Ledger.Cash(), state.Cash, 1e-9)
		assert.InDelta(t, a.Ledger.NetWorth(cfg.InitialPriceA, cfg.InitialPriceB), state.NetWorth, 1e-9)
		assert.False(t, state.Exited)
	}
}

func TestAgentStates_ConcurrentWithStep(t *testing.T) {
	cfg := testSimConfig()
	driver, _, _ := newTestDriver(t, cfg, defaultRules())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				for _, state := range driver.AgentStates() {
					_ = state.Cash
					_ = state.HoldingA
				}
			}
		}
	}()

	require.NoError(t, driver.StepDay(context.Background()))
	close(done)
	wg.Wait()

	assert.Equal(t, 1, driver.Day())
}

func TestStepDay_ContextCancellation(t *testing.T) {
	cfg := testSimConfig()
	driver, _, _ := newTestDriver(t, cfg, defaultRules())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := driver.StepDay(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, driver.Day())
}

func TestMaxLoanFormula(t *testing.T) {
	cfg := testSimConfig()
	driver, _, _ := newTestDriver(t, cfg, defaultRules())

	a := driver.Agents()[0]

	dayOne := driver.maxLoan(a, 30, 40, 1)
	assert.InDelta(t, a.InitialProperty-a.Ledger.TotalDebt(), dayOne, 1e-9)

	expected := 0.5*a.Ledger.NetWorth(30, 40) - a.Ledger.TotalDebt()
	if expected < 0 {
		expected = 0
	}
	assert.InDelta(t, expected, driver.maxLoan(a, 30, 40, 2), 1e-9)
}

func TestRepaymentDayClamp(t *testing.T) {
	assert.Equal(t, 25, repaymentDay(3, 22, 66))
	assert.Equal(t, 66, repaymentDay(60, 22, 66))
}
