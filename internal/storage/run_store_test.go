package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockagent/internal/domain"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()

	db, err := New(Config{Path: filepath.Join(t.TempDir(), "run.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	return NewRunStore(db, zerolog.Nop())
}

func seedRun(t *testing.T, store *RunStore, runID string) {
	t.Helper()
	require.NoError(t, store.CreateRun(runID, 66, []AgentRecord{
		{AgentID: "a1", Order: 0, Character: "Conservative", InitialProperty: 20000},
		{AgentID: "a2", Order: 1, Character: "Aggressive", InitialProperty: 35000},
	}))
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "run.db")})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestSaveAndLoadSnapshots(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	loans := []domain.Loan{{Amount: 500, TypeIndex: 1, OriginationDay: 2, RepaymentDay: 44}}
	require.NoError(t, store.SaveSnapshots("run-1", []AgentSnapshot{
		{AgentID: "a1", Day: 3, Cash: 1234.5, HoldingA: 10, HoldingB: 2, NetWorth: 1614.5, Loans: loans},
		{AgentID: "a2", Day: 3, Cash: -50, HoldingA: 0, HoldingB: 0, NetWorth: -50, Bankrupt: true, Exited: true},
	}))

	got, err := store.SnapshotsForDay("run-1", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "a1", got[0].AgentID)
	assert.InDelta(t, 1234.5, got[0].Cash, 1e-9)
	assert.Equal(t, 10, got[0].HoldingA)
	require.Len(t, got[0].Loans, 1)
	assert.Equal(t, 44, got[0].Loans[0].RepaymentDay)

	assert.True(t, got[1].Bankrupt)
	assert.True(t, got[1].Exited)
	assert.Empty(t, got[1].Loans)
}

func TestSaveSnapshots_ReplaceSameDay(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	require.NoError(t, store.SaveSnapshots("run-1", []AgentSnapshot{{AgentID: "a1", Day: 1, Cash: 100}}))
	require.NoError(t, store.SaveSnapshots("run-1", []AgentSnapshot{{AgentID: "a1", Day: 1, Cash: 200}}))

	got, err := store.SnapshotsForDay("run-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 200.0, got[0].Cash, 1e-9)
}

func TestNetWorthSeries(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	for day, worth := range []float64{100, 110, 95} {
		require.NoError(t, store.SaveSnapshots("run-1", []AgentSnapshot{
			{AgentID: "a1", Day: day + 1, NetWorth: worth},
		}))
	}

	series, err := store.NetWorthSeries("run-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 110, 95}, series)
}

func TestRecordTradeAndLoanEvents(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	require.NoError(t, store.RecordTrade("run-1", TradeRecord{
		AgentID: "a1", Day: 2, Asset: domain.AssetA, Side: domain.TradeBuy, Quantity: 5, Price: 30,
	}))
	require.NoError(t, store.RecordLoanEvent("run-1", LoanEvent{
		AgentID: "a1", Day: 2, Kind: "originated", Amount: 500, LoanType: 0, RepaymentDay: 22,
	}))
	require.NoError(t, store.RecordLoanEvent("run-1", LoanEvent{
		AgentID: "a1", Day: 22, Kind: "repaid", Amount: 500, LoanType: 0, RepaymentDay: 22,
	}))
}

func TestPriceSeries(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	require.NoError(t, store.RecordPrices("run-1", 1, 30, 40))
	require.NoError(t, store.RecordPrices("run-1", 2, 31, 39))
	// Re-recording the same day overwrites
	require.NoError(t, store.RecordPrices("run-1", 2, 32, 38))

	series, err := store.PriceSeries("run-1", domain.AssetA)
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 32}, series)
}

func TestForumPosts(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	require.NoError(t, store.RecordForumPost("run-1", 1, "a1", "holding steady"))
	require.NoError(t, store.RecordForumPost("run-1", 1, "a2", "buying the dip"))

	posts, err := store.ForumPostsForDay("run-1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"holding steady", "buying the dip"}, posts)

	empty, err := store.ForumPostsForDay("run-1", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCompleteRun(t *testing.T) {
	store := newTestStore(t)
	seedRun(t, store, "run-1")

	require.NoError(t, store.CompleteRun("run-1"))

	var completed int
	err := store.db.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE id = ? AND completed_at IS NOT NULL`, "run-1",
	).Scan(&completed)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
}
