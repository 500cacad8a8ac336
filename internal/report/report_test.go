package report

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockagent/internal/storage"
)

func newTestBuilder(t *testing.T) (*Builder, *storage.RunStore) {
	t.Helper()

	db, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "run.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	store := storage.NewRunStore(db, zerolog.Nop())
	return NewBuilder(store, zerolog.Nop()), store
}

func TestBuild(t *testing.T) {
	builder, store := newTestBuilder(t)

	require.NoError(t, store.CreateRun("run-1", 66, []storage.AgentRecord{
		{AgentID: "a1", Order: 0, Character: "Balanced", InitialProperty: 100},
		{AgentID: "a2", Order: 1, Character: "Aggressive", InitialProperty: 100},
		{AgentID: "a3", Order: 2, Character: "Conservative", InitialProperty: 100},
	}))
	require.NoError(t, store.SaveSnapshots("run-1", []storage.AgentSnapshot{
		{AgentID: "a1", Day: 11, NetWorth: 100},
		{AgentID: "a2", Day: 11, NetWorth: 200},
		{AgentID: "a3", Day: 11, NetWorth: 300, Exited: true},
	}))
	for day, prices := range [][2]float64{{30, 40}, {31, 39}, {33, 38}} {
		require.NoError(t, store.RecordPrices("run-1", day+1, prices[0], prices[1]))
	}

	report, err := builder.Build("run-1", 11)
	require.NoError(t, err)

	assert.Equal(t, 11, report.Day)
	assert.InDelta(t, 200.0, report.Population.Mean, 1e-9)
	assert.InDelta(t, 100.0, report.Population.Min, 1e-9)
	assert.InDelta(t, 300.0, report.Population.Max, 1e-9)
	assert.Len(t, report.Agents, 3)

	// A rising, B falling against their short averages
	assert.Equal(t, "up", report.TrendA.Direction)
	assert.Equal(t, "down", report.TrendB.Direction)

	ctx := report.PromptContext()
	assert.Contains(t, ctx, "Season report for day 11")
	assert.Contains(t, ctx, "trend up")
	assert.Contains(t, ctx, "1 agents have exited")
}

func TestBuild_NoSnapshots(t *testing.T) {
	builder, store := newTestBuilder(t)
	require.NoError(t, store.CreateRun("run-1", 66, nil))

	_, err := builder.Build("run-1", 5)
	assert.Error(t, err)
}

func TestPopulationStats_SingleAgent(t *testing.T) {
	stats := populationStats([]float64{42})
	assert.InDelta(t, 42.0, stats.Mean, 1e-9)
	assert.InDelta(t, 42.0, stats.Median, 1e-9)
	assert.Zero(t, stats.StdDev)
}

func TestPriceTrend_LongSeriesUsesSMA(t *testing.T) {
	// Six prices, window five: SMA of the last five is 32, last price 34
	trend := priceTrend([]float64{28, 30, 31, 32, 33, 34})
	assert.InDelta(t, 32.0, trend.SMA, 1e-9)
	assert.Equal(t, "up", trend.Direction)
}

func TestPriceTrend_Empty(t *testing.T) {
	trend := priceTrend(nil)
	assert.Equal(t, "flat", trend.Direction)
}
