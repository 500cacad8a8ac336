// Package report builds the seasonal market reports agents read on report
// days and the end-of-run population summary.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/storage"
)

// smaWindow is the moving-average window for the price trend
const smaWindow = 5

// PopulationStats summarizes net worth across all agents
type PopulationStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// PriceTrend describes one asset's recent price behavior
type PriceTrend struct {
	Last      float64 `json:"last"`
	SMA       float64 `json:"sma"`
	Direction string  `json:"direction"` // "up", "down" or "flat"
}

// AgentSummary is one agent's line in the report
type AgentSummary struct {
	AgentID  string  `json:"agent_id"`
	NetWorth float64 `json:"net_worth"`
	Bankrupt bool    `json:"bankrupt"`
	Exited   bool    `json:"exited"`
}

// SeasonReport is the market summary for one report day
type SeasonReport struct {
	Day        int             `json:"day"`
	Population PopulationStats `json:"population"`
	Agents     []AgentSummary  `json:"agents"`
	TrendA     PriceTrend      `json:"trend_a"`
	TrendB     PriceTrend      `json:"trend_b"`
}

// Builder assembles reports from persisted run data
type Builder struct {
	store *storage.RunStore
	log   zerolog.Logger
}

// NewBuilder creates a report builder
func NewBuilder(store *storage.RunStore, log zerolog.Logger) *Builder {
	return &Builder{
		store: store,
		log:   log.With().Str("component", "report").Logger(),
	}
}

// Build assembles the report for one day from that day's snapshots and the
// price history up to it.
func (b *Builder) Build(runID string, day int) (*SeasonReport, error) {
	snapshots, err := b.store.SnapshotsForDay(runID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for report: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots recorded for day %d", day)
	}

	worths := make([]float64, 0, len(snapshots))
	agents := make([]AgentSummary, 0, len(snapshots))
	for _, snap := range snapshots {
		worths = append(worths, snap.NetWorth)
		agents = append(agents, AgentSummary{
			AgentID:  snap.AgentID,
			NetWorth: snap.NetWorth,
			Bankrupt: snap.Bankrupt,
			Exited:   snap.Exited,
		})
	}

	trendA, err := b.trend(runID, domain.AssetA)
	if err != nil {
		return nil, err
	}
	trendB, err := b.trend(runID, domain.AssetB)
	if err != nil {
		return nil, err
	}

	report := &SeasonReport{
		Day:        day,
		Population: populationStats(worths),
		Agents:     agents,
		TrendA:     trendA,
		TrendB:     trendB,
	}

	b.log.Info().
		Int("day", day).
		Float64("mean_net_worth", report.Population.Mean).
		Str("trend_a", trendA.Direction).
		Str("trend_b", trendB.Direction).
		Msg("Season report built")
	return report, nil
}

func (b *Builder) trend(runID string, asset domain.Asset) (PriceTrend, error) {
	prices, err := b.store.PriceSeries(runID, asset)
	if err != nil {
		return PriceTrend{}, fmt.Errorf("failed to load price series for %s: %w", asset, err)
	}
	return priceTrend(prices), nil
}

// populationStats computes net worth distribution statistics
func populationStats(worths []float64) PopulationStats {
	sorted := make([]float64, len(worths))
	copy(sorted, worths)
	sort.Float64s(sorted)

	stats := PopulationStats{
		Mean:   stat.Mean(sorted, nil),
		Min:    sorted[0],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		stats.StdDev = stat.StdDev(sorted, nil)
	}
	return stats
}

// priceTrend compares the last price against its moving average. With fewer
// prices than the window, the plain mean stands in for the SMA.
func priceTrend(prices []float64) PriceTrend {
	if len(prices) == 0 {
		return PriceTrend{Direction: "flat"}
	}

	last := prices[len(prices)-1]
	var sma float64
	if len(prices) < smaWindow {
		sma = stat.Mean(prices, nil)
	} else {
		series := talib.Sma(prices, smaWindow)
		sma = series[len(series)-1]
	}

	direction := "flat"
	switch {
	case last > sma:
		direction = "up"
	case last < sma:
		direction = "down"
	}
	return PriceTrend{Last: last, SMA: sma, Direction: direction}
}

// PromptContext renders the report as the plain-text block injected into
// agent prompts on report days.
func (r *SeasonReport) PromptContext() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Season report for day %d:\n", r.Day)
	fmt.Fprintf(&sb, "Stock A: last %.2f, %d-day average %.2f, trend %s\n", r.TrendA.Last, smaWindow, r.TrendA.SMA, r.TrendA.Direction)
	fmt.Fprintf(&sb, "Stock B: last %.2f, %d-day average %.2f, trend %s\n", r.TrendB.Last, smaWindow, r.TrendB.SMA, r.TrendB.Direction)
	fmt.Fprintf(&sb, "Across %d agents: mean net worth %.2f (stddev %.2f), median %.2f, range [%.2f, %.2f]\n",
		len(r.Agents), r.Population.Mean, r.Population.StdDev, r.Population.Median, r.Population.Min, r.Population.Max)

	exited := 0
	bankrupt := 0
	for _, a := range r.Agents {
		if a.Exited {
			exited++
		} else if a.Bankrupt {
			bankrupt++
		}
	}
	if exited > 0 || bankrupt > 0 {
		fmt.Fprintf(&sb, "%d agents have exited, %d are in bankruptcy proceedings\n", exited, bankrupt)
	}
	return sb.String()
}
