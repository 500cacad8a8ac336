// Package market provides the in-process price board the simulation trades
// against. Prices are set by the step driver; everything else only reads.
package market

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/domain"
)

// QuoteBoard holds the current price and full price history of both assets.
// Safe for concurrent use; readers see a consistent snapshot.
type QuoteBoard struct {
	mu      sync.RWMutex
	prices  map[domain.Asset]float64
	history map[domain.Asset][]float64
	log     zerolog.Logger
}

// NewQuoteBoard creates a board seeded with the opening prices
func NewQuoteBoard(priceA, priceB float64, log zerolog.Logger) *QuoteBoard {
	return &QuoteBoard{
		prices: map[domain.Asset]float64{
			domain.AssetA: priceA,
			domain.AssetB: priceB,
		},
		history: map[domain.Asset][]float64{
			domain.AssetA: {priceA},
			domain.AssetB: {priceB},
		},
		log: log.With().Str("component", "market").Logger(),
	}
}

// Price returns the current price of the asset
func (q *QuoteBoard) Price(asset domain.Asset) float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.prices[asset]
}

// SetPrice records a new price for the asset and appends it to the history.
// Non-positive prices are ignored; a market price can never go to zero here.
func (q *QuoteBoard) SetPrice(asset domain.Asset, price float64) {
	if !asset.Valid() || price <= 0 {
		q.log.Warn().Str("asset", string(asset)).Float64("price", price).Msg("Ignoring invalid price update")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[asset] = price
	q.history[asset] = append(q.history[asset], price)
}

// History returns a copy of the asset's price series, oldest first
func (q *QuoteBoard) History(asset domain.Asset) []float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]float64, len(q.history[asset]))
	copy(out, q.history[asset])
	return out
}

// Snapshot returns the current price of both assets atomically
func (q *QuoteBoard) Snapshot() (priceA, priceB float64) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.prices[domain.AssetA], q.prices[domain.AssetB]
}

var _ domain.PriceFeed = (*QuoteBoard)(nil)
