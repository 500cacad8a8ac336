package market

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stockagent/internal/domain"
)

func TestQuoteBoard_SeedPrices(t *testing.T) {
	q := NewQuoteBoard(30, 40, zerolog.Nop())

	assert.InDelta(t, 30.0, q.Price(domain.AssetA), 1e-9)
	assert.InDelta(t, 40.0, q.Price(domain.AssetB), 1e-9)

	a, b := q.Snapshot()
	assert.InDelta(t, 30.0, a, 1e-9)
	assert.InDelta(t, 40.0, b, 1e-9)
}

func TestQuoteBoard_SetPriceAppendsHistory(t *testing.T) {
	q := NewQuoteBoard(30, 40, zerolog.Nop())

	q.SetPrice(domain.AssetA, 31.5)
	q.SetPrice(domain.AssetA, 29.0)

	assert.InDelta(t, 29.0, q.Price(domain.AssetA), 1e-9)
	require.Equal(t, []float64{30, 31.5, 29}, q.History(domain.AssetA))
	// B untouched
	assert.Equal(t, []float64{40}, q.History(domain.AssetB))
}

func TestQuoteBoard_RejectsInvalidUpdates(t *testing.T) {
	q := NewQuoteBoard(30, 40, zerolog.Nop())

	q.SetPrice(domain.AssetA, 0)
	q.SetPrice(domain.AssetA, -5)
	q.SetPrice(domain.Asset("C"), 10)

	assert.InDelta(t, 30.0, q.Price(domain.AssetA), 1e-9)
	assert.Len(t, q.History(domain.AssetA), 1)
}

func TestQuoteBoard_HistoryReturnsCopy(t *testing.T) {
	q := NewQuoteBoard(30, 40, zerolog.Nop())

	h := q.History(domain.AssetA)
	h[0] = 999

	assert.InDelta(t, 30.0, q.History(domain.AssetA)[0], 1e-9)
}

func TestQuoteBoard_ConcurrentAccess(t *testing.T) {
	q := NewQuoteBoard(30, 40, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			q.SetPrice(domain.AssetA, float64(i+1))
		}(i)
		go func() {
			defer wg.Done()
			_ = q.Price(domain.AssetA)
			_ = q.History(domain.AssetB)
		}()
	}
	wg.Wait()

	assert.Len(t, q.History(domain.AssetA), 11)
}
