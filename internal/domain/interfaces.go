package domain

// PriceFeed supplies current per-asset market prices.
// Prices are always positive; price formation happens outside this module.
type PriceFeed interface {
	Price(asset Asset) float64
}
