package exchange

import (
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// GetArbitrage looks for the best spread between pair (settling in market)
// and the same asset on each candidate market, converted back through the
// candidate's market pair. The result is assigned only for a positive spread.
//
// Reverse: buy market pair, buy asset on candidate, sell asset on market.
// Direct: buy asset on market, sell asset on candidate, sell market pair.
func (m *Market) GetArbitrage(pair, market string, candidates []string, arbitrageType models.ArbitrageType, priceType models.PriceType) models.Arbitrage {
	best := models.Arbitrage{Type: arbitrageType}

	base, err := m.GetPrice(pair, priceType)
	if err != nil || !base.IsPositive() {
		return best
	}

	for _, candidate := range candidates {
		if candidate == market {
			continue
		}
		target, err := m.ChangeMarket(pair, candidate)
		if err != nil {
			continue
		}
		targetPrice, err := m.GetPrice(target, priceType)
		if err != nil || !targetPrice.IsPositive() {
			continue
		}
		midPrice, err := m.GetPrice(m.GetArbitrageMarketPair(candidate), priceType)
		if err != nil || !midPrice.IsPositive() {
			continue
		}

		converted := targetPrice.Mul(midPrice)
		var pct decimal.Decimal
		switch arbitrageType {
		case models.ArbitrageReverse:
			pct = base.Div(converted).Sub(decimal.NewFromInt(1)).Mul(hundred)
		default:
			pct = converted.Div(base).Sub(decimal.NewFromInt(1)).Mul(hundred)
		}

		if !best.Assigned || pct.GreaterThan(best.Percentage) {
			best = models.Arbitrage{
				Assigned:   true,
				Type:       arbitrageType,
				Market:     candidate,
				Percentage: pct,
			}
		}
	}

	if best.Assigned && !best.Percentage.IsPositive() {
		best.Assigned = false
	}
	return best
}
