package ordering

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
)

type PairMarkets interface {
	Prices
	GetPairMarket(pair string) (string, error)
}

// VirtualExecutor fills every order immediately at the current price and
// charges a flat fee rate in the pair's market currency.
type VirtualExecutor struct {
	markets   PairMarkets
	priceType models.PriceType
	feeRate   decimal.Decimal
	clock     clock.Clock
}

func NewVirtualExecutor(markets PairMarkets, priceType models.PriceType, feeRate decimal.Decimal, clk clock.Clock) *VirtualExecutor {
	return &VirtualExecutor{
		markets:   markets,
		priceType: priceType,
		feeRate:   feeRate,
		clock:     clk,
	}
}

func (v *VirtualExecutor) Execute(ctx context.Context, side models.OrderSide, pair string, amount decimal.Decimal) (models.Order, error) {
	if !amount.IsPositive() {
		return models.Order{}, fmt.Errorf("non-positive amount %s for %s", amount, pair)
	}
	price, err := v.markets.GetPrice(pair, v.priceType)
	if err != nil {
		return models.Order{}, err
	}
	if !price.IsPositive() {
		return models.Order{}, fmt.Errorf("non-positive price %s for %s", price, pair)
	}
	market, err := v.markets.GetPairMarket(pair)
	if err != nil {
		return models.Order{}, err
	}

	rawCost := amount.Mul(price)
	return models.Order{
		OrderID:      "virtual-" + uuid.NewString(),
		Side:         side,
		Pair:         pair,
		AmountFilled: amount,
		AveragePrice: price,
		RawCost:      rawCost,
		Fees:         rawCost.Mul(v.feeRate),
		FeesCurrency: market,
		Result:       models.OrderResultFilled,
		Timestamp:    v.clock.Now(),
	}, nil
}
