package trader

import (
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// feesInMarket converts an order's fees into the account market.
func (t *Trader) feesInMarket(o models.Order) decimal.Decimal {
	if o.FeesCurrency == "" || o.FeesCurrency == t.cfg.Market || o.Fees.IsZero() {
		return o.Fees
	}
	pair := t.exchange.GetArbitrageMarketPair(o.FeesCurrency)
	price, err := t.exchange.GetPrice(pair, t.cfg.PriceType)
	if err != nil || !price.IsPositive() {
		t.logger.WithFields(logrus.Fields{
			"currency": o.FeesCurrency,
			"pair":     pair,
		}).Warn("Cannot convert fees, using unconverted amount")
		return o.Fees
	}
	return o.Fees.Mul(price)
}
