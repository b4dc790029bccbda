package models

import (
	"github.com/shopspring/decimal"
)

// Arbitrage describes a price discrepancy computed for one evaluation. It is
// never persisted.
type Arbitrage struct {
	Assigned   bool
	Type       ArbitrageType
	Market     string
	Percentage decimal.Decimal
}
