package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PairMetadata is carried on a held position across swaps and DCA buys.
type PairMetadata struct {
	SignalRule          string
	SwapPair            string
	LastBuyMargin       decimal.NullDecimal
	AdditionalCosts     decimal.Decimal
	AdditionalDCALevels int
}

// TradingPair is a held position. All monetary values are expressed in the
// account market, whatever market the position was bought in.
type TradingPair struct {
	Pair              string
	OriginalPair      string
	Amount            decimal.Decimal
	TotalCost         decimal.Decimal
	FeesNonDeductible decimal.Decimal
	AveragePrice      decimal.Decimal
	CurrentPrice      decimal.Decimal
	OrderDates        []time.Time // buys and partial sells
	Buys              int
	OverrideCost      decimal.NullDecimal
	Metadata          PairMetadata
}

// ActualCost is the cost basis of the position including fees, unless a
// temporary override is in place.
func (tp *TradingPair) ActualCost() decimal.Decimal {
	if tp.OverrideCost.Valid {
		return tp.OverrideCost.Decimal
	}
	return tp.TotalCost.Add(tp.FeesNonDeductible)
}

// CurrentCost is the market value of the position at the current price.
func (tp *TradingPair) CurrentCost() decimal.Decimal {
	return tp.CurrentPrice.Mul(tp.Amount)
}

// CurrentMargin is the percentage gain of the position over its cost basis
// plus any costs carried over from earlier swaps.
func (tp *TradingPair) CurrentMargin() decimal.Decimal {
	basis := tp.ActualCost().Add(tp.Metadata.AdditionalCosts)
	if !basis.IsPositive() {
		return decimal.Zero
	}
	return tp.CurrentCost().Sub(basis).Div(basis).Mul(hundred)
}

// DCALevel is the number of averaging-down buys applied to the position.
func (tp *TradingPair) DCALevel() int {
	level := tp.Buys - 1
	if level < 0 {
		level = 0
	}
	return level + tp.Metadata.AdditionalDCALevels
}

func (tp *TradingPair) LastOrderDate() time.Time {
	var last time.Time
	for _, d := range tp.OrderDates {
		if d.After(last) {
			last = d
		}
	}
	return last
}

// Clone returns a copy that shares no mutable state with tp.
func (tp *TradingPair) Clone() *TradingPair {
	c := *tp
	c.OrderDates = append([]time.Time(nil), tp.OrderDates...)
	return &c
}
