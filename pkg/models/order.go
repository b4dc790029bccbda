package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderResult string

const (
	OrderResultFilled          OrderResult = "filled"
	OrderResultPartiallyFilled OrderResult = "partially_filled"
	OrderResultFailed          OrderResult = "failed"
)

// Order is a completed or attempted exchange action. Orders are values and
// are never changed after they are recorded.
type Order struct {
	OrderID      string
	Side         OrderSide
	Pair         string
	OriginalPair string // set for orders born from a swap or a cross-market sell
	Amount       decimal.NullDecimal
	MaxCost      decimal.NullDecimal
	AmountFilled decimal.Decimal
	AveragePrice decimal.Decimal
	RawCost      decimal.Decimal
	Fees         decimal.Decimal
	FeesCurrency string
	Result       OrderResult
	Message      string
	Provenance   Provenance
	Timestamp    time.Time
}

func (o Order) Filled() bool {
	return o.Result == OrderResultFilled
}

// Executed reports whether any quantity changed hands.
func (o Order) Executed() bool {
	return (o.Result == OrderResultFilled || o.Result == OrderResultPartiallyFilled) && o.AmountFilled.IsPositive()
}

// Matches reports whether the order was placed on pair or originated from it.
func (o Order) Matches(pair string) bool {
	return o.Pair == pair || (o.OriginalPair != "" && o.OriginalPair == pair)
}

// FailedOrder builds the failed Order returned when a request cannot be executed.
func FailedOrder(side OrderSide, pair string, message string, at time.Time) Order {
	return Order{
		Side:      side,
		Pair:      pair,
		Result:    OrderResultFailed,
		Message:   message,
		Timestamp: at,
	}
}
