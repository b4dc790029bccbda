package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceType string

const (
	PriceTypeBid  PriceType = "bid"
	PriceTypeAsk  PriceType = "ask"
	PriceTypeLast PriceType = "last"
)

// PairInfo is the static metadata of a tradable pair.
type PairInfo struct {
	Pair      string
	Asset     string
	Market    string
	ProductID string
}

type Ticker struct {
	Pair      string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	LastPrice decimal.Decimal
	Volume24h decimal.Decimal
	Timestamp time.Time
}

// Price returns the ticker price for the requested type, falling back to
// the last price when a side is missing.
func (t Ticker) Price(pt PriceType) decimal.Decimal {
	switch pt {
	case PriceTypeBid:
		if t.BidPrice.IsPositive() {
			return t.BidPrice
		}
	case PriceTypeAsk:
		if t.AskPrice.IsPositive() {
			return t.AskPrice
		}
	}
	return t.LastPrice
}

// Signal is a buy suggestion raised by a named rule.
type Signal struct {
	Pair string    `json:"pair"`
	Rule string    `json:"rule"`
	Time time.Time `json:"time"`
}
