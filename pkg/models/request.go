package models

import (
	"github.com/shopspring/decimal"
)

// Origin says who asked for an action. It replaces the manual, swap,
// arbitrage and ignore-existing flags, which are mutually exclusive.
type Origin string

const (
	OriginSignal    Origin = "signal"
	OriginManual    Origin = "manual"
	OriginSwap      Origin = "swap"
	OriginArbitrage Origin = "arbitrage"
	OriginDCA       Origin = "dca"
)

func (o Origin) Manual() bool    { return o == OriginManual }
func (o Origin) Swap() bool      { return o == OriginSwap }
func (o Origin) Arbitrage() bool { return o == OriginArbitrage }

// IgnoreExisting reports whether a buy may add to an already held pair.
func (o Origin) IgnoreExisting() bool { return o == OriginDCA }

// Provenance records why an action happened. It is built once per action
// and copied onto the orders it produces.
type Provenance struct {
	SignalRule          string
	SwapPair            string
	SwapFrom            string
	LastBuyMargin       decimal.NullDecimal
	AdditionalCosts     decimal.Decimal
	AdditionalDCALevels int
	ArbitrageMarket     string
	ArbitragePercentage decimal.NullDecimal
}

// BuyRequest asks for a buy sized by Amount or by MaxCost. Exactly one of
// them is expected to be set.
type BuyRequest struct {
	Pair          string
	Amount        decimal.NullDecimal
	MaxCost       decimal.NullDecimal
	Origin        Origin
	IgnoreBalance bool
	Provenance    Provenance
}

func BuyByCost(pair string, maxCost decimal.Decimal, origin Origin) BuyRequest {
	return BuyRequest{Pair: pair, MaxCost: decimal.NewNullDecimal(maxCost), Origin: origin}
}

func BuyByAmount(pair string, amount decimal.Decimal, origin Origin) BuyRequest {
	return BuyRequest{Pair: pair, Amount: decimal.NewNullDecimal(amount), Origin: origin}
}

// SellRequest closes a held position. Position names the held pair when the
// sale happens on a different market than the one it was bought on; Amount
// limits a partial sale.
type SellRequest struct {
	Pair       string
	Position   string
	Amount     decimal.NullDecimal
	Origin     Origin
	Provenance Provenance
}

// HeldPair is the position the sale draws from.
func (r SellRequest) HeldPair() string {
	if r.Position != "" {
		return r.Position
	}
	return r.Pair
}

type SwapRequest struct {
	OldPair    string
	NewPair    string
	Manual     bool
	Provenance Provenance
}

type ArbitrageRequest struct {
	Pair       string
	Arbitrage  Arbitrage
	Manual     bool
	Provenance Provenance
}
