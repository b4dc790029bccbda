package models

import (
	"github.com/shopspring/decimal"
)

type ArbitrageType string

const (
	ArbitrageDirect  ArbitrageType = "direct"
	ArbitrageReverse ArbitrageType = "reverse"
)

// DCALevel is one row of the averaging-down table.
type DCALevel struct {
	Margin        decimal.Decimal `mapstructure:"margin"`
	BuyMultiplier decimal.Decimal `mapstructure:"buy_multiplier"`
	BuyTimeout    int             `mapstructure:"buy_timeout"`
}

// PairConfig is the resolved trading policy for one pair. Timeouts are in
// seconds of live time and get scaled by the clock speed.
type PairConfig struct {
	BuyEnabled             bool                `mapstructure:"buy_enabled"`
	BuyMaxCost             decimal.Decimal     `mapstructure:"buy_max_cost"`
	BuySamePairTimeout     int                 `mapstructure:"buy_same_pair_timeout"`
	BuyMinBalance          decimal.NullDecimal `mapstructure:"buy_min_balance"`
	SellEnabled            bool                `mapstructure:"sell_enabled"`
	SellMargin             decimal.Decimal     `mapstructure:"sell_margin"`
	StopLossEnabled        bool                `mapstructure:"stop_loss_enabled"`
	StopLossMargin         decimal.Decimal     `mapstructure:"stop_loss_margin"`
	MaxPairs               int                 `mapstructure:"max_pairs"`
	SwapEnabled            bool                `mapstructure:"swap_enabled"`
	SwapSignalRules        []string            `mapstructure:"swap_signal_rules"`
	SwapTimeout            int                 `mapstructure:"swap_timeout"`
	ArbitrageEnabled       bool                `mapstructure:"arbitrage_enabled"`
	ArbitrageMarkets       []string            `mapstructure:"arbitrage_markets"`
	ArbitrageType          ArbitrageType       `mapstructure:"arbitrage_type"`
	ArbitrageSignalRules   []string            `mapstructure:"arbitrage_signal_rules"`
	ArbitrageBuyMultiplier decimal.NullDecimal `mapstructure:"arbitrage_buy_multiplier"`
	DCAEnabled             bool                `mapstructure:"dca_enabled"`
	DCALevels              []DCALevel          `mapstructure:"dca_levels"`
}

// MinBalance is the balance a buy must leave behind, falling back to
// fallback when the pair sets none.
func (pc PairConfig) MinBalance(fallback decimal.Decimal) decimal.Decimal {
	if pc.BuyMinBalance.Valid {
		return pc.BuyMinBalance.Decimal
	}
	return fallback
}

func (pc PairConfig) SwapRuleMatches(rule string) bool {
	return contains(pc.SwapSignalRules, rule)
}

func (pc PairConfig) ArbitrageRuleMatches(rule string) bool {
	return contains(pc.ArbitrageSignalRules, rule)
}

// NextDCALevel returns the table row that applies after current levels have
// been bought, if any.
func (pc PairConfig) NextDCALevel(current int) (DCALevel, bool) {
	if !pc.DCAEnabled || current < 0 || current >= len(pc.DCALevels) {
		return DCALevel{}, false
	}
	return pc.DCALevels[current], true
}

func contains(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
