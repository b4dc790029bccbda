package trader

import (
	"fmt"
	"slices"
	"time"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
)

var swapBalanceFactor = decimal.RequireFromString("0.01")

// Decision is the outcome of an admission check. Allowed decisions may still
// carry a diagnostic Reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Result describes what an action did: its admission decision and the
// orders placed, in order.
type Result struct {
	Action   string         `json:"action"`
	Decision Decision       `json:"decision"`
	Orders   []models.Order `json:"orders,omitempty"`
}

func (r *Result) add(o models.Order) {
	r.Orders = append(r.Orders, o)
}

func (t *Trader) isExcluded(pair string) bool {
	return t.excluded[pair]
}

func (t *Trader) price(pair string) decimal.Decimal {
	p, err := t.exchange.GetPrice(pair, t.cfg.PriceType)
	if err != nil {
		return decimal.Zero
	}
	return p
}

func (t *Trader) elapsedSince(at time.Time) time.Duration {
	return clock.Since(t.clock, at)
}

// CanBuy checks a buy request. Checks run in a fixed order and the first
// failure decides.
func (t *Trader) CanBuy(req models.BuyRequest) Decision {
	o := req.Origin
	pc := t.rules.PairConfig(req.Pair)
	held := t.account.HasTradingPair(req.Pair)
	market, _ := t.exchange.GetPairMarket(req.Pair)
	inMarket := market == t.cfg.Market

	if t.Suspended() && !o.Manual() && !o.Swap() {
		return deny("cancel buy request for %s. Reason: trading suspended", req.Pair)
	}
	if !pc.BuyEnabled && !o.Manual() && !o.Swap() {
		return deny("cancel buy request for %s. Reason: buying not enabled", req.Pair)
	}
	if t.isExcluded(req.Pair) && !o.Manual() {
		return deny("cancel buy request for %s. Reason: pair excluded", req.Pair)
	}
	if held && !o.Arbitrage() && !o.IgnoreExisting() && !o.Manual() {
		return deny("cancel buy request for %s. Reason: pair already exists", req.Pair)
	}
	if pc.MaxPairs > 0 && !held && !o.Manual() && !o.Swap() && !o.Arbitrage() &&
		len(t.account.GetTradingPairs()) >= pc.MaxPairs {
		return deny("cancel buy request for %s. Reason: maximum pairs reached", req.Pair)
	}

	price := t.price(req.Pair)
	cost := req.MaxCost.Decimal
	if !req.MaxCost.Valid {
		cost = req.Amount.Decimal.Mul(price)
	}
	balance := t.account.GetBalance()

	if inMarket && !o.Manual() && !o.Swap() && !req.IgnoreBalance &&
		balance.Sub(cost).LessThan(pc.MinBalance(t.cfg.MinBalance)) {
		return deny("cancel buy request for %s. Reason: minimum balance reached", req.Pair)
	}
	if !price.IsPositive() {
		return deny("cancel buy request for %s. Reason: invalid price", req.Pair)
	}
	if inMarket && !req.IgnoreBalance && balance.LessThan(cost) {
		return deny("cancel buy request for %s. Reason: not enough balance", req.Pair)
	}

	d := allow()
	if req.Amount.Valid == req.MaxCost.Valid {
		// Reported, not enforced.
		d.Reason = fmt.Sprintf("buy request for %s: either max cost or amount needs to be specified (not both)", req.Pair)
	}

	if !o.Manual() && !o.Swap() && !o.Arbitrage() && pc.BuySamePairTimeout > 0 {
		timeout := clock.Seconds(t.clock, pc.BuySamePairTimeout)
		if last, ok := t.lastBuy(req.Pair); ok && t.elapsedSince(last) < timeout {
			return deny("cancel buy request for %s. Reason: buy same pair timeout", req.Pair)
		}
	}
	return d
}

// lastBuy is the most recent buy on pair or on the pair it was swapped from.
func (t *Trader) lastBuy(pair string) (time.Time, bool) {
	last, ok := t.history.LastOrderTime(pair, models.OrderSideBuy)
	if tp, held := t.account.GetTradingPair(pair); held && tp.OriginalPair != "" {
		if prev, found := t.history.LastOrderTime(tp.OriginalPair, models.OrderSideBuy); found && (!ok || prev.After(last)) {
			last, ok = prev, true
		}
	}
	return last, ok
}

func (t *Trader) CanSell(req models.SellRequest) Decision {
	o := req.Origin
	held := req.HeldPair()
	pc := t.rules.PairConfig(held)

	if t.Suspended() && !o.Manual() {
		return deny("cancel sell request for %s. Reason: trading suspended", req.Pair)
	}
	if !pc.SellEnabled && !o.Manual() {
		return deny("cancel sell request for %s. Reason: selling not enabled", req.Pair)
	}
	if t.isExcluded(held) && !o.Manual() {
		return deny("cancel sell request for %s. Reason: pair excluded", req.Pair)
	}
	tp, ok := t.account.GetTradingPair(held)
	if !ok {
		return deny("cancel sell request for %s. Reason: pair does not exist", req.Pair)
	}
	if !t.price(req.Pair).IsPositive() {
		return deny("cancel sell request for %s. Reason: invalid price", req.Pair)
	}
	if !o.Arbitrage() {
		guard := clock.Scale(t.clock, t.cfg.BuySellGuard)
		if t.elapsedSince(tp.LastOrderDate()) <= guard {
			return deny("cancel sell request for %s. Reason: pair just bought", req.Pair)
		}
	}
	return allow()
}

func (t *Trader) CanSwap(req models.SwapRequest) Decision {
	old, ok := t.account.GetTradingPair(req.OldPair)
	if !ok {
		return deny("cancel swap request %s -> %s. Reason: pair does not exist", req.OldPair, req.NewPair)
	}
	if t.account.HasTradingPair(req.NewPair) {
		return deny("cancel swap request %s -> %s. Reason: pair already exists", req.OldPair, req.NewPair)
	}
	if !t.rules.PairConfig(req.OldPair).SellEnabled && !req.Manual {
		return deny("cancel swap request %s -> %s. Reason: selling not enabled", req.OldPair, req.NewPair)
	}
	if !t.rules.PairConfig(req.NewPair).BuyEnabled && !req.Manual {
		return deny("cancel swap request %s -> %s. Reason: buying not enabled", req.OldPair, req.NewPair)
	}
	if t.account.GetBalance().LessThanOrEqual(old.CurrentCost().Mul(swapBalanceFactor)) {
		return deny("cancel swap request %s -> %s. Reason: not enough balance", req.OldPair, req.NewPair)
	}
	if !slices.Contains(t.exchange.GetMarketPairs(t.cfg.Market), req.NewPair) {
		return deny("cancel swap request %s -> %s. Reason: invalid swap pair", req.OldPair, req.NewPair)
	}
	return allow()
}

func (t *Trader) CanArbitrage(req models.ArbitrageRequest) Decision {
	if t.account.HasTradingPair(req.Pair) {
		return deny("cancel arbitrage request for %s. Reason: pair already exists", req.Pair)
	}
	if !t.rules.PairConfig(req.Pair).BuyEnabled && !req.Manual {
		return deny("cancel arbitrage request for %s. Reason: buying not enabled", req.Pair)
	}
	if !slices.Contains(t.exchange.GetMarketPairs(t.cfg.Market), req.Pair) {
		return deny("cancel arbitrage request for %s. Reason: invalid pair", req.Pair)
	}
	return allow()
}
