package trader

import (
	"context"
	"sort"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// buy dispatches a request to arbitrage, to a swap out of a weaker held
// pair, or to a plain buy, in that order.
func (t *Trader) buy(ctx context.Context, req models.BuyRequest) (Result, error) {
	log := t.logger.WithFields(logrus.Fields{"pair": req.Pair, "origin": req.Origin})

	var (
		rule    rules.Rule
		hasRule bool
	)
	if req.Provenance.SignalRule != "" {
		rule, hasRule = t.rules.Rule(req.Provenance.SignalRule)
	}
	pc := t.rules.PairConfig(req.Pair)

	if hasRule && pc.ArbitrageEnabled && pc.ArbitrageRuleMatches(rule.Name) {
		arb := t.exchange.GetArbitrage(req.Pair, t.cfg.Market, pc.ArbitrageMarkets, pc.ArbitrageType, t.cfg.PriceType)
		if arb.Assigned {
			prov := req.Provenance
			prov.ArbitrageMarket = arb.Market
			prov.ArbitragePercentage = decimal.NewNullDecimal(arb.Percentage)
			areq := models.ArbitrageRequest{Pair: req.Pair, Arbitrage: arb, Manual: req.Origin.Manual(), Provenance: prov}
			log.WithFields(logrus.Fields{
				"market":     arb.Market,
				"type":       arb.Type,
				"percentage": arb.Percentage.StringFixed(2),
			}).Info("Arbitrage opportunity found")
			if arb.Type == models.ArbitrageDirect {
				return t.arbitrageDirect(ctx, areq)
			}
			return t.arbitrageReverse(ctx, areq), nil
		}
	}

	if hasRule && !t.account.HasTradingPair(req.Pair) {
		if old := t.findSwapCandidate(req.Pair, rule.Name); old != "" {
			prov := req.Provenance
			prov.SwapPair = req.Pair
			return t.swap(ctx, models.SwapRequest{
				OldPair:    old,
				NewPair:    req.Pair,
				Manual:     req.Origin.Manual(),
				Provenance: prov,
			}), nil
		}
	}

	if hasRule && rule.Action != rules.ActionDefault {
		return Result{Action: "buy", Decision: deny("rule %s does not buy directly", rule.Name)}, nil
	}
	return t.plainBuy(ctx, req), nil
}

// findSwapCandidate picks the lowest-margin held pair that may be swapped
// into newPair for rule.
func (t *Trader) findSwapCandidate(newPair, rule string) string {
	held := t.account.GetTradingPairs()
	sort.SliceStable(held, func(i, j int) bool {
		return held[i].CurrentMargin().LessThan(held[j].CurrentMargin())
	})
	for _, tp := range held {
		if tp.Pair == newPair {
			continue
		}
		pc := t.rules.PairConfig(tp.Pair)
		if !pc.SwapEnabled || !pc.SwapRuleMatches(rule) {
			continue
		}
		if t.elapsedSince(tp.LastOrderDate()) > clock.Seconds(t.clock, pc.SwapTimeout) {
			return tp.Pair
		}
	}
	return ""
}

func (t *Trader) plainBuy(ctx context.Context, req models.BuyRequest) Result {
	res := Result{Action: "buy"}
	res.Decision = t.CanBuy(req)
	if !t.admitted("buy", req.Pair, res.Decision) {
		return res
	}

	order := t.ordering.PlaceBuyOrder(ctx, req)
	res.add(order)
	log := t.logger.WithFields(logrus.Fields{"pair": req.Pair, "origin": req.Origin})
	if !order.Executed() {
		log.WithField("reason", order.Message).Error("Buy order failed")
		t.notify(ctx, "Buy of "+req.Pair+" failed: "+order.Message)
		t.observe("buy", "failed")
		return res
	}
	log.WithFields(logrus.Fields{
		"amount": order.AmountFilled.String(),
		"price":  order.AveragePrice.String(),
		"cost":   order.RawCost.String(),
	}).Info("Buy order filled")
	t.notify(ctx, "Bought "+order.AmountFilled.String()+" "+req.Pair+" at "+order.AveragePrice.String())
	t.observe("buy", "filled")
	return res
}

// admitted logs and counts a denial, and reports whether d allows the action.
func (t *Trader) admitted(action, pair string, d Decision) bool {
	if d.Allowed {
		if d.Reason != "" {
			t.logger.WithField("pair", pair).Debug(d.Reason)
		}
		return true
	}
	t.logger.WithFields(logrus.Fields{"pair": pair, "action": action}).Debug(d.Reason)
	if t.metrics != nil {
		t.metrics.ObserveDenial(action, d.Reason)
	}
	t.observe(action, "denied")
	return false
}
