package trader

import (
	"context"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var defaultArbitrageMultiplier = decimal.RequireFromString("0.99")

func (t *Trader) arbitrageDirect(ctx context.Context, req models.ArbitrageRequest) (Result, error) {
	res := Result{Action: "arbitrage-direct"}
	res.Decision = t.CanArbitrage(req)
	if !t.admitted("arbitrage", req.Pair, res.Decision) {
		return res, nil
	}
	t.observe("arbitrage", "unsupported")
	return res, ErrArbitrageDirectUnsupported
}

// arbitrageReverse buys the arbitrage market, buys the asset with it on
// that market and sells the asset back into the account market.
func (t *Trader) arbitrageReverse(ctx context.Context, req models.ArbitrageRequest) Result {
	res := Result{Action: "arbitrage-reverse"}
	res.Decision = t.CanArbitrage(req)
	if !t.admitted("arbitrage", req.Pair, res.Decision) {
		return res
	}
	probe := models.BuyByCost(req.Pair, decimal.Zero, models.OriginArbitrage)
	probe.IgnoreBalance = true
	probe.Provenance = req.Provenance
	res.Decision = t.CanBuy(probe)
	if !t.admitted("arbitrage", req.Pair, res.Decision) {
		return res
	}

	pc := t.rules.PairConfig(req.Pair)
	prov := req.Provenance
	prov.ArbitrageMarket = req.Arbitrage.Market
	prov.ArbitragePercentage = decimal.NewNullDecimal(req.Arbitrage.Percentage)

	log := t.logger.WithFields(logrus.Fields{
		"pair":   req.Pair,
		"market": req.Arbitrage.Market,
	})
	fail := func(leg string, o models.Order) Result {
		log.WithFields(logrus.Fields{"leg": leg, "reason": o.Message}).Error("Arbitrage failed")
		t.notify(ctx, "Arbitrage "+req.Pair+" via "+req.Arbitrage.Market+" failed at "+leg)
		t.observe("arbitrage", "failed")
		return res
	}

	// Leg 1: the arbitrage market itself, or a blank order against a
	// position that already covers it.
	marketPair := t.exchange.GetArbitrageMarketPair(req.Arbitrage.Market)
	marketPrice := t.price(marketPair)
	var first models.Order
	if existing, ok := t.account.GetTradingPair(marketPair); ok && marketPrice.IsPositive() &&
		existing.ActualCost().GreaterThan(pc.BuyMaxCost) && existing.AveragePrice.LessThanOrEqual(marketPrice) {
		blank, err := t.account.AddBlankOrder(marketPair, pc.BuyMaxCost.Div(marketPrice).Truncate(8), false)
		if err != nil {
			return fail(marketPair, models.FailedOrder(models.OrderSideBuy, marketPair, err.Error(), t.clock.Now()))
		}
		first = blank
	} else {
		firstReq := models.BuyByCost(marketPair, pc.BuyMaxCost, models.OriginArbitrage)
		firstReq.Provenance = prov
		res.Decision = t.CanBuy(firstReq)
		if !t.admitted("arbitrage", marketPair, res.Decision) {
			return res
		}
		first = t.ordering.PlaceBuyOrder(ctx, firstReq)
	}
	res.add(first)
	if !first.Filled() {
		return fail(marketPair, first)
	}
	firstFees := t.feesInMarket(first)

	// Leg 2: the asset on the arbitrage market.
	target, err := t.exchange.ChangeMarket(req.Pair, req.Arbitrage.Market)
	if err != nil {
		return fail(req.Pair, models.FailedOrder(models.OrderSideBuy, req.Pair, err.Error(), t.clock.Now()))
	}
	targetPrice := t.price(target)
	if !targetPrice.IsPositive() {
		return fail(target, models.FailedOrder(models.OrderSideBuy, target, "invalid price", t.clock.Now()))
	}
	multiplier := defaultArbitrageMultiplier
	if pc.ArbitrageBuyMultiplier.Valid {
		multiplier = pc.ArbitrageBuyMultiplier.Decimal
	}
	secondReq := models.BuyByAmount(target, first.AmountFilled.Div(targetPrice).Mul(multiplier).Truncate(8), models.OriginArbitrage)
	secondReq.Provenance = prov
	res.Decision = t.CanBuy(secondReq)
	if !t.admitted("arbitrage", target, res.Decision) {
		return res
	}
	second := t.ordering.PlaceBuyOrder(ctx, secondReq)
	res.add(second)
	if !second.Filled() {
		return fail(target, second)
	}
	secondFees := t.feesInMarket(second)

	// Leg 3: sell the asset into the account market against the target
	// position, costed as the whole round trip.
	override := first.RawCost.Add(firstFees).Add(secondFees.Mul(decimal.NewFromInt(2)))
	t.account.UpdateTradingPair(target, func(tp *models.TradingPair) {
		tp.OverrideCost = decimal.NewNullDecimal(override)
	})
	defer t.account.UpdateTradingPair(target, func(tp *models.TradingPair) {
		tp.OverrideCost = decimal.NullDecimal{}
	})

	third := t.ordering.PlaceSellOrder(ctx, models.SellRequest{
		Pair:       req.Pair,
		Position:   target,
		Amount:     decimal.NewNullDecimal(second.AmountFilled),
		Origin:     models.OriginArbitrage,
		Provenance: prov,
	})
	res.add(third)
	if !third.Filled() {
		return fail(req.Pair, third)
	}

	profit := third.RawCost.Sub(t.feesInMarket(third)).Sub(override)
	log.WithFields(logrus.Fields{
		"legs":       []string{marketPair, target, req.Pair},
		"percentage": req.Arbitrage.Percentage.StringFixed(2),
		"profit":     profit.StringFixed(8),
	}).Info("Arbitrage completed")
	t.notify(ctx, "Arbitrage "+marketPair+" -> "+target+" -> "+req.Pair+" completed, profit "+profit.StringFixed(2)+" "+t.cfg.Market)
	t.observe("arbitrage", "filled")
	return res
}
