package trader

import (
	"context"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/sirupsen/logrus"
)

func (t *Trader) sell(ctx context.Context, req models.SellRequest) Result {
	res := Result{Action: "sell"}
	res.Decision = t.CanSell(req)
	if !t.admitted("sell", req.Pair, res.Decision) {
		return res
	}

	var margin string
	if tp, ok := t.account.GetTradingPair(req.HeldPair()); ok {
		margin = tp.CurrentMargin().StringFixed(2)
	}

	order := t.ordering.PlaceSellOrder(ctx, req)
	res.add(order)
	log := t.logger.WithFields(logrus.Fields{"pair": req.Pair, "position": req.HeldPair(), "origin": req.Origin})
	if !order.Executed() {
		log.WithField("reason", order.Message).Error("Sell order failed")
		t.notify(ctx, "Sell of "+req.HeldPair()+" failed: "+order.Message)
		t.observe("sell", "failed")
		return res
	}
	log.WithFields(logrus.Fields{
		"amount": order.AmountFilled.String(),
		"price":  order.AveragePrice.String(),
		"margin": margin,
	}).Info("Sell order filled")
	t.notify(ctx, "Sold "+order.AmountFilled.String()+" "+req.HeldPair()+" at "+order.AveragePrice.String()+" (margin "+margin+"%)")
	t.observe("sell", "filled")
	return res
}

// sellRequestFor sells tp in the account market, whatever market it was
// bought on.
func (t *Trader) sellRequestFor(tp *models.TradingPair, origin models.Origin) models.SellRequest {
	req := models.SellRequest{Pair: tp.Pair, Origin: origin}
	if market, err := t.exchange.GetPairMarket(tp.Pair); err == nil && market != t.cfg.Market {
		if pair, err := t.exchange.ChangeMarket(tp.Pair, t.cfg.Market); err == nil {
			req.Pair, req.Position = pair, tp.Pair
		}
	}
	return req
}
