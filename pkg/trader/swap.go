package trader

import (
	"context"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// swap sells OldPair and rebuys NewPair with the proceeds. The new position
// inherits the old one's losses as additional costs and its DCA level.
func (t *Trader) swap(ctx context.Context, req models.SwapRequest) Result {
	res := Result{Action: "swap"}
	res.Decision = t.CanSwap(req)
	if !t.admitted("swap", req.OldPair, res.Decision) {
		return res
	}

	sellProv := req.Provenance
	sellProv.SwapPair = req.NewPair
	sellReq := models.SellRequest{Pair: req.OldPair, Origin: models.OriginSwap, Provenance: sellProv}
	res.Decision = t.CanSell(sellReq)
	if !t.admitted("swap", req.OldPair, res.Decision) {
		return res
	}

	old, _ := t.account.GetTradingPair(req.OldPair)
	margin := old.CurrentMargin()
	additional := old.ActualCost().Sub(old.CurrentCost()).Add(old.Metadata.AdditionalCosts)
	dcaLevel := old.DCALevel()

	log := t.logger.WithFields(logrus.Fields{"old": req.OldPair, "new": req.NewPair})

	sold := t.ordering.PlaceSellOrder(ctx, sellReq)
	res.add(sold)
	if t.account.HasTradingPair(req.OldPair) {
		log.WithField("reason", sold.Message).Error("Swap failed: sell leg")
		t.notify(ctx, "Swap "+req.OldPair+" -> "+req.NewPair+" failed selling "+req.OldPair)
		t.observe("swap", "failed")
		return res
	}

	buyReq := models.BuyByCost(req.NewPair, sold.RawCost, models.OriginSwap)
	buyReq.Provenance = models.Provenance{
		SignalRule:          req.Provenance.SignalRule,
		SwapFrom:            req.OldPair,
		LastBuyMargin:       decimal.NewNullDecimal(margin),
		AdditionalCosts:     additional,
		AdditionalDCALevels: dcaLevel,
	}
	bought := t.ordering.PlaceBuyOrder(ctx, buyReq)
	res.add(bought)
	if !t.account.HasTradingPair(req.NewPair) {
		log.WithField("reason", bought.Message).Error("Swap failed: buy leg")
		t.notify(ctx, "Swap "+req.OldPair+" -> "+req.NewPair+" failed buying "+req.NewPair+" after selling "+req.OldPair)
		t.observe("swap", "failed")
		return res
	}

	sellFees := t.feesInMarket(sold)
	t.account.UpdateTradingPair(req.NewPair, func(tp *models.TradingPair) {
		tp.Metadata.AdditionalCosts = tp.Metadata.AdditionalCosts.Add(sellFees)
	})
	log.WithFields(logrus.Fields{
		"margin":          margin.StringFixed(2),
		"additionalCosts": additional.Add(sellFees).String(),
	}).Info("Swap completed")
	t.notify(ctx, "Swapped "+req.OldPair+" for "+req.NewPair)
	t.observe("swap", "filled")
	return res
}
