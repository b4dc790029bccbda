package trader

import (
	"context"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/sirupsen/logrus"
)

// evaluate sells pairs at their sell or stop-loss margin and averages down
// pairs that reached their next DCA level.
func (t *Trader) evaluate(ctx context.Context) error {
	if t.Suspended() {
		return nil
	}
	for _, held := range t.account.GetTradingPairs() {
		tp, ok := t.account.Revalue(held.Pair)
		if !ok {
			continue
		}
		pc := t.rules.PairConfig(tp.Pair)
		margin := tp.CurrentMargin()
		log := t.logger.WithFields(logrus.Fields{"pair": tp.Pair, "margin": margin.StringFixed(2)})

		switch {
		case pc.SellEnabled && pc.SellMargin.IsPositive() && margin.GreaterThanOrEqual(pc.SellMargin):
			log.Debug("Sell margin reached")
			t.sell(ctx, t.sellRequestFor(tp, models.OriginSignal))
		case pc.StopLossEnabled && margin.LessThanOrEqual(pc.StopLossMargin):
			log.Debug("Stop loss margin reached")
			t.sell(ctx, t.sellRequestFor(tp, models.OriginSignal))
		case pc.DCAEnabled:
			level, ok := pc.NextDCALevel(tp.DCALevel())
			if !ok || margin.GreaterThan(level.Margin) {
				continue
			}
			if t.elapsedSince(tp.LastOrderDate()) <= clock.Seconds(t.clock, level.BuyTimeout) {
				continue
			}
			log.WithField("level", tp.DCALevel()+1).Debug("DCA level reached")
			req := models.BuyByAmount(tp.Pair, tp.Amount.Mul(level.BuyMultiplier).Truncate(8), models.OriginDCA)
			req.Provenance.SignalRule = tp.Metadata.SignalRule
			t.plainBuy(ctx, req)
		}
	}
	return nil
}
