package account

import (
	"context"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/exchange"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedBalance struct{ balance decimal.Decimal }

func (f fixedBalance) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return f.balance, nil
}

func newTestAccount(t *testing.T, balance string) (*Account, *exchange.Market, *clock.Manual) {
	t.Helper()
	market := exchange.NewMarket("USDT", []string{"BTC"}, logrus.New())
	for pair, price := range map[string]string{"ABCUSDT": "10", "ABCBTC": "0.0002", "BTCUSDT": "50000"} {
		market.UpdateTicker(models.Ticker{Pair: pair, LastPrice: d(price)})
	}
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	acc := New(Options{
		Market:    "USDT",
		PriceType: models.PriceTypeLast,
		FeeRate:   d("0.001"),
		Balance:   d(balance),
		Prices:    market,
		Clock:     clk,
		Logger:    logrus.New(),
	})
	return acc, market, clk
}

func buyOrder(pair, amount, price, fees string, at time.Time) models.Order {
	a, p := d(amount), d(price)
	return models.Order{
		Side:         models.OrderSideBuy,
		Pair:         pair,
		AmountFilled: a,
		AveragePrice: p,
		RawCost:      a.Mul(p),
		Fees:         d(fees),
		Result:       models.OrderResultFilled,
		Timestamp:    at,
	}
}

func TestAccount_BuyThenFullSell(t *testing.T) {
	acc, _, clk := newTestAccount(t, "1000")

	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "10", "10", "0.1", clk.Now())))
	assert.True(t, acc.GetBalance().Equal(d("899.9")))

	tp, ok := acc.GetTradingPair("ABCUSDT")
	require.True(t, ok)
	assert.True(t, tp.TotalCost.Equal(d("100")))
	assert.True(t, tp.ActualCost().Equal(d("100.1")))
	assert.Equal(t, 0, tp.DCALevel())

	sell := buyOrder("ABCUSDT", "10", "11", "0.11", clk.Now())
	sell.Side = models.OrderSideSell
	require.NoError(t, acc.ApplySell(sell, "ABCUSDT"))

	assert.False(t, acc.HasTradingPair("ABCUSDT"))
	assert.True(t, acc.GetBalance().Equal(d("1009.79")), acc.GetBalance().String())
}

func TestAccount_InsufficientBalance(t *testing.T) {
	acc, _, clk := newTestAccount(t, "50")
	err := acc.ApplyBuy(buyOrder("ABCUSDT", "10", "10", "0", clk.Now()))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, acc.HasTradingPair("ABCUSDT"))
}

func TestAccount_CrossMarketBuyDrawsFromFundingPosition(t *testing.T) {
	acc, _, clk := newTestAccount(t, "1000")
	require.NoError(t, acc.ApplyBuy(buyOrder("BTCUSDT", "0.002", "50000", "0", clk.Now())))

	// 5 ABC at 0.0002 BTC = 0.001 BTC, half of the BTC position.
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCBTC", "5", "0.0002", "0", clk.Now())))

	btc, ok := acc.GetTradingPair("BTCUSDT")
	require.True(t, ok)
	assert.True(t, btc.Amount.Equal(d("0.001")))
	assert.True(t, btc.TotalCost.Equal(d("50")))

	abc, ok := acc.GetTradingPair("ABCBTC")
	require.True(t, ok)
	assert.True(t, abc.TotalCost.Equal(d("50")), abc.TotalCost.String())
	// Valued at the ABCUSDT price.
	assert.True(t, abc.CurrentPrice.Equal(d("10")))
	assert.True(t, abc.CurrentMargin().IsZero())
}

func TestAccount_SellOnOtherMarketThanPosition(t *testing.T) {
	acc, _, clk := newTestAccount(t, "1000")
	require.NoError(t, acc.ApplyBuy(buyOrder("BTCUSDT", "0.001", "50000", "0", clk.Now())))
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCBTC", "5", "0.0002", "0", clk.Now())))
	assert.False(t, acc.HasTradingPair("BTCUSDT"))

	sell := buyOrder("ABCUSDT", "5", "10", "0", clk.Now())
	sell.Side = models.OrderSideSell
	require.NoError(t, acc.ApplySell(sell, "ABCBTC"))
	assert.False(t, acc.HasTradingPair("ABCBTC"))
	assert.True(t, acc.GetBalance().Equal(d("1000")))
}

func TestAccount_AddBlankOrderDoesNotMutate(t *testing.T) {
	acc, _, _ := newTestAccount(t, "1000")
	order, err := acc.AddBlankOrder("BTCUSDT", d("0.002"), false)
	require.NoError(t, err)

	assert.True(t, order.Filled())
	assert.True(t, order.RawCost.Equal(d("100")))
	assert.True(t, order.Fees.IsZero())
	assert.Equal(t, "USDT", order.FeesCurrency)
	assert.True(t, acc.GetBalance().Equal(d("1000")))
	assert.False(t, acc.HasTradingPair("BTCUSDT"))

	withFees, err := acc.AddBlankOrder("BTCUSDT", d("0.002"), true)
	require.NoError(t, err)
	assert.True(t, withFees.Fees.Equal(d("0.1")))
}

func TestAccount_RefreshRevaluesAndLoadsBalance(t *testing.T) {
	acc, market, clk := newTestAccount(t, "1000")
	acc.balanceSource = fixedBalance{balance: d("777")}
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "10", "10", "0", clk.Now())))

	market.UpdateTicker(models.Ticker{Pair: "ABCUSDT", LastPrice: d("12")})
	require.NoError(t, acc.Refresh(context.Background()))

	tp, _ := acc.GetTradingPair("ABCUSDT")
	assert.True(t, tp.CurrentMargin().Equal(d("20")))
	assert.True(t, acc.GetBalance().Equal(d("777")))
}

func TestAccount_UpdateTradingPair(t *testing.T) {
	acc, _, clk := newTestAccount(t, "1000")
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "1", "10", "0", clk.Now())))

	ok := acc.UpdateTradingPair("ABCUSDT", func(tp *models.TradingPair) {
		tp.OverrideCost = decimal.NewNullDecimal(d("42"))
	})
	require.True(t, ok)
	tp, _ := acc.GetTradingPair("ABCUSDT")
	assert.True(t, tp.ActualCost().Equal(d("42")))

	assert.False(t, acc.UpdateTradingPair("NOPE", func(*models.TradingPair) {}))
}

func TestAccount_PartialSellKeepsDCALevel(t *testing.T) {
	acc, _, clk := newTestAccount(t, "1000")
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "10", "10", "0", clk.Now())))

	clk.Advance(time.Minute)
	sell := buyOrder("ABCUSDT", "5", "10", "0", clk.Now())
	sell.Side = models.OrderSideSell
	require.NoError(t, acc.ApplySell(sell, "ABCUSDT"))

	tp, ok := acc.GetTradingPair("ABCUSDT")
	require.True(t, ok)
	assert.True(t, tp.Amount.Equal(d("5")))
	assert.Equal(t, 0, tp.DCALevel())
	assert.Equal(t, clk.Now(), tp.LastOrderDate())

	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "5", "8", "0", clk.Now())))
	tp, _ = acc.GetTradingPair("ABCUSDT")
	assert.Equal(t, 1, tp.DCALevel())
}

func TestAccount_RevalueSinglePair(t *testing.T) {
	acc, market, clk := newTestAccount(t, "1000")
	require.NoError(t, acc.ApplyBuy(buyOrder("ABCUSDT", "10", "10", "0", clk.Now())))

	market.UpdateTicker(models.Ticker{Pair: "ABCUSDT", LastPrice: d("15")})
	tp, ok := acc.Revalue("ABCUSDT")
	require.True(t, ok)
	assert.True(t, tp.CurrentPrice.Equal(d("15")))
	assert.True(t, tp.CurrentMargin().Equal(d("50")), tp.CurrentMargin().String())

	_, ok = acc.Revalue("XYZUSDT")
	assert.False(t, ok)
}
