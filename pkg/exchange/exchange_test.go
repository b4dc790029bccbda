package exchange

import (
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestMarket(prices map[string]string) *Market {
	m := NewMarket("USDT", []string{"BTC", "ETH", "USD"}, logrus.New())
	for pair, price := range prices {
		m.UpdateTicker(models.Ticker{Pair: pair, LastPrice: d(price), Timestamp: time.Now()})
	}
	return m
}

func TestParsePair(t *testing.T) {
	markets := []string{"USDT", "BTC", "USD"}
	tests := []struct {
		pair   string
		asset  string
		market string
		ok     bool
	}{
		{"ABCUSDT", "ABC", "USDT", true},
		{"ABCBTC", "ABC", "BTC", true},
		{"ABCUSD", "ABC", "USD", true},
		{"USDT", "", "", false},
		{"ABCEUR", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			info, ok := ParsePair(tt.pair, markets)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.asset, info.Asset)
			assert.Equal(t, tt.market, info.Market)
		})
	}
}

func TestMarket_Metadata(t *testing.T) {
	m := newTestMarket(map[string]string{"ABCUSDT": "10", "ABCBTC": "0.0002", "BTCUSDT": "50000", "XYZUSDT": "1"})

	market, err := m.GetPairMarket("ABCBTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", market)

	changed, err := m.ChangeMarket("ABCUSDT", "BTC")
	require.NoError(t, err)
	assert.Equal(t, "ABCBTC", changed)

	_, err = m.ChangeMarket("NOPE", "BTC")
	assert.ErrorIs(t, err, ErrUnknownPair)

	assert.Equal(t, []string{"ABCUSDT", "BTCUSDT", "XYZUSDT"}, m.GetMarketPairs("USDT"))
	assert.Equal(t, "BTCUSDT", m.GetArbitrageMarketPair("BTC"))

	_, err = m.GetPrice("ETHUSDT", models.PriceTypeLast)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestMarket_PriceTypeFallsBackToLast(t *testing.T) {
	m := NewMarket("USDT", nil, logrus.New())
	m.UpdateTicker(models.Ticker{Pair: "ABCUSDT", BidPrice: d("9.9"), LastPrice: d("10")})

	bid, err := m.GetPrice("ABCUSDT", models.PriceTypeBid)
	require.NoError(t, err)
	assert.True(t, bid.Equal(d("9.9")))

	ask, err := m.GetPrice("ABCUSDT", models.PriceTypeAsk)
	require.NoError(t, err)
	assert.True(t, ask.Equal(d("10")))
}

func TestMarket_GetArbitrage(t *testing.T) {
	// ABC costs 10 USDT directly, or 0.0002 BTC * 50000 = 10.2 USDT via BTC.
	m := newTestMarket(map[string]string{"ABCUSDT": "10", "ABCBTC": "0.000204", "BTCUSDT": "50000"})

	direct := m.GetArbitrage("ABCUSDT", "USDT", []string{"BTC"}, models.ArbitrageDirect, models.PriceTypeLast)
	require.True(t, direct.Assigned)
	assert.Equal(t, "BTC", direct.Market)
	assert.True(t, direct.Percentage.Equal(d("2")), direct.Percentage.String())

	reverse := m.GetArbitrage("ABCUSDT", "USDT", []string{"BTC"}, models.ArbitrageReverse, models.PriceTypeLast)
	assert.False(t, reverse.Assigned)
}

func TestMarket_GetArbitrageSkipsMissingPrices(t *testing.T) {
	m := newTestMarket(map[string]string{"ABCUSDT": "10", "ABCBTC": "0.0001"})
	arb := m.GetArbitrage("ABCUSDT", "USDT", []string{"BTC", "ETH"}, models.ArbitrageReverse, models.PriceTypeLast)
	assert.False(t, arb.Assigned)
}
