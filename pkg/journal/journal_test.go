package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndLoad(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	at := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	buy := models.Order{
		OrderID:      "o-1",
		Side:         models.OrderSideBuy,
		Pair:         "XYZUSDT",
		OriginalPair: "ABCUSDT",
		AmountFilled: decimal.RequireFromString("12.5"),
		AveragePrice: decimal.RequireFromString("8"),
		RawCost:      decimal.RequireFromString("100"),
		Fees:         decimal.RequireFromString("0.1"),
		FeesCurrency: "USDT",
		Result:       models.OrderResultFilled,
		Provenance:   models.Provenance{SignalRule: "breakout", SwapPair: "ABCUSDT"},
		Timestamp:    at,
	}
	require.NoError(t, store.Append(buy))
	require.NoError(t, store.Append(models.FailedOrder(models.OrderSideSell, "OTHERUSDT", "no price", at)))

	orders, err := store.Orders(context.Background(), "ABCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	got := orders[0]
	assert.Equal(t, "o-1", got.OrderID)
	assert.True(t, buy.RawCost.Equal(got.RawCost))
	assert.True(t, buy.Fees.Equal(got.Fees))
	assert.Equal(t, "breakout", got.Provenance.SignalRule)
	assert.True(t, at.Equal(got.Timestamp))

	all, err := store.Orders(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
