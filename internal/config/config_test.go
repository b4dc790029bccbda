package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
trading:
  market: usdt
  excluded_pairs: [bnbusdt]
  min_balance: 50.5
  trading_interval: 2s
pairs:
  "*":
    buy_enabled: true
    buy_max_cost: 100
    sell_enabled: true
    sell_margin: "2.5"
    dca_enabled: true
    dca_levels:
      - margin: -5
        buy_multiplier: 1
        buy_timeout: 60
  abcusdt:
    buy_enabled: false
    arbitrage_type: reverse
    arbitrage_markets: [BTC]
    arbitrage_buy_multiplier: 0.98
    buy_min_balance: 200
rules:
  - name: breakout
    enabled: true
  - name: rotate
    action: swap
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), logrus.New())
	require.NoError(t, err)

	assert.Equal(t, "USDT", cfg.Trading.Market)
	assert.Equal(t, []string{"BNBUSDT"}, cfg.Trading.ExcludedPairs)
	assert.True(t, cfg.Trading.MinBalance.Equal(decimal.RequireFromString("50.5")))
	assert.Equal(t, 2*time.Second, cfg.Trading.TradingInterval)
	assert.Equal(t, 10*time.Second, cfg.Trading.BuySellGuard)
	assert.True(t, cfg.Trading.VirtualBalance.Equal(decimal.NewFromInt(1000)))

	wild := cfg.Pairs[rules.Wildcard]
	assert.True(t, wild.BuyEnabled)
	assert.True(t, wild.BuyMaxCost.Equal(decimal.NewFromInt(100)))
	assert.True(t, wild.SellMargin.Equal(decimal.RequireFromString("2.5")))
	require.Len(t, wild.DCALevels, 1)
	assert.True(t, wild.DCALevels[0].Margin.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, 60, wild.DCALevels[0].BuyTimeout)
	assert.False(t, wild.ArbitrageBuyMultiplier.Valid)

	abc, ok := cfg.Pairs["ABCUSDT"]
	require.True(t, ok)
	assert.False(t, abc.BuyEnabled)
	assert.Equal(t, models.ArbitrageReverse, abc.ArbitrageType)
	require.True(t, abc.ArbitrageBuyMultiplier.Valid)
	assert.True(t, abc.ArbitrageBuyMultiplier.Decimal.Equal(decimal.RequireFromString("0.98")))

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, rules.ActionSwap, cfg.Rules[1].Action)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSITRADER_TRADING_MARKET", "btc")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.example/hook")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"), logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "BTC", cfg.Trading.Market)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://discord.example/hook", cfg.Notify.DiscordWebhook)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"price type", "trading:\n  price_type: mid\n", "price_type"},
		{"interval", "trading:\n  rules_interval: 0s\n", "rules_interval"},
		{"rule action", "rules:\n  - name: x\n    action: hold\n", "unknown action"},
		{"live without keys", "trading:\n  virtual: false\n", "api_key_name"},
		{"backtest without file", "backtest:\n  enabled: true\n", "backtest.snapshots"},
		{"backtest speed", "backtest:\n  enabled: true\n  snapshots: s.jsonl\n  speed: 0\n", "backtest.speed"},
		{"backtest interval", "backtest:\n  enabled: true\n  snapshots: s.jsonl\n  interval: 0s\n", "backtest.interval"},
		{"bad decimal", "trading:\n  min_balance: lots\n", "unmarshaling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), logrus.New())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_PairMinBalance(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), logrus.New())
	require.NoError(t, err)

	abc := cfg.Pairs["ABCUSDT"]
	require.True(t, abc.BuyMinBalance.Valid)
	assert.True(t, abc.BuyMinBalance.Decimal.Equal(decimal.NewFromInt(200)))
	assert.False(t, cfg.Pairs["*"].BuyMinBalance.Valid)
}

func TestWatch_ReloadsRulesOnWrite(t *testing.T) {
	path := writeConfig(t, sample)
	reloaded := make(chan []rules.Rule, 16)
	require.NoError(t, Watch(path, logrus.New(), func(rs []rules.Rule, pairs map[string]models.PairConfig) {
		select {
		case reloaded <- rs:
		default:
		}
	}))

	// An invalid edit is skipped.
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: x\n    action: hold\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: momentum\n    enabled: true\n"), 0o600))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case rs := <-reloaded:
			// A write can be seen half done; wait for the full file.
			if len(rs) == 1 {
				assert.Equal(t, "momentum", rs[0].Name)
				return
			}
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}
}
