// Package exchange holds market metadata and the latest prices seen from a
// live feed or a backtest replay.
package exchange

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownPair = errors.New("unknown pair")
	ErrNoPrice     = errors.New("no price available")
)

// Market is the in-process view of the exchange: which pairs exist, which
// market each settles in, and their latest tickers.
type Market struct {
	market  string
	markets []string
	pairs   map[string]models.PairInfo
	tickers map[string]models.Ticker
	logger  *logrus.Entry
	mu      sync.RWMutex
}

// NewMarket creates a view whose account market is market. knownMarkets are
// the quote currencies used to split pair ids such as "ABCBTC".
func NewMarket(market string, knownMarkets []string, logger *logrus.Logger) *Market {
	markets := append([]string{market}, knownMarkets...)
	// Longest first so "USDT" wins over "USD".
	sort.SliceStable(markets, func(i, j int) bool { return len(markets[i]) > len(markets[j]) })
	return &Market{
		market:  market,
		markets: dedupe(markets),
		pairs:   make(map[string]models.PairInfo),
		tickers: make(map[string]models.Ticker),
		logger:  logger.WithField("component", "exchange"),
	}
}

func (m *Market) AccountMarket() string {
	return m.market
}

func (m *Market) RegisterPairs(infos []models.PairInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range infos {
		m.pairs[info.Pair] = info
	}
}

// UpdateTicker stores the latest ticker. Pairs not registered yet are added
// when their id can be split on a known market.
func (m *Market) UpdateTicker(t models.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pairs[t.Pair]; !ok {
		info, ok := ParsePair(t.Pair, m.markets)
		if !ok {
			m.logger.WithField("pair", t.Pair).Debug("Ignoring ticker for unparseable pair")
			return
		}
		m.pairs[t.Pair] = info
	}
	m.tickers[t.Pair] = t
}

func (m *Market) Ticker(pair string) (models.Ticker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickers[pair]
	return t, ok
}

func (m *Market) PairInfo(pair string) (models.PairInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.pairs[pair]
	return info, ok
}

func (m *Market) GetPrice(pair string, priceType models.PriceType) (decimal.Decimal, error) {
	m.mu.RLock()
	t, ok := m.tickers[pair]
	m.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w for %s", ErrNoPrice, pair)
	}
	return t.Price(priceType), nil
}

func (m *Market) GetPairMarket(pair string) (string, error) {
	info, ok := m.PairInfo(pair)
	if !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownPair, pair)
	}
	return info.Market, nil
}

// ChangeMarket returns the pair trading the same asset as pair on market.
func (m *Market) ChangeMarket(pair, market string) (string, error) {
	info, ok := m.PairInfo(pair)
	if !ok {
		return "", fmt.Errorf("%w %s", ErrUnknownPair, pair)
	}
	if info.Market == market {
		return pair, nil
	}
	return info.Asset + market, nil
}

// GetMarketPairs lists the known pairs settling in market, sorted.
func (m *Market) GetMarketPairs(market string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pairs []string
	for pair, info := range m.pairs {
		if info.Market == market {
			pairs = append(pairs, pair)
		}
	}
	sort.Strings(pairs)
	return pairs
}

func (m *Market) IsMarketPair(pair, market string) bool {
	info, ok := m.PairInfo(pair)
	return ok && info.Market == market
}

// GetArbitrageMarketPair is the pair that converts market into the account
// market, e.g. "BTC" -> "BTCUSDT".
func (m *Market) GetArbitrageMarketPair(market string) string {
	return market + m.market
}

// ParsePair splits a concatenated pair id on the first matching market
// suffix. markets must be ordered longest first.
func ParsePair(pair string, markets []string) (models.PairInfo, bool) {
	for _, market := range markets {
		if market == "" || !strings.HasSuffix(pair, market) || len(pair) == len(market) {
			continue
		}
		asset := strings.TrimSuffix(pair, market)
		return models.PairInfo{
			Pair:      pair,
			Asset:     asset,
			Market:    market,
			ProductID: asset + "-" + market,
		}, true
	}
	return models.PairInfo{}, false
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
