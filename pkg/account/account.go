// Package account tracks the balance and held positions of the trading
// account. Positions are built from the fills the account is told about, in
// both virtual and live mode.
package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPairNotHeld         = errors.New("pair not held")
)

// PriceSource is the part of the exchange the account needs to value
// positions.
type PriceSource interface {
	GetPrice(pair string, priceType models.PriceType) (decimal.Decimal, error)
	GetPairMarket(pair string) (string, error)
	ChangeMarket(pair, market string) (string, error)
}

// BalanceSource reports the exchange-side balance in live mode.
type BalanceSource interface {
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}

type Options struct {
	Market        string
	PriceType     models.PriceType
	FeeRate       decimal.Decimal
	Balance       decimal.Decimal
	Prices        PriceSource
	BalanceSource BalanceSource
	Clock         clock.Clock
	Logger        *logrus.Logger
}

type Account struct {
	market        string
	priceType     models.PriceType
	feeRate       decimal.Decimal
	prices        PriceSource
	balanceSource BalanceSource
	clock         clock.Clock
	logger        *logrus.Entry

	mu      sync.RWMutex
	balance decimal.Decimal
	pairs   map[string]*models.TradingPair
}

func New(opts Options) *Account {
	return &Account{
		market:        opts.Market,
		priceType:     opts.PriceType,
		feeRate:       opts.FeeRate,
		prices:        opts.Prices,
		balanceSource: opts.BalanceSource,
		clock:         opts.Clock,
		logger:        opts.Logger.WithField("component", "account"),
		balance:       opts.Balance,
		pairs:         make(map[string]*models.TradingPair),
	}
}

func (a *Account) Market() string {
	return a.market
}

func (a *Account) GetBalance() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

func (a *Account) SetBalance(balance decimal.Decimal) {
	a.mu.Lock()
	a.balance = balance
	a.mu.Unlock()
}

// GetTradingPairs returns copies of all held positions ordered by pair.
func (a *Account) GetTradingPairs() []*models.TradingPair {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*models.TradingPair, 0, len(a.pairs))
	for _, tp := range a.pairs {
		out = append(out, tp.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

func (a *Account) GetTradingPair(pair string) (*models.TradingPair, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tp, ok := a.pairs[pair]
	if !ok {
		return nil, false
	}
	return tp.Clone(), true
}

func (a *Account) HasTradingPair(pair string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.pairs[pair]
	return ok
}

// UpdateTradingPair runs fn against the held position under the account
// lock. It reports false when the pair is not held.
func (a *Account) UpdateTradingPair(pair string, fn func(tp *models.TradingPair)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	tp, ok := a.pairs[pair]
	if !ok {
		return false
	}
	fn(tp)
	return true
}

// AddBlankOrder builds a synthetic filled buy of amount at the current price
// without touching the exchange or the account.
func (a *Account) AddBlankOrder(pair string, amount decimal.Decimal, includeFees bool) (models.Order, error) {
	price, err := a.prices.GetPrice(pair, a.priceType)
	if err != nil {
		return models.Order{}, fmt.Errorf("price blank order %s: %w", pair, err)
	}
	market, err := a.prices.GetPairMarket(pair)
	if err != nil {
		return models.Order{}, err
	}

	rawCost := price.Mul(amount)
	fees := decimal.Zero
	if includeFees {
		fees = rawCost.Mul(a.feeRate)
	}
	return models.Order{
		OrderID:      "blank-" + uuid.NewString(),
		Side:         models.OrderSideBuy,
		Pair:         pair,
		Amount:       decimal.NewNullDecimal(amount),
		AmountFilled: amount,
		AveragePrice: price,
		RawCost:      rawCost,
		Fees:         fees,
		FeesCurrency: market,
		Result:       models.OrderResultFilled,
		Timestamp:    a.clock.Now(),
	}, nil
}

// ApplyBuy books an executed buy. Buys settling in the account market are
// paid from the balance; buys on another market are paid from the held
// position that converts that market into the account market.
func (a *Account) ApplyBuy(order models.Order) error {
	if !order.Executed() {
		return nil
	}
	market, err := a.prices.GetPairMarket(order.Pair)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	spent := order.RawCost.Add(order.Fees)
	var cost, fees decimal.Decimal
	if market == a.market {
		if a.balance.LessThan(spent) {
			return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientBalance, spent, a.market, a.balance)
		}
		a.balance = a.balance.Sub(spent)
		cost, fees = order.RawCost, order.Fees
	} else {
		fundingPair := market + a.market
		funding, ok := a.pairs[fundingPair]
		if !ok || funding.Amount.LessThan(spent) {
			return fmt.Errorf("%w: need %s %s from %s", ErrInsufficientBalance, spent, market, fundingPair)
		}
		cost, fees = a.release(funding, order.RawCost), a.release(funding, order.Fees)
		if !funding.Amount.IsPositive() {
			delete(a.pairs, fundingPair)
		}
	}

	tp, ok := a.pairs[order.Pair]
	if !ok {
		tp = &models.TradingPair{
			Pair:         order.Pair,
			OriginalPair: order.OriginalPair,
			Metadata: models.PairMetadata{
				SignalRule:          order.Provenance.SignalRule,
				SwapPair:            order.Provenance.SwapFrom,
				LastBuyMargin:       order.Provenance.LastBuyMargin,
				AdditionalCosts:     order.Provenance.AdditionalCosts,
				AdditionalDCALevels: order.Provenance.AdditionalDCALevels,
			},
		}
		a.pairs[order.Pair] = tp
	} else if order.Provenance.LastBuyMargin.Valid {
		tp.Metadata.LastBuyMargin = order.Provenance.LastBuyMargin
	}

	tp.Amount = tp.Amount.Add(order.AmountFilled)
	tp.TotalCost = tp.TotalCost.Add(cost)
	tp.FeesNonDeductible = tp.FeesNonDeductible.Add(fees)
	tp.AveragePrice = tp.TotalCost.Div(tp.Amount)
	tp.OrderDates = append(tp.OrderDates, order.Timestamp)
	tp.Buys++
	tp.CurrentPrice = a.valuePrice(tp.Pair, tp.AveragePrice)
	return nil
}

// release takes quantity out of the funding position and returns the share
// of its cost basis, in account market, that moves with it.
func (a *Account) release(funding *models.TradingPair, quantity decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() || !funding.Amount.IsPositive() {
		return decimal.Zero
	}
	share := quantity.Div(funding.Amount)
	cost := funding.TotalCost.Mul(share)
	fees := funding.FeesNonDeductible.Mul(share)
	funding.Amount = funding.Amount.Sub(quantity)
	funding.TotalCost = funding.TotalCost.Sub(cost)
	funding.FeesNonDeductible = funding.FeesNonDeductible.Sub(fees)
	return cost.Add(fees)
}

// ApplySell books an executed sell that drew from position. The position is
// removed once nothing is left of it.
func (a *Account) ApplySell(order models.Order, position string) error {
	if !order.Executed() {
		return nil
	}
	market, err := a.prices.GetPairMarket(order.Pair)
	if err != nil {
		return err
	}
	if market != a.market {
		return fmt.Errorf("sell of %s settles in %s, account market is %s", order.Pair, market, a.market)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tp, ok := a.pairs[position]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairNotHeld, position)
	}

	sold := decimal.Min(order.AmountFilled, tp.Amount)
	a.release(tp, sold)
	tp.OrderDates = append(tp.OrderDates, order.Timestamp)
	a.balance = a.balance.Add(order.RawCost.Sub(order.Fees))

	if !tp.Amount.IsPositive() {
		delete(a.pairs, position)
	}
	return nil
}

// Refresh revalues held positions and, in live mode, reloads the balance.
func (a *Account) Refresh(ctx context.Context) error {
	if a.balanceSource != nil {
		balance, err := a.balanceSource.GetBalance(ctx, a.market)
		if err != nil {
			return fmt.Errorf("refresh balance: %w", err)
		}
		a.SetBalance(balance)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tp := range a.pairs {
		tp.CurrentPrice = a.valuePrice(tp.Pair, tp.CurrentPrice)
	}
	return nil
}

// Revalue refreshes the current price of one held position and returns a
// copy of it.
func (a *Account) Revalue(pair string) (*models.TradingPair, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tp, ok := a.pairs[pair]
	if !ok {
		return nil, false
	}
	tp.CurrentPrice = a.valuePrice(tp.Pair, tp.CurrentPrice)
	return tp.Clone(), true
}

// valuePrice is the price of pair's asset in the account market, or
// fallback when no price is known.
func (a *Account) valuePrice(pair string, fallback decimal.Decimal) decimal.Decimal {
	valued, err := a.prices.ChangeMarket(pair, a.market)
	if err != nil {
		return fallback
	}
	price, err := a.prices.GetPrice(valued, a.priceType)
	if err != nil || !price.IsPositive() {
		return fallback
	}
	return price
}
