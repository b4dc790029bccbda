// Package trader is the trading action orchestrator. It admits or denies
// buy, sell, swap and arbitrage requests and executes approved ones, one at
// a time, from a single queue shared by scheduled and external callers.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultBuySellGuard is the live-time interval a pair must be held before
// it can be sold.
const DefaultBuySellGuard = 10 * time.Second

const queueSize = 256

var (
	ErrStopped                    = errors.New("trader is not running")
	ErrArbitrageDirectUnsupported = errors.New("direct arbitrage is not supported")
)

type Exchange interface {
	GetPrice(pair string, priceType models.PriceType) (decimal.Decimal, error)
	GetPairMarket(pair string) (string, error)
	ChangeMarket(pair, market string) (string, error)
	GetMarketPairs(market string) []string
	GetArbitrage(pair, market string, candidates []string, arbitrageType models.ArbitrageType, priceType models.PriceType) models.Arbitrage
	GetArbitrageMarketPair(market string) string
}

type Account interface {
	GetTradingPairs() []*models.TradingPair
	GetTradingPair(pair string) (*models.TradingPair, bool)
	HasTradingPair(pair string) bool
	GetBalance() decimal.Decimal
	AddBlankOrder(pair string, amount decimal.Decimal, includeFees bool) (models.Order, error)
	UpdateTradingPair(pair string, fn func(tp *models.TradingPair)) bool
	Revalue(pair string) (*models.TradingPair, bool)
	Refresh(ctx context.Context) error
}

type Ordering interface {
	PlaceBuyOrder(ctx context.Context, req models.BuyRequest) models.Order
	PlaceSellOrder(ctx context.Context, req models.SellRequest) models.Order
}

type History interface {
	LastOrderTime(pair string, side models.OrderSide) (time.Time, bool)
}

type Rules interface {
	Rule(name string) (rules.Rule, bool)
	PairConfig(pair string) models.PairConfig
	Replace(rules []rules.Rule, pairs map[string]models.PairConfig)
	Subscribe(fn func()) func()
}

type Signals interface {
	Drain() []models.Signal
	Requeue(signals ...models.Signal)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Metrics interface {
	ObserveAction(action, outcome string)
	ObserveDenial(action, reason string)
	SetQueueDepth(depth int)
}

type Config struct {
	Market        string
	ExcludedPairs []string
	PriceType     models.PriceType
	MinBalance    decimal.Decimal
	BuySellGuard  time.Duration
	Suspended     bool
}

type Options struct {
	Config   Config
	Exchange Exchange
	Account  Account
	Ordering Ordering
	History  History
	Rules    Rules
	Signals  Signals
	Notifier Notifier
	Metrics  Metrics
	Clock    clock.Clock
	Logger   *logrus.Logger
}

type job struct {
	name string
	run  func(ctx context.Context) error
	done chan error
}

type Trader struct {
	cfg      Config
	excluded map[string]bool
	exchange Exchange
	account  Account
	ordering Ordering
	history  History
	rules    Rules
	signals  Signals
	notifier Notifier
	metrics  Metrics
	clock    clock.Clock
	logger   *logrus.Entry

	suspended atomic.Bool
	jobs      chan job
	running   atomic.Bool
	stopped   chan struct{}
	stopOnce  sync.Once
}

func New(opts Options) *Trader {
	cfg := opts.Config
	if cfg.BuySellGuard <= 0 {
		cfg.BuySellGuard = DefaultBuySellGuard
	}
	if cfg.PriceType == "" {
		cfg.PriceType = models.PriceTypeLast
	}
	excluded := make(map[string]bool, len(cfg.ExcludedPairs))
	for _, p := range cfg.ExcludedPairs {
		excluded[p] = true
	}

	t := &Trader{
		cfg:      cfg,
		excluded: excluded,
		exchange: opts.Exchange,
		account:  opts.Account,
		ordering: opts.Ordering,
		history:  opts.History,
		rules:    opts.Rules,
		signals:  opts.Signals,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		logger:   opts.Logger.WithField("component", "trader"),
		jobs:     make(chan job, queueSize),
		stopped:  make(chan struct{}),
	}
	t.suspended.Store(cfg.Suspended)
	return t
}

// Run processes queued jobs until ctx is done. It must run in its own
// goroutine; it is the only place actions execute.
func (t *Trader) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("trader already running")
	}
	defer t.stopOnce.Do(func() { close(t.stopped) })

	unsubscribe := func() {}
	if t.rules != nil {
		unsubscribe = t.rules.Subscribe(func() {
			t.post("rules-changed", t.onRulesChanged)
		})
	}
	defer unsubscribe()

	t.logger.Info("Trader started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Trader stopped")
			return nil
		case j := <-t.jobs:
			t.observeQueue()
			j.done <- t.execute(ctx, j)
		}
	}
}

func (t *Trader) execute(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", j.name, r)
			t.logger.WithField("job", j.name).WithError(err).Error("Action panicked")
		}
	}()
	return j.run(ctx)
}

// submit enqueues fn and waits for it to finish. The action keeps running
// if the caller stops waiting.
func (t *Trader) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, run: fn, done: make(chan error, 1)}
	select {
	case t.jobs <- j:
		t.observeQueue()
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-t.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting. A full queue drops the job.
func (t *Trader) post(name string, fn func(ctx context.Context) error) {
	j := job{name: name, run: fn, done: make(chan error, 1)}
	select {
	case t.jobs <- j:
		t.observeQueue()
	default:
		t.logger.WithField("job", name).Warn("Action queue full, job dropped")
	}
}

func (t *Trader) observeQueue() {
	if t.metrics != nil {
		t.metrics.SetQueueDepth(len(t.jobs))
	}
}

func (t *Trader) onRulesChanged(ctx context.Context) error {
	t.logger.WithField("pairs", len(t.account.GetTradingPairs())).Info("Trading rules changed")
	return nil
}

func (t *Trader) Suspend() {
	t.suspended.Store(true)
	t.logger.Info("Trading suspended")
}

func (t *Trader) Resume() {
	t.suspended.Store(false)
	t.logger.Info("Trading resumed")
}

func (t *Trader) Suspended() bool {
	return t.suspended.Load()
}

// Buy runs the buy workflow through the action queue.
func (t *Trader) Buy(ctx context.Context, req models.BuyRequest) (Result, error) {
	var res Result
	err := t.submit(ctx, "buy", func(ctx context.Context) error {
		var err error
		res, err = t.buy(ctx, req)
		return err
	})
	return res, err
}

func (t *Trader) Sell(ctx context.Context, req models.SellRequest) (Result, error) {
	var res Result
	err := t.submit(ctx, "sell", func(ctx context.Context) error {
		res = t.sell(ctx, req)
		return nil
	})
	return res, err
}

func (t *Trader) Swap(ctx context.Context, req models.SwapRequest) (Result, error) {
	var res Result
	err := t.submit(ctx, "swap", func(ctx context.Context) error {
		res = t.swap(ctx, req)
		return nil
	})
	return res, err
}

func (t *Trader) ArbitrageDirect(ctx context.Context, req models.ArbitrageRequest) (Result, error) {
	var res Result
	err := t.submit(ctx, "arbitrage-direct", func(ctx context.Context) error {
		var err error
		res, err = t.arbitrageDirect(ctx, req)
		return err
	})
	return res, err
}

func (t *Trader) ArbitrageReverse(ctx context.Context, req models.ArbitrageRequest) (Result, error) {
	var res Result
	err := t.submit(ctx, "arbitrage-reverse", func(ctx context.Context) error {
		res = t.arbitrageReverse(ctx, req)
		return nil
	})
	return res, err
}

// Evaluate runs one pass of the trading evaluation over held pairs.
func (t *Trader) Evaluate(ctx context.Context) error {
	return t.submit(ctx, "evaluate", t.evaluate)
}

// RefreshAccount revalues held positions from within the queue.
func (t *Trader) RefreshAccount(ctx context.Context) error {
	return t.submit(ctx, "refresh-account", t.account.Refresh)
}

// ReplaceRules installs new rules and pair configs between actions.
func (t *Trader) ReplaceRules(ctx context.Context, rs []rules.Rule, pairs map[string]models.PairConfig) error {
	return t.submit(ctx, "replace-rules", func(ctx context.Context) error {
		t.rules.Replace(rs, pairs)
		return nil
	})
}

// Replay runs one backtest step as an action, so replayed prices and time
// never move while another action is in flight.
func (t *Trader) Replay(ctx context.Context, step func(ctx context.Context) error) error {
	return t.submit(ctx, "replay", step)
}

// ProcessSignals turns pending signals into buys, one queued job each, so
// external commands can run between them. Signals not yet handled when the
// trader stops go back to the queue.
func (t *Trader) ProcessSignals(ctx context.Context) error {
	if t.signals == nil {
		return nil
	}
	pending := t.signals.Drain()
	for i, sig := range pending {
		rule, ok := t.rules.Rule(sig.Rule)
		if !ok || !rule.Enabled {
			t.logger.WithFields(logrus.Fields{"pair": sig.Pair, "rule": sig.Rule}).Debug("Ignoring signal for unknown or disabled rule")
			continue
		}
		pc := t.rules.PairConfig(sig.Pair)
		req := models.BuyByCost(sig.Pair, pc.BuyMaxCost, models.OriginSignal)
		req.Provenance.SignalRule = rule.Name
		_, err := t.Buy(ctx, req)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStopped) || ctx.Err() != nil {
			t.signals.Requeue(pending[i:]...)
			return fmt.Errorf("buy %s for rule %s: %w", sig.Pair, rule.Name, err)
		}
		t.logger.WithFields(logrus.Fields{"pair": sig.Pair, "rule": rule.Name}).WithError(err).Error("Signal buy failed")
	}
	return nil
}

func (t *Trader) notify(ctx context.Context, message string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, message); err != nil {
		t.logger.WithError(err).Warn("Failed to send notification")
	}
}

func (t *Trader) observe(action, outcome string) {
	if t.metrics != nil {
		t.metrics.ObserveAction(action, outcome)
	}
}
