package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gregtusar/positrader/api"
	"github.com/gregtusar/positrader/internal/config"
	"github.com/gregtusar/positrader/pkg/account"
	"github.com/gregtusar/positrader/pkg/backtest"
	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/coinbase"
	"github.com/gregtusar/positrader/pkg/exchange"
	"github.com/gregtusar/positrader/pkg/history"
	"github.com/gregtusar/positrader/pkg/journal"
	"github.com/gregtusar/positrader/pkg/metrics"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/notify"
	"github.com/gregtusar/positrader/pkg/ordering"
	"github.com/gregtusar/positrader/pkg/rules"
	"github.com/gregtusar/positrader/pkg/scheduler"
	"github.com/gregtusar/positrader/pkg/signals"
	"github.com/gregtusar/positrader/pkg/trader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Automated spot trading bot",
		Long:  `Trades spot pairs on signals: plain buys, swaps between held pairs, triangular arbitrage and DCA, live or virtually`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	var snapshots string
	var speed float64
	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recorded snapshots through virtual trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Backtest.Enabled = true
			cfg.Trading.Virtual = true
			if snapshots != "" {
				cfg.Backtest.Snapshots = snapshots
			}
			if speed > 0 {
				cfg.Backtest.Speed = speed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	backtestCmd.Flags().StringVar(&snapshots, "snapshots", "", "snapshot file to replay")
	backtestCmd.Flags().Float64Var(&speed, "speed", 0, "replay speed factor")

	ordersCmd := &cobra.Command{
		Use:   "orders [pair]",
		Short: "Print journaled orders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pair := ""
			if len(args) == 1 {
				pair = args[0]
			}
			return printOrders(cmd.Context(), cfg.Database.Path, pair)
		},
	}

	rootCmd.AddCommand(backtestCmd, ordersCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := configureLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	priceType := models.PriceType(cfg.Trading.PriceType)
	market := exchange.NewMarket(cfg.Trading.Market, cfg.Trading.KnownMarkets, logger)

	// Admission compares timestamps on clk. In a backtest that is replayed
	// time, while loops still tick on a sped-up real clock.
	var clk clock.Clock
	var timers clock.Clock
	var replayClock *clock.Manual
	if cfg.Backtest.Enabled {
		replayClock = clock.NewManual(time.Time{}, 1)
		clk = replayClock
		timers = clock.NewReal(cfg.Backtest.Speed)
	} else {
		clk = clock.NewReal(1)
		timers = clk
	}

	store, err := journal.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	ledger := history.NewLedger(store, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.Server.MetricsNamespace, reg)

	notifier := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify.DiscordWebhook != "" {
		notifier = append(notifier, notify.NewDiscord(cfg.Notify.DiscordWebhook, cfg.Notify.Username, cfg.Notify.Timeout))
	}

	var executor ordering.Executor = ordering.NewVirtualExecutor(market, priceType, cfg.Trading.VirtualFeeRate, clk)
	var balances account.BalanceSource
	if !cfg.Backtest.Enabled {
		client, ws, err := connectCoinbase(ctx, cfg, market)
		if err != nil {
			return err
		}
		go func() {
			if err := ws.Run(ctx); err != nil {
				logger.WithError(err).Error("Ticker feed stopped")
			}
		}()
		if !cfg.Trading.Virtual {
			executor = client
			balances = client
		}
	}

	acc := account.New(account.Options{
		Market:        cfg.Trading.Market,
		PriceType:     priceType,
		FeeRate:       cfg.Trading.VirtualFeeRate,
		Balance:       cfg.Trading.VirtualBalance,
		Prices:        market,
		BalanceSource: balances,
		Clock:         clk,
		Logger:        logger,
	})
	orders := ordering.New(ordering.Options{
		Executor:  executor,
		Prices:    market,
		Book:      acc,
		History:   ledger,
		Observer:  m,
		PriceType: priceType,
		Clock:     clk,
		Logger:    logger,
	})
	ruleSet := rules.NewSet(cfg.Rules, cfg.Pairs)
	queue := signals.NewQueue(0)

	t := trader.New(trader.Options{
		Config: trader.Config{
			Market:        cfg.Trading.Market,
			ExcludedPairs: cfg.Trading.ExcludedPairs,
			PriceType:     priceType,
			MinBalance:    cfg.Trading.MinBalance,
			BuySellGuard:  cfg.Trading.BuySellGuard,
			Suspended:     cfg.Trading.Suspended,
		},
		Exchange: market,
		Account:  acc,
		Ordering: orders,
		History:  ledger,
		Rules:    ruleSet,
		Signals:  queue,
		Notifier: notifier,
		Metrics:  m,
		Clock:    clk,
		Logger:   logger,
	})
	traderDone := make(chan struct{})
	go func() {
		defer close(traderDone)
		if err := t.Run(ctx); err != nil {
			logger.WithError(err).Error("Trader stopped")
		}
	}()

	err = config.Watch(cfgFile, logger, func(rs []rules.Rule, pairs map[string]models.PairConfig) {
		if err := t.ReplaceRules(ctx, rs, pairs); err != nil {
			logger.WithError(err).Error("Failed to apply reloaded rules")
		}
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(timers, logger)
	tasks := []scheduler.Task{
		{Name: "account", Interval: cfg.Trading.AccountInterval, RunNow: true, Run: t.RefreshAccount},
		{Name: "trading", Interval: cfg.Trading.TradingInterval, StartDelay: cfg.Trading.StartDelay, Run: t.Evaluate},
		{Name: "rules", Interval: cfg.Trading.RulesInterval, StartDelay: cfg.Trading.StartDelay, Run: t.ProcessSignals},
	}

	var replayDone <-chan struct{}
	if cfg.Backtest.Enabled {
		replayer, err := backtest.Open(cfg.Backtest.Snapshots, backtest.Options{
			Tickers: market,
			Signals: queue,
			Clock:   replayClock,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		replayDone = replayer.Done()
		tasks = append(tasks, scheduler.Task{
			Name:     "backtest",
			Interval: cfg.Backtest.Interval,
			RunNow:   true,
			Run: func(ctx context.Context) error {
				return t.Replay(ctx, replayer.Step)
			},
		})
	}
	for _, task := range tasks {
		if err := sched.Add(task); err != nil {
			return err
		}
	}
	sched.Start(ctx)

	server := api.NewServer(api.Options{
		Trader:  t,
		Account: acc,
		History: ledger,
		Signals: queue,
		Tasks:   sched,
		Metrics: m.Handler(),
		Now:     clk.Now,
		Logger:  logger,
		Port:    strconv.Itoa(cfg.Server.Port),
	})
	go func() {
		if err := server.Start(ctx); err != nil {
			logger.WithError(err).Error("API server stopped")
			cancel()
		}
	}()

	logger.WithFields(logrus.Fields{
		"market":   cfg.Trading.Market,
		"virtual":  cfg.Trading.Virtual,
		"backtest": cfg.Backtest.Enabled,
	}).Info("Trader is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-replayDone:
		// Let the loops act on the last snapshot before the summary.
		if err := t.ProcessSignals(ctx); err != nil {
			logger.WithError(err).Warn("Final signal pass failed")
		}
		if err := t.Evaluate(ctx); err != nil {
			logger.WithError(err).Warn("Final evaluation failed")
		}
		summarize(acc, ledger)
	}

	sched.Stop()
	cancel()
	<-traderDone
	logger.Info("Trader stopped")
	return nil
}

func connectCoinbase(ctx context.Context, cfg *config.Config, market *exchange.Market) (*coinbase.Client, *coinbase.WebSocketClient, error) {
	var auth coinbase.Authenticator
	var wsAuth *coinbase.JWTAuthenticator
	switch coinbase.AuthType(cfg.Coinbase.AuthType) {
	case coinbase.AuthTypeJWT:
		if cfg.Coinbase.APIKeyName != "" {
			jwtAuth, err := coinbase.NewJWTAuthenticator(cfg.Coinbase.APIKeyName, cfg.Coinbase.PrivateKeyPEM)
			if err != nil {
				return nil, nil, fmt.Errorf("coinbase auth: %w", err)
			}
			auth, wsAuth = jwtAuth, jwtAuth
		}
	case coinbase.AuthTypeLegacy:
		if cfg.Coinbase.APIKey != "" {
			auth = coinbase.NewLegacyAuthenticator(cfg.Coinbase.APIKey, cfg.Coinbase.APISecret, cfg.Coinbase.Passphrase)
		}
	}

	baseURL := cfg.Coinbase.BaseURL
	if baseURL == "" && cfg.Coinbase.Sandbox {
		baseURL = coinbase.SandboxBaseURL
	}
	client := coinbase.NewClient(coinbase.Options{
		BaseURL:           baseURL,
		Auth:              auth,
		Products:          market,
		RequestsPerSecond: cfg.Coinbase.RequestsPerSecond,
		FillTimeout:       cfg.Coinbase.FillTimeout,
		Logger:            logger,
	})

	products, err := client.ListProducts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list coinbase products: %w", err)
	}
	market.RegisterPairs(products)

	feed := make(map[string]string)
	for _, p := range products {
		if p.Market == cfg.Trading.Market || contains(cfg.Trading.KnownMarkets, p.Market) {
			feed[p.ProductID] = p.Pair
		}
	}
	logger.WithField("products", len(feed)).Info("Subscribing to tickers")
	return client, coinbase.NewWebSocketClient(cfg.Coinbase.WebSocketURL, wsAuth, feed, market, logger), nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func summarize(acc *account.Account, ledger *history.Ledger) {
	fields := logrus.Fields{
		"balance":   acc.GetBalance().StringFixed(8),
		"positions": len(acc.GetTradingPairs()),
		"orders":    ledger.Len(),
	}
	for _, tp := range acc.GetTradingPairs() {
		fields[tp.Pair] = tp.CurrentMargin().StringFixed(2) + "%"
	}
	logger.WithFields(fields).Info("Backtest finished")
}

func printOrders(ctx context.Context, path, pair string) error {
	store, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	orders, err := store.Orders(ctx, pair)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSIDE\tPAIR\tRESULT\tAMOUNT\tPRICE\tCOST\tFEES")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s %s\n",
			o.Timestamp.Format(time.RFC3339), o.Side, o.Pair, o.Result,
			o.AmountFilled, o.AveragePrice, o.RawCost, o.Fees, o.FeesCurrency)
	}
	return w.Flush()
}
