// Package api serves the operator HTTP interface: positions, order history,
// manual trading commands and replay control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gregtusar/positrader/pkg/models"
	"github.com/gregtusar/positrader/pkg/trader"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Trader interface {
	Buy(ctx context.Context, req models.BuyRequest) (trader.Result, error)
	Sell(ctx context.Context, req models.SellRequest) (trader.Result, error)
	Swap(ctx context.Context, req models.SwapRequest) (trader.Result, error)
	Suspend()
	Resume()
	Suspended() bool
}

type Account interface {
	GetTradingPairs() []*models.TradingPair
	GetBalance() decimal.Decimal
	Market() string
}

type History interface {
	Recent(limit int) []models.Order
}

type Signals interface {
	Push(signals ...models.Signal)
}

type Tasks interface {
	Pause(name string) bool
	Continue(name string) bool
}

type Options struct {
	Trader  Trader
	Account Account
	History History
	Signals Signals
	Tasks   Tasks
	Metrics http.Handler
	Now     func() time.Time
	Logger  *logrus.Logger
	Port    string
}

type Server struct {
	trader  Trader
	account Account
	history History
	signals Signals
	tasks   Tasks
	metrics http.Handler
	now     func() time.Time
	logger  *logrus.Entry
	port    string
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		trader:  opts.Trader,
		account: opts.Account,
		history: opts.History,
		signals: opts.Signals,
		tasks:   opts.Tasks,
		metrics: opts.Metrics,
		now:     opts.Now,
		logger:  opts.Logger.WithField("component", "api"),
		port:    opts.Port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/buy", s.handleBuy)
	mux.HandleFunc("/api/sell", s.handleSell)
	mux.HandleFunc("/api/swap", s.handleSwap)
	mux.HandleFunc("/api/signals", s.handleSignals)
	mux.HandleFunc("/api/trading/suspend", s.handleSuspend)
	mux.HandleFunc("/api/trading/resume", s.handleResume)
	mux.HandleFunc("/api/backtest/pause", s.handleTask(true))
	mux.HandleFunc("/api/backtest/continue", s.handleTask(false))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return corsMiddleware(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("Starting API server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"suspended": s.trader.Suspended(),
		"timestamp": s.now().UTC(),
	})
}

type positionView struct {
	Pair          string          `json:"pair"`
	OriginalPair  string          `json:"original_pair,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	ActualCost    decimal.Decimal `json:"actual_cost"`
	CurrentCost   decimal.Decimal `json:"current_cost"`
	CurrentMargin decimal.Decimal `json:"current_margin"`
	DCALevel      int             `json:"dca_level"`
	SignalRule    string          `json:"signal_rule,omitempty"`
	LastOrder     time.Time       `json:"last_order"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pairs := s.account.GetTradingPairs()
	views := make([]positionView, 0, len(pairs))
	for _, tp := range pairs {
		views = append(views, positionView{
			Pair:          tp.Pair,
			OriginalPair:  tp.OriginalPair,
			Amount:        tp.Amount,
			AveragePrice:  tp.AveragePrice,
			CurrentPrice:  tp.CurrentPrice,
			ActualCost:    tp.ActualCost(),
			CurrentCost:   tp.CurrentCost(),
			CurrentMargin: tp.CurrentMargin().Round(2),
			DCALevel:      tp.DCALevel(),
			SignalRule:    tp.Metadata.SignalRule,
			LastOrder:     tp.LastOrderDate(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"market":    s.account.Market(),
		"balance":   s.account.GetBalance(),
		"positions": views,
	})
}

type orderView struct {
	OrderID      string             `json:"order_id"`
	Side         models.OrderSide   `json:"side"`
	Pair         string             `json:"pair"`
	OriginalPair string             `json:"original_pair,omitempty"`
	Result       models.OrderResult `json:"result"`
	AmountFilled decimal.Decimal    `json:"amount_filled"`
	AveragePrice decimal.Decimal    `json:"average_price"`
	RawCost      decimal.Decimal    `json:"raw_cost"`
	Fees         decimal.Decimal    `json:"fees"`
	FeesCurrency string             `json:"fees_currency,omitempty"`
	Message      string             `json:"message,omitempty"`
	SignalRule   string             `json:"signal_rule,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func toOrderViews(orders []models.Order) []orderView {
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			OrderID:      o.OrderID,
			Side:         o.Side,
			Pair:         o.Pair,
			OriginalPair: o.OriginalPair,
			Result:       o.Result,
			AmountFilled: o.AmountFilled,
			AveragePrice: o.AveragePrice,
			RawCost:      o.RawCost,
			Fees:         o.Fees,
			FeesCurrency: o.FeesCurrency,
			Message:      o.Message,
			SignalRule:   o.Provenance.SignalRule,
			Timestamp:    o.Timestamp,
		})
	}
	return views
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, toOrderViews(s.history.Recent(limit)))
}

type buyBody struct {
	Pair    string              `json:"pair"`
	Amount  decimal.NullDecimal `json:"amount"`
	MaxCost decimal.NullDecimal `json:"max_cost"`
}

type sellBody struct {
	Pair   string              `json:"pair"`
	Amount decimal.NullDecimal `json:"amount"`
}

type swapBody struct {
	OldPair string `json:"old_pair"`
	NewPair string `json:"new_pair"`
}

type resultView struct {
	Action  string      `json:"action"`
	Allowed bool        `json:"allowed"`
	Reason  string      `json:"reason,omitempty"`
	Orders  []orderView `json:"orders"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var body buyBody
	if !s.decodePost(w, r, &body) {
		return
	}
	if body.Pair == "" {
		http.Error(w, "pair is required", http.StatusBadRequest)
		return
	}
	req := models.BuyRequest{Pair: body.Pair, Amount: body.Amount, MaxCost: body.MaxCost, Origin: models.OriginManual}
	res, err := s.trader.Buy(r.Context(), req)
	s.writeResult(w, res, err)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var body sellBody
	if !s.decodePost(w, r, &body) {
		return
	}
	if body.Pair == "" {
		http.Error(w, "pair is required", http.StatusBadRequest)
		return
	}
	res, err := s.trader.Sell(r.Context(), models.SellRequest{Pair: body.Pair, Amount: body.Amount, Origin: models.OriginManual})
	s.writeResult(w, res, err)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var body swapBody
	if !s.decodePost(w, r, &body) {
		return
	}
	if body.OldPair == "" || body.NewPair == "" {
		http.Error(w, "old_pair and new_pair are required", http.StatusBadRequest)
		return
	}
	res, err := s.trader.Swap(r.Context(), models.SwapRequest{OldPair: body.OldPair, NewPair: body.NewPair, Manual: true})
	s.writeResult(w, res, err)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	var body []models.Signal
	if !s.decodePost(w, r, &body) {
		return
	}
	now := s.now()
	for i := range body {
		if body[i].Pair == "" || body[i].Rule == "" {
			http.Error(w, "pair and rule are required", http.StatusBadRequest)
			return
		}
		if body[i].Time.IsZero() {
			body[i].Time = now
		}
	}
	s.signals.Push(body...)
	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(body)})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.trader.Suspend()
	s.writeJSON(w, http.StatusOK, map[string]bool{"suspended": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.trader.Resume()
	s.writeJSON(w, http.StatusOK, map[string]bool{"suspended": false})
}

// handleTask pauses or continues a scheduled task, the replay by default.
func (s *Server) handleTask(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("task")
		if name == "" {
			name = "backtest"
		}
		var ok bool
		if pause {
			ok = s.tasks.Pause(name)
		} else {
			ok = s.tasks.Continue(name)
		}
		if !ok {
			http.Error(w, "unknown task "+name, http.StatusNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"task": name, "paused": pause})
	}
}

func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, res trader.Result, err error) {
	if err != nil {
		s.logger.WithError(err).WithField("action", res.Action).Error("Manual command failed")
		status := http.StatusInternalServerError
		if errors.Is(err, trader.ErrArbitrageDirectUnsupported) {
			status = http.StatusNotImplemented
		}
		http.Error(w, err.Error(), status)
		return
	}
	status := http.StatusOK
	if !res.Decision.Allowed {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, resultView{
		Action:  res.Action,
		Allowed: res.Decision.Allowed,
		Reason:  res.Decision.Reason,
		Orders:  toOrderViews(res.Orders),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
