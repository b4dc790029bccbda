// Package ordering places buy and sell orders, books their fills on the
// account and records them in the order history.
package ordering

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregtusar/positrader/pkg/clock"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// amountPrecision is the number of decimals quantities are truncated to.
const amountPrecision = 8

var ErrNoSize = errors.New("neither amount nor max cost is set")

// Executor fills a market order of amount base units. Virtual trading and
// the live exchange client both implement it.
type Executor interface {
	Execute(ctx context.Context, side models.OrderSide, pair string, amount decimal.Decimal) (models.Order, error)
}

type Prices interface {
	GetPrice(pair string, priceType models.PriceType) (decimal.Decimal, error)
}

type Book interface {
	GetTradingPair(pair string) (*models.TradingPair, bool)
	ApplyBuy(order models.Order) error
	ApplySell(order models.Order, position string) error
}

type Recorder interface {
	Append(order models.Order)
}

// Observer is told about every placed order; metrics hook in here.
type Observer interface {
	ObserveOrder(order models.Order)
}

type Options struct {
	Executor  Executor
	Prices    Prices
	Book      Book
	History   Recorder
	Observer  Observer
	PriceType models.PriceType
	Clock     clock.Clock
	Logger    *logrus.Logger
}

type Service struct {
	executor  Executor
	prices    Prices
	book      Book
	history   Recorder
	observer  Observer
	priceType models.PriceType
	clock     clock.Clock
	logger    *logrus.Entry
}

func New(opts Options) *Service {
	return &Service{
		executor:  opts.Executor,
		prices:    opts.Prices,
		book:      opts.Book,
		history:   opts.History,
		observer:  opts.Observer,
		priceType: opts.PriceType,
		clock:     opts.Clock,
		logger:    opts.Logger.WithField("component", "ordering"),
	}
}

// PlaceBuyOrder sizes and executes a buy. Rejections are returned as a
// failed Order, never dropped.
func (s *Service) PlaceBuyOrder(ctx context.Context, req models.BuyRequest) models.Order {
	amount, err := s.buyAmount(req)
	if err != nil {
		return s.reject(models.OrderSideBuy, req.Pair, "", req.Provenance, err)
	}

	order, err := s.executor.Execute(ctx, models.OrderSideBuy, req.Pair, amount)
	if err != nil {
		return s.reject(models.OrderSideBuy, req.Pair, "", req.Provenance, err)
	}
	order.Amount, order.MaxCost = req.Amount, req.MaxCost
	order.OriginalPair = req.Provenance.SwapFrom
	order.Provenance = req.Provenance

	if err := s.book.ApplyBuy(order); err != nil {
		s.logger.WithError(err).WithField("pair", req.Pair).Error("Failed to book buy order")
		order.Result = models.OrderResultFailed
		order.Message = err.Error()
	}
	return s.record(order)
}

// PlaceSellOrder sells the requested amount, or the whole held position.
func (s *Service) PlaceSellOrder(ctx context.Context, req models.SellRequest) models.Order {
	held := req.HeldPair()
	original := ""
	if held != req.Pair {
		original = held
	}

	tp, ok := s.book.GetTradingPair(held)
	if !ok {
		return s.reject(models.OrderSideSell, req.Pair, original, req.Provenance, fmt.Errorf("%s is not held", held))
	}
	amount := tp.Amount
	if req.Amount.Valid {
		amount = decimal.Min(req.Amount.Decimal, tp.Amount)
	}

	order, err := s.executor.Execute(ctx, models.OrderSideSell, req.Pair, amount)
	if err != nil {
		return s.reject(models.OrderSideSell, req.Pair, original, req.Provenance, err)
	}
	order.Amount = decimal.NewNullDecimal(amount)
	order.OriginalPair = original
	order.Provenance = req.Provenance

	if err := s.book.ApplySell(order, held); err != nil {
		s.logger.WithError(err).WithField("pair", req.Pair).Error("Failed to book sell order")
		order.Result = models.OrderResultFailed
		order.Message = err.Error()
	}
	return s.record(order)
}

func (s *Service) buyAmount(req models.BuyRequest) (decimal.Decimal, error) {
	if req.Amount.Valid {
		return req.Amount.Decimal, nil
	}
	if !req.MaxCost.Valid {
		return decimal.Zero, ErrNoSize
	}
	price, err := s.prices.GetPrice(req.Pair, s.priceType)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s for %s", price, req.Pair)
	}
	return req.MaxCost.Decimal.Div(price).Truncate(amountPrecision), nil
}

func (s *Service) reject(side models.OrderSide, pair, original string, prov models.Provenance, err error) models.Order {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"pair": pair,
		"side": side,
	}).Warn("Order rejected")
	order := models.FailedOrder(side, pair, err.Error(), s.clock.Now())
	order.OriginalPair = original
	order.Provenance = prov
	return s.record(order)
}

func (s *Service) record(order models.Order) models.Order {
	s.history.Append(order)
	if s.observer != nil {
		s.observer.ObserveOrder(order)
	}
	s.logger.WithFields(logrus.Fields{
		"pair":   order.Pair,
		"side":   order.Side,
		"result": order.Result,
		"amount": order.AmountFilled.String(),
		"price":  order.AveragePrice.String(),
	}).Debug("Order recorded")
	return order
}
