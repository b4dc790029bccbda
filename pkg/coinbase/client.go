// Package coinbase talks to the Coinbase Advanced Trade API: products,
// tickers, balances and market orders over REST, and live tickers over
// websocket.
package coinbase

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.coinbase.com"
	SandboxBaseURL = "https://api-public.sandbox.exchange.coinbase.com"

	apiPrefix = "/api/v3/brokerage"
)

var ErrOrderNotFilled = errors.New("order not filled")

// Products resolves trading pairs to exchange product ids.
type Products interface {
	PairInfo(pair string) (models.PairInfo, bool)
}

type Options struct {
	BaseURL           string
	Auth              Authenticator
	Products          Products
	RequestsPerSecond float64
	Timeout           time.Duration
	FillTimeout       time.Duration
	PollInterval      time.Duration
	Logger            *logrus.Logger
}

type Client struct {
	http         *resty.Client
	host         string
	auth         Authenticator
	products     Products
	limiter      *rate.Limiter
	fillTimeout  time.Duration
	pollInterval time.Duration
	logger       *logrus.Entry
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	host := opts.BaseURL
	if u, err := url.Parse(opts.BaseURL); err == nil {
		host = u.Host
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == 429
		})

	return &Client{
		http:         httpClient,
		host:         host,
		auth:         opts.Auth,
		products:     opts.Products,
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		fillTimeout:  opts.FillTimeout,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger.WithField("component", "coinbase"),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}

	req := c.http.R().SetContext(ctx)
	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		payload = string(raw)
		req.SetBody(raw)
	}
	if c.auth != nil {
		signPath := path
		if i := strings.IndexByte(signPath, '?'); i >= 0 {
			signPath = signPath[:i]
		}
		headers, err := c.auth.Headers(method, c.host, signPath, payload)
		if err != nil {
			return errors.Wrap(err, "sign request")
		}
		req.SetHeaders(headers)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.IsError() {
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(resp.Body(), out), "decode %s", path)
}

type product struct {
	ProductID     string `json:"product_id"`
	BaseCurrency  string `json:"base_currency_id"`
	QuoteCurrency string `json:"quote_currency_id"`
	Status        string `json:"status"`
	TradingDis    bool   `json:"trading_disabled"`
}

// ListProducts returns the tradable spot products as pairs. Without
// credentials the public market endpoint is used.
func (c *Client) ListProducts(ctx context.Context) ([]models.PairInfo, error) {
	path := apiPrefix + "/products?product_type=SPOT"
	if c.auth == nil {
		path = apiPrefix + "/market/products?product_type=SPOT"
	}
	var resp struct {
		Products []product `json:"products"`
	}
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]models.PairInfo, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p.TradingDis || (p.Status != "" && p.Status != "online") {
			continue
		}
		out = append(out, models.PairInfo{
			Pair:      p.BaseCurrency + p.QuoteCurrency,
			Asset:     p.BaseCurrency,
			Market:    p.QuoteCurrency,
			ProductID: p.ProductID,
		})
	}
	return out, nil
}

func (c *Client) productID(pair string) (string, error) {
	if c.products != nil {
		if info, ok := c.products.PairInfo(pair); ok && info.ProductID != "" {
			return info.ProductID, nil
		}
	}
	return "", errors.Errorf("no product for pair %s", pair)
}

func (c *Client) GetTicker(ctx context.Context, pair string) (models.Ticker, error) {
	id, err := c.productID(pair)
	if err != nil {
		return models.Ticker{}, err
	}
	var resp struct {
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
		Trades  []struct {
			Price string    `json:"price"`
			Time  time.Time `json:"time"`
		} `json:"trades"`
	}
	if err := c.do(ctx, "GET", apiPrefix+"/products/"+id+"/ticker?limit=1", nil, &resp); err != nil {
		return models.Ticker{}, err
	}
	t := models.Ticker{
		Pair:      pair,
		BidPrice:  parseDecimal(resp.BestBid),
		AskPrice:  parseDecimal(resp.BestAsk),
		Timestamp: time.Now(),
	}
	if len(resp.Trades) > 0 {
		t.LastPrice = parseDecimal(resp.Trades[0].Price)
		t.Timestamp = resp.Trades[0].Time
	}
	return t, nil
}

// GetBalance is the available balance of currency across accounts.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var resp struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := c.do(ctx, "GET", apiPrefix+"/accounts?limit=250", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range resp.Accounts {
		if a.Currency == currency {
			total = total.Add(parseDecimal(a.AvailableBalance.Value))
		}
	}
	return total, nil
}

type orderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
}

type orderConfiguration struct {
	MarketIOC marketIOC `json:"market_market_ioc"`
}

type marketIOC struct {
	BaseSize string `json:"base_size"`
}

type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"error_response"`
}

type orderStatus struct {
	OrderID            string    `json:"order_id"`
	ProductID          string    `json:"product_id"`
	Status             string    `json:"status"`
	FilledSize         string    `json:"filled_size"`
	AverageFilledPrice string    `json:"average_filled_price"`
	FilledValue        string    `json:"filled_value"`
	TotalFees          string    `json:"total_fees"`
	CreatedTime        time.Time `json:"created_time"`
}

func (s orderStatus) terminal() bool {
	switch s.Status {
	case "FILLED", "CANCELLED", "EXPIRED", "FAILED":
		return true
	}
	return false
}

// Execute places a market IOC order for amount base units and waits until
// the exchange reports it final.
func (c *Client) Execute(ctx context.Context, side models.OrderSide, pair string, amount decimal.Decimal) (models.Order, error) {
	id, err := c.productID(pair)
	if err != nil {
		return models.Order{}, err
	}
	info, _ := c.products.PairInfo(pair)

	req := orderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     id,
		Side:          strings.ToUpper(string(side)),
		OrderConfiguration: orderConfiguration{
			MarketIOC: marketIOC{BaseSize: amount.String()},
		},
	}
	var created createOrderResponse
	if err := c.do(ctx, "POST", apiPrefix+"/orders", req, &created); err != nil {
		return models.Order{}, err
	}
	if !created.Success {
		return models.Order{}, errors.Errorf("order rejected: %s %s", created.ErrorResponse.Error, created.ErrorResponse.Message)
	}

	status, err := c.waitForFill(ctx, created.SuccessResponse.OrderID)
	if err != nil {
		return models.Order{}, err
	}

	log := c.logger.WithFields(logrus.Fields{"pair": pair, "order": status.OrderID, "status": status.Status})
	filled := parseDecimal(status.FilledSize)
	order := models.Order{
		OrderID:      status.OrderID,
		Side:         side,
		Pair:         pair,
		AmountFilled: filled,
		AveragePrice: parseDecimal(status.AverageFilledPrice),
		RawCost:      parseDecimal(status.FilledValue),
		Fees:         parseDecimal(status.TotalFees),
		FeesCurrency: info.Market,
		Timestamp:    status.CreatedTime,
	}
	switch {
	case status.Status == "FILLED":
		order.Result = models.OrderResultFilled
	case filled.IsPositive():
		order.Result = models.OrderResultPartiallyFilled
	default:
		log.Warn("Order finished without a fill")
		return models.Order{}, errors.Wrapf(ErrOrderNotFilled, "%s %s", status.OrderID, status.Status)
	}
	log.Debug("Order finished")
	return order, nil
}

func (c *Client) waitForFill(ctx context.Context, orderID string) (orderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fillTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var resp struct {
			Order orderStatus `json:"order"`
		}
		if err := c.do(ctx, "GET", apiPrefix+"/orders/historical/"+orderID, nil, &resp); err != nil {
			return orderStatus{}, err
		}
		if resp.Order.terminal() {
			return resp.Order, nil
		}
		select {
		case <-ctx.Done():
			return orderStatus{}, errors.Wrapf(ctx.Err(), "wait for order %s", orderID)
		case <-ticker.C:
		}
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
