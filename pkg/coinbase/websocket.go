package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/positrader/pkg/models"
	"github.com/sirupsen/logrus"
)

const DefaultWebSocketURL = "wss://advanced-trade-ws.coinbase.com"

// Tickers receives live ticker updates.
type Tickers interface {
	UpdateTicker(t models.Ticker)
}

type MessageHandler func(msg WSMessage) error

// WSMessage is one frame on the Advanced Trade websocket.
type WSMessage struct {
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence_num"`
	Events    json.RawMessage `json:"events"`
}

type SubscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

type tickerEvent struct {
	Type    string `json:"type"`
	Tickers []struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		BestBid   string `json:"best_bid"`
		BestAsk   string `json:"best_ask"`
		Volume24h string `json:"volume_24_h"`
	} `json:"tickers"`
}

// WebSocketClient streams ticker updates for a set of products into
// Tickers, reconnecting until its context ends.
type WebSocketClient struct {
	url      string
	auth     *JWTAuthenticator
	tickers  Tickers
	pairs    map[string]string
	logger   *logrus.Entry
	backoff  time.Duration
	pingTick time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	handlers  map[string]MessageHandler
}

// NewWebSocketClient subscribes to products, keyed by product id with the
// pair name as value. auth may be nil for public channels.
func NewWebSocketClient(url string, auth *JWTAuthenticator, products map[string]string, tickers Tickers, logger *logrus.Logger) *WebSocketClient {
	if url == "" {
		url = DefaultWebSocketURL
	}
	ws := &WebSocketClient{
		url:      url,
		auth:     auth,
		tickers:  tickers,
		pairs:    products,
		logger:   logger.WithField("component", "coinbase-ws"),
		backoff:  time.Second,
		pingTick: 30 * time.Second,
		handlers: make(map[string]MessageHandler),
	}
	ws.RegisterHandler("ticker", ws.handleTicker)
	ws.RegisterHandler("ticker_batch", ws.handleTicker)
	return ws
}

func (ws *WebSocketClient) RegisterHandler(channel string, handler MessageHandler) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.handlers[channel] = handler
}

// Run connects and reads until ctx is done, reconnecting with backoff.
func (ws *WebSocketClient) Run(ctx context.Context) error {
	backoff := ws.backoff
	for {
		err := ws.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		ws.logger.WithError(err).WithField("retry", backoff).Warn("Websocket disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func (ws *WebSocketClient) session(ctx context.Context) error {
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	defer ws.handleDisconnect()

	if err := ws.Subscribe("ticker"); err != nil {
		return err
	}
	if err := ws.Subscribe("heartbeats"); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ws.keepAlive(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		ws.handleDisconnect()
	}()
	return ws.readLoop()
}

func (ws *WebSocketClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ws.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	ws.conn = conn
	ws.connected = true
	return nil
}

func (ws *WebSocketClient) Subscribe(channel string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.connected {
		return fmt.Errorf("websocket not connected")
	}
	sub := SubscribeMessage{Type: "subscribe", Channel: channel}
	for id := range ws.pairs {
		sub.ProductIDs = append(sub.ProductIDs, id)
	}
	if ws.auth != nil {
		token, err := ws.auth.token("")
		if err != nil {
			return err
		}
		sub.JWT = token
	}
	return ws.conn.WriteJSON(sub)
}

func (ws *WebSocketClient) readLoop() error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read websocket message: %w", err)
		}
		ws.mu.Lock()
		handler, ok := ws.handlers[msg.Channel]
		ws.mu.Unlock()
		if !ok {
			continue
		}
		if err := handler(msg); err != nil {
			ws.logger.WithError(err).WithField("channel", msg.Channel).Error("Handler error")
		}
	}
}

func (ws *WebSocketClient) handleTicker(msg WSMessage) error {
	var events []tickerEvent
	if err := json.Unmarshal(msg.Events, &events); err != nil {
		return fmt.Errorf("decode ticker events: %w", err)
	}
	for _, ev := range events {
		for _, t := range ev.Tickers {
			pair, ok := ws.pairs[t.ProductID]
			if !ok {
				continue
			}
			ws.tickers.UpdateTicker(models.Ticker{
				Pair:      pair,
				BidPrice:  parseDecimal(t.BestBid),
				AskPrice:  parseDecimal(t.BestAsk),
				LastPrice: parseDecimal(t.Price),
				Volume24h: parseDecimal(t.Volume24h),
				Timestamp: msg.Timestamp,
			})
		}
	}
	return nil
}

func (ws *WebSocketClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(ws.pingTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			var err error
			if ws.connected {
				err = ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			ws.mu.Unlock()
			if err != nil {
				ws.logger.WithError(err).Error("Failed to send ping")
				ws.handleDisconnect()
				return
			}
		}
	}
}

func (ws *WebSocketClient) handleDisconnect() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.connected = false
	if ws.conn != nil {
		ws.conn.Close()
		ws.conn = nil
	}
}

func (ws *WebSocketClient) Connected() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.connected
}
