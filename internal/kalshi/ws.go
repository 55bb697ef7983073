package kalshi

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
)

const (
	demoWSURL = "wss://demo-api.kalshi.co/trade-api/ws/v2"
	prodWSURL = "wss://trading-api.kalshi.com/trade-api/ws/v2"
)

// subscribeCommand is Kalshi's WS subscription envelope: an integer command
// id, a command name, and per-channel parameters (spec §6: "subscription
// protocol with ticker_v2 channel and integer sid").
type subscribeCommand struct {
	ID     int            `json:"id"`
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

type tickerMessage struct {
	Type string `json:"type"`
	SID  int    `json:"sid"`
	Msg  struct {
		MarketTicker string  `json:"market_ticker"`
		YesBid       float64 `json:"yes_bid"`
		YesAsk       float64 `json:"yes_ask"`
		NoBid        float64 `json:"no_bid"`
		NoAsk        float64 `json:"no_ask"`
		Volume       int64   `json:"volume"`
	} `json:"msg"`
}

// Client implements Capability over a combined REST + WebSocket connection,
// grounded on the pack's dual-mode collector pattern: WS for live ticks,
// REST for everything else plus HTTP fallback when the WS leg drops.
type Client struct {
	*RESTClient

	wsURL string
	log   zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	cmdID     int
}

// NewClient builds a Client for mode, wiring both the REST and WS legs.
func NewClient(mode domain.AccountMode, keyID string, pemBytes []byte, log zerolog.Logger) (*Client, error) {
	rest, err := NewRESTClient(mode, keyID, pemBytes)
	if err != nil {
		return nil, err
	}

	wsURL := demoWSURL
	if mode == domain.AccountProd {
		wsURL = prodWSURL
	}

	return &Client{RESTClient: rest, wsURL: wsURL, log: log.With().Str("component", "kalshi.ws").Logger()}, nil
}

// IsConnected reports whether the WS leg is currently live. MarketFeed does
// not call it; it switches to the HTTP poll after its own count of failed
// subscribes.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe dials the WS endpoint, subscribes to ticker_v2 for the given
// tickers, and streams decoded snapshots on the returned channel until ctx
// is cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, tickers []string) (<-chan domain.MarketSnapshot, error) {
	header := map[string][]string{
		"KALSHI-ACCESS-KEY": {c.keyID},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, &domain.TransientError{Component: "kalshi.ws", Message: "dial failed", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.cmdID++
	id := c.cmdID
	c.mu.Unlock()

	cmd := subscribeCommand{
		ID:  id,
		Cmd: "subscribe",
		Params: map[string]any{
			"channels":      []string{"ticker_v2"},
			"market_tickers": tickers,
		},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		conn.Close()
		return nil, &domain.TransientError{Component: "kalshi.ws", Message: "subscribe failed", Err: err}
	}

	c.connected.Store(true)
	out := make(chan domain.MarketSnapshot, 256)

	go c.readLoop(ctx, conn, out)
	return out, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.MarketSnapshot) {
	defer close(out)
	defer conn.Close()
	defer c.connected.Store(false)

	sessionID := uuid.NewString()
	c.log.Debug().Str("session_id", sessionID).Msg("kalshi ws session started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("kalshi ws read failed, closing session")
			return
		}

		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "ticker_v2" {
			continue
		}

		snap := domain.MarketSnapshot{
			MarketID:  msg.Msg.MarketTicker,
			YesBid:    msg.Msg.YesBid,
			YesAsk:    msg.Msg.YesAsk,
			NoBid:     msg.Msg.NoBid,
			NoAsk:     msg.Msg.NoAsk,
			Volume:    msg.Msg.Volume,
			Status:    "active",
			UpdatedAt: time.Now(),
		}

		select {
		case out <- snap:
		case <-ctx.Done():
			return
		}
	}
}
