package feeds

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB WEBSOCKET - Market channel subscription client
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultWSURL is the Polymarket CLOB market channel endpoint.
	DefaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	pingInterval = 30 * time.Second
)

// wsConn is the subset of *websocket.Conn the client uses. Tests inject a
// recording fake here.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// subscriptionMessage is the wire format for subscribe/unsubscribe requests.
// Replacing a subscription is always an unsubscribe followed by a subscribe,
// never a combined payload.
type subscriptionMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
	Operation string   `json:"operation"`
}

// marketMessage is the envelope for market channel events. Book snapshots and
// price_change deltas share one shape with different fields populated.
type marketMessage struct {
	EventType string     `json:"event_type"`
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`

	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

// WSClient manages one connection to the CLOB market channel and forwards
// parsed book events to its owner.
type WSClient struct {
	mu sync.RWMutex

	url       string
	conn      wsConn
	connected bool
	stopCh    chan struct{}
	stopOnce  sync.Once

	dial func(url string) (wsConn, error)

	onMessage    func(marketMessage)
	onDisconnect func()
}

// NewWSClient creates a client for the given endpoint.
func NewWSClient(url string) *WSClient {
	if url == "" {
		url = DefaultWSURL
	}
	return &WSClient{
		url:    url,
		stopCh: make(chan struct{}),
		dial: func(url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
	}
}

// OnMessage sets the handler for parsed market events. Must be set before
// Connect. Delivered on the client's read goroutine.
func (c *WSClient) OnMessage(fn func(marketMessage)) {
	c.onMessage = fn
}

// OnDisconnect sets the handler invoked when the read loop exits on error.
func (c *WSClient) OnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// Connect establishes the websocket connection and starts the read loop.
func (c *WSClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	go c.readLoop(conn)
	go c.pingLoop(conn)

	log.Info().Str("url", c.url).Msg("🔌 WebSocket connected")
	return nil
}

// Subscribe sends a subscribe request for the given token ids.
func (c *WSClient) Subscribe(assets []string) error {
	return c.send(subscriptionMessage{
		AssetsIDs: assets,
		Type:      "market",
		Operation: "subscribe",
	})
}

// Unsubscribe sends an unsubscribe request for the given token ids.
func (c *WSClient) Unsubscribe(assets []string) error {
	return c.send(subscriptionMessage{
		AssetsIDs: assets,
		Type:      "market",
		Operation: "unsubscribe",
	})
}

// Replace swaps a subscription: old tokens are unsubscribed before the new
// ones are subscribed, as two separate messages.
func (c *WSClient) Replace(oldAssets, newAssets []string) error {
	if len(oldAssets) > 0 {
		if err := c.Unsubscribe(oldAssets); err != nil {
			return err
		}
	}
	return c.Subscribe(newAssets)
}

func (c *WSClient) send(msg subscriptionMessage) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// IsConnected returns connection status.
func (c *WSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close shuts the connection down for good.
func (c *WSClient) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
}

func (c *WSClient) readLoop(conn wsConn) {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}

			log.Warn().Err(err).Msg("WebSocket read error")

			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()

			if c.onDisconnect != nil {
				c.onDisconnect()
			}
			return
		}

		c.dispatch(data)
	}
}

// dispatch parses a raw frame. The initial snapshot after subscribing arrives
// as an array of book events; later updates arrive as single objects.
func (c *WSClient) dispatch(data []byte) {
	if c.onMessage == nil {
		return
	}

	var batch []marketMessage
	if err := json.Unmarshal(data, &batch); err == nil {
		for _, msg := range batch {
			c.onMessage(msg)
		}
		return
	}

	var msg marketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.onMessage(msg)
}

func (c *WSClient) pingLoop(conn wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}
