package feeds

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET FEED - Discovery + live stream + polling fallback
// ═══════════════════════════════════════════════════════════════════════════════
//
// Resolves the active market instance for a coin/interval pair, keeps a live
// book subscription on its two outcome tokens, and rolls over to the next
// instance when the window ends. If the stream dies the feed degrades to
// polling the discovery API until the stream recovers.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ConnState is the feed's connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateStale // stream down, polling fallback active
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	default:
		return "disconnected"
	}
}

const (
	reconnectDelay = 5 * time.Second
)

// Discovery resolves the currently-open market instance for a coin/interval
// pair. internal/gamma.Client implements it.
type Discovery interface {
	GetMarketInfo(coin string, intervalMinutes int) (*types.MarketInfo, error)
}

// BookUpdate is delivered to the book callback on every book delta for a
// tracked token.
type BookUpdate struct {
	Side      types.Side
	TokenID   string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Mid       decimal.Decimal
	Timestamp time.Time
}

// Callbacks is the feed's notification contract. Handlers run on the feed's
// own goroutines, not the caller's, and must tolerate interleaving with tick
// processing.
type Callbacks struct {
	OnBookUpdate   func(BookUpdate)
	OnMarketChange func(old, new *types.MarketInfo)
	OnConnect      func()
	OnDisconnect   func()
}

// FeedConfig configures a MarketFeed.
type FeedConfig struct {
	Coin            string
	IntervalMinutes int

	// MarketCheckInterval is how often discovery is re-queried for rollover.
	MarketCheckInterval time.Duration
	// PollInterval is the price polling cadence while the stream is down.
	PollInterval time.Duration
	// WSURL overrides the stream endpoint (tests).
	WSURL string
}

// MarketFeed drives discovery, streaming and rollover for one market.
type MarketFeed struct {
	mu sync.RWMutex

	cfg       FeedConfig
	discovery Discovery
	ws        *WSClient
	callbacks Callbacks

	state      ConnState
	current    *types.MarketInfo
	orderbooks map[string]*Orderbook // token id -> book

	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	dataCh   chan struct{} // closed on first book update
	dataOnce sync.Once
}

// NewMarketFeed creates a feed for the configured coin/interval pair.
func NewMarketFeed(cfg FeedConfig, discovery Discovery) *MarketFeed {
	if cfg.MarketCheckInterval <= 0 {
		cfg.MarketCheckInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	f := &MarketFeed{
		cfg:        cfg,
		discovery:  discovery,
		state:      StateDisconnected,
		orderbooks: make(map[string]*Orderbook),
		stopCh:     make(chan struct{}),
		dataCh:     make(chan struct{}),
	}
	f.ws = NewWSClient(cfg.WSURL)
	f.ws.OnMessage(f.handleMessage)
	f.ws.OnDisconnect(f.handleStreamDown)
	return f
}

// SetCallbacks registers the notification handlers. Must be called before
// Start.
func (f *MarketFeed) SetCallbacks(cb Callbacks) {
	f.callbacks = cb
}

// Start resolves the current market and opens the stream.
func (f *MarketFeed) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.state = StateConnecting
	f.mu.Unlock()

	market, err := f.discovery.GetMarketInfo(f.cfg.Coin, f.cfg.IntervalMinutes)
	if err != nil {
		return fmt.Errorf("market discovery failed: %w", err)
	}
	if market == nil {
		return fmt.Errorf("no open %s %dm market found", f.cfg.Coin, f.cfg.IntervalMinutes)
	}

	f.adoptMarket(market)

	if err := f.ws.Connect(); err != nil {
		// Stream is optional at startup; polling covers until it recovers.
		log.Warn().Err(err).Msg("Stream connect failed, starting in polling mode")
		f.setState(StateStale)
	} else {
		if err := f.ws.Subscribe(f.tokenList(market)); err != nil {
			log.Warn().Err(err).Msg("Subscribe failed")
		}
		f.setState(StateConnected)
		if f.callbacks.OnConnect != nil {
			f.callbacks.OnConnect()
		}
	}

	go f.marketCheckLoop()
	go f.pollLoop()

	log.Info().
		Str("coin", f.cfg.Coin).
		Int("interval_m", f.cfg.IntervalMinutes).
		Str("slug", market.Slug).
		Msg("📡 Market feed started")
	return nil
}

// Stop closes the stream and halts all loops.
func (f *MarketFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.ws.Close()
	f.setState(StateDisconnected)
	log.Info().Msg("Market feed stopped")
}

// WaitForData blocks until the first book update or the timeout elapses.
// Returns false on timeout.
func (f *MarketFeed) WaitForData(timeout time.Duration) bool {
	select {
	case <-f.dataCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// State returns the current connection state.
func (f *MarketFeed) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// IsStreaming reports whether the live stream is up.
func (f *MarketFeed) IsStreaming() bool {
	return f.State() == StateConnected
}

// CurrentMarket returns the active market snapshot.
func (f *MarketFeed) CurrentMarket() *types.MarketInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// TokenIDs returns the active market's token ids by side.
func (f *MarketFeed) TokenIDs() map[types.Side]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return nil
	}
	return f.current.TokenIDs
}

// MidPrice returns the current mid for a side, zero when unknown.
func (f *MarketFeed) MidPrice(side types.Side) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.current == nil {
		return decimal.Zero
	}
	if ob, ok := f.orderbooks[f.current.TokenIDs[side]]; ok {
		if mid := ob.Mid(); mid.GreaterThan(decimal.Zero) {
			return mid
		}
	}
	// Fall back to the last discovery snapshot price.
	return f.current.Prices[side]
}

// CurrentPrices returns every side with a known positive price.
func (f *MarketFeed) CurrentPrices() map[types.Side]decimal.Decimal {
	prices := make(map[types.Side]decimal.Decimal)
	for _, side := range types.Sides {
		if p := f.MidPrice(side); p.GreaterThan(decimal.Zero) {
			prices[side] = p
		}
	}
	return prices
}

// Orderbook returns the book for a side, nil when not yet received.
func (f *MarketFeed) Orderbook(side types.Side) *Orderbook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == nil {
		return nil
	}
	return f.orderbooks[f.current.TokenIDs[side]]
}

// ─────────────────────────────────────────────────────────────────────────────
// Market rollover
// ─────────────────────────────────────────────────────────────────────────────

// shouldSwitch reports whether new represents a strictly later market
// instance. Token ids must differ; a same-token re-fetch is never a switch.
// Ordering uses the numeric bucket embedded in the slug, falling back to end
// dates when either slug lacks one.
func shouldSwitch(old, new *types.MarketInfo) bool {
	if old == nil {
		return new != nil
	}
	if new == nil {
		return false
	}

	if sameTokens(old.TokenIDs, new.TokenIDs) {
		return false
	}

	oldKey, okOld := slugBucket(old.Slug)
	newKey, okNew := slugBucket(new.Slug)
	if okOld && okNew {
		return newKey > oldKey
	}

	if !old.EndDate.IsZero() && !new.EndDate.IsZero() {
		return new.EndDate.After(old.EndDate)
	}
	return false
}

func sameTokens(a, b map[types.Side]string) bool {
	if len(a) != len(b) {
		return false
	}
	for side, token := range a {
		if b[side] != token {
			return false
		}
	}
	return true
}

// slugBucket extracts the trailing timestamp bucket from a market slug,
// e.g. eth-updown-15m-1766671200 -> 1766671200.
func slugBucket(slug string) (int64, bool) {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return 0, false
	}
	bucket, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return bucket, true
}

func (f *MarketFeed) adoptMarket(market *types.MarketInfo) {
	f.mu.Lock()
	f.current = market
	f.orderbooks = make(map[string]*Orderbook)
	for side, token := range market.TokenIDs {
		f.orderbooks[token] = NewOrderbook(token, side)
	}
	f.mu.Unlock()
}

func (f *MarketFeed) tokenList(market *types.MarketInfo) []string {
	tokens := make([]string, 0, len(market.TokenIDs))
	for _, side := range types.Sides {
		if token, ok := market.TokenIDs[side]; ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func (f *MarketFeed) marketCheckLoop() {
	ticker := time.NewTicker(f.cfg.MarketCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.checkMarket()
		}
	}
}

func (f *MarketFeed) checkMarket() {
	market, err := f.discovery.GetMarketInfo(f.cfg.Coin, f.cfg.IntervalMinutes)
	if err != nil || market == nil {
		return
	}

	f.mu.RLock()
	old := f.current
	f.mu.RUnlock()

	if !shouldSwitch(old, market) {
		return
	}

	log.Warn().
		Str("old", old.Slug).
		Str("new", market.Slug).
		Msg("Market rolled over")

	// Unsubscribe old tokens before subscribing new ones.
	if f.ws.IsConnected() {
		if err := f.ws.Replace(f.tokenList(old), f.tokenList(market)); err != nil {
			log.Warn().Err(err).Msg("Subscription replace failed")
		}
	}

	f.adoptMarket(market)

	if f.callbacks.OnMarketChange != nil {
		f.callbacks.OnMarketChange(old, market)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Stream handling + polling fallback
// ─────────────────────────────────────────────────────────────────────────────

func (f *MarketFeed) handleMessage(msg marketMessage) {
	switch msg.EventType {
	case "book":
		f.applyBook(msg.AssetID, msg.Bids, msg.Asks)
	case "price_change":
		for _, change := range msg.PriceChanges {
			bestBid, _ := decimal.NewFromString(change.BestBid)
			bestAsk, _ := decimal.NewFromString(change.BestAsk)
			f.applyBest(change.AssetID, bestBid, bestAsk)
		}
	}
}

func (f *MarketFeed) applyBook(tokenID string, bids, asks []rawLevel) {
	f.mu.RLock()
	ob := f.orderbooks[tokenID]
	f.mu.RUnlock()
	if ob == nil {
		return
	}

	ob.Update(bids, asks)
	f.notifyBook(ob)
}

func (f *MarketFeed) applyBest(tokenID string, bestBid, bestAsk decimal.Decimal) {
	f.mu.RLock()
	ob := f.orderbooks[tokenID]
	f.mu.RUnlock()
	if ob == nil {
		return
	}

	ob.SetBest(bestBid, bestAsk)
	f.notifyBook(ob)
}

func (f *MarketFeed) notifyBook(ob *Orderbook) {
	f.dataOnce.Do(func() { close(f.dataCh) })

	if f.callbacks.OnBookUpdate == nil {
		return
	}
	f.callbacks.OnBookUpdate(BookUpdate{
		Side:      ob.Side,
		TokenID:   ob.TokenID,
		BestBid:   ob.BestBid(),
		BestAsk:   ob.BestAsk(),
		Mid:       ob.Mid(),
		Timestamp: time.Now(),
	})
}

// handleStreamDown runs when the read loop exits. The feed degrades to
// polling and keeps retrying the stream until it comes back.
func (f *MarketFeed) handleStreamDown() {
	select {
	case <-f.stopCh:
		return
	default:
	}

	f.setState(StateStale)
	if f.callbacks.OnDisconnect != nil {
		f.callbacks.OnDisconnect()
	}

	go f.reconnectLoop()
}

func (f *MarketFeed) reconnectLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		case <-time.After(reconnectDelay):
		}

		if err := f.ws.Connect(); err != nil {
			log.Warn().Err(err).Msg("Stream reconnect failed, still polling")
			continue
		}

		f.mu.RLock()
		market := f.current
		f.mu.RUnlock()
		if market != nil {
			if err := f.ws.Subscribe(f.tokenList(market)); err != nil {
				log.Warn().Err(err).Msg("Resubscribe failed")
			}
		}

		f.setState(StateConnected)
		if f.callbacks.OnConnect != nil {
			f.callbacks.OnConnect()
		}
		return
	}
}

// pollLoop refreshes prices from discovery while the stream is down.
func (f *MarketFeed) pollLoop() {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if f.State() == StateConnected {
				continue
			}
			f.pollOnce()
		}
	}
}

func (f *MarketFeed) pollOnce() {
	market, err := f.discovery.GetMarketInfo(f.cfg.Coin, f.cfg.IntervalMinutes)
	if err != nil || market == nil {
		return
	}

	f.mu.Lock()
	if f.current != nil && sameTokens(f.current.TokenIDs, market.TokenIDs) {
		// Same instance: refresh the snapshot prices wholesale.
		f.current = market
	}
	current := f.current
	f.mu.Unlock()

	if current == nil {
		return
	}

	for _, side := range types.Sides {
		price, ok := current.Prices[side]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		f.dataOnce.Do(func() { close(f.dataCh) })
		if f.callbacks.OnBookUpdate != nil {
			f.callbacks.OnBookUpdate(BookUpdate{
				Side:      side,
				TokenID:   current.TokenIDs[side],
				Mid:       price,
				Timestamp: time.Now(),
			})
		}
	}
}

func (f *MarketFeed) setState(state ConnState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}
