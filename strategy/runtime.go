// Package strategy runs the flash-crash runtime: the tick loop that ties
// price history, crash detection, paper execution and the position ledger
// together for one market.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/exec"
	"github.com/web3guy0/flashcrash/feeds"
	"github.com/web3guy0/flashcrash/paper"
	"github.com/web3guy0/flashcrash/positions"
	"github.com/web3guy0/flashcrash/runlog"
	"github.com/web3guy0/flashcrash/storage"
	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FLASH CRASH RUNTIME - Orchestration loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tick order, every interval:
//   prices → kill switch → entry → exits → order refresh → snapshot → render
//
// Exits are never starved by entries; the kill switch always runs first.
//
// ═══════════════════════════════════════════════════════════════════════════════

// State is the runtime lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// PriceFeed is the slice of the market feed the runtime consumes.
// *feeds.MarketFeed satisfies it; tests substitute a fake.
type PriceFeed interface {
	Start() error
	Stop()
	SetCallbacks(feeds.Callbacks)
	WaitForData(timeout time.Duration) bool
	CurrentPrices() map[types.Side]decimal.Decimal
	CurrentMarket() *types.MarketInfo
	TokenIDs() map[types.Side]string
	IsStreaming() bool
}

// Config holds the strategy tunables.
type Config struct {
	Coin            string
	IntervalMinutes int

	// Trigger.
	DropThreshold decimal.Decimal
	Lookback      time.Duration
	MaxHistory    int

	// Exits.
	TakeProfitDelta decimal.Decimal
	StopLossDelta   decimal.Decimal
	MaxPositions    int

	// Sizing. SizePercent (of available bankroll) wins over FixedStake;
	// with both zero the paper broker's stake mode decides.
	SizePercent decimal.Decimal
	FixedStake  decimal.Decimal

	// Risk.
	MaxDrawdownPercent decimal.Decimal
	// DrawdownOnEquity values open positions at current prices instead of
	// comparing raw bankroll only.
	DrawdownOnEquity bool

	// Cadence.
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	DataTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 30 * time.Second
	}
	if c.DataTimeout <= 0 {
		c.DataTimeout = 15 * time.Second
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 1
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 100
	}
}

// refreshTask is one in-flight background order refresh.
type refreshTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Runtime owns the tick loop for one session.
type Runtime struct {
	mu sync.Mutex

	cfg     Config
	feed    PriceFeed
	history *feeds.PriceHistory
	ledger  *positions.Ledger
	broker  *paper.Broker
	exec    exec.Executor
	session *Session
	runLog  *runlog.Logger
	store   *storage.Store
	render  StatusRenderer

	state atomic.Int32

	openOrders []types.OpenOrder
	refresh    *refreshTask

	runRow       *storage.RunRow
	lastSnapshot time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Deps are the runtime's collaborators. Store and Renderer may be nil.
type Deps struct {
	Feed     PriceFeed
	Broker   *paper.Broker
	Executor exec.Executor
	Session  *Session
	RunLog   *runlog.Logger
	Store    *storage.Store
	Renderer StatusRenderer
}

// NewRuntime wires a runtime. The ledger and price history are owned here;
// collaborators never reference each other directly.
func NewRuntime(cfg Config, deps Deps) *Runtime {
	cfg.applyDefaults()

	r := &Runtime{
		cfg:     cfg,
		feed:    deps.Feed,
		history: feeds.NewPriceHistory(cfg.MaxHistory),
		ledger:  positions.NewLedger(cfg.TakeProfitDelta, cfg.StopLossDelta, cfg.MaxPositions),
		broker:  deps.Broker,
		exec:    deps.Executor,
		session: deps.Session,
		runLog:  deps.RunLog,
		store:   deps.Store,
		render:  deps.Renderer,
		stopCh:  make(chan struct{}),
	}
	r.state.Store(int32(StateIdle))
	return r
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Ledger exposes the position ledger for inspection.
func (r *Runtime) Ledger() *positions.Ledger {
	return r.ledger
}

// ResumeFrom restores a persisted session into the ledger. Safe to skip;
// expired state is ignored by Session.Resume before this is called.
func (r *Runtime) ResumeFrom(state *DemoState) {
	r.ledger.SetStats(state.Stats)
	restored := 0
	for _, pos := range state.Positions {
		if r.ledger.Restore(pos) {
			restored++
		}
	}
	if restored > 0 {
		log.Info().Int("positions", restored).Msg("♻️  Session resumed")
	}
}

// Stop requests a graceful shutdown. Safe to call from any goroutine.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		if r.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
			log.Info().Msg("Stopping runtime")
		}
		close(r.stopCh)
	})
}

// Run drives the session until the run window elapses, Stop is called, or
// the kill switch fires. A panic inside the loop is returned as an error so
// the supervisor can restart after a cooldown; persisted state makes the
// restart resume close to where it left off.
func (r *Runtime) Run() (err error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("runtime already started (state %s)", r.State())
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick loop panic: %v", rec)
			log.Error().Interface("panic", rec).Msg("💥 Runtime crashed")
			r.awaitRefresh()
			r.feed.Stop()
			r.state.Store(int32(StateStopped))
		}
	}()

	r.feed.SetCallbacks(feeds.Callbacks{
		OnBookUpdate:   r.onBookUpdate,
		OnMarketChange: r.onMarketChange,
		OnConnect: func() {
			log.Info().Msg("🔌 Stream connected")
		},
		OnDisconnect: func() {
			log.Warn().Msg("Stream down, polling fallback active")
		},
	})

	if err := r.feed.Start(); err != nil {
		r.state.Store(int32(StateStopped))
		return fmt.Errorf("start feed: %w", err)
	}

	if !r.feed.WaitForData(r.cfg.DataTimeout) {
		log.Warn().Dur("timeout", r.cfg.DataTimeout).Msg("No market data yet, proceeding anyway")
	}

	r.state.Store(int32(StateRunning))
	r.startRunRecord()
	r.runLog.Event("run_started", runlog.Fields{
		"coin":           r.cfg.Coin,
		"interval_min":   r.cfg.IntervalMinutes,
		"drop_threshold": r.cfg.DropThreshold,
		"lookback_s":     r.cfg.Lookback.Seconds(),
		"bankroll":       r.session.Bankroll(),
		"run_end":        r.session.RunEnd(),
	})
	log.Info().
		Str("coin", r.cfg.Coin).
		Int("interval_min", r.cfg.IntervalMinutes).
		Str("drop", r.cfg.DropThreshold.String()).
		Str("bankroll", "$"+r.session.Bankroll().StringFixed(2)).
		Msg("⚡ Flash-crash runtime started")

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.shutdown("stopped")
			return nil
		case now := <-ticker.C:
			if r.session.Expired(now) {
				log.Info().Msg("⏰ Run window elapsed")
				r.shutdown("run_window_elapsed")
				return nil
			}
			if killed := r.tick(now); killed {
				r.shutdown("kill_switch")
				return nil
			}
		}
	}
}

// tick executes one pass of the loop. Returns true when the kill switch
// fired and the loop must halt.
func (r *Runtime) tick(now time.Time) bool {
	prices := r.feed.CurrentPrices()

	if r.checkKillSwitch(prices) {
		return true
	}

	if r.ledger.CanOpen() {
		r.tryEntry(prices, now)
	}

	r.processExits(prices)
	r.maybeRefreshOrders()
	r.maybeSnapshot(now)
	r.renderStatus(prices, now)
	return false
}

// ─── Feed callbacks ────────────────────────────────────────────────────────────

func (r *Runtime) onBookUpdate(u feeds.BookUpdate) {
	r.history.Record(u.Side, u.Mid, u.Timestamp)
}

func (r *Runtime) onMarketChange(old, new *types.MarketInfo) {
	// Stale samples from the previous window must never trigger a crash.
	r.history.Clear()

	oldSlug := ""
	if old != nil {
		oldSlug = old.Slug
	}
	log.Info().Str("from", oldSlug).Str("to", new.Slug).Msg("🔄 Market rolled over")
	r.runLog.Event("market_rollover", runlog.Fields{
		"from": oldSlug,
		"to":   new.Slug,
	})
}

// ─── Entry ─────────────────────────────────────────────────────────────────────

func (r *Runtime) tryEntry(prices map[types.Side]decimal.Decimal, now time.Time) {
	event := r.history.DetectCrash(r.cfg.Lookback, r.cfg.DropThreshold, now)
	if event == nil {
		return
	}

	log.Info().
		Str("side", string(event.Side)).
		Str("old", event.OldPrice.StringFixed(3)).
		Str("new", event.NewPrice.StringFixed(3)).
		Str("drop", event.Drop.StringFixed(3)).
		Msg("🚨 FLASH CRASH DETECTED")

	tokenID, ok := r.feed.TokenIDs()[event.Side]
	if !ok {
		log.Warn().Str("side", string(event.Side)).Msg("No token for side, skipping entry")
		return
	}

	price := event.NewPrice
	if p, ok := prices[event.Side]; ok && p.GreaterThan(decimal.Zero) {
		price = p
	}

	available := r.session.Available(r.ledger.ReservedNotional())
	stake := r.resolveStake(available)

	result := r.broker.SimulateBuy(price, available, stake)
	if !result.Filled {
		log.Info().Str("reason", result.Reason).Msg("Entry skipped")
		r.runLog.Event("trade_open_skipped", runlog.Fields{
			"side":   string(event.Side),
			"price":  price,
			"stake":  stake,
			"reason": result.Reason,
		})
		return
	}

	order := r.exec.PlaceOrder(tokenID, result.AvgPrice, result.FilledShares, "BUY")
	if !order.Success {
		log.Warn().Str("msg", order.Message).Msg("Entry order rejected")
		r.runLog.Event("trade_open_skipped", runlog.Fields{
			"side":   string(event.Side),
			"price":  price,
			"reason": "order_rejected: " + order.Message,
		})
		return
	}

	pos := r.ledger.OpenPosition(event.Side, tokenID, result.AvgPrice, result.FilledShares, order.OrderID)
	if pos == nil {
		log.Warn().Str("side", string(event.Side)).Msg("Ledger refused position")
		return
	}

	cost := result.FilledShares.Mul(result.AvgPrice).Add(result.Fee)
	r.session.ApplyOpen(cost)

	log.Info().
		Str("side", string(pos.Side)).
		Str("entry", pos.EntryPrice.StringFixed(3)).
		Str("size", pos.Size.StringFixed(2)).
		Str("tp", pos.TakeProfitPrice.StringFixed(3)).
		Str("sl", pos.StopLossPrice.StringFixed(3)).
		Str("fee", result.Fee.StringFixed(4)).
		Msg("✅ Position opened")

	r.runLog.Event("trade_opened", runlog.Fields{
		"position_id": pos.ID,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"fee":         result.Fee,
		"tp":          pos.TakeProfitPrice,
		"sl":          pos.StopLossPrice,
		"drop":        event.Drop,
	})
	if r.store != nil {
		r.store.LogTrade(pos.ID, r.cfg.Coin, string(pos.Side), "open", pos.EntryPrice, pos.Size, result.Fee, decimal.Zero)
	}
	r.saveState()
}

// resolveStake derives the preferred stake from the available bankroll.
func (r *Runtime) resolveStake(available decimal.Decimal) decimal.Decimal {
	switch {
	case r.cfg.SizePercent.GreaterThan(decimal.Zero):
		stake := available.Mul(r.cfg.SizePercent).Div(decimal.NewFromInt(100))
		return decimal.Min(stake, available)
	case r.cfg.FixedStake.GreaterThan(decimal.Zero):
		return decimal.Min(r.cfg.FixedStake, available)
	default:
		return r.broker.ResolveStake(available)
	}
}

// ─── Exits ─────────────────────────────────────────────────────────────────────

func (r *Runtime) processExits(prices map[types.Side]decimal.Decimal) {
	for _, exit := range r.ledger.CheckAllExits(prices) {
		price, ok := prices[exit.Position.Side]
		if !ok {
			continue
		}
		r.closePosition(exit.Position, price, string(exit.Kind))
	}
}

// closePosition sells a position at the given price, splitting partial fills
// from full closes. The win/loss counters move on every partial fill.
func (r *Runtime) closePosition(pos *types.Position, price decimal.Decimal, reason string) {
	sell := r.broker.SimulateSell(price, pos.Size)
	if !sell.Filled {
		log.Info().
			Str("side", string(pos.Side)).
			Str("reason", sell.Reason).
			Msg("Exit skipped, retrying next tick")
		r.runLog.Event("trade_close_skipped", runlog.Fields{
			"position_id": pos.ID,
			"price":       price,
			"reason":      sell.Reason,
		})
		return
	}

	order := r.exec.PlaceOrder(pos.TokenID, sell.AvgPrice, sell.FilledShares, "SELL")
	if !order.Success {
		log.Warn().Str("msg", order.Message).Msg("Exit order rejected")
		return
	}

	proceeds := sell.FilledShares.Mul(sell.AvgPrice).Sub(sell.Fee)
	realized := sell.AvgPrice.Sub(pos.EntryPrice).Mul(sell.FilledShares).Sub(sell.Fee)
	partial := sell.FilledShares.LessThan(pos.Size)

	if partial {
		r.ledger.RecordPartialClose(pos.ID, sell.FilledShares, realized)
		r.session.ApplyClose(proceeds, realized)
		log.Info().
			Str("side", string(pos.Side)).
			Str("sold", sell.FilledShares.StringFixed(2)).
			Str("left", pos.Size.StringFixed(2)).
			Str("pnl", realized.StringFixed(2)).
			Msg("📉 Partial close")
		r.runLog.Event("trade_partially_closed", runlog.Fields{
			"position_id": pos.ID,
			"side":        string(pos.Side),
			"exit_price":  sell.AvgPrice,
			"sold":        sell.FilledShares,
			"remaining":   pos.Size,
			"pnl":         realized,
			"reason":      reason,
		})
		if r.store != nil {
			r.store.LogTrade(pos.ID, r.cfg.Coin, string(pos.Side), "partial_close", sell.AvgPrice, sell.FilledShares, sell.Fee, realized)
		}
		r.saveState()
		return
	}

	r.ledger.ClosePosition(pos.ID, realized)
	r.session.ApplyClose(proceeds, realized)

	log.Info().
		Str("side", string(pos.Side)).
		Str("entry", pos.EntryPrice.StringFixed(3)).
		Str("exit", sell.AvgPrice.StringFixed(3)).
		Str("pnl", realized.StringFixed(2)).
		Str("reason", reason).
		Msg("📊 Position closed")

	r.runLog.Event("trade_closed", runlog.Fields{
		"position_id": pos.ID,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"exit_price":  sell.AvgPrice,
		"size":        sell.FilledShares,
		"fee":         sell.Fee,
		"pnl":         realized,
		"reason":      reason,
	})
	if r.store != nil {
		r.store.LogTrade(pos.ID, r.cfg.Coin, string(pos.Side), reason, sell.AvgPrice, sell.FilledShares, sell.Fee, realized)
	}
	r.saveState()
}

// ─── Kill switch ───────────────────────────────────────────────────────────────

func (r *Runtime) equity(prices map[types.Side]decimal.Decimal) decimal.Decimal {
	bankroll := r.session.Bankroll()
	if !r.cfg.DrawdownOnEquity {
		return bankroll
	}

	equity := bankroll
	for _, pos := range r.ledger.All() {
		price, ok := prices[pos.Side]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			price = pos.EntryPrice
		}
		if r.broker.Enabled() {
			// Cash accounting: the open notional left the bankroll at entry.
			equity = equity.Add(pos.Size.Mul(price))
		} else {
			equity = equity.Add(pos.PnL(price))
		}
	}
	return equity
}

// checkKillSwitch liquidates everything and halts when drawdown crosses the
// limit. Cancel and per-position sell failures are swallowed; liquidation of
// the remaining positions must proceed regardless.
func (r *Runtime) checkKillSwitch(prices map[types.Side]decimal.Decimal) bool {
	if r.cfg.MaxDrawdownPercent.LessThanOrEqual(decimal.Zero) {
		return false
	}

	drawdown := r.session.Drawdown(r.equity(prices))
	if drawdown.LessThan(r.cfg.MaxDrawdownPercent) {
		return false
	}

	log.Error().
		Str("drawdown", drawdown.StringFixed(1)+"%").
		Str("limit", r.cfg.MaxDrawdownPercent.StringFixed(1)+"%").
		Msg("🛑 KILL SWITCH TRIGGERED")
	r.runLog.Event("kill_switch_triggered", runlog.Fields{
		"drawdown_pct":   drawdown,
		"limit_pct":      r.cfg.MaxDrawdownPercent,
		"bankroll":       r.session.Bankroll(),
		"start_bankroll": r.session.StartBankroll(),
	})

	if res := r.exec.CancelAllOrders(); !res.Success {
		log.Warn().Str("msg", res.Message).Msg("Cancel-all failed, liquidating anyway")
	}

	for _, pos := range r.ledger.All() {
		price, ok := prices[pos.Side]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			price = pos.EntryPrice
		}
		r.forceSell(pos, price)
	}

	r.state.Store(int32(StateKilled))
	r.saveState()
	return true
}

// forceSell closes a position unconditionally at the given price. Partial
// fills and rejections from the sell model are overridden; the ledger must
// end flat.
func (r *Runtime) forceSell(pos *types.Position, price decimal.Decimal) {
	exitPrice := price
	fee := decimal.Zero

	if sell := r.broker.SimulateSell(price, pos.Size); sell.Filled {
		exitPrice = sell.AvgPrice
		fee = r.broker.FeeOn(pos.Size.Mul(exitPrice))
	}

	if order := r.exec.PlaceOrder(pos.TokenID, exitPrice, pos.Size, "SELL"); !order.Success {
		log.Warn().
			Str("side", string(pos.Side)).
			Str("msg", order.Message).
			Msg("Liquidation order failed, closing ledger side anyway")
	}

	proceeds := pos.Size.Mul(exitPrice).Sub(fee)
	realized := exitPrice.Sub(pos.EntryPrice).Mul(pos.Size).Sub(fee)

	r.ledger.ClosePosition(pos.ID, realized)
	r.session.ApplyClose(proceeds, realized)

	log.Info().
		Str("side", string(pos.Side)).
		Str("exit", exitPrice.StringFixed(3)).
		Str("pnl", realized.StringFixed(2)).
		Msg("💥 Position liquidated")
	r.runLog.Event("trade_closed", runlog.Fields{
		"position_id": pos.ID,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"exit_price":  exitPrice,
		"size":        pos.Size,
		"pnl":         realized,
		"reason":      "kill_switch",
	})
	if r.store != nil {
		r.store.LogTrade(pos.ID, r.cfg.Coin, string(pos.Side), "kill_switch", exitPrice, pos.Size, fee, realized)
	}
}

// ─── Background order refresh ──────────────────────────────────────────────────

// maybeRefreshOrders schedules a refresh of exchange-side open orders. At
// most one refresh is in flight; the tick never blocks on it.
func (r *Runtime) maybeRefreshOrders() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refresh != nil {
		select {
		case <-r.refresh.done:
			r.refresh = nil
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &refreshTask{cancel: cancel, done: make(chan struct{})}
	r.refresh = task

	go func() {
		defer close(task.done)

		orders, err := r.exec.GetOpenOrders()
		if err != nil {
			// Stale cache stays; the next tick schedules a retry.
			log.Debug().Err(err).Msg("Order refresh failed")
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.mu.Lock()
		r.openOrders = orders
		r.mu.Unlock()
	}()
}

// OpenOrders returns the last refreshed exchange-side order list.
func (r *Runtime) OpenOrders() []types.OpenOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openOrders
}

// awaitRefresh cancels the in-flight refresh and waits for it to finish so
// no task writes state after shutdown.
func (r *Runtime) awaitRefresh() {
	r.mu.Lock()
	task := r.refresh
	r.refresh = nil
	r.mu.Unlock()

	if task == nil {
		return
	}
	task.cancel()
	<-task.done
}

// ─── Snapshots, render, shutdown ───────────────────────────────────────────────

func (r *Runtime) maybeSnapshot(now time.Time) {
	if now.Sub(r.lastSnapshot) < r.cfg.SnapshotInterval {
		return
	}
	r.lastSnapshot = now

	stats := r.ledger.Stats()
	r.runLog.Event("snapshot", runlog.Fields{
		"bankroll":       r.session.Bankroll(),
		"open_positions": r.ledger.OpenCount(),
		"trades_opened":  stats.TradesOpened,
		"trades_closed":  stats.TradesClosed,
		"total_pnl":      stats.TotalPnL,
		"win_rate":       stats.WinRate(),
		"streaming":      r.feed.IsStreaming(),
	})
}

func (r *Runtime) renderStatus(prices map[types.Side]decimal.Decimal, now time.Time) {
	if r.render == nil {
		return
	}
	r.render.Render(Status{
		State:      r.State(),
		Market:     r.feed.CurrentMarket(),
		Prices:     prices,
		Bankroll:   r.session.Bankroll(),
		Drawdown:   r.session.Drawdown(r.equity(prices)),
		Stats:      r.ledger.Stats(),
		Open:       r.ledger.All(),
		OpenOrders: len(r.OpenOrders()),
		Streaming:  r.feed.IsStreaming(),
		Now:        now,
	})
}

func (r *Runtime) saveState() {
	state := r.session.Snapshot(r.ledger.Stats(), r.ledger.All())
	if err := r.session.Save(state); err != nil {
		log.Warn().Err(err).Msg("State save failed")
	}
}

// startRunRecord opens a run summary row in the store.
func (r *Runtime) startRunRecord() {
	if r.store == nil {
		return
	}
	row := &storage.RunRow{
		ID:            uuid.New().String()[:8],
		Coin:          r.cfg.Coin,
		IntervalMin:   r.cfg.IntervalMinutes,
		StartBankroll: r.session.StartBankroll(),
		StartedAt:     time.Now(),
	}
	if err := r.store.StartRun(row); err != nil {
		log.Warn().Err(err).Msg("Run record create failed")
		return
	}
	r.runRow = row
}

// finishRunRecord writes the final numbers onto the run summary row.
func (r *Runtime) finishRunRecord() {
	if r.store == nil || r.runRow == nil {
		return
	}
	now := time.Now()
	stats := r.ledger.Stats()

	r.runRow.FinalBankroll = r.session.Bankroll()
	r.runRow.TotalProfit = stats.TotalPnL
	r.runRow.TradesOpened = stats.TradesOpened
	r.runRow.TradesClosed = stats.TradesClosed
	r.runRow.WinningTrades = stats.WinningTrades
	r.runRow.LosingTrades = stats.LosingTrades
	r.runRow.Killed = r.State() == StateKilled
	r.runRow.FinishedAt = &now

	if err := r.store.FinishRun(r.runRow); err != nil {
		log.Warn().Err(err).Msg("Run record update failed")
	}
}

func (r *Runtime) shutdown(reason string) {
	r.awaitRefresh()
	r.feed.Stop()

	if r.State() != StateKilled {
		r.state.Store(int32(StateStopped))
	}
	r.saveState()
	r.finishRunRecord()

	stats := r.ledger.Stats()
	log.Info().
		Str("reason", reason).
		Str("bankroll", "$"+r.session.Bankroll().StringFixed(2)).
		Str("pnl", stats.TotalPnL.StringFixed(2)).
		Int("trades", stats.TradesClosed).
		Str("win_rate", stats.WinRate().StringFixed(1)+"%").
		Msg("🏁 Run finished")
	r.runLog.Event("run_finished", runlog.Fields{
		"reason":    reason,
		"state":     r.State().String(),
		"bankroll":  r.session.Bankroll(),
		"total_pnl": stats.TotalPnL,
		"trades":    stats.TradesClosed,
		"win_rate":  stats.WinRate(),
	})
}
