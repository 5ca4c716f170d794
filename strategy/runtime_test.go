package strategy

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/flashcrash/exec"
	"github.com/web3guy0/flashcrash/feeds"
	"github.com/web3guy0/flashcrash/paper"
	"github.com/web3guy0/flashcrash/runlog"
	"github.com/web3guy0/flashcrash/types"
)

// fakeFeed satisfies PriceFeed with canned prices.
type fakeFeed struct {
	prices  map[types.Side]decimal.Decimal
	tokens  map[types.Side]string
	market  *types.MarketInfo
	stopped bool
	cb      feeds.Callbacks
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices: map[types.Side]decimal.Decimal{},
		tokens: map[types.Side]string{
			types.SideUp:   "tok-up",
			types.SideDown: "tok-down",
		},
		market: &types.MarketInfo{Slug: "eth-updown-15m-1766671200"},
	}
}

func (f *fakeFeed) Start() error                                   { return nil }
func (f *fakeFeed) Stop()                                          { f.stopped = true }
func (f *fakeFeed) SetCallbacks(cb feeds.Callbacks)                { f.cb = cb }
func (f *fakeFeed) WaitForData(time.Duration) bool                 { return true }
func (f *fakeFeed) CurrentPrices() map[types.Side]decimal.Decimal  { return f.prices }
func (f *fakeFeed) CurrentMarket() *types.MarketInfo               { return f.market }
func (f *fakeFeed) TokenIDs() map[types.Side]string                { return f.tokens }
func (f *fakeFeed) IsStreaming() bool                              { return true }

type runtimeFixture struct {
	rt      *Runtime
	feed    *fakeFeed
	session *Session
	logPath string
}

// newFixture builds a runtime with execution realism off, so fills are full
// and deterministic, and pnl accounting for the bankroll.
func newFixture(t *testing.T, cfg Config) *runtimeFixture {
	t.Helper()

	feed := newFakeFeed()
	session := NewSession(dec("20"), 6*time.Hour, false, "")
	runDir := t.TempDir()
	runLog := runlog.New("flashcrash", "eth", 15, true, runDir)

	rt := NewRuntime(cfg, Deps{
		Feed:     feed,
		Broker:   paper.NewBroker(paper.Config{Enabled: false}, nil),
		Executor: exec.NewPaperExecutor(),
		Session:  session,
		RunLog:   runLog,
	})

	return &runtimeFixture{rt: rt, feed: feed, session: session, logPath: runLog.Path()}
}

func (f *runtimeFixture) events(t *testing.T, name string) []map[string]any {
	t.Helper()

	file, err := os.Open(f.logPath)
	require.NoError(t, err)
	defer file.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		if row["event"] == name {
			out = append(out, row)
		}
	}
	return out
}

func baseConfig() Config {
	return Config{
		Coin:            "ETH",
		IntervalMinutes: 15,
		DropThreshold:   dec("0.10"),
		Lookback:        10 * time.Second,
		TakeProfitDelta: dec("0.05"),
		StopLossDelta:   dec("0.10"),
		MaxPositions:    1,
		SizePercent:     dec("10"),
	}
}

func TestEntrySizing(t *testing.T) {
	f := newFixture(t, baseConfig())
	now := time.Now()

	// Probability crashed 0.65 -> 0.50 inside the lookback window.
	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")

	killed := f.rt.tick(now)
	require.False(t, killed)

	open := f.rt.Ledger().All()
	require.Len(t, open, 1)

	// 10% of $20 at 0.50 buys exactly 4 shares.
	assert.True(t, open[0].Size.Equal(dec("4")), "got %s", open[0].Size)
	assert.True(t, open[0].EntryPrice.Equal(dec("0.50")))
	assert.Equal(t, types.SideUp, open[0].Side)
	assert.True(t, open[0].TakeProfitPrice.Equal(dec("0.55")))
	assert.True(t, open[0].StopLossPrice.Equal(dec("0.40")))
}

func TestNoEntryWithoutCrash(t *testing.T) {
	f := newFixture(t, baseConfig())
	now := time.Now()

	f.rt.history.Record(types.SideUp, dec("0.55"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")

	f.rt.tick(now)
	assert.Equal(t, 0, f.rt.Ledger().OpenCount())
}

func TestAtMostOneTradePerTick(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPositions = 2
	f := newFixture(t, cfg)
	now := time.Now()

	// Both sides crashed; only the first qualifying side is traded this tick.
	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.rt.history.Record(types.SideDown, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideDown, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")
	f.feed.prices[types.SideDown] = dec("0.50")

	f.rt.tick(now)
	assert.Equal(t, 1, f.rt.Ledger().OpenCount())
}

func TestFullCycleEmitsOneOpenedOneClosed(t *testing.T) {
	f := newFixture(t, baseConfig())
	now := time.Now()

	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")

	f.rt.tick(now)
	require.Equal(t, 1, f.rt.Ledger().OpenCount())

	// Price runs through the take-profit; the next tick closes.
	f.feed.prices[types.SideUp] = dec("0.56")
	f.rt.tick(now.Add(time.Second))
	require.Equal(t, 0, f.rt.Ledger().OpenCount())

	opened := f.events(t, "trade_opened")
	closed := f.events(t, "trade_closed")
	require.Len(t, opened, 1)
	require.Len(t, closed, 1)

	assert.Equal(t, opened[0]["entry_price"], closed[0]["entry_price"])
	assert.Equal(t, "0.56", closed[0]["exit_price"])
	assert.Equal(t, "take_profit", closed[0]["reason"])

	stats := f.rt.Ledger().Stats()
	assert.Equal(t, 1, stats.TradesOpened)
	assert.Equal(t, 1, stats.TradesClosed)
	assert.Equal(t, 1, stats.WinningTrades)
}

func TestStopLossExit(t *testing.T) {
	f := newFixture(t, baseConfig())
	now := time.Now()

	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")
	f.rt.tick(now)

	f.feed.prices[types.SideUp] = dec("0.38")
	f.rt.tick(now.Add(time.Second))

	stats := f.rt.Ledger().Stats()
	assert.Equal(t, 1, stats.TradesClosed)
	assert.Equal(t, 1, stats.LosingTrades)
	// (0.38 - 0.50) * 4
	assert.True(t, stats.TotalPnL.Equal(dec("-0.48")), "got %s", stats.TotalPnL)
}

func TestKillSwitchTriggersAndLiquidates(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxDrawdownPercent = dec("30")
	f := newFixture(t, cfg)
	now := time.Now()

	// Open a position, then burn the bankroll down to $13.5.
	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")
	f.rt.tick(now)
	require.Equal(t, 1, f.rt.Ledger().OpenCount())

	f.session.ApplyClose(decimal.Zero, dec("-6.5"))
	require.True(t, f.session.Bankroll().Equal(dec("13.5")))

	killed := f.rt.tick(now.Add(time.Second))

	// drawdown = (20 - 13.5) / 20 * 100 = 32.5% >= 30%
	assert.True(t, killed)
	assert.Equal(t, StateKilled, f.rt.State())
	assert.Equal(t, 0, f.rt.Ledger().OpenCount(), "all positions force-sold")

	events := f.events(t, "kill_switch_triggered")
	require.Len(t, events, 1)
	assert.Equal(t, "32.5", events[0]["drawdown_pct"])
}

func TestKillSwitchFallsBackToEntryPrice(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxDrawdownPercent = dec("30")
	f := newFixture(t, cfg)
	now := time.Now()

	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	f.rt.history.Record(types.SideUp, dec("0.50"), now)
	f.feed.prices[types.SideUp] = dec("0.50")
	f.rt.tick(now)

	// No current price for the side anymore.
	delete(f.feed.prices, types.SideUp)
	f.session.ApplyClose(decimal.Zero, dec("-7"))

	killed := f.rt.tick(now.Add(time.Second))
	require.True(t, killed)

	closed := f.events(t, "trade_closed")
	require.Len(t, closed, 1)
	assert.Equal(t, "0.5", closed[0]["exit_price"], "liquidation used the entry price")
}

func TestMarketRolloverClearsHistory(t *testing.T) {
	f := newFixture(t, baseConfig())
	now := time.Now()

	f.rt.history.Record(types.SideUp, dec("0.65"), now.Add(-5*time.Second))
	require.Equal(t, 1, f.rt.history.Count(types.SideUp))

	f.rt.onMarketChange(f.feed.market, &types.MarketInfo{Slug: "eth-updown-15m-1766672100"})

	assert.Equal(t, 0, f.rt.history.Count(types.SideUp),
		"stale samples must not survive a rollover")
}

func TestRunLifecycle(t *testing.T) {
	cfg := baseConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.DataTimeout = 10 * time.Millisecond
	f := newFixture(t, cfg)

	done := make(chan error, 1)
	go func() { done <- f.rt.Run() }()

	require.Eventually(t, func() bool {
		return f.rt.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	f.rt.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, StateStopped, f.rt.State())
	assert.True(t, f.feed.stopped)
	assert.Len(t, f.events(t, "run_started"), 1)
	assert.Len(t, f.events(t, "run_finished"), 1)
}

// slowOrders blocks GetOpenOrders until released, counting calls.
type slowOrders struct {
	*exec.PaperExecutor
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (s *slowOrders) GetOpenOrders() ([]types.OpenOrder, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return []types.OpenOrder{{ID: "o1"}}, nil
}

func (s *slowOrders) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestOrderRefreshSingleFlight(t *testing.T) {
	f := newFixture(t, baseConfig())
	slow := &slowOrders{PaperExecutor: exec.NewPaperExecutor(), release: make(chan struct{})}
	f.rt.exec = slow

	// Repeated scheduling while one refresh is in flight must not stack up.
	f.rt.maybeRefreshOrders()
	f.rt.maybeRefreshOrders()
	f.rt.maybeRefreshOrders()
	assert.Equal(t, 1, slow.callCount())

	close(slow.release)
	require.Eventually(t, func() bool {
		return len(f.rt.OpenOrders()) == 1
	}, time.Second, 5*time.Millisecond)

	// Once the previous refresh finished, the next tick schedules a new one.
	require.Eventually(t, func() bool {
		f.rt.maybeRefreshOrders()
		return slow.callCount() == 2
	}, time.Second, 5*time.Millisecond)

	f.rt.awaitRefresh()
}

// failingOrders always errors on refresh.
type failingOrders struct {
	*exec.PaperExecutor
}

func (f *failingOrders) GetOpenOrders() ([]types.OpenOrder, error) {
	return nil, assert.AnError
}

func TestOrderRefreshFailureKeepsStaleCache(t *testing.T) {
	f := newFixture(t, baseConfig())
	f.rt.openOrders = []types.OpenOrder{{ID: "cached"}}
	f.rt.exec = &failingOrders{PaperExecutor: exec.NewPaperExecutor()}

	f.rt.maybeRefreshOrders()
	f.rt.awaitRefresh()

	orders := f.rt.OpenOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "cached", orders[0].ID)
}

func TestRunRefusesDoubleStart(t *testing.T) {
	cfg := baseConfig()
	cfg.TickInterval = 5 * time.Millisecond
	f := newFixture(t, cfg)

	done := make(chan error, 1)
	go func() { done <- f.rt.Run() }()

	require.Eventually(t, func() bool {
		return f.rt.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, f.rt.Run())

	f.rt.Stop()
	require.NoError(t, <-done)
}
