package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// Status is the point-in-time view handed to the renderer on every tick.
type Status struct {
	State      State
	Market     *types.MarketInfo
	Prices     map[types.Side]decimal.Decimal
	Bankroll   decimal.Decimal
	Drawdown   decimal.Decimal
	Stats      types.SessionStats
	Open       []*types.Position
	OpenOrders int
	Streaming  bool
	Now        time.Time
}

// StatusRenderer presents the session status. The runtime calls it once per
// tick; implementations decide how often to actually draw.
type StatusRenderer interface {
	Render(status Status)
}

// LogRenderer writes a throttled status line through zerolog. A full
// terminal UI stays out of the runtime; this is just enough to follow a
// headless session.
type LogRenderer struct {
	interval time.Duration
	lastDraw time.Time
}

// NewLogRenderer draws at most once per interval (default 15s).
func NewLogRenderer(interval time.Duration) *LogRenderer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &LogRenderer{interval: interval}
}

func (r *LogRenderer) Render(status Status) {
	if status.Now.Sub(r.lastDraw) < r.interval {
		return
	}
	r.lastDraw = status.Now

	evt := log.Info().
		Str("bankroll", "$"+status.Bankroll.StringFixed(2)).
		Str("pnl", status.Stats.TotalPnL.StringFixed(2)).
		Int("open", len(status.Open)).
		Int("trades", status.Stats.TradesClosed).
		Str("win_rate", status.Stats.WinRate().StringFixed(1)+"%").
		Bool("streaming", status.Streaming)

	if status.Market != nil {
		mins, secs := status.Market.Countdown(status.Now)
		evt = evt.Str("market", status.Market.Slug).
			Str("countdown", fmt.Sprintf("%dm%02ds", mins, secs))
	}
	for _, side := range types.Sides {
		if p, ok := status.Prices[side]; ok {
			evt = evt.Str(string(side), p.StringFixed(3))
		}
	}

	evt.Msg("📊 Status")
}
