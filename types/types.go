package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is one of the two binary outcomes of an up/down market.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Sides lists both outcomes in evaluation order.
var Sides = []Side{SideUp, SideDown}

// PricePoint is a single recorded price sample for one side.
type PricePoint struct {
	Side      Side
	Price     decimal.Decimal // probability in [0,1]
	Timestamp time.Time
}

// FlashCrashEvent is emitted when a side's probability dropped by at least
// the configured threshold inside the lookback window.
type FlashCrashEvent struct {
	Side      Side
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	Drop      decimal.Decimal // OldPrice - NewPrice
	Timestamp time.Time
}

// Position represents an open trade on one side of a market.
type Position struct {
	ID         string          `json:"id"`
	Side       Side            `json:"side"`
	TokenID    string          `json:"token_id"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Size       decimal.Decimal `json:"size"`
	EntryTime  time.Time       `json:"entry_time"`
	OrderID    string          `json:"order_id"`

	// Derived once at open, never recomputed.
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
}

// PnL returns the unrealized profit at the given price.
func (p *Position) PnL(current decimal.Decimal) decimal.Decimal {
	return current.Sub(p.EntryPrice).Mul(p.Size)
}

// PnLPercent returns the unrealized profit relative to entry notional.
func (p *Position) PnLPercent(current decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return current.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// HoldTime returns how long the position has been open.
func (p *Position) HoldTime() time.Duration {
	return time.Since(p.EntryTime)
}

// SessionStats accumulates per-session trade counters. Counters only grow;
// they are reset together on an explicit session reset.
type SessionStats struct {
	TradesOpened  int             `json:"trades_opened"`
	TradesClosed  int             `json:"trades_closed"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
}

// WinRate returns the percentage of closed trades with non-negative pnl.
func (s SessionStats) WinRate() decimal.Decimal {
	settled := s.WinningTrades + s.LosingTrades
	if settled == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.WinningTrades)).
		Div(decimal.NewFromInt(int64(settled))).
		Mul(decimal.NewFromInt(100))
}

// MarketInfo is an immutable snapshot of one market instance. The feed
// replaces it wholesale on rollover, never field by field.
type MarketInfo struct {
	Slug            string
	Question        string
	EndDate         time.Time
	TokenIDs        map[Side]string
	Prices          map[Side]decimal.Decimal
	AcceptingOrders bool
}

// Countdown returns minutes and seconds until the market resolves.
func (m *MarketInfo) Countdown(now time.Time) (int, int) {
	remaining := m.EndDate.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	total := int(remaining.Seconds())
	return total / 60, total % 60
}

// OrderResult is the outcome of an order-execution call.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string
	Message string
}

// OpenOrder is one externally-held open order, as reported by the exchange.
type OpenOrder struct {
	ID           string          `json:"id"`
	AssetID      string          `json:"asset_id"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	OriginalSize decimal.Decimal `json:"original_size"`
	SizeMatched  decimal.Decimal `json:"size_matched"`
}
