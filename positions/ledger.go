// Package positions tracks open positions, exit conditions and session
// statistics for one trading session.
package positions

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ExitKind classifies why a position should be closed.
type ExitKind string

const (
	ExitTakeProfit ExitKind = "take_profit"
	ExitStopLoss   ExitKind = "stop_loss"
)

// Exit is one position due for closing, with the pnl at the triggering price.
type Exit struct {
	Position *types.Position
	Kind     ExitKind
	PnL      decimal.Decimal
}

// Ledger enforces the one-open-position-per-side invariant and accumulates
// session statistics. The side index and the id store are always mutated
// under the same lock so neither can reflect a position the other doesn't.
type Ledger struct {
	mu sync.Mutex

	takeProfitDelta decimal.Decimal
	stopLossDelta   decimal.Decimal
	maxPositions    int

	byID   map[string]*types.Position
	bySide map[types.Side]string // side -> active position id
	order  []string              // insertion order, keeps exit evaluation deterministic

	stats types.SessionStats
}

// NewLedger creates a ledger with the given TP/SL deltas and position cap.
func NewLedger(takeProfitDelta, stopLossDelta decimal.Decimal, maxPositions int) *Ledger {
	if maxPositions <= 0 {
		maxPositions = 1
	}
	return &Ledger{
		takeProfitDelta: takeProfitDelta,
		stopLossDelta:   stopLossDelta,
		maxPositions:    maxPositions,
		byID:            make(map[string]*types.Position),
		bySide:          make(map[types.Side]string),
	}
}

// CanOpen reports whether another position may be opened.
func (l *Ledger) CanOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID) < l.maxPositions
}

// OpenPosition creates a position with TP/SL derived from the entry price.
// Returns nil when the side already has a position or the cap is reached;
// a failed open never mutates the ledger.
func (l *Ledger) OpenPosition(side types.Side, tokenID string, entryPrice, size decimal.Decimal, orderID string) *types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.bySide[side]; exists {
		return nil
	}
	if len(l.byID) >= l.maxPositions {
		return nil
	}

	pos := &types.Position{
		ID:              uuid.NewString(),
		Side:            side,
		TokenID:         tokenID,
		EntryPrice:      entryPrice,
		Size:            size,
		EntryTime:       time.Now(),
		OrderID:         orderID,
		TakeProfitPrice: entryPrice.Add(l.takeProfitDelta),
		StopLossPrice:   entryPrice.Sub(l.stopLossDelta),
	}

	l.insert(pos)
	l.stats.TradesOpened++
	return pos
}

// Restore re-inserts a previously persisted position, keeping its original
// id, timestamps and derived TP/SL. Same invariants as OpenPosition but no
// counter increment.
func (l *Ledger) Restore(pos *types.Position) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos.ID == "" || pos.Size.LessThanOrEqual(decimal.Zero) || pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if _, exists := l.bySide[pos.Side]; exists {
		return false
	}
	if len(l.byID) >= l.maxPositions {
		return false
	}

	if pos.TakeProfitPrice.IsZero() {
		pos.TakeProfitPrice = pos.EntryPrice.Add(l.takeProfitDelta)
	}
	if pos.StopLossPrice.IsZero() {
		pos.StopLossPrice = pos.EntryPrice.Sub(l.stopLossDelta)
	}

	l.insert(pos)
	return true
}

func (l *Ledger) insert(pos *types.Position) {
	l.byID[pos.ID] = pos
	l.bySide[pos.Side] = pos.ID
	l.order = append(l.order, pos.ID)
}

// CheckAllExits evaluates every open position against current prices, in
// insertion order. Positions with no known price are skipped.
func (l *Ledger) CheckAllExits(prices map[types.Side]decimal.Decimal) []Exit {
	l.mu.Lock()
	defer l.mu.Unlock()

	var exits []Exit
	for _, id := range l.order {
		pos, ok := l.byID[id]
		if !ok {
			continue
		}
		current, ok := prices[pos.Side]
		if !ok || current.LessThanOrEqual(decimal.Zero) {
			continue
		}

		switch {
		case current.GreaterThanOrEqual(pos.TakeProfitPrice):
			exits = append(exits, Exit{Position: pos, Kind: ExitTakeProfit, PnL: pos.PnL(current)})
		case current.LessThanOrEqual(pos.StopLossPrice):
			exits = append(exits, Exit{Position: pos, Kind: ExitStopLoss, PnL: pos.PnL(current)})
		}
	}
	return exits
}

// ClosePosition removes a position and books its realized pnl. Closing an id
// that is already gone is a no-op, so a concurrent kill-switch sweep and an
// exit check can both try to close the same position safely.
func (l *Ledger) ClosePosition(id string, realizedPnL decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[id]
	if !ok {
		return
	}

	delete(l.byID, id)
	delete(l.bySide, pos.Side)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}

	l.stats.TradesClosed++
	l.recordOutcome(realizedPnL)
}

// RecordPartialClose books the realized pnl of a partial fill and shrinks the
// position in place. Win/loss counters update per partial fill, not only at
// full closure.
func (l *Ledger) RecordPartialClose(id string, soldShares, realizedPnL decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[id]
	if !ok {
		return
	}

	pos.Size = pos.Size.Sub(soldShares)
	l.recordOutcome(realizedPnL)
}

func (l *Ledger) recordOutcome(pnl decimal.Decimal) {
	l.stats.TotalPnL = l.stats.TotalPnL.Add(pnl)
	if pnl.GreaterThanOrEqual(decimal.Zero) {
		l.stats.WinningTrades++
	} else {
		l.stats.LosingTrades++
	}
}

// Get returns a position by id.
func (l *Ledger) Get(id string) (*types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.byID[id]
	return pos, ok
}

// All returns open positions in insertion order.
func (l *Ledger) All() []*types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*types.Position, 0, len(l.byID))
	for _, id := range l.order {
		if pos, ok := l.byID[id]; ok {
			out = append(out, pos)
		}
	}
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// ReservedNotional returns the entry notional committed across open
// positions.
func (l *Ledger) ReservedNotional() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved := decimal.Zero
	for _, pos := range l.byID {
		reserved = reserved.Add(pos.EntryPrice.Mul(pos.Size))
	}
	return reserved
}

// Stats returns a copy of the session counters.
func (l *Ledger) Stats() types.SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// SetStats replaces the session counters, used when resuming a persisted
// session.
func (l *Ledger) SetStats(stats types.SessionStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = stats
}

// Reset clears all positions and counters for a fresh session.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.byID = make(map[string]*types.Position)
	l.bySide = make(map[types.Side]string)
	l.order = nil
	l.stats = types.SessionStats{TotalPnL: decimal.Zero}
}
