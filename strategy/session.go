package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DEMO SESSION - Bankroll accounting + resumable state file
// ═══════════════════════════════════════════════════════════════════════════════

// DemoState is the persisted shape of a paper-trading session. It carries
// everything needed to rebuild the ledger and bankroll on restart.
type DemoState struct {
	Bankroll      decimal.Decimal    `json:"bankroll"`
	StartBankroll decimal.Decimal    `json:"start_bankroll"`
	RunEnd        time.Time          `json:"run_end"`
	Stats         types.SessionStats `json:"stats"`
	Positions     []*types.Position  `json:"open_positions"`
}

// Session tracks the paper bankroll for one bounded run window.
//
// With cash accounting (execution realism on) the bankroll moves on every
// fill: debited the full cost at open, credited the proceeds at close. With
// pnl accounting (realism off) the bankroll only moves by realized pnl at
// close, and open entry notional is treated as reserved instead.
type Session struct {
	mu sync.Mutex

	bankroll      decimal.Decimal
	startBankroll decimal.Decimal
	runEnd        time.Time

	cashAccounting bool
	statePath      string
}

// NewSession starts a fresh session window ending runDuration from now.
func NewSession(startBankroll decimal.Decimal, runDuration time.Duration, cashAccounting bool, statePath string) *Session {
	return &Session{
		bankroll:       startBankroll,
		startBankroll:  startBankroll,
		runEnd:         time.Now().Add(runDuration),
		cashAccounting: cashAccounting,
		statePath:      statePath,
	}
}

// LoadDemoState reads a persisted session file. A missing or malformed file
// returns nil without error so the caller falls back to fresh defaults.
func LoadDemoState(path string) *DemoState {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var state DemoState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("State file unreadable, starting fresh")
		return nil
	}
	if state.StartBankroll.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return &state
}

// Resume rebuilds a session from persisted state. Returns false when the
// saved run window has already elapsed; an expired session is never resumed
// mid-lifetime.
func (s *Session) Resume(state *DemoState, now time.Time) bool {
	if state == nil || !state.RunEnd.After(now) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankroll = state.Bankroll
	s.startBankroll = state.StartBankroll
	s.runEnd = state.RunEnd
	return true
}

// Bankroll returns the current bankroll.
func (s *Session) Bankroll() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bankroll
}

// StartBankroll returns the bankroll the window started with.
func (s *Session) StartBankroll() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startBankroll
}

// RunEnd returns when the session window closes.
func (s *Session) RunEnd() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runEnd
}

// Expired reports whether the run window has elapsed.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.runEnd.After(now)
}

// Available returns the bankroll available for a new entry. Under pnl
// accounting the entry notional of open positions is subtracted, since the
// bankroll itself was never debited.
func (s *Session) Available(reservedNotional decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cashAccounting {
		return s.bankroll
	}
	avail := s.bankroll.Sub(reservedNotional)
	if avail.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return avail
}

// ApplyOpen debits the full entry cost (notional + fee) under cash
// accounting. A no-op under pnl accounting.
func (s *Session) ApplyOpen(cost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cashAccounting {
		s.bankroll = s.bankroll.Sub(cost)
	}
}

// ApplyClose credits a close: net proceeds under cash accounting, realized
// pnl under pnl accounting.
func (s *Session) ApplyClose(proceeds, realizedPnL decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cashAccounting {
		s.bankroll = s.bankroll.Add(proceeds)
	} else {
		s.bankroll = s.bankroll.Add(realizedPnL)
	}
}

// Drawdown returns the percentage lost from the starting bankroll. Negative
// when the session is in profit.
func (s *Session) Drawdown(equity decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startBankroll.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return s.startBankroll.Sub(equity).Div(s.startBankroll).Mul(decimal.NewFromInt(100))
}

// Snapshot captures the session alongside ledger state for persistence.
func (s *Session) Snapshot(stats types.SessionStats, open []*types.Position) *DemoState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &DemoState{
		Bankroll:      s.bankroll,
		StartBankroll: s.startBankroll,
		RunEnd:        s.runEnd,
		Stats:         stats,
		Positions:     open,
	}
}

// Save writes the state file atomically, temp file then rename, so a crash
// mid-write never leaves a truncated state behind.
func (s *Session) Save(state *DemoState) error {
	s.mu.Lock()
	path := s.statePath
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// RemoveState deletes the state file, used by --reset-state.
func RemoveState(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("Could not remove state file")
	}
}
