// Package storage persists trade history and run summaries.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Trade persistence layer
// ═══════════════════════════════════════════════════════════════════════════════

type Store struct {
	db *gorm.DB
}

// TradeRow is one executed action on a position.
type TradeRow struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PositionID string `gorm:"index"`
	Coin       string `gorm:"index"`
	Side       string
	Action     string          `gorm:"index"` // open, take_profit, stop_loss, partial_close, kill_switch
	Price      decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Fee        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Profit     decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt  time.Time
}

// RunRow is the summary of one completed session window.
type RunRow struct {
	ID            string `gorm:"primaryKey"`
	Coin          string `gorm:"index"`
	IntervalMin   int
	StartBankroll decimal.Decimal `gorm:"type:decimal(20,6)"`
	FinalBankroll decimal.Decimal `gorm:"type:decimal(20,6)"`
	TotalProfit   decimal.Decimal `gorm:"type:decimal(20,6)"`
	TradesOpened  int
	TradesClosed  int
	WinningTrades int
	LosingTrades  int
	Killed        bool
	StartedAt     time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New opens the store. A postgres:// or postgresql:// DSN connects to
// PostgreSQL; anything else is treated as a SQLite file path.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Store connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("store dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("💾 Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRow{}, &RunRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// LogTrade records one executed action. Failures are logged, not returned;
// trade history must never stall the tick loop.
func (s *Store) LogTrade(positionID, coin, side, action string, price, size, fee, pnl decimal.Decimal) {
	row := TradeRow{
		PositionID: positionID,
		Coin:       coin,
		Side:       side,
		Action:     action,
		Price:      price,
		Size:       size,
		Fee:        fee,
		Profit:     pnl,
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("position_id", positionID).Msg("Failed to log trade")
	}
}

// StartRun records a new session window.
func (s *Store) StartRun(run *RunRow) error {
	return s.db.Create(run).Error
}

// FinishRun updates a session window with its final numbers.
func (s *Store) FinishRun(run *RunRow) error {
	return s.db.Save(run).Error
}

// RecentTrades returns the newest trade rows.
func (s *Store) RecentTrades(limit int) ([]TradeRow, error) {
	var rows []TradeRow
	err := s.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// TradesByPosition returns every action for one position, oldest first.
func (s *Store) TradesByPosition(positionID string) ([]TradeRow, error) {
	var rows []TradeRow
	err := s.db.Where("position_id = ?", positionID).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// TotalPnL sums realized pnl across all recorded trades.
func (s *Store) TotalPnL() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := s.db.Model(&TradeRow{}).Select("COALESCE(SUM(profit), 0) as total").Scan(&result).Error
	return result.Total, err
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
