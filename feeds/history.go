package feeds

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE HISTORY - Windowed per-side samples + flash crash detection
// ═══════════════════════════════════════════════════════════════════════════════

// PriceHistory keeps a bounded, time-ordered sample list per side and answers
// "did the probability crash within the lookback window".
type PriceHistory struct {
	mu sync.RWMutex

	maxHistory int
	samples    map[types.Side][]types.PricePoint
}

// NewPriceHistory creates a history ring with the given per-side capacity.
func NewPriceHistory(maxHistory int) *PriceHistory {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &PriceHistory{
		maxHistory: maxHistory,
		samples:    make(map[types.Side][]types.PricePoint),
	}
}

// Record appends a sample for a side. Non-positive prices are ignored.
// The oldest sample is trimmed once capacity is exceeded.
func (h *PriceHistory) Record(side types.Side, price decimal.Decimal, now time.Time) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	points := append(h.samples[side], types.PricePoint{
		Side:      side,
		Price:     price,
		Timestamp: now,
	})
	if len(points) > h.maxHistory {
		points = points[len(points)-h.maxHistory:]
	}
	h.samples[side] = points
}

// DetectCrash compares the newest sample per side against the oldest sample
// still inside the lookback window and returns an event for the first side
// whose drop meets the threshold. Rising prices never fire.
func (h *PriceHistory) DetectCrash(lookback time.Duration, threshold decimal.Decimal, now time.Time) *types.FlashCrashEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := now.Add(-lookback)

	for _, side := range types.Sides {
		points := h.samples[side]
		if len(points) < 2 {
			continue
		}

		newest := points[len(points)-1]

		// Oldest sample still inside the window.
		oldestIdx := -1
		for i := range points {
			if !points[i].Timestamp.Before(cutoff) {
				oldestIdx = i
				break
			}
		}
		if oldestIdx < 0 || oldestIdx == len(points)-1 {
			continue
		}
		oldest := points[oldestIdx]

		drop := oldest.Price.Sub(newest.Price)
		if drop.GreaterThanOrEqual(threshold) {
			return &types.FlashCrashEvent{
				Side:      side,
				OldPrice:  oldest.Price,
				NewPrice:  newest.Price,
				Drop:      drop,
				Timestamp: newest.Timestamp,
			}
		}
	}

	return nil
}

// Count returns the number of stored samples for a side.
func (h *PriceHistory) Count(side types.Side) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples[side])
}

// Latest returns the most recent sample for a side, if any.
func (h *PriceHistory) Latest(side types.Side) (types.PricePoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	points := h.samples[side]
	if len(points) == 0 {
		return types.PricePoint{}, false
	}
	return points[len(points)-1], true
}

// Clear wipes all history for all sides. Called on every market rollover so
// detection never mixes samples across market instances.
func (h *PriceHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = make(map[types.Side][]types.PricePoint)
}
