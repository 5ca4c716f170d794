package feeds

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERBOOK - In-memory orderbook state per outcome token
// ═══════════════════════════════════════════════════════════════════════════════

// PriceLevel represents a single price level in the orderbook
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook maintains the current book state for one outcome token
type Orderbook struct {
	mu      sync.RWMutex
	TokenID string
	Side    types.Side
	Bids    []PriceLevel
	Asks    []PriceLevel
}

// NewOrderbook creates a new orderbook instance
func NewOrderbook(tokenID string, side types.Side) *Orderbook {
	return &Orderbook{
		TokenID: tokenID,
		Side:    side,
		Bids:    make([]PriceLevel, 0),
		Asks:    make([]PriceLevel, 0),
	}
}

// rawLevel is the wire shape of a book level: {"price": "...", "size": "..."}
type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Update replaces the book from a wire snapshot
func (ob *Orderbook) Update(bids, asks []rawLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.Bids = parseLevels(bids)
	ob.Asks = parseLevels(asks)

	// Sort: bids descending, asks ascending
	sort.Slice(ob.Bids, func(i, j int) bool {
		return ob.Bids[i].Price.GreaterThan(ob.Bids[j].Price)
	})
	sort.Slice(ob.Asks, func(i, j int) bool {
		return ob.Asks[i].Price.LessThan(ob.Asks[j].Price)
	})
}

func parseLevels(raw []rawLevel) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, lv := range raw {
		price, err := decimal.NewFromString(lv.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil || size.LessThanOrEqual(decimal.Zero) {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Size: size})
	}
	return levels
}

// SetBest overwrites the top of book directly (used for price_change deltas
// that carry best bid/ask without full depth).
func (ob *Orderbook) SetBest(bestBid, bestAsk decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if bestBid.GreaterThan(decimal.Zero) {
		if len(ob.Bids) == 0 {
			ob.Bids = []PriceLevel{{Price: bestBid}}
		} else {
			ob.Bids[0].Price = bestBid
		}
	}
	if bestAsk.GreaterThan(decimal.Zero) {
		if len(ob.Asks) == 0 {
			ob.Asks = []PriceLevel{{Price: bestAsk}}
		} else {
			ob.Asks[0].Price = bestAsk
		}
	}
}

// BestBid returns the highest bid price
func (ob *Orderbook) BestBid() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask price
func (ob *Orderbook) BestAsk() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// Spread returns the bid-ask spread
func (ob *Orderbook) Spread() decimal.Decimal {
	return ob.BestAsk().Sub(ob.BestBid())
}

// Mid returns the mid price, zero when either side of the book is empty
func (ob *Orderbook) Mid() decimal.Decimal {
	bid := ob.BestBid()
	ask := ob.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// TopLevels returns up to n levels per book side for display
func (ob *Orderbook) TopLevels(n int) (bids, asks []PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if n > len(ob.Bids) {
		bids = append(bids, ob.Bids...)
	} else {
		bids = append(bids, ob.Bids[:n]...)
	}
	if n > len(ob.Asks) {
		asks = append(asks, ob.Asks...)
	} else {
		asks = append(asks, ob.Asks[:n]...)
	}
	return bids, asks
}
