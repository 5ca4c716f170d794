// Package exec defines the order-execution contract the strategy runtime
// drives, plus a CLOB REST implementation and a paper stand-in.
package exec

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// Executor is the order-execution collaborator. Implementations must be safe
// to call with no side effects on failure beyond a negative result.
type Executor interface {
	// PlaceOrder submits a limit order for a token. side is "BUY" or "SELL".
	PlaceOrder(tokenID string, price, size decimal.Decimal, side string) types.OrderResult

	// GetOpenOrders returns the externally-held open orders.
	GetOpenOrders() ([]types.OpenOrder, error)

	// CancelAllOrders cancels every open order.
	CancelAllOrders() types.OrderResult
}
