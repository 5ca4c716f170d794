package exec

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/flashcrash/types"
)

// PaperExecutor satisfies Executor for demo sessions: every order "succeeds"
// without touching an exchange. Fill realism lives in the paper broker, not
// here.
type PaperExecutor struct {
	mu     sync.Mutex
	placed int
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{}
}

// PlaceOrder simulates acceptance of an order.
func (p *PaperExecutor) PlaceOrder(tokenID string, price, size decimal.Decimal, side string) types.OrderResult {
	p.mu.Lock()
	p.placed++
	p.mu.Unlock()

	return types.OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("paper-%s-%s", side, uuid.NewString()[:8]),
		Status:  "filled",
		Message: "paper order simulated",
	}
}

// GetOpenOrders reports no resting orders; paper orders fill immediately.
func (p *PaperExecutor) GetOpenOrders() ([]types.OpenOrder, error) {
	return []types.OpenOrder{}, nil
}

// CancelAllOrders is a successful no-op.
func (p *PaperExecutor) CancelAllOrders() types.OrderResult {
	return types.OrderResult{Success: true, Message: "paper cancel all simulated"}
}

// PlacedCount returns how many orders were accepted this session.
func (p *PaperExecutor) PlacedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placed
}

var _ Executor = (*PaperExecutor)(nil)
var _ Executor = (*CLOBClient)(nil)
