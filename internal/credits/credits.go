// Package credits is the AI-credit gate consulted once at game start. Adding
// or removing AI players never charges; starting a game charges for every AI
// seated at that moment, atomically.
package credits

import (
	"context"
	"fmt"
	"sync"
)

// Result reports the outcome of an authorization. Consumed is zero whenever
// OK is false: there is no partial consumption.
type Result struct {
	OK        bool
	Consumed  int
	Remaining int
	Message   string
}

// Gate authorizes AI participation for a game about to start. Implementations
// must be safe for concurrent use; callers bound the context.
type Gate interface {
	Authorize(ctx context.Context, hostID string, aiCount int) (Result, error)
}

// MemoryGate keeps per-host balances in memory. Used in tests and in
// deployments without a credit ledger database.
type MemoryGate struct {
	mu       sync.Mutex
	balances map[string]int
	// DefaultCredits seeds a host's balance on first sight.
	DefaultCredits int
}

func NewMemoryGate(defaultCredits int) *MemoryGate {
	return &MemoryGate{balances: make(map[string]int), DefaultCredits: defaultCredits}
}

func (g *MemoryGate) SetBalance(hostID string, credits int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[hostID] = credits
}

func (g *MemoryGate) Balance(hostID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seen := g.balances[hostID]; !seen {
		g.balances[hostID] = g.DefaultCredits
	}
	return g.balances[hostID]
}

func (g *MemoryGate) Authorize(_ context.Context, hostID string, aiCount int) (Result, error) {
	if aiCount <= 0 {
		return Result{OK: true}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seen := g.balances[hostID]; !seen {
		g.balances[hostID] = g.DefaultCredits
	}
	balance := g.balances[hostID]
	if balance < aiCount {
		return Result{
			OK:        false,
			Remaining: balance,
			Message:   fmt.Sprintf("AI玩家额度不足，当前剩余 %d 人次", balance),
		}, nil
	}
	g.balances[hostID] = balance - aiCount
	return Result{
		OK:        true,
		Consumed:  aiCount,
		Remaining: balance - aiCount,
		Message:   fmt.Sprintf("已消耗 %d 人次AI额度，剩余 %d 人次", aiCount, balance-aiCount),
	}, nil
}

// NopGate authorizes everything; used when credits are disabled.
type NopGate struct{}

func (NopGate) Authorize(context.Context, string, int) (Result, error) {
	return Result{OK: true}, nil
}
