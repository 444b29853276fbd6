package settlement

import (
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402pay/types"
)

// InFlightGuard rejects a transaction signature while another settlement of
// the same signature is running in this process. It does not coordinate
// across replicas; the conditional quote update in the ledger does.
type InFlightGuard struct {
	mu       sync.Mutex
	inFlight map[solana.Signature]struct{}
}

// NewInFlightGuard creates an empty guard.
func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{
		inFlight: make(map[solana.Signature]struct{}),
	}
}

// Admit atomically checks and marks sig as in flight. It returns a
// DuplicateInFlight error when sig is already admitted.
func (g *InFlightGuard) Admit(sig solana.Signature) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inFlight[sig]; exists {
		return types.NewError(types.ErrDuplicateInFlight, "transaction %s is already being settled", sig)
	}
	g.inFlight[sig] = struct{}{}
	return nil
}

// Release removes sig. Releasing an unknown signature is a no-op.
func (g *InFlightGuard) Release(sig solana.Signature) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, sig)
}

// Len returns the number of signatures currently in flight.
func (g *InFlightGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.inFlight)
}
