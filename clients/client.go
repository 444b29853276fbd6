package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	x402types "github.com/vitwit/x402pay/types"
)

// Client is the network surface the settlement engine needs from a Solana
// cluster.
type Client interface {
	// Simulate dry-runs a signed transaction. A rejected simulation is
	// reported as *SimulationError.
	Simulate(ctx context.Context, tx *solana.Transaction) error
	// SendRaw broadcasts the exact signed bytes and returns the network
	// signature.
	SendRaw(ctx context.Context, raw []byte) (solana.Signature, error)
	// Confirm blocks until the signature reaches confirmed commitment or ctx
	// ends. An on-chain execution failure is reported as *TransactionError.
	Confirm(ctx context.Context, sig solana.Signature) error
	// GetConfirmedTransaction fetches the confirmed record, or ErrNotFound
	// when the node does not have it yet.
	GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (*x402types.ConfirmedTransaction, error)
	GetNetwork() x402types.Network
	Close()
}
