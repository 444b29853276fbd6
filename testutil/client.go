package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402pay/clients"
	"github.com/vitwit/x402pay/types"
)

// FakeClient is a scriptable clients.Client. Sent transactions are recorded
// and, unless Record is set, confirmed with the recipient's balance growing
// by Received.
type FakeClient struct {
	Network    types.Network
	Recipient  solana.PublicKey
	Mint       string
	PreBalance uint64
	Received   uint64
	// OmitPreBalance leaves the recipient out of the pre-balance list, as a
	// freshly created token account would be.
	OmitPreBalance bool

	SimulateErr error
	// SimulateBlock makes Simulate wait for ctx to end.
	SimulateBlock bool
	SendErr       error
	// SendLands keeps a transaction whose SendRaw returned SendErr, as when
	// the response is lost after the node accepted it.
	SendLands bool
	ConfirmErr  error
	// ConfirmBlock makes Confirm wait for ctx to end.
	ConfirmBlock bool
	ConfirmDelay time.Duration
	GetErr       error
	// NotFoundTimes makes the first N fetches report clients.ErrNotFound.
	NotFoundTimes int32

	Record func(sig solana.Signature) (*types.ConfirmedTransaction, error)

	simulateCalls atomic.Int32
	sendCalls     atomic.Int32
	confirmCalls  atomic.Int32
	getCalls      atomic.Int32

	mu   sync.Mutex
	sent map[solana.Signature]*solana.Transaction
}

var _ clients.Client = (*FakeClient)(nil)

func (f *FakeClient) Simulate(ctx context.Context, tx *solana.Transaction) error {
	f.simulateCalls.Add(1)
	if f.SimulateBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.SimulateErr
}

func (f *FakeClient) SendRaw(ctx context.Context, raw []byte) (solana.Signature, error) {
	f.sendCalls.Add(1)
	if f.SendErr != nil && !f.SendLands {
		return solana.Signature{}, f.SendErr
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode raw transaction: %w", err)
	}
	sig := tx.Signatures[0]

	f.mu.Lock()
	if f.sent == nil {
		f.sent = make(map[solana.Signature]*solana.Transaction)
	}
	f.sent[sig] = tx
	f.mu.Unlock()

	if f.SendErr != nil {
		return solana.Signature{}, f.SendErr
	}
	return sig, nil
}

func (f *FakeClient) Confirm(ctx context.Context, sig solana.Signature) error {
	f.confirmCalls.Add(1)
	if f.ConfirmBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.ConfirmDelay > 0 {
		select {
		case <-time.After(f.ConfirmDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.ConfirmErr
}

func (f *FakeClient) GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (*types.ConfirmedTransaction, error) {
	n := f.getCalls.Add(1)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if n <= f.NotFoundTimes {
		return nil, clients.ErrNotFound
	}
	if f.Record != nil {
		return f.Record(sig)
	}

	f.mu.Lock()
	tx, ok := f.sent[sig]
	f.mu.Unlock()
	if !ok {
		return nil, clients.ErrNotFound
	}

	keys := make([]string, 0, len(tx.Message.AccountKeys))
	recipientIndex := -1
	for i, key := range tx.Message.AccountKeys {
		keys = append(keys, key.String())
		if key.Equals(f.Recipient) {
			recipientIndex = i
		}
	}

	confirmed := &types.ConfirmedTransaction{
		Signature:   sig.String(),
		Slot:        1,
		AccountKeys: keys,
	}
	if recipientIndex >= 0 {
		if !f.OmitPreBalance {
			confirmed.PreTokenBalances = []types.TokenBalance{
				{AccountIndex: uint16(recipientIndex), Mint: f.Mint, Amount: f.PreBalance},
			}
		}
		confirmed.PostTokenBalances = []types.TokenBalance{
			{AccountIndex: uint16(recipientIndex), Mint: f.Mint, Amount: f.PreBalance + f.Received},
		}
	}
	return confirmed, nil
}

func (f *FakeClient) GetNetwork() types.Network {
	if f.Network == "" {
		return types.NetworkSolanaDevnet
	}
	return f.Network
}

func (f *FakeClient) Close() {}

// NetworkCalls counts every network round trip made so far.
func (f *FakeClient) NetworkCalls() int {
	return int(f.simulateCalls.Load() + f.sendCalls.Load() + f.confirmCalls.Load() + f.getCalls.Load())
}

func (f *FakeClient) SendCalls() int {
	return int(f.sendCalls.Load())
}

func (f *FakeClient) SimulateCalls() int {
	return int(f.simulateCalls.Load())
}

func (f *FakeClient) GetCalls() int {
	return int(f.getCalls.Load())
}
