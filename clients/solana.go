package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	x402types "github.com/vitwit/x402pay/types"
)

const defaultPollInterval = 2 * time.Second

// SolanaClient talks to a Solana cluster over JSON-RPC
type SolanaClient struct {
	network      x402types.Network
	rpcURL       string
	client       *rpc.Client
	commitment   rpc.CommitmentType
	pollInterval time.Duration
}

var _ Client = (*SolanaClient)(nil)

// NewSolanaClient creates a Solana client for the given cluster RPC endpoint
func NewSolanaClient(network x402types.Network, rpcURL string, pollInterval time.Duration) (*SolanaClient, error) {
	if !network.IsSolana() {
		return nil, fmt.Errorf("network %s is not a Solana network", network)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &SolanaClient{
		network:      network,
		rpcURL:       rpcURL,
		client:       rpc.New(rpcURL),
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: pollInterval,
	}, nil
}

// Simulate runs the transaction through simulateTransaction without
// broadcasting it.
func (s *SolanaClient) Simulate(ctx context.Context, tx *solana.Transaction) error {
	out, err := s.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return &SimulationError{Err: err.Error()}
	}
	if out == nil || out.Value == nil {
		return &SimulationError{Err: "empty simulation response"}
	}
	if out.Value.Err != nil {
		return &SimulationError{
			Err:  describeErr(out.Value.Err),
			Logs: out.Value.Logs,
		}
	}
	return nil
}

// SendRaw broadcasts the signed transaction bytes as received from the payer.
func (s *SolanaClient) SendRaw(ctx context.Context, raw []byte) (solana.Signature, error) {
	return s.client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: s.commitment,
	})
}

// Confirm polls signature status until it reaches the client commitment.
func (s *SolanaClient) Confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			st := status.Value[0]
			if st.Err != nil {
				return &TransactionError{Signature: sig.String(), Err: describeErr(st.Err)}
			}
			if s.reached(st.ConfirmationStatus) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SolanaClient) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return s.commitment != rpc.CommitmentFinalized
	default:
		return false
	}
}

// GetConfirmedTransaction fetches the confirmed transaction with its token
// balance metadata.
func (s *SolanaClient) GetConfirmedTransaction(ctx context.Context, sig solana.Signature) (*x402types.ConfirmedTransaction, error) {
	maxVersion := uint64(0)
	out, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return nil, ErrNotFound
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode confirmed transaction %s: %w", sig, err)
	}

	return toConfirmedTransaction(sig, out.Slot, tx, out.Meta)
}

// toConfirmedTransaction flattens an RPC record. Balance indexes refer to the
// static account keys of the message.
func toConfirmedTransaction(sig solana.Signature, slot uint64, tx *solana.Transaction, meta *rpc.TransactionMeta) (*x402types.ConfirmedTransaction, error) {
	confirmed := &x402types.ConfirmedTransaction{
		Signature:   sig.String(),
		Slot:        slot,
		AccountKeys: make([]string, 0, len(tx.Message.AccountKeys)),
	}
	for _, key := range tx.Message.AccountKeys {
		confirmed.AccountKeys = append(confirmed.AccountKeys, key.String())
	}
	if meta.Err != nil {
		confirmed.Err = describeErr(meta.Err)
	}

	var err error
	if confirmed.PreTokenBalances, err = toTokenBalances(meta.PreTokenBalances); err != nil {
		return nil, fmt.Errorf("pre token balances: %w", err)
	}
	if confirmed.PostTokenBalances, err = toTokenBalances(meta.PostTokenBalances); err != nil {
		return nil, fmt.Errorf("post token balances: %w", err)
	}

	return confirmed, nil
}

func toTokenBalances(in []rpc.TokenBalance) ([]x402types.TokenBalance, error) {
	out := make([]x402types.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := x402types.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil && b.UiTokenAmount.Amount != "" {
			amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("account index %d: invalid amount %q: %w", b.AccountIndex, b.UiTokenAmount.Amount, err)
			}
			tb.Amount = amount
		}
		out = append(out, tb)
	}
	return out, nil
}

func describeErr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func (s *SolanaClient) GetNetwork() x402types.Network { return s.network }

func (s *SolanaClient) Close() {
	s.client.Close()
}
