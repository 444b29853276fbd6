package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402pay/clients"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/verification"
)

const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
	// DefaultRPCTimeout bounds a single simulate, send or lookup call. It is
	// lowered to the confirm timeout when that is shorter.
	DefaultRPCTimeout = 15 * time.Second
)

// Submission is the outcome of pushing a claim to the network. Signature and
// Broadcast are set as soon as the cluster accepted the bytes, even when a
// later step fails.
type Submission struct {
	Signature solana.Signature
	Broadcast bool
	Confirmed *types.ConfirmedTransaction
	Elapsed   time.Duration
}

// SettlementService simulates, broadcasts and confirms payment transactions
type SettlementService struct {
	client         clients.Client
	confirmTimeout time.Duration
	pollInterval   time.Duration
	rpcTimeout     time.Duration
	logger         logger.Logger
	metrics        metrics.Recorder
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	client clients.Client,
	confirmTimeout time.Duration,
	pollInterval time.Duration,
	log logger.Logger,
	rec metrics.Recorder,
) *SettlementService {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	return &SettlementService{
		client:         client,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		rpcTimeout:     min(DefaultRPCTimeout, confirmTimeout),
		logger:         log,
		metrics:        rec,
	}
}

// Submit simulates the claim's transaction, broadcasts its exact bytes and
// waits for a confirmed record. Simulate and send are each bounded by the RPC
// timeout. Once the broadcast succeeds the remaining steps ignore
// cancellation of ctx and are bounded by the confirm timeout instead.
func (s *SettlementService) Submit(ctx context.Context, claim *verification.PaymentClaim) (*Submission, error) {
	start := time.Now()
	labels := map[string]string{"network": s.client.GetNetwork().String()}
	defer func() {
		s.metrics.ObserveLatency(metrics.SubmitLatency, time.Since(start), labels)
	}()

	sub := &Submission{}

	if err := s.simulate(ctx, claim); err != nil {
		msg := "transaction simulation failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "transaction simulation timed out"
		}
		xe := types.WrapError(types.ErrSimulationFailure, err, msg)
		var simErr *clients.SimulationError
		if errors.As(err, &simErr) {
			xe.Data = simErr.Logs
		}
		return sub, xe
	}

	sig, err := s.send(ctx, claim)
	if err != nil {
		return sub, types.WrapError(types.ErrNetworkSubmissionFailure, err, "failed to broadcast transaction")
	}
	sub.Signature = sig
	sub.Broadcast = true

	s.logger.Info("payment transaction broadcast", map[string]any{
		"signature": sig.String(),
		"network":   labels["network"],
	})

	confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()

	if err := s.client.Confirm(confirmCtx, sig); err != nil {
		return sub, s.confirmError(sig, err)
	}

	confirmed, err := s.fetchConfirmed(confirmCtx, sig)
	if err != nil {
		return sub, err
	}
	if confirmed.Err != "" {
		return sub, types.NewError(types.ErrOnChainFailure, "transaction %s failed on-chain: %s", sig, confirmed.Err)
	}

	sub.Confirmed = confirmed
	sub.Elapsed = time.Since(start)
	return sub, nil
}

func (s *SettlementService) simulate(ctx context.Context, claim *verification.PaymentClaim) error {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.client.Simulate(ctx, claim.Transaction)
}

func (s *SettlementService) send(ctx context.Context, claim *verification.PaymentClaim) (solana.Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.client.SendRaw(ctx, claim.SerializedTransaction)
}

func (s *SettlementService) confirmError(sig solana.Signature, err error) error {
	var txErr *clients.TransactionError
	switch {
	case errors.As(err, &txErr):
		return types.WrapError(types.ErrOnChainFailure, err, "transaction failed on-chain")
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrConfirmationTimeout,
			"transaction %s not confirmed within %s", sig, s.confirmTimeout)
	default:
		return types.WrapError(types.ErrConfirmationTimeout, err, "transaction confirmation failed")
	}
}

// fetchConfirmed polls for the confirmed record until ctx expires. Nodes can
// report a signature as confirmed before getTransaction serves it.
func (s *SettlementService) fetchConfirmed(ctx context.Context, sig solana.Signature) (*types.ConfirmedTransaction, error) {
	var lastErr error
	for {
		confirmed, err := s.client.GetConfirmedTransaction(ctx, sig)
		if err == nil {
			return confirmed, nil
		}
		if !errors.Is(err, clients.ErrNotFound) {
			lastErr = err
			s.logger.Warn("fetching confirmed transaction failed", map[string]any{
				"signature": sig.String(),
				"error":     err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, types.WrapError(types.ErrConfirmationTimeout, lastErr, "confirmed transaction unavailable")
			}
			return nil, types.NewError(types.ErrConfirmationTimeout,
				"confirmed transaction %s not available within %s", sig, s.confirmTimeout)
		case <-time.After(s.pollInterval):
		}
	}
}

// Lookup makes a single attempt, bounded by the RPC timeout, to read the
// confirmed record of sig. A signature the node does not know yields
// clients.ErrNotFound.
func (s *SettlementService) Lookup(ctx context.Context, sig solana.Signature) (*types.ConfirmedTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()
	return s.client.GetConfirmedTransaction(ctx, sig)
}

// Close closes the underlying network client
func (s *SettlementService) Close() {
	s.client.Close()
}
