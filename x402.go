// Package x402pay sells credit plans for USDC on Solana using the x402
// "exact" payment scheme: it issues quotes, settles signed payment headers
// against them and grants the purchased credit exactly once.
package x402pay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/vitwit/x402pay/clients"
	"github.com/vitwit/x402pay/ledger"
	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/quote"
	"github.com/vitwit/x402pay/settlement"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/utils"
	"github.com/vitwit/x402pay/verification"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListLimit  = 10
	DefaultSweepLimit = 100
	// DefaultSweepLookback is how far back ReconcileFailed looks for failed
	// quotes. A transaction that has not landed long after its blockhash
	// expired never will.
	DefaultSweepLookback = 24 * time.Hour
	sweepConcurrency     = 4
)

// X402 is the payment engine
type X402 struct {
	config    *types.Config
	client    clients.Client
	store     ledger.Store
	quotes    *quote.Service
	guard     *settlement.InFlightGuard
	settler   *settlement.SettlementService
	ledger    *ledger.Updater
	prices    quote.PriceTable
	logger    logger.Logger
	metrics   metrics.Recorder
	timeout   time.Duration
	now       func() time.Time
	closeOnce sync.Once
}

// New validates config and wires the engine around a network client and a
// ledger store.
func New(config *types.Config, client clients.Client, store ledger.Store, opts ...Option) (*X402, error) {
	if config == nil {
		return nil, types.NewError(types.ErrConfigError, "config is required")
	}
	if client == nil || store == nil {
		return nil, types.NewError(types.ErrConfigError, "client and store are required")
	}
	if err := utils.ValidateConfig(config); err != nil {
		return nil, err
	}
	if client.GetNetwork() != config.Network {
		return nil, types.NewError(types.ErrConfigError,
			"client network %s does not match configured network %s", client.GetNetwork(), config.Network)
	}

	x := &X402{
		config:  config,
		client:  client,
		store:   store,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: config.ConfirmTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.guard == nil {
		x.guard = settlement.NewInFlightGuard()
	}
	if x.prices == nil {
		x.prices = quote.DefaultPriceTable()
	}

	quotes, err := quote.NewService(config, store, x.prices, x.now)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, err, "failed to create quote service")
	}
	x.quotes = quotes
	x.settler = settlement.NewSettlementService(client, x.timeout, config.PollInterval, x.logger, x.metrics)
	x.ledger = ledger.NewUpdater(store, x.now, x.logger)

	return x, nil
}

// Quote prices a plan for a user and returns the stored quote with the
// payment requirements the payer must satisfy.
func (x *X402) Quote(ctx context.Context, req *types.QuoteRequest) (*types.PaymentQuote, *types.PaymentRequirements, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, nil, err
	}

	q, err := x.quotes.Create(ctx, req.UserID, req.PlanKey)
	if err != nil {
		x.count(metrics.QuoteRejected, err)
		return nil, nil, err
	}

	x.logger.Info("payment quote created", map[string]any{
		"quote_id":    q.ID,
		"user_id":     q.UserID,
		"plan":        q.PlanKey,
		"price_token": q.PriceToken,
	})
	x.metrics.IncCounter(metrics.QuoteCreated, x.labels(""))

	return q, x.quotes.Requirements(q), nil
}

// Requirements re-renders the payment requirements of a stored quote.
func (x *X402) Requirements(q *types.PaymentQuote) *types.PaymentRequirements {
	return x.quotes.Requirements(q)
}

// Settle decodes a payment header, checks it pays the quote named by req,
// submits it and credits the user. A quote that is already completed yields
// an AlreadyCompleted error and grants nothing.
func (x *X402) Settle(ctx context.Context, header string, req *types.SettleRequest) (*types.SettlementResult, error) {
	start := x.now()
	defer func() {
		x.metrics.ObserveLatency(metrics.SettleLatency, x.now().Sub(start), x.labels(""))
	}()

	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	claim, err := verification.DecodeClaim(header, x.config.Network)
	if err != nil {
		x.count(metrics.SettlementRejected, err)
		return nil, err
	}

	if err := x.guard.Admit(claim.Signature); err != nil {
		x.count(metrics.SettlementRejected, err)
		return nil, err
	}
	defer x.guard.Release(claim.Signature)

	result, err := x.settle(ctx, claim, req)
	if err != nil {
		x.count(metrics.SettlementFailed, err)
		return nil, err
	}

	x.metrics.IncCounter(metrics.SettlementCompleted, x.labels(""))
	return result, nil
}

func (x *X402) settle(ctx context.Context, claim *verification.PaymentClaim, req *types.SettleRequest) (*types.SettlementResult, error) {
	sig := claim.Signature.String()
	fields := map[string]any{
		"quote_id":  req.TransactionID,
		"user_id":   req.UserID,
		"signature": sig,
	}

	if prior, err := x.store.FindCompletedBySignature(ctx, sig); err == nil {
		return nil, &types.X402Error{
			Code:    types.ErrAlreadyCompleted,
			Message: fmt.Sprintf("signature already settled transaction %s", prior.ID),
			Data:    sig,
		}
	} else if !errors.Is(err, ledger.ErrQuoteNotFound) {
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to look up signature")
	}

	q, err := x.ledger.Load(ctx, req.TransactionID, req.UserID)
	if err != nil {
		return nil, err
	}

	recipient, err := solana.PublicKeyFromBase58(q.RecipientTokenAccount)
	if err != nil {
		return nil, x.fail(ctx, q, "", types.WrapError(types.ErrLedgerFailure, err, "stored recipient is not a valid address"))
	}

	transfer, err := verification.ValidateTransfer(claim.Transaction, recipient, q.PriceToken)
	if err != nil {
		return nil, x.fail(ctx, q, "", err)
	}
	fields["instruction"] = transfer.Index
	fields["amount"] = transfer.Amount
	x.logger.Debug("payment transfer validated", fields)

	sub, err := x.settler.Submit(ctx, claim)
	if err != nil {
		// Anything past simulation may have reached the cluster, even a send
		// whose response was lost, so keep the signature for the sweep.
		recorded := sig
		if !sub.Broadcast && types.HasCode(err, types.ErrSimulationFailure) {
			recorded = ""
		}
		return nil, x.fail(ctx, q, recorded, err)
	}

	rec, err := verification.Reconcile(sub.Confirmed, q.RecipientTokenAccount, q.TokenMint, q.PriceToken)
	if err != nil {
		return nil, x.fail(ctx, q, sig, err)
	}

	// Past this point the payment is final on-chain.
	done, err := x.ledger.Complete(context.WithoutCancel(ctx), q.ID, q.UserID, sig)
	if err != nil {
		x.alert(q, sig, rec.Received, err)
		if types.HasCode(err, types.ErrAlreadyCompleted) || types.HasCode(err, types.ErrQuoteNotPending) {
			return nil, err
		}
		return nil, x.fail(ctx, q, sig, err)
	}

	fields["received"] = rec.Received
	fields["credits_added"] = done.CreditsAdded
	fields["elapsed"] = sub.Elapsed.String()
	x.logger.Info("payment settled", fields)

	return &types.SettlementResult{
		Success:      true,
		Signature:    sig,
		Amount:       utils.TokenUnitsToDecimal(rec.Received, types.TokenDecimals),
		CreditsAdded: done.CreditsAdded,
		ExplorerURL:  q.Network.ExplorerURL(sig),
	}, nil
}

// fail marks q failed with cause's code and returns cause. A quote that is
// no longer pending is left untouched.
func (x *X402) fail(ctx context.Context, q *types.PaymentQuote, signature string, cause error) error {
	reason := types.ErrorCode(cause)
	if reason == "" {
		reason = cause.Error()
	}

	changed, err := x.ledger.Fail(context.WithoutCancel(ctx), q.ID, q.UserID, signature, reason)
	fields := map[string]any{
		"quote_id":  q.ID,
		"user_id":   q.UserID,
		"signature": signature,
		"reason":    reason,
		"error":     cause,
	}
	switch {
	case err != nil:
		fields["ledger_error"] = err
		x.logger.Error("failed to mark quote failed", fields)
	case changed:
		x.logger.Warn("payment settlement failed", fields)
	default:
		x.logger.Debug("settlement failed for a quote that is no longer pending", fields)
	}
	return cause
}

// alert reports a payment that reached the recipient but was not credited
// against q.
func (x *X402) alert(q *types.PaymentQuote, signature string, received uint64, cause error) {
	x.logger.Error("reconciliation alert: payment confirmed but not credited", map[string]any{
		"quote_id":  q.ID,
		"user_id":   q.UserID,
		"signature": signature,
		"received":  received,
		"required":  q.PriceToken,
		"error":     cause,
	})
	x.metrics.IncCounter(metrics.ReconciliationAlert, x.labels(types.ErrorCode(cause)))
}

// Pricing lists the plans on offer.
func (x *X402) Pricing() []types.Plan {
	return x.quotes.Plans()
}

// GetQuote returns a user's quote.
func (x *X402) GetQuote(ctx context.Context, id, userID string) (*types.PaymentQuote, error) {
	if uuid.Validate(id) != nil {
		return nil, types.NewError(types.ErrTransactionNotFound, "transaction %s not found", id)
	}
	q, err := x.store.GetQuote(ctx, id, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrQuoteNotFound) {
			return nil, types.NewError(types.ErrTransactionNotFound, "transaction %s not found", id)
		}
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to load quote")
	}
	return q, nil
}

// ListQuotes returns a user's most recent quotes, newest first.
func (x *X402) ListQuotes(ctx context.Context, userID string, limit int) ([]*types.PaymentQuote, error) {
	if userID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "userId is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	quotes, err := x.store.ListQuotes(ctx, ledger.QuoteFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to list quotes")
	}
	return quotes, nil
}

// Account returns a user's credit balance. Users that never paid have an
// empty free account.
func (x *X402) Account(ctx context.Context, userID string) (*types.Account, error) {
	acc, err := x.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return &types.Account{UserID: userID, Plan: "free"}, nil
		}
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to load account")
	}
	return acc, nil
}

// ReconcileFailed re-checks failed quotes that carry a signature and
// reports those whose payment did reach the recipient. It pages through every
// unreported quote that failed within DefaultSweepLookback, limit at a time.
// A reported quote is stamped and not reported again. Statuses are never
// changed; the alerts are for manual remediation.
func (x *X402) ReconcileFailed(ctx context.Context, limit int) ([]types.ReconciliationAlert, error) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	filter := ledger.QuoteFilter{
		Status:        types.QuoteStatusFailed,
		WithSignature: true,
		Unalerted:     true,
		FailedAfter:   x.now().Add(-DefaultSweepLookback),
		Limit:         limit,
	}

	alerts := make([]types.ReconciliationAlert, 0)
	for {
		quotes, err := x.store.ListQuotes(ctx, filter)
		if err != nil {
			return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to list failed quotes")
		}

		found := make([]*types.ReconciliationAlert, len(quotes))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepConcurrency)
		for i, q := range quotes {
			g.Go(func() error {
				found[i] = x.recheck(gctx, q)
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, a := range found {
			if a != nil {
				alerts = append(alerts, *a)
			}
		}
		if len(quotes) < limit {
			return alerts, nil
		}
		filter.Before = ledger.CursorOf(quotes[len(quotes)-1])
	}
}

func (x *X402) recheck(ctx context.Context, q *types.PaymentQuote) *types.ReconciliationAlert {
	fields := map[string]any{"quote_id": q.ID, "signature": q.Signature}

	if err := utils.ValidateTransactionSignature(q.Signature); err != nil {
		fields["error"] = err
		x.logger.Warn("failed quote has an invalid signature", fields)
		return nil
	}
	sig, err := solana.SignatureFromBase58(q.Signature)
	if err != nil {
		fields["error"] = err
		x.logger.Warn("failed quote has an invalid signature", fields)
		return nil
	}

	confirmed, err := x.settler.Lookup(ctx, sig)
	if err != nil {
		if !errors.Is(err, clients.ErrNotFound) {
			fields["error"] = err
			x.logger.Warn("failed quote lookup failed", fields)
		}
		return nil
	}
	if confirmed.Err != "" {
		return nil
	}

	rec, err := verification.Reconcile(confirmed, q.RecipientTokenAccount, q.TokenMint, q.PriceToken)
	if err != nil {
		return nil
	}

	marked, err := x.ledger.MarkAlerted(ctx, q)
	if err != nil {
		fields["error"] = err
		x.logger.Warn("failed to stamp reported quote", fields)
	} else if !marked {
		return nil
	}

	a := &types.ReconciliationAlert{
		QuoteID:   q.ID,
		UserID:    q.UserID,
		Signature: q.Signature,
		Received:  rec.Received,
		Required:  rec.Required,
		Reason:    q.FailureReason,
		FoundAt:   x.now().UTC(),
	}
	x.alert(q, q.Signature, rec.Received, types.NewError(types.ErrReconciliationMismatch, "failed quote was paid: %s", q.FailureReason))
	return a
}

func (x *X402) labels(code string) map[string]string {
	return map[string]string{
		"network": x.config.Network.String(),
		"code":    code,
	}
}

func (x *X402) count(name string, err error) {
	x.metrics.IncCounter(name, x.labels(types.ErrorCode(err)))
}

// Network returns the network the engine settles on.
func (x *X402) Network() types.Network {
	return x.config.Network
}

// InFlight returns the number of settlements currently holding a signature.
func (x *X402) InFlight() int {
	return x.guard.Len()
}

// Close closes the network client
func (x *X402) Close() {
	x.closeOnce.Do(x.settler.Close)
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = int(types.X402Version1)
)

// GetVersion returns version information
func GetVersion() map[string]any {
	return map[string]any{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_networks": []string{
			types.NetworkSolanaMainnet.String(),
			types.NetworkSolanaDevnet.String(),
		},
		"supported_schemes":   []string{string(types.SchemeExact)},
		"supported_standards": []string{"spl"},
	}
}
