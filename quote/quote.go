// Package quote issues payment quotes: a plan price converted into an exact
// token amount payable to the service's token account.
package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitwit/x402pay/ledger"
	"github.com/vitwit/x402pay/types"
	"github.com/vitwit/x402pay/utils"
)

type Service struct {
	store           ledger.QuoteStore
	prices          PriceTable
	network         types.Network
	recipientWallet solana.PublicKey
	mint            solana.PublicKey
	tokenAccount    solana.PublicKey
	minPrice        decimal.Decimal
	maxPrice        decimal.Decimal
	now             func() time.Time
}

// NewService derives the recipient token account once from the configured
// wallet and mint.
func NewService(cfg *types.Config, store ledger.QuoteStore, prices PriceTable, now func() time.Time) (*Service, error) {
	wallet, err := solana.PublicKeyFromBase58(cfg.RecipientWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient wallet: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(cfg.Mint())
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %w", err)
	}
	if prices == nil {
		prices = DefaultPriceTable()
	}
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:           store,
		prices:          prices,
		network:         cfg.Network,
		recipientWallet: wallet,
		mint:            mint,
		tokenAccount:    tokenAccount,
		minPrice:        cfg.MinPrice,
		maxPrice:        cfg.MaxPrice,
		now:             now,
	}, nil
}

// Create prices planKey for userID and persists a pending quote.
func (s *Service) Create(ctx context.Context, userID, planKey string) (*types.PaymentQuote, error) {
	plan, ok := s.prices.Lookup(planKey)
	if !ok || plan.Free {
		return nil, types.NewError(types.ErrInvalidPlan, "invalid plan %q", planKey)
	}

	if !plan.Price.IsPositive() || plan.Price.LessThan(s.minPrice) || plan.Price.GreaterThan(s.maxPrice) {
		return nil, types.NewError(types.ErrAmountOutOfBounds,
			"price %s is outside [%s, %s]", plan.Price, s.minPrice, s.maxPrice)
	}

	amount, err := utils.FiatToTokenUnits(plan.Price, types.TokenDecimals)
	if err != nil || amount == 0 {
		return nil, types.NewError(types.ErrAmountOutOfBounds, "price %s has no token amount", plan.Price)
	}

	q := &types.PaymentQuote{
		ID:                    uuid.NewString(),
		UserID:                userID,
		PlanKey:               plan.Key,
		PriceFiat:             plan.Price,
		PriceToken:            amount,
		Credits:               plan.Credits,
		Unlimited:             plan.Unlimited,
		RecipientTokenAccount: s.tokenAccount.String(),
		TokenMint:             s.mint.String(),
		Network:               s.network,
		Status:                types.QuoteStatusPending,
		CreatedAt:             s.now().UTC(),
	}

	if err := s.store.InsertQuote(ctx, q); err != nil {
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to store quote")
	}
	return q, nil
}

// Requirements renders what the payer needs to build the transfer.
func (s *Service) Requirements(q *types.PaymentQuote) *types.PaymentRequirements {
	return &types.PaymentRequirements{
		TransactionID:   q.ID,
		RecipientWallet: s.recipientWallet.String(),
		TokenAccount:    q.RecipientTokenAccount,
		Mint:            q.TokenMint,
		Amount:          q.PriceToken,
		AmountDecimal:   utils.TokenUnitsToDecimal(q.PriceToken, types.TokenDecimals),
		Cluster:         q.Network.Cluster(),
		Network:         q.Network,
	}
}

func (s *Service) Plans() []types.Plan {
	return s.prices.Plans()
}
