package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents the payment scheme carried by a claim
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// QuoteStatus is the lifecycle state of a PaymentQuote.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusCompleted QuoteStatus = "completed"
	QuoteStatusFailed    QuoteStatus = "failed"
)

func (s QuoteStatus) IsTerminal() bool {
	return s == QuoteStatusCompleted || s == QuoteStatusFailed
}

// TokenDecimals is the number of decimal places of the settlement token.
const TokenDecimals = 6

// UnlimitedCredits is the sentinel balance granted by unlimited plans.
const UnlimitedCredits int64 = 999999

// UnlimitedPlanPeriod is how long an unlimited plan stays active.
const UnlimitedPlanPeriod = 30 * 24 * time.Hour

// Plan is a purchasable entry of the price table.
type Plan struct {
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Credits   int64           `json:"credits"`
	Unlimited bool            `json:"unlimited,omitempty"`
	Period    string          `json:"period,omitempty"`
	// Free plans are listed but cannot be purchased.
	Free bool `json:"free,omitempty"`
}

// PaymentQuote is a server-issued, single-use offer to convert a fixed token
// amount into a credit grant for one user.
type PaymentQuote struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"userId"`
	PlanKey               string          `json:"plan"`
	PriceFiat             decimal.Decimal `json:"priceFiat"`
	PriceToken            uint64          `json:"priceToken"`
	Credits               int64           `json:"credits"`
	Unlimited             bool            `json:"unlimited,omitempty"`
	RecipientTokenAccount string          `json:"recipientTokenAccount"`
	TokenMint             string          `json:"tokenMint"`
	Network               Network         `json:"network"`
	Status                QuoteStatus     `json:"status"`
	Signature             string          `json:"signature,omitempty"`
	FailureReason         string          `json:"failureReason,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	FailedAt              *time.Time      `json:"failedAt,omitempty"`
	// AlertedAt is set once a reconciliation sweep has reported the quote as
	// paid despite having failed.
	AlertedAt *time.Time `json:"alertedAt,omitempty"`
}

// PaymentRequirements is returned to the payer alongside a 402 so it can
// build and sign the transfer.
type PaymentRequirements struct {
	TransactionID   string          `json:"transactionId"`
	RecipientWallet string          `json:"recipientWallet"`
	TokenAccount    string          `json:"tokenAccount"`
	Mint            string          `json:"mint"`
	Amount          uint64          `json:"amount"`
	AmountDecimal   decimal.Decimal `json:"amountDecimal"`
	Cluster         string          `json:"cluster"`
	Network         Network         `json:"network"`
}

// QuoteRequest asks for a new quote.
type QuoteRequest struct {
	UserID  string `json:"userId" validate:"required,max=128"`
	PlanKey string `json:"plan" validate:"required,max=32"`
}

// SettleRequest identifies the quote a payment header settles.
type SettleRequest struct {
	TransactionID string `json:"transactionId" validate:"required,uuid4"`
	UserID        string `json:"userId" validate:"required,max=128"`
}

// SettlementResult contains the result of payment settlement
type SettlementResult struct {
	Success          bool            `json:"success"`
	AlreadyCompleted bool            `json:"alreadyCompleted,omitempty"`
	Signature        string          `json:"signature,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	CreditsAdded     int64           `json:"creditsAdded"`
	ExplorerURL      string          `json:"explorerUrl,omitempty"`
}

// ParsedTransferInstruction is a decoded SPL token Transfer instruction.
type ParsedTransferInstruction struct {
	Index       int    `json:"index"`
	Opcode      uint8  `json:"opcode"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Authority   string `json:"authority"`
	Amount      uint64 `json:"amount"`
}

// TokenBalance is a token account balance snapshot from a confirmed
// transaction record.
type TokenBalance struct {
	AccountIndex uint16 `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
	Amount       uint64 `json:"amount"`
}

// ConfirmedTransaction is the subset of a confirmed on-chain transaction the
// engine reconciles against.
type ConfirmedTransaction struct {
	Signature         string         `json:"signature"`
	Slot              uint64         `json:"slot"`
	Err               string         `json:"err,omitempty"`
	AccountKeys       []string       `json:"accountKeys"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// Account is the externally owned credit record of a user.
type Account struct {
	UserID        string     `json:"userId"`
	Credits       int64      `json:"credits"`
	Plan          string     `json:"plan"`
	PlanExpiresAt *time.Time `json:"planExpiresAt,omitempty"`
}

// ReconciliationAlert reports a quote that was paid on-chain but never
// credited.
type ReconciliationAlert struct {
	QuoteID   string    `json:"quoteId"`
	UserID    string    `json:"userId"`
	Signature string    `json:"signature"`
	Received  uint64    `json:"received"`
	Required  uint64    `json:"required"`
	Reason    string    `json:"reason"`
	FoundAt   time.Time `json:"foundAt"`
}

// Config contains the engine configuration
type Config struct {
	Network         Network         `json:"network" validate:"required,oneof=solana-mainnet solana-devnet"`
	RPCURL          string          `json:"rpcUrl" validate:"omitempty,url"`
	RecipientWallet string          `json:"recipientWallet" validate:"required,min=32,max=44,base58"`
	TokenMint       string          `json:"tokenMint" validate:"omitempty,min=32,max=44,base58"`
	MinPrice        decimal.Decimal `json:"minPrice"`
	MaxPrice        decimal.Decimal `json:"maxPrice"`
	ConfirmTimeout  time.Duration   `json:"confirmTimeout" validate:"gte=0"`
	PollInterval    time.Duration   `json:"pollInterval" validate:"gte=0"`
	LogLevel        string          `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics   bool            `json:"enableMetrics,omitempty"`
}

// Mint returns the configured token mint, falling back to the network's
// default USDC mint.
func (c *Config) Mint() string {
	if c.TokenMint != "" {
		return c.TokenMint
	}
	return c.Network.DefaultMint()
}
