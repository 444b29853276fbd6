package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/vitwit/x402pay/types"
)

var (
	ErrQuoteNotFound   = errors.New("quote not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateQuote  = errors.New("quote already exists")
	// ErrSignatureReused means another quote was already completed with the
	// same transaction signature.
	ErrSignatureReused = errors.New("signature already settled another quote")
)

// QuoteUpdate carries the columns written together with a status transition.
type QuoteUpdate struct {
	Signature     string
	FailureReason string
	CompletedAt   *time.Time
	FailedAt      *time.Time
}

// Cursor positions a listing after the quote it was taken from.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor of q.
func CursorOf(q *types.PaymentQuote) *Cursor {
	return &Cursor{CreatedAt: q.CreatedAt, ID: q.ID}
}

// QuoteFilter selects quotes for listing. Zero values match everything.
// Results are ordered newest first; Before restricts them to quotes older
// than the cursor in that order.
type QuoteFilter struct {
	UserID        string
	Status        types.QuoteStatus
	WithSignature bool
	Unalerted     bool
	FailedAfter   time.Time
	Before        *Cursor
	Limit         int
}

// Grant is the account change a completed quote buys.
type Grant struct {
	UserID    string
	Plan      string
	Credits   int64
	Unlimited bool
	ExpiresAt *time.Time
}

type QuoteStore interface {
	InsertQuote(ctx context.Context, q *types.PaymentQuote) error
	// GetQuote returns ErrQuoteNotFound unless a quote with id belongs to
	// userID.
	GetQuote(ctx context.Context, id, userID string) (*types.PaymentQuote, error)
	// FindCompletedBySignature returns the completed quote holding sig, or
	// ErrQuoteNotFound.
	FindCompletedBySignature(ctx context.Context, sig string) (*types.PaymentQuote, error)
	// UpdateQuoteStatus moves the quote from one status to another only if it
	// is currently in from. It reports whether a row changed.
	UpdateQuoteStatus(ctx context.Context, id, userID string, from, to types.QuoteStatus, upd QuoteUpdate) (bool, error)
	ListQuotes(ctx context.Context, filter QuoteFilter) ([]*types.PaymentQuote, error)
	// MarkAlerted stamps a failed quote as reported by a reconciliation sweep.
	// It reports false if the quote is not failed or was already stamped.
	MarkAlerted(ctx context.Context, id, userID string, at time.Time) (bool, error)
}

type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*types.Account, error)
	// IncreaseCredits adds amount to the balance in a single atomic step and
	// sets the plan, creating the account if needed.
	IncreaseCredits(ctx context.Context, userID string, amount int64, plan string) error
	SetUnlimitedPlan(ctx context.Context, userID, plan string, credits int64, expiresAt time.Time) error
}

type Store interface {
	QuoteStore
	AccountStore
}

// Committer is implemented by stores that can complete a pending quote and
// apply its grant in one transaction.
type Committer interface {
	CompleteAndGrant(ctx context.Context, id string, upd QuoteUpdate, grant Grant) (bool, error)
}
