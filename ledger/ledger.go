// Package ledger moves payment quotes to their terminal state and grants the
// purchased credit exactly once.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/types"
)

// Completion is the result of a successful quote completion.
type Completion struct {
	Quote        *types.PaymentQuote
	CreditsAdded int64
}

// Updater applies status transitions and credit grants against a Store.
type Updater struct {
	store  Store
	now    func() time.Time
	logger logger.Logger
}

func NewUpdater(store Store, now func() time.Time, log logger.Logger) *Updater {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Updater{store: store, now: now, logger: log}
}

// Load fetches a quote that is still open for settlement.
func (u *Updater) Load(ctx context.Context, id, userID string) (*types.PaymentQuote, error) {
	q, err := u.store.GetQuote(ctx, id, userID)
	if err != nil {
		if errors.Is(err, ErrQuoteNotFound) {
			return nil, types.NewError(types.ErrTransactionNotFound, "transaction %s not found", id)
		}
		return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to load quote")
	}
	if err := statusError(q); err != nil {
		return q, err
	}
	return q, nil
}

func statusError(q *types.PaymentQuote) error {
	switch q.Status {
	case types.QuoteStatusPending:
		return nil
	case types.QuoteStatusCompleted:
		return &types.X402Error{
			Code:    types.ErrAlreadyCompleted,
			Message: "transaction already completed",
			Data:    q.Signature,
		}
	default:
		return types.NewError(types.ErrQuoteNotPending, "transaction %s is %s", q.ID, q.Status)
	}
}

// GrantFor returns the account change a quote buys when completed at now.
func GrantFor(q *types.PaymentQuote, now time.Time) Grant {
	g := Grant{
		UserID:  q.UserID,
		Plan:    q.PlanKey,
		Credits: q.Credits,
	}
	if q.Unlimited {
		expires := now.Add(types.UnlimitedPlanPeriod)
		g.Unlimited = true
		g.Credits = types.UnlimitedCredits
		g.ExpiresAt = &expires
	}
	return g
}

// Complete moves a pending quote to completed with the settling signature
// and grants its credit. A quote completed concurrently by someone else
// yields AlreadyCompleted and grants nothing.
func (u *Updater) Complete(ctx context.Context, id, userID, signature string) (*Completion, error) {
	q, err := u.Load(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	upd := QuoteUpdate{Signature: signature, CompletedAt: &now}
	grant := GrantFor(q, now)

	var changed bool
	if c, ok := u.store.(Committer); ok {
		changed, err = c.CompleteAndGrant(ctx, q.ID, upd, grant)
		if err != nil {
			return nil, u.completeError(err)
		}
	} else {
		changed, err = u.store.UpdateQuoteStatus(ctx, q.ID, userID, types.QuoteStatusPending, types.QuoteStatusCompleted, upd)
		if err != nil {
			return nil, u.completeError(err)
		}
		if changed {
			if err := u.apply(ctx, grant); err != nil {
				u.logger.Error("quote completed but credit grant failed", map[string]any{
					"quote_id":  q.ID,
					"user_id":   userID,
					"signature": signature,
					"error":     err,
				})
				return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to grant credits")
			}
		}
	}

	if !changed {
		current, err := u.store.GetQuote(ctx, q.ID, userID)
		if err != nil {
			return nil, types.WrapError(types.ErrLedgerFailure, err, "failed to reload quote")
		}
		if err := statusError(current); err != nil {
			return nil, err
		}
		return nil, types.NewError(types.ErrLedgerFailure, "quote %s was not updated", q.ID)
	}

	q.Status = types.QuoteStatusCompleted
	q.Signature = signature
	q.CompletedAt = &now

	return &Completion{Quote: q, CreditsAdded: grant.Credits}, nil
}

func (u *Updater) completeError(err error) error {
	if errors.Is(err, ErrSignatureReused) {
		return types.WrapError(types.ErrAlreadyCompleted, err, "signature already settled another transaction")
	}
	return types.WrapError(types.ErrLedgerFailure, err, "failed to complete quote")
}

func (u *Updater) apply(ctx context.Context, g Grant) error {
	if g.Unlimited {
		return u.store.SetUnlimitedPlan(ctx, g.UserID, g.Plan, g.Credits, *g.ExpiresAt)
	}
	return u.store.IncreaseCredits(ctx, g.UserID, g.Credits, g.Plan)
}

// Fail moves a pending quote to failed, recording the reason and the
// signature if one is known. It reports whether the quote changed.
func (u *Updater) Fail(ctx context.Context, id, userID, signature, reason string) (bool, error) {
	now := u.now().UTC()
	changed, err := u.store.UpdateQuoteStatus(ctx, id, userID, types.QuoteStatusPending, types.QuoteStatusFailed, QuoteUpdate{
		Signature:     signature,
		FailureReason: reason,
		FailedAt:      &now,
	})
	if err != nil {
		return false, types.WrapError(types.ErrLedgerFailure, err, "failed to mark quote failed")
	}
	return changed, nil
}

// MarkAlerted records that a failed quote was reported as paid so later
// sweeps skip it.
func (u *Updater) MarkAlerted(ctx context.Context, q *types.PaymentQuote) (bool, error) {
	changed, err := u.store.MarkAlerted(ctx, q.ID, q.UserID, u.now().UTC())
	if err != nil {
		return false, types.WrapError(types.ErrLedgerFailure, err, "failed to mark quote alerted")
	}
	return changed, nil
}
