package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/x402pay/types"
)

// MemoryStore is a process-local Store. Every operation runs under one lock,
// so CompleteAndGrant is atomic.
type MemoryStore struct {
	mu       sync.Mutex
	quotes   map[string]*types.PaymentQuote
	accounts map[string]*types.Account
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Committer = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:   make(map[string]*types.PaymentQuote),
		accounts: make(map[string]*types.Account),
	}
}

func (m *MemoryStore) InsertQuote(_ context.Context, q *types.PaymentQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.quotes[q.ID]; exists {
		return ErrDuplicateQuote
	}
	m.quotes[q.ID] = copyQuote(q)
	return nil
}

func (m *MemoryStore) GetQuote(_ context.Context, id, userID string) (*types.PaymentQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[id]
	if !ok || q.UserID != userID {
		return nil, ErrQuoteNotFound
	}
	return copyQuote(q), nil
}

func (m *MemoryStore) FindCompletedBySignature(_ context.Context, sig string) (*types.PaymentQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.completedBySignature(sig); q != nil {
		return copyQuote(q), nil
	}
	return nil, ErrQuoteNotFound
}

func (m *MemoryStore) completedBySignature(sig string) *types.PaymentQuote {
	if sig == "" {
		return nil
	}
	for _, q := range m.quotes {
		if q.Status == types.QuoteStatusCompleted && q.Signature == sig {
			return q
		}
	}
	return nil
}

func (m *MemoryStore) UpdateQuoteStatus(_ context.Context, id, userID string, from, to types.QuoteStatus, upd QuoteUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[id]
	if !ok || q.UserID != userID || q.Status != from {
		return false, nil
	}
	if to == types.QuoteStatusCompleted {
		if other := m.completedBySignature(upd.Signature); other != nil && other.ID != id {
			return false, ErrSignatureReused
		}
	}
	applyUpdate(q, to, upd)
	return true, nil
}

func (m *MemoryStore) CompleteAndGrant(_ context.Context, id string, upd QuoteUpdate, grant Grant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[id]
	if !ok || q.UserID != grant.UserID || q.Status != types.QuoteStatusPending {
		return false, nil
	}
	if other := m.completedBySignature(upd.Signature); other != nil && other.ID != id {
		return false, ErrSignatureReused
	}

	applyUpdate(q, types.QuoteStatusCompleted, upd)
	if grant.Unlimited {
		m.setUnlimited(grant.UserID, grant.Plan, grant.Credits, *grant.ExpiresAt)
	} else {
		m.increase(grant.UserID, grant.Credits, grant.Plan)
	}
	return true, nil
}

func applyUpdate(q *types.PaymentQuote, to types.QuoteStatus, upd QuoteUpdate) {
	q.Status = to
	if upd.Signature != "" {
		q.Signature = upd.Signature
	}
	if upd.FailureReason != "" {
		q.FailureReason = upd.FailureReason
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		q.CompletedAt = &t
	}
	if upd.FailedAt != nil {
		t := *upd.FailedAt
		q.FailedAt = &t
	}
}

func (m *MemoryStore) MarkAlerted(_ context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotes[id]
	if !ok || q.UserID != userID || q.Status != types.QuoteStatusFailed || q.AlertedAt != nil {
		return false, nil
	}
	q.AlertedAt = &at
	return true, nil
}

func (m *MemoryStore) ListQuotes(_ context.Context, filter QuoteFilter) ([]*types.PaymentQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.PaymentQuote, 0)
	for _, q := range m.quotes {
		if filter.UserID != "" && q.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.WithSignature && q.Signature == "" {
			continue
		}
		if filter.Unalerted && q.AlertedAt != nil {
			continue
		}
		if !filter.FailedAfter.IsZero() && (q.FailedAt == nil || !q.FailedAt.After(filter.FailedAfter)) {
			continue
		}
		if filter.Before != nil && !before(q, filter.Before) {
			continue
		}
		out = append(out, copyQuote(q))
	}

	sort.Slice(out, func(i, j int) bool {
		return before(out[j], CursorOf(out[i]))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, userID string) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

// PutAccount creates or replaces an account.
func (m *MemoryStore) PutAccount(acc types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.UserID] = &acc
}

func (m *MemoryStore) IncreaseCredits(_ context.Context, userID string, amount int64, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increase(userID, amount, plan)
	return nil
}

func (m *MemoryStore) SetUnlimitedPlan(_ context.Context, userID, plan string, credits int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setUnlimited(userID, plan, credits, expiresAt)
	return nil
}

func (m *MemoryStore) increase(userID string, amount int64, plan string) {
	acc := m.account(userID)
	acc.Credits += amount
	if plan != "" {
		acc.Plan = plan
	}
}

func (m *MemoryStore) setUnlimited(userID, plan string, credits int64, expiresAt time.Time) {
	acc := m.account(userID)
	acc.Credits = credits
	acc.Plan = plan
	acc.PlanExpiresAt = &expiresAt
}

func (m *MemoryStore) account(userID string) *types.Account {
	acc, ok := m.accounts[userID]
	if !ok {
		acc = &types.Account{UserID: userID, Plan: "free"}
		m.accounts[userID] = acc
	}
	return acc
}

// before reports whether q sorts after c in newest-first order.
func before(q *types.PaymentQuote, c *Cursor) bool {
	if q.CreatedAt.Equal(c.CreatedAt) {
		return q.ID < c.ID
	}
	return q.CreatedAt.Before(c.CreatedAt)
}

func copyQuote(q *types.PaymentQuote) *types.PaymentQuote {
	c := *q
	for _, t := range []**time.Time{&c.CompletedAt, &c.FailedAt, &c.AlertedAt} {
		if *t != nil {
			v := **t
			*t = &v
		}
	}
	return &c
}
