package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402pay/types"
)

// newPostgresStore connects to DB_SOURCE and skips the test when unset.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("DB_SOURCE")
	if dsn == "" {
		t.Skip("DB_SOURCE not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresCompleteAndGrant(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()

	q := newQuote(user, "lite", 20, false)
	q.CreatedAt = time.Now().UTC()
	require.NoError(t, s.InsertQuote(ctx, q))
	assert.ErrorIs(t, s.InsertQuote(ctx, q), ErrDuplicateQuote)

	got, err := s.GetQuote(ctx, q.ID, user)
	require.NoError(t, err)
	assert.True(t, q.PriceFiat.Equal(got.PriceFiat))
	assert.Equal(t, q.PriceToken, got.PriceToken)

	u := NewUpdater(s, nil, nil)
	sig := "sig-" + uuid.NewString()
	done, err := u.Complete(ctx, q.ID, user, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(20), done.CreditsAdded)

	_, err = u.Complete(ctx, q.ID, user, sig)
	assert.Equal(t, types.ErrAlreadyCompleted, types.ErrorCode(err))

	acc, err := s.GetAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), acc.Credits)

	found, err := s.FindCompletedBySignature(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, q.ID, found.ID)

	second := newQuote(user, "lite", 20, false)
	second.CreatedAt = time.Now().UTC()
	require.NoError(t, s.InsertQuote(ctx, second))
	_, err = u.Complete(ctx, second.ID, user, sig)
	assert.ErrorIs(t, err, ErrSignatureReused)
}

func TestPostgresFailAndList(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()

	q := newQuote(user, "pro", 100, false)
	q.CreatedAt = time.Now().UTC()
	require.NoError(t, s.InsertQuote(ctx, q))

	changed, err := s.UpdateQuoteStatus(ctx, q.ID, user, types.QuoteStatusPending, types.QuoteStatusFailed,
		QuoteUpdate{Signature: "sig-" + uuid.NewString(), FailureReason: "ConfirmationTimeout"})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateQuoteStatus(ctx, q.ID, user, types.QuoteStatusPending, types.QuoteStatusCompleted, QuoteUpdate{})
	require.NoError(t, err)
	assert.False(t, changed)

	quotes, err := s.ListQuotes(ctx, QuoteFilter{UserID: user, Status: types.QuoteStatusFailed, WithSignature: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "ConfirmationTimeout", quotes[0].FailureReason)

	changed, err = s.MarkAlerted(ctx, q.ID, user, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkAlerted(ctx, q.ID, user, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, changed)

	quotes, err = s.ListQuotes(ctx, QuoteFilter{UserID: user, Unalerted: true, Before: CursorOf(q)})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestPostgresKeepsSubCentPrices(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()

	q := newQuote(user, "lite", 20, false)
	q.PriceFiat = decimal.RequireFromString("0.123456")
	q.PriceToken = 123456
	q.CreatedAt = time.Now().UTC()
	require.NoError(t, s.InsertQuote(ctx, q))

	got, err := s.GetQuote(ctx, q.ID, user)
	require.NoError(t, err)
	assert.True(t, q.PriceFiat.Equal(got.PriceFiat), got.PriceFiat.String())
}
