package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vitwit/x402pay/types"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const quoteColumns = `id::text, user_id, plan, price_fiat::text, price_token, credits, unlimited,
	recipient_token_account, token_mint, network, status, signature, failure_reason,
	created_at, completed_at, failed_at, alerted_at`

// PostgresStore keeps quotes and accounts in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

var (
	_ Store     = (*PostgresStore)(nil)
	_ Committer = (*PostgresStore)(nil)
)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertQuote(ctx context.Context, q *types.PaymentQuote) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO payment_quotes (id, user_id, plan, price_fiat, price_token, credits, unlimited,
			recipient_token_account, token_mint, network, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)`,
		q.ID, q.UserID, q.PlanKey, q.PriceFiat.String(), int64(q.PriceToken), q.Credits, q.Unlimited,
		q.RecipientTokenAccount, q.TokenMint, string(q.Network), string(q.Status), q.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateQuote
		}
		return fmt.Errorf("quote insert failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id, userID string) (*types.PaymentQuote, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+quoteColumns+" FROM payment_quotes WHERE id = $1::uuid AND user_id = $2",
		id, userID,
	)
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("quote query failed: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) FindCompletedBySignature(ctx context.Context, sig string) (*types.PaymentQuote, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+quoteColumns+" FROM payment_quotes WHERE signature = $1 AND status = 'completed'",
		sig,
	)
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("quote query failed: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQuoteStatus(ctx context.Context, id, userID string, from, to types.QuoteStatus, upd QuoteUpdate) (bool, error) {
	return updateStatus(ctx, s.db, id, userID, from, to, upd)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateStatus(ctx context.Context, db execer, id, userID string, from, to types.QuoteStatus, upd QuoteUpdate) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE payment_quotes
		SET status = $4,
			signature = COALESCE(NULLIF($5, ''), signature),
			failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
			completed_at = COALESCE($7, completed_at),
			failed_at = COALESCE($8, failed_at)
		WHERE id = $1::uuid AND user_id = $2 AND status = $3`,
		id, userID, string(from), string(to), upd.Signature, upd.FailureReason, upd.CompletedAt, upd.FailedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, ErrSignatureReused
		}
		return false, fmt.Errorf("quote update failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteAndGrant flips the quote and credits the account in one
// transaction.
func (s *PostgresStore) CompleteAndGrant(ctx context.Context, id string, upd QuoteUpdate, grant Grant) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	changed, err := updateStatus(ctx, tx, id, grant.UserID, types.QuoteStatusPending, types.QuoteStatusCompleted, upd)
	if err != nil || !changed {
		return false, err
	}

	if grant.Unlimited {
		err = setUnlimited(ctx, tx, grant.UserID, grant.Plan, grant.Credits, *grant.ExpiresAt)
	} else {
		err = increaseCredits(ctx, tx, grant.UserID, grant.Credits, grant.Plan)
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context, filter QuoteFilter) ([]*types.PaymentQuote, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.WithSignature {
		where = append(where, "signature IS NOT NULL")
	}
	if filter.Unalerted {
		where = append(where, "alerted_at IS NULL")
	}
	if !filter.FailedAfter.IsZero() {
		args = append(args, filter.FailedAfter)
		where = append(where, fmt.Sprintf("failed_at > $%d", len(args)))
	}
	if filter.Before != nil {
		args = append(args, filter.Before.CreatedAt, filter.Before.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d::uuid)", len(args)-1, len(args)))
	}

	query := "SELECT " + quoteColumns + " FROM payment_quotes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("quote list failed: %w", err)
	}
	defer rows.Close()

	out := make([]*types.PaymentQuote, 0)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("quote scan failed: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkAlerted(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE payment_quotes SET alerted_at = $3
		WHERE id = $1::uuid AND user_id = $2 AND status = 'failed' AND alerted_at IS NULL`,
		id, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("quote alert mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*types.Account, error) {
	var acc types.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, credits, plan, plan_expires_at FROM accounts WHERE id = $1",
		userID,
	).Scan(&acc.UserID, &acc.Credits, &acc.Plan, &acc.PlanExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &acc, nil
}

func (s *PostgresStore) IncreaseCredits(ctx context.Context, userID string, amount int64, plan string) error {
	return increaseCredits(ctx, s.db, userID, amount, plan)
}

func (s *PostgresStore) SetUnlimitedPlan(ctx context.Context, userID, plan string, credits int64, expiresAt time.Time) error {
	return setUnlimited(ctx, s.db, userID, plan, credits, expiresAt)
}

func increaseCredits(ctx context.Context, db execer, userID string, amount int64, plan string) error {
	_, err := db.Exec(ctx,
		`INSERT INTO accounts (id, credits, plan) VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'free'))
		ON CONFLICT (id) DO UPDATE
		SET credits = accounts.credits + EXCLUDED.credits,
			plan = COALESCE(NULLIF($3, ''), accounts.plan),
			updated_at = now()`,
		userID, amount, plan,
	)
	if err != nil {
		return fmt.Errorf("credit increase failed: %w", err)
	}
	return nil
}

func setUnlimited(ctx context.Context, db execer, userID, plan string, credits int64, expiresAt time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO accounts (id, credits, plan, plan_expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET credits = EXCLUDED.credits,
			plan = EXCLUDED.plan,
			plan_expires_at = EXCLUDED.plan_expires_at,
			updated_at = now()`,
		userID, credits, plan, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("plan update failed: %w", err)
	}
	return nil
}

func scanQuote(row pgx.Row) (*types.PaymentQuote, error) {
	var (
		q                  types.PaymentQuote
		priceFiat          string
		priceToken         int64
		network, status    string
		signature, failure *string
	)
	err := row.Scan(&q.ID, &q.UserID, &q.PlanKey, &priceFiat, &priceToken, &q.Credits, &q.Unlimited,
		&q.RecipientTokenAccount, &q.TokenMint, &network, &status, &signature, &failure,
		&q.CreatedAt, &q.CompletedAt, &q.FailedAt, &q.AlertedAt)
	if err != nil {
		return nil, err
	}

	q.PriceFiat, err = decimal.NewFromString(priceFiat)
	if err != nil {
		return nil, fmt.Errorf("invalid price_fiat %q: %w", priceFiat, err)
	}
	q.PriceToken = uint64(priceToken)
	q.Network = types.Network(network)
	q.Status = types.QuoteStatus(status)
	if signature != nil {
		q.Signature = *signature
	}
	if failure != nil {
		q.FailureReason = *failure
	}
	return &q, nil
}
