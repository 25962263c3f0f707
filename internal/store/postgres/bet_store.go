package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coderashu-1/Trade/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betSelectCols = `id, user_id, symbol, direction, outcome, stake::float8,
	entry_price, exit_price, strike_price, stop_loss, pnl::float8,
	entered_at, resolved_at`

func scanBet(row pgx.Row) (domain.BetRecord, error) {
	var (
		b                 domain.BetRecord
		symbol, dir, outc string
	)
	if err := row.Scan(
		&b.ID, &b.UserID, &symbol, &dir, &outc, &b.Stake,
		&b.EntryPrice, &b.ExitPrice, &b.StrikePrice, &b.StopLoss, &b.PnL,
		&b.EnteredAt, &b.ResolvedAt,
	); err != nil {
		return domain.BetRecord{}, err
	}
	b.Key = domain.SymbolKey(symbol)
	b.Direction = domain.Direction(dir)
	b.Outcome = domain.Outcome(outc)
	return b, nil
}

func scanBetRows(rows pgx.Rows) ([]domain.BetRecord, error) {
	var bets []domain.BetRecord
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// RecordBet inserts the bet and applies its PnL to the user's balance in
// one transaction. Recording the same bet twice is a no-op.
func (s *BetStore) RecordBet(ctx context.Context, rec domain.BetRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: record bet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	pnl := decimal.NewFromFloat(rec.PnL).Round(8).String()
	tag, err := tx.Exec(ctx, `
		INSERT INTO bets (
			id, user_id, symbol, direction, outcome, stake,
			entry_price, exit_price, strike_price, stop_loss, pnl,
			entered_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::numeric,
			$7, $8, $9, $10, $11::numeric,
			$12, $13
		) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, string(rec.Key), string(rec.Direction), string(rec.Outcome),
		decimal.NewFromFloat(rec.Stake).String(),
		rec.EntryPrice, rec.ExitPrice, rec.StrikePrice, rec.StopLoss, pnl,
		rec.EnteredAt, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + EXCLUDED.balance, updated_at = NOW()`,
		rec.UserID, pnl,
	); err != nil {
		return fmt.Errorf("postgres: apply pnl for %s: %w", rec.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: record bet: commit: %w", err)
	}
	return nil
}

// GetBalance returns domain.ErrNotFound for unknown users.
func (s *BetStore) GetBalance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx,
		`SELECT balance::float8 FROM balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: balance %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance %s: %w", userID, err)
	}
	return balance, nil
}

// SetBalance overwrites a user's balance, creating the row if needed.
func (s *BetStore) SetBalance(ctx context.Context, userID string, balance float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (user_id, balance, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = EXCLUDED.balance, updated_at = NOW()`,
		userID, decimal.NewFromFloat(balance).Round(8).String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", userID, err)
	}
	return nil
}

// GetBet returns a single bet by ID.
func (s *BetStore) GetBet(ctx context.Context, id string) (domain.BetRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betSelectCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BetRecord{}, fmt.Errorf("postgres: bet %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BetRecord{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListByUser returns a user's bets, newest first, with optional time filtering.
func (s *BetStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetRecord, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND resolved_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND resolved_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY resolved_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets by user: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets by user: %w", err)
	}
	return bets, nil
}

// ListBefore returns bets resolved strictly before the given time, oldest first.
func (s *BetStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BetRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE resolved_at < $1 ORDER BY resolved_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets before: %w", err)
	}
	defer rows.Close()

	bets, err := scanBetRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets before: %w", err)
	}
	return bets, nil
}

// DeleteBefore deletes bets resolved before the given time and returns how many.
func (s *BetStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bets WHERE resolved_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete bets before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
