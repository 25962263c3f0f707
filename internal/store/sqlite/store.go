// Package sqlite implements the bet and balance store on an embedded SQLite
// database for single-node and development deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as Unix nanoseconds, money as decimal text.
const schema = `
CREATE TABLE IF NOT EXISTS balances (
    user_id    TEXT PRIMARY KEY,
    balance    TEXT    NOT NULL DEFAULT '0',
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bets (
    id           TEXT PRIMARY KEY,
    user_id      TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    direction    TEXT    NOT NULL,
    outcome      TEXT    NOT NULL,
    stake        TEXT    NOT NULL,
    entry_price  REAL    NOT NULL,
    exit_price   REAL    NOT NULL,
    strike_price REAL,
    stop_loss    REAL,
    pnl          TEXT    NOT NULL,
    entered_at   INTEGER NOT NULL,
    resolved_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bets_user_resolved ON bets(user_id, resolved_at DESC);
CREATE INDEX IF NOT EXISTS idx_bets_resolved      ON bets(resolved_at);
`

const betSelectCols = `id, user_id, symbol, direction, outcome, stake,
	entry_price, exit_price, strike_price, stop_loss, pnl, entered_at, resolved_at`

// Store implements domain.BetStore using SQLite (pure Go, no cgo).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBet inserts the bet and applies its PnL in one transaction.
// Recording the same bet twice is a no-op.
func (s *Store) RecordBet(ctx context.Context, rec domain.BetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: record bet: begin: %w", err)
	}
	defer tx.Rollback()

	pnl := decimal.NewFromFloat(rec.PnL).Round(8)
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO bets (
			id, user_id, symbol, direction, outcome, stake,
			entry_price, exit_price, strike_price, stop_loss, pnl,
			entered_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Key), string(rec.Direction), string(rec.Outcome),
		decimal.NewFromFloat(rec.Stake).String(),
		rec.EntryPrice, rec.ExitPrice, nullFloat(rec.StrikePrice), nullFloat(rec.StopLoss),
		pnl.String(), rec.EnteredAt.UnixNano(), rec.ResolvedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert bet %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	current, err := readBalance(ctx, tx, rec.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := writeBalance(ctx, tx, rec.UserID, current.Add(pnl)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: record bet: commit: %w", err)
	}
	return nil
}

// GetBalance returns domain.ErrNotFound for unknown users.
func (s *Store) GetBalance(ctx context.Context, userID string) (float64, error) {
	d, err := readBalance(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// SetBalance overwrites a user's balance.
func (s *Store) SetBalance(ctx context.Context, userID string, balance float64) error {
	return writeBalance(ctx, s.db, userID, decimal.NewFromFloat(balance).Round(8))
}

// GetBet returns a single bet by ID.
func (s *Store) GetBet(ctx context.Context, id string) (domain.BetRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+betSelectCols+` FROM bets WHERE id = ?`, id)
	b, err := scanBet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BetRecord{}, fmt.Errorf("sqlite: bet %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BetRecord{}, fmt.Errorf("sqlite: get bet %s: %w", id, err)
	}
	return b, nil
}

// ListByUser returns a user's bets, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetRecord, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE user_id = ?`
	args := []any{userID}
	if opts.Since != nil {
		query += " AND resolved_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += " AND resolved_at <= ?"
		args = append(args, opts.Until.UnixNano())
	}
	query += " ORDER BY resolved_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}
	return s.query(ctx, "list bets by user", query, args...)
}

// ListBefore returns bets resolved strictly before the given time, oldest first.
func (s *Store) ListBefore(ctx context.Context, before time.Time) ([]domain.BetRecord, error) {
	return s.query(ctx, "list bets before",
		`SELECT `+betSelectCols+` FROM bets WHERE resolved_at < ? ORDER BY resolved_at ASC`,
		before.UnixNano())
}

// DeleteBefore deletes bets resolved before the given time.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bets WHERE resolved_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete bets before: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]domain.BetRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer rows.Close()

	var bets []domain.BetRecord
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: scan: %w", op, err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return bets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanBet(row scanner) (domain.BetRecord, error) {
	var (
		b                       domain.BetRecord
		symbol, dir, outc       string
		stake, pnl              string
		strike, stopLoss        sql.NullFloat64
		enteredNano, resolvedNs int64
	)
	if err := row.Scan(
		&b.ID, &b.UserID, &symbol, &dir, &outc, &stake,
		&b.EntryPrice, &b.ExitPrice, &strike, &stopLoss, &pnl,
		&enteredNano, &resolvedNs,
	); err != nil {
		return domain.BetRecord{}, err
	}
	stakeD, err := decimal.NewFromString(stake)
	if err != nil {
		return domain.BetRecord{}, fmt.Errorf("stake %q: %w", stake, err)
	}
	pnlD, err := decimal.NewFromString(pnl)
	if err != nil {
		return domain.BetRecord{}, fmt.Errorf("pnl %q: %w", pnl, err)
	}

	b.Key = domain.SymbolKey(symbol)
	b.Direction = domain.Direction(dir)
	b.Outcome = domain.Outcome(outc)
	b.Stake = stakeD.InexactFloat64()
	b.PnL = pnlD.InexactFloat64()
	if strike.Valid {
		b.StrikePrice = &strike.Float64
	}
	if stopLoss.Valid {
		b.StopLoss = &stopLoss.Float64
	}
	b.EnteredAt = time.Unix(0, enteredNano).UTC()
	b.ResolvedAt = time.Unix(0, resolvedNs).UTC()
	return b, nil
}

func readBalance(ctx context.Context, q queryer, userID string) (decimal.Decimal, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("sqlite: balance %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: get balance %s: %w", userID, err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sqlite: parse balance %s: %w", userID, err)
	}
	return d, nil
}

func writeBalance(ctx context.Context, e execer, userID string, balance decimal.Decimal) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		userID, balance.String(), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set balance %s: %w", userID, err)
	}
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Compile-time interface check.
var _ domain.BetStore = (*Store)(nil)
