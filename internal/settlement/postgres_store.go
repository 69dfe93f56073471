package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists the settlement book in PostgreSQL.
// The settlements table is created by migrations/003_settlements.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, debtor, invoice_id, amount, currency, due_date, investor, status, paid_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM settlements WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM settlements ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlements SET status = $1, paid_at = $2
		WHERE id = $3 AND status = $4`,
		string(StatusPaid), at, id, string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyPaid
	}
	return nil
}

// Insert adds a record; used to seed books.
func (p *PostgresStore) Insert(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settlements (`+recordColumns+`)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Debtor, r.InvoiceID, r.Amount.String(), r.Currency, r.DueDate, r.Investor, string(r.Status), nullTime(r.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r      Record
		amount string
		status string
		paidAt sql.NullTime
	)
	if err := sc.Scan(&r.ID, &r.Debtor, &r.InvoiceID, &amount, &r.Currency, &r.DueDate, &r.Investor, &status, &paidAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	r.Amount = d
	r.Status = Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		r.PaidAt = &t
	}
	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
