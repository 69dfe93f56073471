package invoices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/silkroad/internal/pricing"
)

// PostgresStore persists invoices in PostgreSQL.
// The invoices table is created by migrations/001_invoices.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invoiceColumns = `id, borrower, amount, risk_score, supplier, ipfs_cid,
		       privacy_hash, zk_compressed, signature, sold, buyer,
		       sale_price, minted_at, sold_at`

func (p *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, borrower, amount, risk_score, supplier, ipfs_cid,
			privacy_hash, zk_compressed, signature, sold, buyer,
			sale_price, minted_at, sold_at
		) VALUES (
			$1, $2, $3::NUMERIC(20,6), $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		)`,
		inv.ID, inv.Borrower, inv.Amount.String(), nullInt(inv.RiskScore), inv.Supplier, nullString(inv.IPFSCid),
		inv.PrivacyHash, inv.ZKCompressed, nullString(inv.Signature), inv.Sold, nullString(inv.Buyer),
		nullDecimal(inv.SalePrice), inv.MintedAt, nullTime(inv.SoldAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return inv, err
}

func (p *PostgresStore) Update(ctx context.Context, inv *Invoice) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE invoices SET risk_score = $1, ipfs_cid = $2, signature = $3
		WHERE id = $4`,
		nullInt(inv.RiskScore), nullString(inv.IPFSCid), nullString(inv.Signature), inv.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE ($1 OR NOT sold)`
	args := []any{filter.IncludeSold, filter.Limit}
	if filter.After != nil {
		query += ` AND (minted_at, id) < ($3, $4)`
		args = append(args, filter.After.At, filter.After.ID)
	}
	query += ` ORDER BY minted_at DESC, id DESC LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkSold flips sold in a single conditional UPDATE so two buyers cannot
// both win.
func (p *PostgresStore) MarkSold(ctx context.Context, id, buyer string, price decimal.Decimal, at time.Time) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE invoices SET sold = TRUE, buyer = $1, sale_price = $2::NUMERIC(20,6), sold_at = $3
		WHERE id = $4 AND NOT sold
		RETURNING `+invoiceColumns,
		buyer, price.String(), at, id,
	)
	inv, err := scanInvoice(row)
	if err == nil {
		return inv, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	// Either missing or already sold.
	if _, getErr := p.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadySold
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(sc scanner) (*Invoice, error) {
	var (
		inv       Invoice
		amount    string
		score     sql.NullInt64
		ipfsCid   sql.NullString
		signature sql.NullString
		buyer     sql.NullString
		salePrice sql.NullString
		soldAt    sql.NullTime
	)
	if err := sc.Scan(
		&inv.ID, &inv.Borrower, &amount, &score, &inv.Supplier, &ipfsCid,
		&inv.PrivacyHash, &inv.ZKCompressed, &signature, &inv.Sold, &buyer,
		&salePrice, &inv.MintedAt, &soldAt,
	); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	inv.Amount = d
	if score.Valid {
		v := int(score.Int64)
		inv.RiskScore = &v
		rate, _ := pricing.RateFor(pricing.TierFor(v))
		inv.Rate = &rate
	}
	inv.IPFSCid = ipfsCid.String
	inv.Buyer = buyer.String
	if signature.Valid {
		inv.Signature = signature.String
		inv.ExplorerURL = ExplorerURL(signature.String)
	}
	if salePrice.Valid {
		if sp, err := decimal.NewFromString(salePrice.String); err == nil {
			inv.SalePrice = &sp
		}
	}
	if soldAt.Valid {
		t := soldAt.Time
		inv.SoldAt = &t
	}
	return &inv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
