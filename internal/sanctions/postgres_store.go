package sanctions

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists screening results in PostgreSQL.
// The screenings table is created by migrations/002_screenings.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed screening store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, r *Result) error {
	var score sql.NullFloat64
	if r.Score != nil {
		score = sql.NullFloat64{Float64: *r.Score, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screenings (id, address, is_risky, score, detail, outcome, screened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		r.ID,
		r.Address,
		r.IsRisky,
		score,
		r.Detail,
		string(r.Outcome),
		r.ScreenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record screening: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, is_risky, score, detail, outcome, screened_at
		FROM screenings
		WHERE address = $1
		ORDER BY screened_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list screenings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Result
	for rows.Next() {
		var r Result
		var score sql.NullFloat64
		var outcome string
		if err := rows.Scan(&r.ID, &r.Address, &r.IsRisky, &score, &r.Detail, &outcome, &r.ScreenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan screening: %w", err)
		}
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		r.Outcome = Outcome(outcome)
		out = append(out, &r)
	}
	return out, rows.Err()
}
