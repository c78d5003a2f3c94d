package qr

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"checkqr/internal/store"
)

// PostgresStore persists QR records in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewRepository creates a Postgres-backed store.
func NewRepository(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `user_hash, roll_no, image, issue_date, created_at`

func (r *PostgresStore) Get(ctx context.Context, hash string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM qr_records WHERE user_hash = $1`, hash)
	var rec Record
	err := row.Scan(&rec.Hash, &rec.RollNo, &rec.Image, &rec.IssueDate, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get qr record")
	}
	return rec, nil
}

// Insert relies on the unique constraint on user_hash and the unique index
// on (roll_no, issue_date).
func (r *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO qr_records (user_hash, roll_no, image, issue_date)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, rec.Hash, rec.RollNo, rec.Image, rec.IssueDate)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if store.IsUniqueViolation(err, "qr_records_user_hash_key") {
			return Record{}, ErrDuplicate
		}
		if store.IsUniqueViolation(err, "qr_records_roll_no_date_key") {
			return Record{}, ErrRollNoTaken
		}
		return Record{}, errors.Wrap(err, "insert qr record")
	}
	return rec, nil
}

func (r *PostgresStore) List(ctx context.Context) ([]Record, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM qr_records ORDER BY created_at DESC`)
}

func (r *PostgresStore) ListByRollNo(ctx context.Context, rollNo string) ([]Record, error) {
	return r.query(ctx, `SELECT `+recordColumns+` FROM qr_records WHERE roll_no = $1 ORDER BY created_at DESC`, rollNo)
}

func (r *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query qr records")
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Hash, &rec.RollNo, &rec.Image, &rec.IssueDate, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan qr record")
		}
		res = append(res, rec)
	}
	return res, errors.Wrap(rows.Err(), "query qr records")
}
