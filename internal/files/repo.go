package files

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// PostgresRepository stores file contents in a bytea column.
type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, f File) (File, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO user_files (id, owner_id, file_name, event_name, content_type, size, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, f.ID, f.OwnerID, f.FileName, f.EventName, f.ContentType, f.Size, f.Data)
	if err := row.Scan(&f.CreatedAt); err != nil {
		return File{}, errors.Wrap(err, "insert file")
	}
	return f, nil
}

func (r *PostgresRepository) List(ctx context.Context, ownerID string) ([]File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, file_name, event_name, content_type, size, created_at
		FROM user_files WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	defer rows.Close()
	var res []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.FileName, &f.EventName, &f.ContentType, &f.Size, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan file")
		}
		res = append(res, f)
	}
	return res, errors.Wrap(rows.Err(), "list files")
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, id string) (File, error) {
	var f File
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, file_name, event_name, content_type, size, data, created_at
		FROM user_files WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&f.ID, &f.OwnerID, &f.FileName, &f.EventName, &f.ContentType, &f.Size, &f.Data, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, errors.Wrap(err, "get file")
	}
	return f, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_files WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return errors.Wrap(err, "delete file")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete file")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
