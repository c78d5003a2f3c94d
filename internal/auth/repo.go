package auth

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"checkqr/internal/store"
)

// PostgresRepository persists users in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a Postgres-backed user repository.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, u.ID, u.Username, u.Email, u.PasswordHash)
	if err := row.Scan(&u.CreatedAt); err != nil {
		switch {
		case store.IsUniqueViolation(err, "users_username_key"):
			return User{}, ErrUsernameTaken
		case store.IsUniqueViolation(err, "users_email_key"):
			return User{}, ErrEmailTaken
		}
		return User{}, errors.Wrap(err, "insert user")
	}
	return u, nil
}

func (r *PostgresRepository) FindByLogin(ctx context.Context, identifier string) (User, error) {
	return r.one(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE email = $1 OR username = $2
		LIMIT 1
	`, strings.ToLower(identifier), identifier)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (User, error) {
	return r.one(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, errors.Wrap(err, "get user")
	}
	return u, nil
}
