package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"checkqr/internal/apperr"
	"checkqr/internal/metrics"
)

var (
	// ErrNotFound is returned by a UserRepository for unknown users.
	ErrNotFound = errors.New("auth: user not found")
	// ErrUsernameTaken and ErrEmailTaken are returned on duplicate sign-up.
	ErrUsernameTaken = errors.New("auth: username taken")
	ErrEmailTaken    = errors.New("auth: email taken")

	errBadCredentials = errors.New("invalid credentials")
)

const minPasswordLen = 6

// User is a stored account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRepository persists accounts.
type UserRepository interface {
	Create(ctx context.Context, u User) (User, error)
	// FindByLogin matches identifier against email or username.
	FindByLogin(ctx context.Context, identifier string) (User, error)
	Get(ctx context.Context, id string) (User, error)
}

// Service signs users up and in.
type Service struct {
	users  UserRepository
	signer *Signer
}

// NewService creates an auth service.
func NewService(users UserRepository, signer *Signer) *Service {
	return &Service{users: users, signer: signer}
}

// SignUp validates and stores a new account.
func (s *Service) SignUp(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return User{}, apperr.Validation("all fields are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return User{}, apperr.Validation("invalid email address")
	}
	if strings.Contains(username, "@") {
		return User{}, apperr.Validation("username must not contain '@'")
	}
	if len(password) < minPasswordLen {
		return User{}, apperr.Validation("password must be at least %d characters", minPasswordLen)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, apperr.Storage(err, "hash password")
	}
	u, err := s.users.Create(ctx, User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return User{}, apperr.Conflict("username already registered")
	case errors.Is(err, ErrEmailTaken):
		return User{}, apperr.Conflict("email already registered")
	case err != nil:
		return User{}, apperr.Storage(err, "create user")
	}
	return u, nil
}

// SignIn checks the credentials and issues a token. Unknown users and wrong
// passwords fail the same way.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (User, Token, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return User{}, Token{}, apperr.Validation("all fields are required")
	}
	u, err := s.users.FindByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		metrics.SignIns.WithLabelValues("rejected").Inc()
		return User{}, Token{}, apperr.Auth(errBadCredentials)
	}
	if err != nil {
		return User{}, Token{}, apperr.Storage(err, "find user")
	}
	if !CheckPassword(u.PasswordHash, password) {
		metrics.SignIns.WithLabelValues("rejected").Inc()
		return User{}, Token{}, apperr.Auth(errBadCredentials)
	}
	tok, err := s.signer.Issue(u)
	if err != nil {
		return User{}, Token{}, apperr.Storage(err, "sign token")
	}
	metrics.SignIns.WithLabelValues("ok").Inc()
	return u, tok, nil
}

// Verify validates a token. Every failure is the same Auth error.
func (s *Service) Verify(token string) (Claims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Claims{}, apperr.Auth(err)
	}
	return claims, nil
}

// User loads the account behind verified claims.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{}, apperr.NotFound("user not found")
	}
	if err != nil {
		return User{}, apperr.Storage(err, "get user")
	}
	return u, nil
}
