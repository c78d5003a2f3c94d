package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkqr/internal/apperr"
)

func setup(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryRepository(), NewSigner("secret", "checkqr", time.Hour))
}

func TestSignUpValidation(t *testing.T) {
	svc := setup(t)
	tests := []struct {
		name                      string
		username, email, password string
	}{
		{name: "missing username", email: "a@example.com", password: "secret1"},
		{name: "missing password", username: "asha", email: "a@example.com"},
		{name: "bad email", username: "asha", email: "not-an-email", password: "secret1"},
		{name: "short password", username: "asha", email: "a@example.com", password: "123"},
		{name: "at in username", username: "a@b", email: "a@example.com", password: "secret1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), tt.username, tt.email, tt.password)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestSignUpDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)
	_, err := svc.SignUp(ctx, "asha", "Asha@Example.com", "secret1")
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, "asha", "other@example.com", "secret1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.SignUp(ctx, "other", "asha@example.com", "secret1")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)
	created, err := svc.SignUp(ctx, "asha", "asha@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", created.PasswordHash)

	for _, identifier := range []string{"asha@example.com", "ASHA@example.com", "asha"} {
		t.Run(identifier, func(t *testing.T) {
			u, tok, err := svc.SignIn(ctx, identifier, "secret1")
			require.NoError(t, err)
			assert.Equal(t, created.ID, u.ID)

			claims, err := svc.Verify(tok.Value)
			require.NoError(t, err)
			assert.Equal(t, created.ID, claims.UserID)
			assert.Equal(t, "asha@example.com", claims.Email)
			assert.Equal(t, "asha", claims.Username)
		})
	}
}

func TestSignInFailuresIssueNoToken(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)
	_, err := svc.SignUp(ctx, "asha", "asha@example.com", "secret1")
	require.NoError(t, err)

	_, tok, err := svc.SignIn(ctx, "asha", "wrong-password")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
	assert.Empty(t, tok.Value)

	_, tok, err = svc.SignIn(ctx, "nobody", "secret1")
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(err))
	assert.Empty(t, tok.Value)
}

func TestVerifyUniformError(t *testing.T) {
	svc := setup(t)
	_, errMissing := svc.Verify("")
	_, errForged := svc.Verify("a.b.c")
	assert.Equal(t, apperr.PublicMessage(errMissing), apperr.PublicMessage(errForged))
	assert.Equal(t, apperr.KindAuth, apperr.KindOf(errForged))
}
