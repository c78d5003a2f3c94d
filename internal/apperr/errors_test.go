package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: Validation("name required"), want: http.StatusBadRequest},
		{name: "conflict", err: Conflict("already marked"), want: http.StatusBadRequest},
		{name: "not found", err: NotFound("no such file"), want: http.StatusNotFound},
		{name: "auth", err: Auth(errors.New("expired")), want: http.StatusUnauthorized},
		{name: "storage", err: Storage(errors.New("conn reset"), "insert"), want: http.StatusInternalServerError},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("mark: %w", Conflict("event %q already marked", "Orientation"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestStorageKeepsClassifiedErrors(t *testing.T) {
	nf := NotFound("student missing")
	assert.Same(t, nf, Storage(nf, "load student"))
	assert.Nil(t, Storage(nil, "noop"))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(Storage(errors.New("password=secret"), "connect")))
	assert.Equal(t, "unauthenticated", PublicMessage(Auth(errors.New("signature is invalid"))))
	assert.Equal(t, "name required", PublicMessage(Validation("name required")))
}
