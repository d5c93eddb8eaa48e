package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidation, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindConcurrentModification, http.StatusConflict},
		{KindInvalidTransition, http.StatusUnprocessableEntity},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, newError(tt.kind, "x").HTTPStatus())
		})
	}
}

func TestError_Message(t *testing.T) {
	err := NotFound("quote not found")
	assert.Equal(t, "quote not found", err.Error())

	wrapped := Internal("load quote", errors.New("connection reset"))
	assert.Equal(t, "load quote: connection reset", wrapped.Error())
}

func TestError_WithStatusOverridesKind(t *testing.T) {
	err := InvalidTransition("quote moved on").WithStatus(http.StatusConflict)

	assert.Equal(t, KindInvalidTransition, err.Kind)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, InvalidTransition("x").HTTPStatus())
}

func TestGetKind_ThroughWrapping(t *testing.T) {
	base := Conflict("version mismatch")
	err := fmt.Errorf("confirm quote: %w", base)

	assert.Equal(t, KindConflict, GetKind(err))
	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(err, KindNotFound))
	assert.Equal(t, KindUnknown, GetKind(errors.New("plain")))
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable("database unavailable", cause)

	assert.ErrorIs(t, err, cause)
}
