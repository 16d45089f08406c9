package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("cost_table_record", "abc")))
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(InvalidInput("amount", "negative")))
	assert.Equal(t, ErrCodeUnauthorized, CodeOf(Unauthorized("no")))
	assert.Equal(t, ErrCodeUnknownRole, CodeOf(UnknownRole("intern")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")), "uncoded errors classify as internal")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeStorage, "query failed")
	require.Error(t, err)

	assert.Equal(t, ErrCodeStorage, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Nil(t, Wrap(nil, ErrCodeStorage, "ignored"))
}

func TestIs(t *testing.T) {
	err := New(ErrCodeConcurrentModification, "lost the race")
	assert.True(t, Is(err, ErrCodeConcurrentModification))
	assert.False(t, Is(err, ErrCodeAlreadyResolved))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		ErrCodeInvalidInput:           http.StatusBadRequest,
		ErrCodeUnknownRole:            http.StatusBadRequest,
		ErrCodeUnauthorized:           http.StatusForbidden,
		ErrCodeNotFound:               http.StatusNotFound,
		ErrCodeInvalidState:           http.StatusConflict,
		ErrCodeAlreadyResolved:        http.StatusConflict,
		ErrCodeConcurrentModification: http.StatusConflict,
		ErrCodeStorage:                http.StatusServiceUnavailable,
		ErrCodeConfiguration:          http.StatusInternalServerError,
		ErrCodeInternal:               http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "%s", code)
	}
}
