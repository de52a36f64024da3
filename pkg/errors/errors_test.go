package errors

import (
	"database/sql"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	typed := Clone(ErrConflict, "slot taken")
	wrapped := fmt.Errorf("booking: %w", typed)
	assert.Same(t, typed, FromError(wrapped))

	generic := FromError(sql.ErrConnDone)
	require.NotNil(t, generic)
	assert.Equal(t, ErrInternal.Code, generic.Code)
	assert.Equal(t, http.StatusInternalServerError, generic.Status)
	assert.True(t, stdErrors.Is(generic, sql.ErrConnDone))
}

func TestCloneAndDetailsLeaveSentinelsUntouched(t *testing.T) {
	clone := Clone(ErrValidation, "bad window")
	detailed := WithDetails(clone, []string{"2024-01-08 10:00"})

	assert.Equal(t, "validation failed", ErrValidation.Message)
	assert.Nil(t, ErrValidation.Details)
	assert.Equal(t, "bad window", clone.Message)
	assert.Nil(t, clone.Details)
	assert.Equal(t, []string{"2024-01-08 10:00"}, detailed.Details)
	assert.Equal(t, ErrValidation.Code, detailed.Code)

	assert.Equal(t, ErrNotFound.Message, Clone(ErrNotFound, "").Message)
	assert.Nil(t, Clone(nil, "x"))
	assert.Nil(t, WithDetails(nil, 1))
}

func TestErrorString(t *testing.T) {
	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
	assert.Equal(t, "failed to list: boom", Wrap(stdErrors.New("boom"), "X", 500, "failed to list").Error())
	assert.Equal(t, "forbidden", ErrForbidden.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("confirm: %w", Clone(ErrInvalidTransition, "reservation is COMPLETED"))

	assert.True(t, stdErrors.Is(err, ErrInvalidTransition))
	assert.False(t, stdErrors.Is(err, ErrConflict))
	assert.True(t, stdErrors.Is(WithDetails(ErrConflict, "x"), ErrConflict))
}
