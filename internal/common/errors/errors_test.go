// internal/common/errors/errors_test.go
package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("connection reset by peer")

	err := NewStorageError("update application", cause)
	assert.ErrorIs(t, err, cause)

	batchErr := NewBatchIntegrityError("batch-1", cause)
	assert.ErrorIs(t, batchErr, cause)

	// Errors without an underlying cause unwrap to nil.
	assert.Nil(t, NewValidationError("bad input").Unwrap())
}

func TestIsCodeThroughWrapping(t *testing.T) {
	cause := NewNotFoundError("application", "app-1")
	err := NewStorageError("load application", cause)

	assert.True(t, IsCode(err, ErrCodeStorageFailed))

	var inner *WorkflowError
	require.True(t, stderrors.As(err, &inner))
	assert.Equal(t, ErrCodeStorageFailed, inner.Code)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  *WorkflowError
		want int
	}{
		{NewValidationError("x"), http.StatusBadRequest},
		{NewInvalidTransition("DRAFT", "APPROVED"), http.StatusConflict},
		{NewDuplicateRequest("key"), http.StatusConflict},
		{NewPhaseGateViolation("x"), http.StatusForbidden},
		{NewNotFoundError("application", "id"), http.StatusNotFound},
		{NewTemplateNotFoundError("CODE", "1.0"), http.StatusNotFound},
		{NewStorageError("op", assert.AnError), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), string(tt.err.Code))
	}
}
