// Package errors provides the structured error taxonomy for the certification
// workflow engine. Every rejected operation maps to one of the codes below;
// nothing here is fatal to the process.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation             ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodePhaseGateViolation     ErrorCode = "PHASE_GATE_VIOLATION"
	ErrCodeDuplicateRequest       ErrorCode = "DUPLICATE_REQUEST"
	ErrCodeRejectionLimitExceeded ErrorCode = "REJECTION_LIMIT_EXCEEDED"
	ErrCodeBatchIntegrity         ErrorCode = "BATCH_INTEGRITY_ERROR"
	ErrCodeReconciliationAnomaly  ErrorCode = "RECONCILIATION_ANOMALY"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeStorageFailed          ErrorCode = "STORAGE_FAILED"
	ErrCodeTemplateNotFound       ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateInvalid        ErrorCode = "TEMPLATE_INVALID"
)

// WorkflowError represents a structured engine error.
type WorkflowError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("WorkflowError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause so errors.Is and errors.As see
// through the workflow wrapper.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps an error code to the status a transport adapter should emit.
func (e *WorkflowError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation, ErrCodeTemplateInvalid:
		return http.StatusBadRequest
	case ErrCodeInvalidTransition, ErrCodeDuplicateRequest:
		return http.StatusConflict
	case ErrCodePhaseGateViolation:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeTemplateNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsCode reports whether err is a *WorkflowError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Code == code
	}
	return false
}

// NewValidationError creates a non-retryable malformed-input error.
func NewValidationError(details string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeValidation,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransition creates the error for an illegal state move. The
// offending transition is carried in metadata so callers can surface it.
func NewInvalidTransition(from, to string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Illegal application state transition",
		Details:   fmt.Sprintf("%s -> %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewPhaseGateViolation creates the error for out-of-order phase payments.
func NewPhaseGateViolation(details string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodePhaseGateViolation,
		Message:   "Payment phase sequencing violated",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateRequest signals that an idempotency key is still in flight.
func NewDuplicateRequest(key string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeDuplicateRequest,
		Message:   "Request with this idempotency key is still processing",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRejectionLimitExceeded marks the forced re-payment path after repeated
// document rejections. This is a state transition signal, not a failure.
func NewRejectionLimitExceeded(applicationID string, count int) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeRejectionLimitExceeded,
		Message:   "Document rejection limit reached, re-payment required",
		Details:   fmt.Sprintf("applicationId: %s, rejections: %d", applicationID, count),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBatchIntegrityError creates the error for a partially created batch.
func NewBatchIntegrityError(batchID string, err error) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeBatchIntegrity,
		Message:   "Batch creation failed and was rolled back",
		Details:   fmt.Sprintf("batchId: %s, error: %v", batchID, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewReconciliationAnomaly creates the logged-not-propagated webhook error.
func NewReconciliationAnomaly(reason, transactionID string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeReconciliationAnomaly,
		Message:   "Payment event did not match a payable record",
		Details:   fmt.Sprintf("reason: %s, transactionId: %s", reason, transactionID),
		Retryable: false,
		Metadata:  map[string]interface{}{"reason": reason, "transactionId": transactionID},
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable missing-resource error.
func NewNotFoundError(resource, id string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageError creates a retryable persistence error.
func NewStorageError(op string, err error) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeStorageFailed,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %v", op, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewTemplateNotFoundError creates a non-retryable checklist template error.
func NewTemplateNotFoundError(code, version string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Checklist template not found in registry",
		Details:   fmt.Sprintf("templateCode: %s, version: %s", code, version),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateInvalidError creates a non-retryable template validation error.
func NewTemplateInvalidError(details string) *WorkflowError {
	return &WorkflowError{
		Code:      ErrCodeTemplateInvalid,
		Message:   "Checklist template failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
