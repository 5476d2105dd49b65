package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError records which operation failed, for which request, and
// after how many attempts.
type OperationError struct {
	Operation string
	RequestID string
	// Attempts is zero when the operation was not retried.
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Operation
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return msg + ": " + e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err. A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewRetriedError is NewOperationError for an operation that ran attempts
// times.
func NewRetriedError(operation, requestID string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Attempts: attempts, Err: err}
}

// ErrorFields returns err as zap fields, lifting operation metadata out of
// the first OperationError in the chain.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return fields
	}
	fields = append(fields, zap.String("operation", opErr.Operation))
	if opErr.RequestID != "" {
		fields = append(fields, zap.String("request_id", opErr.RequestID))
	}
	if opErr.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", opErr.Attempts))
	}
	return fields
}
