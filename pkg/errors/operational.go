package errors

import (
	"fmt"
	"time"
)

// OperationalError represents enhanced error information for debugging.
//
// It wraps errors with operational context including tenant ID, healing
// record ID, and timestamp. This enables better error tracking when many
// records for many tenants are in flight at once.
type OperationalError struct {
	Operation  string                 // What operation was being performed
	TenantID   string                 // Which tenant
	RecordID   string                 // Which healing record (if applicable)
	Timestamp  time.Time              // When error occurred
	Attributes map[string]interface{} // Additional context (optional)
	Cause      error                  // Underlying error
}

// NewOperationalError creates an OperationalError wrapping an error.
//
// Returns nil if cause is nil (no error to wrap).
func NewOperationalError(operation, tenantID, recordID string, cause error) *OperationalError {
	if cause == nil {
		return nil
	}

	return &OperationalError{
		Operation: operation,
		TenantID:  tenantID,
		RecordID:  recordID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewOperationalErrorWithAttrs creates an OperationalError with additional
// attributes.
//
// Returns nil if cause is nil (no error to wrap).
func NewOperationalErrorWithAttrs(operation, tenantID, recordID string, cause error, attrs map[string]interface{}) *OperationalError {
	if cause == nil {
		return nil
	}

	return &OperationalError{
		Operation:  operation,
		TenantID:   tenantID,
		RecordID:   recordID,
		Timestamp:  time.Now(),
		Attributes: attrs,
		Cause:      cause,
	}
}

// Error implements the error interface.
//
// Format: "[timestamp] operation: tenant={id} record={id}: {cause}"
// If the record ID is empty, it's omitted from the message.
func (e *OperationalError) Error() string {
	if e == nil {
		return "<nil OperationalError>"
	}

	timestamp := e.Timestamp.Format(time.RFC3339)

	var msg string
	if e.RecordID != "" {
		msg = fmt.Sprintf("[%s] %s: tenant=%s record=%s: %v",
			timestamp, e.Operation, e.TenantID, e.RecordID, e.Cause)
	} else {
		msg = fmt.Sprintf("[%s] %s: tenant=%s: %v",
			timestamp, e.Operation, e.TenantID, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
