// Package types defines core domain type aliases and identifiers for gomend.
package types

import "github.com/google/uuid"

// TenantID identifies an isolated customer/organization scope.
// No record, query, or decision crosses tenant boundaries.
type TenantID string

// TestID identifies an authored test owned by a tenant.
type TestID string

// RecordID is a unique identifier for a healing record.
type RecordID string

// EntryID is a unique identifier for an audit ledger entry.
type EntryID string

// NewRecordID generates a new unique healing record ID.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// String returns the string representation of a RecordID.
func (id RecordID) String() string {
	return string(id)
}

// IsZero returns true if the RecordID is the zero value.
func (id RecordID) IsZero() bool {
	return id == ""
}

// NewEntryID generates a new unique audit entry ID.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// String returns the string representation of an EntryID.
func (id EntryID) String() string {
	return string(id)
}

// IsZero returns true if the EntryID is the zero value.
func (id EntryID) IsZero() bool {
	return id == ""
}

// String returns the string representation of a TenantID.
func (id TenantID) String() string {
	return string(id)
}

// String returns the string representation of a TestID.
func (id TestID) String() string {
	return string(id)
}
