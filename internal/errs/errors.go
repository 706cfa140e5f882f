// Package errs provides the unified error type used across the data model engine.
//
// Every subsystem (backends, key registry, cascade engine, flatten planner, …)
// wraps its failures into *errs.Error before returning them to callers.
// Callers inspect the kind with Is or the Is* predicates without importing
// driver-specific packages.
//
// Usage:
//
//	// In a backend, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// In a caller, check the error kind:
//	if errs.Is(err, errs.ErrKindFiltersMustBeAppliedFirst) {
//	    dm, err = dm.ApplyFilters(ctx)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota

	// Backend kinds. All executors (memory, Postgres, MySQL, MinIO) map their
	// native errors to one of these.
	ErrKindNotFound         // no rows, no object, no bucket
	ErrKindConnectionFailed // cannot reach the backend
	ErrKindTimeout          // context deadline / cancellation
	ErrKindQueryFailed      // SQL or storage operation error
	ErrKindInvalidInput     // bad arguments from the caller
	ErrKindPermissionDenied // access denied / auth failure

	// Model kinds.
	ErrKindUnknownTable
	ErrKindDuplicateTableName
	ErrKindReferencedTableHasNoPrimaryKey
	ErrKindBackendMismatch
	ErrKindRelationshipCycleUnsupported
	ErrKindTablesNotDirectlyRelated
	ErrKindTablesNotReachableFromStart
	ErrKindAmbiguousRelationship
	ErrKindUnsupportedJoinKind
	ErrKindFiltersMustBeAppliedFirst
	ErrKindOnlyDirectNeighborsAllowed
	ErrKindPrimaryKeyAlreadySet
	ErrKindPrimaryKeyRemovalBlockedByForeignKeys
	ErrKindForeignKeyColumnMissing
	ErrKindNotAForeignKeyColumn

	// Data check kinds.
	ErrKindKeyNotUnique
	ErrKindValueSetNotSubset
	ErrKindValueSetsNotEqual
	ErrKindCardinalityNotInjective
	ErrKindCardinalityNotSurjective
)

var kindNames = map[ErrKind]string{
	ErrKindNotFound:                              "not_found",
	ErrKindConnectionFailed:                      "connection_failed",
	ErrKindTimeout:                               "timeout",
	ErrKindQueryFailed:                           "query_failed",
	ErrKindInvalidInput:                          "invalid_input",
	ErrKindPermissionDenied:                      "permission_denied",
	ErrKindUnknownTable:                          "unknown_table",
	ErrKindDuplicateTableName:                    "duplicate_table_name",
	ErrKindReferencedTableHasNoPrimaryKey:        "referenced_table_has_no_primary_key",
	ErrKindBackendMismatch:                       "backend_mismatch",
	ErrKindRelationshipCycleUnsupported:          "relationship_cycle_unsupported",
	ErrKindTablesNotDirectlyRelated:              "tables_not_directly_related",
	ErrKindTablesNotReachableFromStart:           "tables_not_reachable_from_start",
	ErrKindAmbiguousRelationship:                 "ambiguous_relationship",
	ErrKindUnsupportedJoinKind:                   "unsupported_join_kind",
	ErrKindFiltersMustBeAppliedFirst:             "filters_must_be_applied_first",
	ErrKindOnlyDirectNeighborsAllowed:            "only_direct_neighbors_allowed",
	ErrKindPrimaryKeyAlreadySet:                  "primary_key_already_set",
	ErrKindPrimaryKeyRemovalBlockedByForeignKeys: "primary_key_removal_blocked_by_foreign_keys",
	ErrKindForeignKeyColumnMissing:               "foreign_key_column_missing",
	ErrKindNotAForeignKeyColumn:                  "not_a_foreign_key_column",
	ErrKindKeyNotUnique:                          "key_not_unique",
	ErrKindValueSetNotSubset:                     "value_set_not_subset",
	ErrKindValueSetsNotEqual:                     "value_sets_not_equal",
	ErrKindCardinalityNotInjective:               "cardinality_not_injective",
	ErrKindCardinalityNotSurjective:              "cardinality_not_surjective",
}

func (k ErrKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the single error type returned by all subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// Is reports whether the outermost *Error in err's chain has the given kind.
func Is(err error, kind ErrKind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown bucket, …).
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// KindOf extracts the ErrKind from the first *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
