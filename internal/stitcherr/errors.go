// Package stitcherr defines the closed set of failures stitch reports.
//
// Every error that crosses a package boundary is either an *Error or wraps
// one, so callers classify failures with the Is* helpers rather than by
// matching message text.
package stitcherr

import (
	"errors"
	"fmt"
)

// Kind categorizes an Error.
type Kind string

const (
	// KindMalformedQuery indicates raw criteria that cannot be normalized.
	KindMalformedQuery Kind = "MALFORMED_QUERY"

	// KindUnresolvableReference indicates a shorthand that needs schema
	// knowledge which is unavailable (pk shorthand without a target entity).
	KindUnresolvableReference Kind = "UNRESOLVABLE_REFERENCE"

	// KindDuplicateAllocation indicates a buffer identity was allocated twice.
	KindDuplicateAllocation Kind = "DUPLICATE_ALLOCATION"

	// KindAdapter indicates a datastore adapter call failed.
	KindAdapter Kind = "ADAPTER_FAILURE"

	// KindUnknownEntity indicates a query or mutation names an entity the
	// registry does not contain.
	KindUnknownEntity Kind = "UNKNOWN_ENTITY"

	// KindMissingCapability indicates the entity's datastore does not
	// implement the requested operation.
	KindMissingCapability Kind = "MISSING_CAPABILITY"

	// KindInvalidSchema indicates a schema definition that cannot be loaded.
	KindInvalidSchema Kind = "INVALID_SCHEMA"

	// KindQuotaExceeded indicates an execution issued more adapter fetches
	// than its quota allows.
	KindQuotaExceeded Kind = "QUOTA_EXCEEDED"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindMalformedQuery,
	KindUnresolvableReference,
	KindDuplicateAllocation,
	KindAdapter,
	KindUnknownEntity,
	KindMissingCapability,
	KindInvalidSchema,
	KindQuotaExceeded,
}

// ParseKind resolves the string form of a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Error is a classified stitch failure.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Entity is the entity involved, when there is one.
	Entity string

	// Identity is the heap buffer identity involved, when there is one.
	Identity string

	// Cause is the underlying error (adapter failures, CUE errors).
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	switch {
	case e.Entity != "" && e.Identity != "":
		msg = fmt.Sprintf("%s (entity=%s, buffer=%s)", msg, e.Entity, e.Identity)
	case e.Entity != "":
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.Entity)
	case e.Identity != "":
		msg = fmt.Sprintf("%s (buffer=%s)", msg, e.Identity)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithEntity sets the Entity field and returns e.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// WithIdentity sets the Identity field and returns e.
func (e *Error) WithIdentity(identity string) *Error {
	e.Identity = identity
	return e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsMalformedQuery returns true if err is a malformed query error.
// Uses errors.As to handle wrapped errors.
func IsMalformedQuery(err error) bool { return is(err, KindMalformedQuery) }

// IsUnresolvableReference returns true if err is an unresolvable reference error.
func IsUnresolvableReference(err error) bool { return is(err, KindUnresolvableReference) }

// IsDuplicateAllocation returns true if err is a duplicate buffer allocation.
func IsDuplicateAllocation(err error) bool { return is(err, KindDuplicateAllocation) }

// IsAdapter returns true if err is an adapter failure.
func IsAdapter(err error) bool { return is(err, KindAdapter) }

// IsUnknownEntity returns true if err names an unknown entity.
func IsUnknownEntity(err error) bool { return is(err, KindUnknownEntity) }

// IsMissingCapability returns true if err is a missing adapter capability.
func IsMissingCapability(err error) bool { return is(err, KindMissingCapability) }

// IsInvalidSchema returns true if err is a schema loading error.
func IsInvalidSchema(err error) bool { return is(err, KindInvalidSchema) }

// IsQuotaExceeded returns true if err is an exhausted fetch quota.
func IsQuotaExceeded(err error) bool { return is(err, KindQuotaExceeded) }
