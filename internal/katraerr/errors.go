// Package katraerr provides the coded error taxonomy shared across the
// katra memory engine.
//
// Every leaf operation returns a *Error carrying a Kind (the taxonomy
// category), a packed Code, a human Message, an optional Suggestion, and
// a wrapped Cause. Callers use errors.As to recover the taxonomy variant
// instead of matching on message strings.
package katraerr

import (
	"errors"
	"fmt"
)

// Category partitions error codes into the taxonomy's families.
type Category int

const (
	CategorySystem Category = iota + 1
	CategoryMemoryTier
	CategoryInput
	CategoryConsent
	CategoryInternal
	CategoryCheckpoint
)

func (c Category) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryMemoryTier:
		return "memory_tier"
	case CategoryInput:
		return "input"
	case CategoryConsent:
		return "consent"
	case CategoryInternal:
		return "internal"
	case CategoryCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Kind identifies a specific error variant within a category.
type Kind int

// System category.
const (
	KindOutOfMemory Kind = iota + 1
	KindIO
	KindPermission
	KindEOF
	KindWouldBlock
	KindBufferOverflow
)

// Memory-tier category.
const (
	KindTierFull Kind = iota + 100
	KindCorruption
	KindNotFound
	KindConsolidationFailed
	KindRetentionViolated
)

// Input category.
const (
	KindNull Kind = iota + 200
	KindOutOfRange
	KindFormat
	KindTooLarge
	KindInvalidParams
	KindInvalidState
	KindDuplicate
	KindResourceLimit
	KindAlreadyInitialized
)

// Consent / access category.
const (
	KindAccessDenied Kind = iota + 300
	KindConsentTimeout
	KindConsentRequired
	KindDirectiveNotFound
)

// Internal category.
const (
	KindAssertion Kind = iota + 400
	KindLogicError
	KindInternalCorruption
	KindNotImplemented
)

// Checkpoint category.
const (
	KindCheckpointFailed Kind = iota + 500
	KindCheckpointNotFound
	KindCheckpointCorrupt
	KindCheckpointTooLarge
	KindRecoveryFailed
	KindVersionMismatch
)

// categoryOf maps a Kind back to its owning Category. Ranges mirror the
// const blocks above: 1-99 system, 100-199 memory-tier, 200-299 input,
// 300-399 consent, 400-499 internal, 500-599 checkpoint.
func categoryOf(k Kind) Category {
	switch {
	case k >= 1 && k < 100:
		return CategorySystem
	case k >= 100 && k < 200:
		return CategoryMemoryTier
	case k >= 200 && k < 300:
		return CategoryInput
	case k >= 300 && k < 400:
		return CategoryConsent
	case k >= 400 && k < 500:
		return CategoryInternal
	case k >= 500 && k < 600:
		return CategoryCheckpoint
	default:
		return CategoryInternal
	}
}

// Code packs the category into the high bits and the kind number into
// the low bits, giving a single stable integer safe to put on the wire.
type Code int

func codeOf(k Kind) Code {
	cat := categoryOf(k)
	return Code(int(cat)<<16 | int(k))
}

// Error is the in-process error type returned by every katra package.
type Error struct {
	Kind       Kind
	Code       Code
	Name       string
	Message    string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the taxonomy category this error belongs to.
func (e *Error) Category() Category {
	return categoryOf(e.Kind)
}

// New constructs an Error of the given kind with a stable name.
func New(kind Kind, name, message string) *Error {
	return &Error{Kind: kind, Code: codeOf(kind), Name: name, Message: message}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, name, message string, cause error) *Error {
	return &Error{Kind: kind, Code: codeOf(kind), Name: name, Message: message, Cause: cause}
}

// WithSuggestion attaches a remediation suggestion and returns e for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Is reports whether err (or any error in its chain) is a katraerr.Error
// of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Convenience constructors for the most frequently raised variants.

func NotFound(message string) *Error {
	return New(KindNotFound, "E_NOT_FOUND", message)
}

func AccessDenied(message string) *Error {
	return New(KindAccessDenied, "E_ACCESS_DENIED", message).
		WithSuggestion("request access via the record's shared_with grant or its team")
}

func InvalidParams(message string) *Error {
	return New(KindInvalidParams, "E_INVALID_PARAMS", message)
}

func TooLarge(message string) *Error {
	return New(KindTooLarge, "E_TOO_LARGE", message)
}

func IO(message string, cause error) *Error {
	return Wrap(KindIO, "E_IO", message, cause)
}

func Internal(message string) *Error {
	return New(KindLogicError, "E_INTERNAL", message)
}

func Assertion(message string) *Error {
	return New(KindAssertion, "E_ASSERTION", message)
}

// AllBackendsFailedStore is returned by the Universal Encoder when zero
// supported backends accepted a store.
func AllBackendsFailedStore() *Error {
	return New(KindConsolidationFailed, "E_ALL_BACKENDS_FAILED_STORE",
		"no supported backend accepted the store")
}

// AllBackendsFailedQuery is returned by the Universal Encoder when every
// suitable backend failed or returned empty for a query.
func AllBackendsFailedQuery() *Error {
	return New(KindNotFound, "E_ALL_BACKENDS_FAILED_QUERY",
		"no backend produced a result for the query")
}
