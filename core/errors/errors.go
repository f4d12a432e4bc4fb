// Package errors defines the six structured error kinds the station engine
// returns to callers. Errors are values: every kind carries the data a
// caller needs to react, and none of them are ever raised as panics across
// a component boundary.
package errors

import (
	"errors"
	"fmt"
)

// NotFoundError means an id did not resolve to a stored entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError means an input violated a cross-referential or shape
// rule. Code is a short machine-readable tag (e.g. "CIRCULAR_REFERENCE",
// "INCOMPATIBLE_WITH_LINKED_POLICY") so callers can branch on it without
// parsing Message.
type ValidationError struct {
	Code    string
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Validation(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

func ValidationWithDetails(code, message string, details map[string]string) error {
	return &ValidationError{Code: code, Message: message, Details: details}
}

// AuthorizationError means the permission engine denied the caller.
// Never demote this to NotFound: a caller lacking read permission must
// not learn whether the resource exists.
type AuthorizationError struct {
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized for %s", e.Resource)
}

func Authorization(resource string) error {
	return &AuthorizationError{Resource: resource}
}

// ConflictError means a uniqueness or state-machine rule was violated
// (already voted, name collision, double transition).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

func Conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// EvaluateError means policy evaluation failed against live data during a
// tick. The lifecycle engine marks the single affected request Failed and
// continues the tick; it never aborts the whole tick.
type EvaluateError struct {
	Reason string
}

func (e *EvaluateError) Error() string {
	return e.Reason
}

func Evaluate(reason string) error {
	return &EvaluateError{Reason: reason}
}

// ExternalError means a collaborator (Blockchain Adapter, Canister
// Manager, ...) failed. The lifecycle engine marks the in-flight request
// Failed with the adapter's reason.
type ExternalError struct {
	Reason string
}

func (e *ExternalError) Error() string {
	return e.Reason
}

func External(reason string) error {
	return &ExternalError{Reason: reason}
}

// As* helpers let callers branch on kind without importing errors.As at
// every call site.

func AsNotFound(err error) (*NotFoundError, bool) {
	var e *NotFoundError
	ok := errors.As(err, &e)
	return e, ok
}

func AsValidation(err error) (*ValidationError, bool) {
	var e *ValidationError
	ok := errors.As(err, &e)
	return e, ok
}

func AsAuthorization(err error) (*AuthorizationError, bool) {
	var e *AuthorizationError
	ok := errors.As(err, &e)
	return e, ok
}

func AsConflict(err error) (*ConflictError, bool) {
	var e *ConflictError
	ok := errors.As(err, &e)
	return e, ok
}

func AsEvaluate(err error) (*EvaluateError, bool) {
	var e *EvaluateError
	ok := errors.As(err, &e)
	return e, ok
}

func AsExternal(err error) (*ExternalError, bool) {
	var e *ExternalError
	ok := errors.As(err, &e)
	return e, ok
}
