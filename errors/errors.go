// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds error codes, so that every failure
// surfaced by the kernel can be matched against the invariant or permission
// it violated.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded Code = "Uncoded"

	// Lifecycle.
	ErrTransactionNotOpen    Code = "TransactionNotOpen"
	ErrTransactionTerminated Code = "TransactionTerminated"
	ErrCursorClosed          Code = "CursorClosed"

	// Index resolution.
	ErrIndexNotFound  Code = "IndexNotFound"
	ErrIndexNotOnline Code = "IndexNotOnline"
	ErrIndexBroken    Code = "IndexBroken"

	// Query shape.
	ErrUnsupportedQuery      Code = "UnsupportedQuery"
	ErrTransactionHasChanges Code = "TransactionHasChanges"

	// Permissions.
	ErrAuthorizationViolation Code = "AuthorizationViolation"

	// Validation.
	ErrUniquenessConflict   Code = "UniquenessConflict"
	ErrSchemaAndDataMixed   Code = "SchemaAndDataMixed"
	ErrEntityNotFound       Code = "EntityNotFound"
	ErrNodeHasRelationships Code = "NodeHasRelationships"
	ErrProcedureNotFound    Code = "ProcedureNotFound"
	ErrLockTimeout          Code = "LockTimeout"
	ErrSchemaRuleExists     Code = "SchemaRuleExists"
	ErrSchemaRuleNotFound   Code = "SchemaRuleNotFound"

	// Defensive invariant checks.
	ErrInternalInconsistency Code = "InternalInconsistency"
)

func New(code Code, message string) error {
	return errors.WithStack(codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, fmt.Sprintf(format, args...))
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is is a fork of the Is() method from `pkg/errors` which takes as its target
// an error Code instead of an error.
func Is(err error, target Code) bool {
	match := codedError{
		Code: target,
	}
	return errors.Is(err, match)
}

// CodeOf returns the code of the first coded error in err's chain, or the
// empty code if there is none.
func CodeOf(err error) Code {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var carrier coder
	if errors.As(err, &carrier) {
		return carrier.code()
	}
	return ""
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code
	Message string
}

func (ce codedError) Error() string {
	return ce.Message
}

func (ce codedError) Is(err error) bool {
	switch e := err.(type) {
	case codedError:
		return ce.Code == e.Code
	}
	return false
}

// coder is implemented by the typed detail errors below so that Is works on
// them without forcing callers to unwrap.
type coder interface {
	code() Code
}

// UniquenessConflictError is returned when a uniqueness-backed index already
// holds another entity for the value tuple being written.
type UniquenessConflictError struct {
	IndexName     string
	ConflictingID int64
	Tuple         string
}

func (e *UniquenessConflictError) Error() string {
	return fmt.Sprintf("entity %d already exists in index '%s' with value %s", e.ConflictingID, e.IndexName, e.Tuple)
}

func (e *UniquenessConflictError) code() Code { return ErrUniquenessConflict }

// Is lets errors.Is(err, ErrUniquenessConflict) match.
func (e *UniquenessConflictError) Is(target error) bool {
	ce, ok := target.(codedError)
	return ok && ce.Code == ErrUniquenessConflict
}

// NewUniquenessConflict returns a stack-carrying *UniquenessConflictError.
func NewUniquenessConflict(index string, conflicting int64, tuple string) error {
	return errors.WithStack(&UniquenessConflictError{
		IndexName:     index,
		ConflictingID: conflicting,
		Tuple:         tuple,
	})
}

// AuthorizationError describes an action the current principal may not
// perform.
type AuthorizationError struct {
	Principal string
	Action    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s is not allowed for user '%s'", e.Action, e.Principal)
}

func (e *AuthorizationError) code() Code { return ErrAuthorizationViolation }

func (e *AuthorizationError) Is(target error) bool {
	ce, ok := target.(codedError)
	return ok && ce.Code == ErrAuthorizationViolation
}

// NewAuthorizationError returns a stack-carrying *AuthorizationError.
func NewAuthorizationError(principal, action string) error {
	return errors.WithStack(&AuthorizationError{
		Principal: principal,
		Action:    action,
	})
}
