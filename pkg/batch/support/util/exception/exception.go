// Package exception provides the error types shared by every layer of the batch engine.
// Errors are classified as skippable (one item may be excluded from a chunk) or fatal
// (the owning step execution fails), and can be referenced by name from configuration
// through the error registry.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
)

// errorRegistry maps error names used in configuration to prototype errors compared with errors.Is.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a named error prototype.
// Registered names can be listed as skippable errors in step configuration.
// It panics when name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name has been registered with RegisterErrorType.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type raised by engine components and collaborators.
// It records the module where the error occurred and whether the failing item may be skipped
// or the operation retried.
type BatchError struct {
	// Module names the component that raised the error (e.g. "reader", "chunk_step").
	Module string
	// Message is a short description of the failure.
	Message string
	// OriginalErr is the wrapped cause, if any.
	OriginalErr error

	isSkippable bool
	isRetryable bool
}

// NewBatchError creates a BatchError.
//
// Parameters:
//
//	module: The module where the error occurred.
//	message: The error message.
//	originalErr: The wrapped cause (may be nil).
//	isSkippable: Whether the failing item may be skipped.
//	isRetryable: Whether the failing operation may be retried.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isSkippable: isSkippable,
		isRetryable: isRetryable,
	}
}

// NewBatchErrorf creates a non-skippable, non-retryable BatchError with a formatted message.
// If the last argument is an error it becomes the wrapped cause and is not used for formatting.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok && strings.Count(format, "%") < len(a) {
			originalErr = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), originalErr, false, false)
}

// NewSkippableError creates a BatchError that marks a single item as skippable.
func NewSkippableError(module, message string, originalErr error) *BatchError {
	return NewBatchError(module, message, originalErr, true, false)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsSkippable reports whether the failing item may be skipped.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsRetryable reports whether the failing operation may be retried.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsBatchError reports whether err, or any error it wraps, is a BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsSkippable reports whether err carries the skippable flag anywhere in its chain.
func IsSkippable(err error) bool {
	var be *BatchError
	for err != nil {
		if errors.As(err, &be) {
			if be.IsSkippable() {
				return true
			}
			err = be.OriginalErr
			continue
		}
		return false
	}
	return false
}

// IsErrorOfType reports whether err matches the named error type.
// The name is checked, in order, against registered prototypes (errors.Is), the Go type
// name of each error in the chain (e.g. "*strconv.NumError"), and finally as a substring
// of each error message in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil || errorTypeName == "" {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for current := err; current != nil; current = errors.Unwrap(current) {
		errType := reflect.TypeOf(current)
		if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
			return true
		}
		if strings.Contains(current.Error(), errorTypeName) {
			return true
		}
	}
	return false
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) && be == err {
		if be.OriginalErr != nil {
			return fmt.Sprintf("%s: %v", be.Message, be.OriginalErr)
		}
		return be.Message
	}
	return err.Error()
}

// --- Step level failures ---

// ErrSkipLimitExceeded is the sentinel matched by SkipLimitExceededError.
var ErrSkipLimitExceeded = errors.New("skip limit exceeded")

// SkipLimitExceededError fails a step once a skippable error arrives after the skip budget is spent.
type SkipLimitExceededError struct {
	StepName string
	Limit    int
	Cause    error
}

func (e *SkipLimitExceededError) Error() string {
	return fmt.Sprintf("step '%s': skip limit %d exceeded: %v", e.StepName, e.Limit, e.Cause)
}

// Unwrap exposes both the sentinel and the error that could not be skipped.
func (e *SkipLimitExceededError) Unwrap() []error {
	return []error{ErrSkipLimitExceeded, e.Cause}
}

// PartitionError reports the failure of one partition of a partitioned step.
type PartitionError struct {
	StepName      string
	PartitionName string
	Cause         error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition '%s' of step '%s' failed: %v", e.PartitionName, e.StepName, e.Cause)
}

func (e *PartitionError) Unwrap() error {
	return e.Cause
}

// ErrOptimisticLockingFailure is returned by repositories when a stale version is updated.
var ErrOptimisticLockingFailure = errors.New("OptimisticLockingFailureException")

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

func init() {
	RegisterErrorType("OptimisticLockingFailureException", ErrOptimisticLockingFailure)
	RegisterErrorType("SkipLimitExceeded", ErrSkipLimitExceeded)
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
