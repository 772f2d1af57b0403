// Package exception provides the error types shared by every layer of the import engine.
// Errors are classified into tiers (compilation, record, system) and carry a stable
// machine-readable code so that callers can aggregate and localize them without string matching.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Code is a stable, machine-readable error code. The set of codes is closed.
type Code string

const (
	CodeValidationFailed     Code = "validation-failed"
	CodeDuplicateRecord      Code = "duplicate-record"
	CodeMissingRequiredField Code = "missing-required-field"
	CodeInvalidDataType      Code = "invalid-data-type"
	CodeReferenceNotFound    Code = "reference-not-found"
	CodeTransformationFailed Code = "transformation-failed"
	CodeSystemError          Code = "system-error"
	CodeNetworkError         Code = "network-error"
	CodePermissionDenied     Code = "permission-denied"
	CodeFileTooLarge         Code = "file-too-large"
	CodeUnsupportedFormat    Code = "unsupported-format"
)

// Codes lists every known code in a fixed order.
var Codes = []Code{
	CodeValidationFailed,
	CodeDuplicateRecord,
	CodeMissingRequiredField,
	CodeInvalidDataType,
	CodeReferenceNotFound,
	CodeTransformationFailed,
	CodeSystemError,
	CodeNetworkError,
	CodePermissionDenied,
	CodeFileTooLarge,
	CodeUnsupportedFormat,
}

// Valid reports whether c belongs to the fixed vocabulary.
func (c Code) Valid() bool {
	for _, known := range Codes {
		if c == known {
			return true
		}
	}
	return false
}

// Tier classifies where an error originated and how far its effect reaches.
type Tier string

const (
	// TierCompilation covers malformed mapping or rule configuration. Aborts the job before any record is touched.
	TierCompilation Tier = "compilation"
	// TierRecord covers validation and transformation failures scoped to a single record.
	TierRecord Tier = "record"
	// TierSystem covers repository and storage faults.
	TierSystem Tier = "system"
)

// errorRegistry maps error names referenced in configuration (e.g. retry policies) to sentinel errors.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers a named sentinel error so that IsErrorOfType can match it with errors.Is.
// It panics if name is empty or prototype is nil.
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

// IsErrorTypeRegistered checks if the specified error type name is registered.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// EngineError is the error type raised by the import engine.
// It records the module that raised it, a code from the fixed vocabulary, the tier
// and whether the failure is transient (eligible for the retry policy).
type EngineError struct {
	// Module indicates where the error occurred (e.g. "mapping", "executor", "store").
	Module string
	// Code is the stable machine-readable code.
	Code Code
	// Tier is the error tier.
	Tier Tier
	// Message is a concise description of the error.
	Message string
	// Field names the offending field, if any.
	Field string
	// OriginalErr is the wrapped original error.
	OriginalErr error

	transient bool
}

// NewEngineError creates a new EngineError.
func NewEngineError(module string, tier Tier, code Code, message string, originalErr error, transient bool) *EngineError {
	return &EngineError{
		Module:      module,
		Code:        code,
		Tier:        tier,
		Message:     message,
		OriginalErr: originalErr,
		transient:   transient,
	}
}

// NewCompilationError creates a compilation-tier error. Compilation errors are never transient.
func NewCompilationError(module, message string, originalErr error) *EngineError {
	return NewEngineError(module, TierCompilation, CodeValidationFailed, message, originalErr, false)
}

// NewRecordError creates a record-tier error scoped to one field.
func NewRecordError(module string, code Code, field, message string, originalErr error) *EngineError {
	e := NewEngineError(module, TierRecord, code, message, originalErr, false)
	e.Field = field
	return e
}

// NewTransientError creates a system-tier error that the retry policy may re-attempt.
func NewTransientError(module, message string, originalErr error) *EngineError {
	return NewEngineError(module, TierSystem, CodeNetworkError, message, originalErr, true)
}

// NewPermanentError creates a system-tier error that must not be retried.
func NewPermanentError(module, message string, originalErr error) *EngineError {
	return NewEngineError(module, TierSystem, CodeSystemError, message, originalErr, false)
}

// OptimisticLockingFailureException is the registered name of ErrOptimisticLockingFailure.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is a sentinel error indicating a lost optimistic update.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailureException creates an error indicating an optimistic locking failure.
// Such failures are permanent: the caller lost the race and must not retry blindly.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *EngineError {
	errToWrap := ErrOptimisticLockingFailure
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewPermanentError(module, message, errToWrap)
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Module, e.Code)
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.OriginalErr != nil {
		fmt.Fprintf(&b, ": %v", e.OriginalErr)
	}
	return b.String()
}

// Unwrap returns the original error for errors.Unwrap.
func (e *EngineError) Unwrap() error {
	return e.OriginalErr
}

// IsTransient returns whether the error may be retried.
func (e *EngineError) IsTransient() bool {
	return e.transient
}

// AsEngineError finds the first EngineError in err's chain.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsTransient determines if an error is transient (e.g. network error, stalled repository call).
// The transient flag of an EngineError takes precedence; otherwise context deadlines and
// common connection failure messages are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := AsEngineError(err); ok {
		return ee.IsTransient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// CodeOf returns the code of err, defaulting to system-error for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if ee, ok := AsEngineError(err); ok {
		return ee.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeNetworkError
	}
	return CodeSystemError
}

// TierOf returns the tier of err, defaulting to system for foreign errors.
func TierOf(err error) Tier {
	if ee, ok := AsEngineError(err); ok {
		return ee.Tier
	}
	return TierSystem
}

// IsErrorOfType checks if an error matches a type name. The name may be a registered
// sentinel, a Go type name (e.g. "*net.OpError") or a substring of an error message.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// FieldOf returns the Field of the first EngineError in err's chain.
func FieldOf(err error) string {
	if ee, ok := AsEngineError(err); ok {
		return ee.Field
	}
	return ""
}

// ExtractErrorMessage returns the Message of an EngineError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if ee, ok := AsEngineError(err); ok {
		return ee.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
}
