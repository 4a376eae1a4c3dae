package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Storage/zone errors (1xxx)
	ErrCodeReadFault     ErrorCode = "LKLD1001"
	ErrCodeBatchNotFound ErrorCode = "LKLD1002"
	ErrCodeWriteFault    ErrorCode = "LKLD1003"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "LKLD2001"
	ErrCodeConfigInvalid  ErrorCode = "LKLD2002"
	ErrCodeUnknownTable   ErrorCode = "LKLD2003"

	// Conformance errors (3xxx)
	ErrCodeTypeMismatch         ErrorCode = "LKLD3001"
	ErrCodeRequiredFieldMissing ErrorCode = "LKLD3002"
	ErrCodeValidationFailed     ErrorCode = "LKLD3003"

	// Merge/load errors (4xxx)
	ErrCodeDanglingReference      ErrorCode = "LKLD4001"
	ErrCodeConcurrentModification ErrorCode = "LKLD4002"
	ErrCodePartitionSwapFault     ErrorCode = "LKLD4003"

	// Warehouse errors (5xxx)
	ErrCodeConnectionFailed     ErrorCode = "LKLD5001"
	ErrCodeConnectionTimeout    ErrorCode = "LKLD5002"
	ErrCodeAuthenticationFailed ErrorCode = "LKLD5003"
	ErrCodeSQLExecution         ErrorCode = "LKLD5004"
	ErrCodeSQLTransaction       ErrorCode = "LKLD5005"

	// Security errors (7xxx)
	ErrCodeAccessDenied     ErrorCode = "LKLD7001"
	ErrCodeEncryptionFailed ErrorCode = "LKLD7002"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "LKLD9001"
	ErrCodeTimeout            ErrorCode = "LKLD9002"
	ErrCodeResourceExhausted  ErrorCode = "LKLD9003"
	ErrCodeServiceUnavailable ErrorCode = "LKLD9004"
	ErrCodeCancelled          ErrorCode = "LKLD9005"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // Cycle cannot continue
	SeverityError    ErrorSeverity = "ERROR"    // Unit failed, cycle continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		Severity:    SeverityError,
		Context:     make(map[string]interface{}),
		Stack:       captureStack(),
		Timestamp:   time.Now(),
		Recoverable: false,
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit some properties
	if ae, ok := err.(*AppError); ok {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

// captureStack captures the current stack trace
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ReadFaultError creates a retryable storage read error
func ReadFaultError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeReadFault, message).
		WithSeverity(SeverityError).
		AsRecoverable().
		WithSuggestions(
			"Check that the storage zone is reachable",
			"Verify zone paths in the configuration",
		)
}

// BatchNotFoundError indicates no data landed for a batch
func BatchNotFoundError(sourceSystem, batchID string) *AppError {
	return New(ErrCodeBatchNotFound, fmt.Sprintf("No data landed for batch %s/%s", sourceSystem, batchID)).
		WithContext("source_system", sourceSystem).
		WithContext("batch_id", batchID).
		WithSuggestions(
			"Verify the batch id supplied by the scheduler",
			"Check that ingestion completed for this source system",
		)
}

// UnknownTableError indicates a table name is not registered
func UnknownTableError(table string) *AppError {
	return New(ErrCodeUnknownTable, fmt.Sprintf("Table %q is not registered", table)).
		WithContext("table", table).
		WithSuggestions(
			"Check the table definitions in the configuration",
			"Run 'lakeloader setup' to regenerate the configuration",
		)
}

// TypeMismatchError creates a conformance type coercion error
func TypeMismatchError(field string, value interface{}, wantType string) *AppError {
	return New(ErrCodeTypeMismatch, fmt.Sprintf("Field %q cannot be coerced to %s", field, wantType)).
		WithContext("field", field).
		WithContext("value", value).
		WithContext("want_type", wantType).
		WithSeverity(SeverityWarning)
}

// RequiredFieldError creates a missing required field error
func RequiredFieldError(field string) *AppError {
	return New(ErrCodeRequiredFieldMissing, fmt.Sprintf("Required field %q is missing", field)).
		WithContext("field", field).
		WithSeverity(SeverityWarning)
}

// DanglingReferenceError indicates a fact references a missing or
// non-current dimension row
func DanglingReferenceError(column string, surrogateKey int64) *AppError {
	return New(ErrCodeDanglingReference,
		fmt.Sprintf("Surrogate key %d in column %q does not resolve to a current dimension row", surrogateKey, column)).
		WithContext("column", column).
		WithContext("surrogate_key", surrogateKey)
}

// ConcurrentModificationError indicates two writers raced on the same
// natural key's current flag
func ConcurrentModificationError(naturalKey string) *AppError {
	return New(ErrCodeConcurrentModification,
		fmt.Sprintf("Current row for natural key %q changed during merge", naturalKey)).
		WithContext("natural_key", naturalKey).
		AsRecoverable()
}

// PartitionSwapError indicates an atomic swap failed after staging
func PartitionSwapError(table string, partition int, cause error) *AppError {
	return Wrap(cause, ErrCodePartitionSwapFault,
		fmt.Sprintf("Partition swap failed for %s partition %d", table, partition)).
		WithContext("table", table).
		WithContext("partition", partition).
		WithSuggestions(
			"Prior partition contents remain authoritative",
			"Re-run the cycle to retry the failed partition",
		)
}

// ConnectionError creates a warehouse connection error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check your network connection",
			"Verify the warehouse endpoint is accessible",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'lakeloader setup' to reconfigure",
		)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
