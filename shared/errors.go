package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryOracle         ErrorCategory = "oracle"
	ErrorCategorySource         ErrorCategory = "source"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryQuota          ErrorCategory = "quota"
	ErrorCategoryDatabase       ErrorCategory = "database"
	ErrorCategoryInternal       ErrorCategory = "internal"
)

// Sentinels matched by errors.Is against any ServiceError of the same category.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrValidation        = errors.New("validation failed")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrSourceUnavailable = errors.New("content source unavailable")
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("query quota exceeded")
	ErrDatabase          = errors.New("database error")
)

var categorySentinels = map[ErrorCategory]error{
	ErrorCategoryAuthentication: ErrUnauthenticated,
	ErrorCategoryValidation:     ErrValidation,
	ErrorCategoryOracle:         ErrOracleUnavailable,
	ErrorCategorySource:         ErrSourceUnavailable,
	ErrorCategoryNotFound:       ErrNotFound,
	ErrorCategoryQuota:          ErrQuotaExceeded,
	ErrorCategoryDatabase:       ErrDatabase,
}

// ServiceError represents a standardized error with additional context
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     interface{}   `json:"details,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Cause       error         `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel of this error's category.
func (e *ServiceError) Is(target error) bool {
	sentinel, ok := categorySentinels[e.Category]
	return ok && sentinel == target
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Cause:       cause,
	}
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

// LogError logs the error with structured fields merged over extra.
func (e *ServiceError) LogError(extra logrus.Fields) {
	fields := logrus.Fields{}
	for key, value := range extra {
		fields[key] = value
	}
	fields["error_category"] = e.Category
	fields["error_code"] = e.Code
	fields["error_message"] = e.Message
	fields["service_name"] = e.ServiceName
	fields["operation"] = e.Operation
	fields["timestamp"] = e.Timestamp
	if e.Details != nil {
		fields["details"] = e.Details
	}
	if e.Cause != nil {
		fields["underlying_error"] = e.Cause.Error()
	}
	logrus.WithFields(fields).Error("Service error occurred")
}

func NewValidationError(serviceName, operation, message string) *ServiceError {
	return NewServiceError(ErrorCategoryValidation, "INVALID_INPUT", message, serviceName, operation, nil)
}

func NewUnauthenticatedError(operation string) *ServiceError {
	return NewServiceError(ErrorCategoryAuthentication, "UNAUTHENTICATED", "Please login first", "session-gate", operation, nil)
}

func NewOracleUnavailableError(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrorCategoryOracle, "ORACLE_UNAVAILABLE", "AI service is unavailable", serviceName, operation, cause)
}

func NewSourceUnavailableError(serviceName, operation string, cause error) *ServiceError {
	return NewServiceError(ErrorCategorySource, "SOURCE_UNAVAILABLE", "content source is unavailable", serviceName, operation, cause)
}

func NewNotFoundError(serviceName, operation, message string) *ServiceError {
	return NewServiceError(ErrorCategoryNotFound, "NOT_FOUND", message, serviceName, operation, nil)
}

func NewQuotaExceededError(serviceName, operation string, limit int) *ServiceError {
	return NewServiceError(ErrorCategoryQuota, "QUOTA_EXCEEDED",
		fmt.Sprintf("Monthly limit reached (%d)", limit), serviceName, operation, nil)
}

// WrapError wraps an existing error with service error context
func WrapError(err error, category ErrorCategory, code, serviceName, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	// If it's already a ServiceError, just update the context
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		serviceErr.ServiceName = serviceName
		serviceErr.Operation = operation
		return serviceErr
	}

	return NewServiceError(category, code, err.Error(), serviceName, operation, err)
}

// CategoryOf returns the category of the first ServiceError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Category
	}
	return ErrorCategoryInternal
}

// UserMessage returns a message safe to show to the end user.
func UserMessage(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Message
	}
	return "internal error"
}

// ScopedError is a failure isolated to one unit of a multi-part operation,
// e.g. a single community inside a fetch.
type ScopedError struct {
	Scope    string        `json:"scope"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// NewScopedError converts err into a ScopedError for scope.
func NewScopedError(scope string, err error) ScopedError {
	return ScopedError{
		Scope:    scope,
		Category: CategoryOf(err),
		Message:  err.Error(),
	}
}

// BuildBatchProcessingErrorSummary creates an error summary for batch processing results
func BuildBatchProcessingErrorSummary(successCount int, failures []ScopedError) string {
	var summaryBuilder strings.Builder
	summaryBuilder.WriteString(fmt.Sprintf("batch processing completed with %d successes and %d failures", successCount, len(failures)))

	sampleSize := len(failures)
	if sampleSize > 3 {
		sampleSize = 3
	}

	for i := 0; i < sampleSize; i++ {
		summaryBuilder.WriteString(fmt.Sprintf("; %s: %s", failures[i].Scope, failures[i].Message))
	}

	if len(failures) > sampleSize {
		summaryBuilder.WriteString(fmt.Sprintf("; and %d additional errors", len(failures)-sampleSize))
	}

	return summaryBuilder.String()
}
