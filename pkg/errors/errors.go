package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryCategorization ErrorCategory = "categorization"
	CategoryPersistence    ErrorCategory = "persistence"
	CategoryBatch          ErrorCategory = "batch"
	CategoryRule           ErrorCategory = "rule"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"

	// Parse errors
	CodeNoTransactions ErrorCode = "no_transactions"
	CodeInvalidFormat  ErrorCode = "invalid_format"
	CodeEncodingError  ErrorCode = "encoding_error"

	// Field validation errors
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeMissingField  ErrorCode = "missing_field"
	CodeOutOfRange    ErrorCode = "out_of_range"

	// Categorization errors
	CodeSourceFailed    ErrorCode = "source_failed"
	CodeSourcePanicked  ErrorCode = "source_panicked"
	CodeNoDecision      ErrorCode = "no_decision"
	CodeRuleLoadFailed  ErrorCode = "rule_load_failed"

	// Persistence errors
	CodeWriteFailed ErrorCode = "write_failed"
	CodeReadFailed  ErrorCode = "read_failed"
	CodeNotFound    ErrorCode = "not_found"

	// Batch errors
	CodeChunkLoopFailed ErrorCode = "chunk_loop_failed"
	CodeInvalidState    ErrorCode = "invalid_state"
	CodeCancelled       ErrorCode = "cancelled"

	// Rule management errors
	CodeDuplicateRule   ErrorCode = "duplicate_rule"
	CodeInvalidPattern  ErrorCode = "invalid_pattern"
	CodeUnknownCategory ErrorCode = "unknown_category"
	CodeRuleNotFound    ErrorCode = "rule_not_found"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeConfigConflict ErrorCode = "config_conflict"

	// Internal errors
	CodeUnexpectedError   ErrorCode = "unexpected_error"
	CodeResourceExhausted ErrorCode = "resource_exhausted"
)

// CategorizerError is the base error type for all application errors
type CategorizerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *CategorizerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *CategorizerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *CategorizerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryBatch, CategoryPersistence, CategoryInternal:
		return 5
	case CategoryRule:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *CategorizerError) WithContext(key string, value interface{}) *CategorizerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *CategorizerError) WithSuggestion(suggestion string) *CategorizerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CategorizerError
func New(category ErrorCategory, code ErrorCode, message string) *CategorizerError {
	return &CategorizerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with CategorizerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *CategorizerError {
	if err == nil {
		return nil
	}

	return &CategorizerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(err error, category ErrorCategory, code ErrorCode, message string) *CategorizerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// Specific error constructors

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "export the statement again from the bank"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a document-level parsing error. The whole statement is rejected.
func ParseError(code ErrorCode, detail string, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeNoTransactions:
		message = "statement contains no valid transactions"
		suggestion = "verify the document is a bank statement export with at least one transaction block"
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid statement format: %s", detail)
		suggestion = "check the export format and ensure it matches the expected tag structure"
	case CodeEncodingError:
		message = "statement encoding is not valid UTF-8"
		suggestion = "save the file in UTF-8 encoding"
	default:
		message = fmt.Sprintf("statement parse error: %s", detail)
		suggestion = "check the file format and data integrity"
	}

	return build(err, CategoryParse, code, message).
		WithSuggestion(suggestion).
		WithContext("detail", detail)
}

// FieldValidationError creates an error for a single transaction block missing required fields.
// The block is dropped and parsing continues.
func FieldValidationError(code ErrorCode, block int, field string, value interface{}, err error) *CategorizerError {
	var message string

	switch code {
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in block %d field '%s': %v", block, field, value)
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in block %d field '%s': %v", block, field, value)
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty in block %d", field, block)
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in block %d field '%s': %v", block, field, value)
	default:
		message = fmt.Sprintf("validation error in block %d field '%s': %v", block, field, value)
	}

	return build(err, CategoryValidation, code, message).
		WithContext("block", block).
		WithContext("field", field).
		WithContext("value", value)
}

// ValidationError creates a generic input validation error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// CategorizationError creates an error raised inside the categorization chain.
// These never reach the batch caller; they are converted into an unclassified result.
func CategorizationError(code ErrorCode, source string, err error) *CategorizerError {
	var message string

	switch code {
	case CodeSourceFailed:
		message = fmt.Sprintf("classification source '%s' failed", source)
	case CodeSourcePanicked:
		message = fmt.Sprintf("classification source '%s' panicked", source)
	case CodeNoDecision:
		message = "no classification source produced a decision"
	case CodeRuleLoadFailed:
		message = fmt.Sprintf("failed to load rules for '%s'", source)
	default:
		message = fmt.Sprintf("categorization error in '%s'", source)
	}

	return build(err, CategoryCategorization, code, message).
		WithContext("source", source)
}

// PersistenceError creates a storage-related error
func PersistenceError(code ErrorCode, entity string, key string, err error) *CategorizerError {
	var message string

	switch code {
	case CodeWriteFailed:
		message = fmt.Sprintf("failed to write %s '%s'", entity, key)
	case CodeReadFailed:
		message = fmt.Sprintf("failed to read %s '%s'", entity, key)
	case CodeNotFound:
		message = fmt.Sprintf("%s '%s' not found", entity, key)
	default:
		message = fmt.Sprintf("storage error on %s '%s'", entity, key)
	}

	return build(err, CategoryPersistence, code, message).
		WithContext("entity", entity).
		WithContext("key", key)
}

// BatchFatalError creates an error for a failure escaping the chunk-processing loop.
// The batch is marked failed and the upload is left resumable.
func BatchFatalError(code ErrorCode, uploadID string, batchNumber int, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeChunkLoopFailed:
		message = fmt.Sprintf("batch %d of upload %s failed", batchNumber, uploadID)
		suggestion = "resume the upload once the underlying problem is fixed"
	case CodeInvalidState:
		message = fmt.Sprintf("upload %s is not in a processable state for batch %d", uploadID, batchNumber)
		suggestion = "check the upload status before processing"
	case CodeCancelled:
		message = fmt.Sprintf("batch %d of upload %s was cancelled", batchNumber, uploadID)
		suggestion = "resume the upload to continue from the last completed batch"
	default:
		message = fmt.Sprintf("batch error in upload %s", uploadID)
		suggestion = "resume the upload"
	}

	return build(err, CategoryBatch, code, message).
		WithSuggestion(suggestion).
		WithContext("upload_id", uploadID).
		WithContext("batch_number", batchNumber)
}

// RuleError creates a rule-management error
func RuleError(code ErrorCode, pattern string, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeDuplicateRule:
		message = fmt.Sprintf("a rule with pattern '%s' already exists", pattern)
		suggestion = "edit the existing rule instead of creating a new one"
	case CodeInvalidPattern:
		message = fmt.Sprintf("invalid rule pattern '%s'", pattern)
		suggestion = "fix the pattern syntax for the selected rule type"
	case CodeUnknownCategory:
		message = fmt.Sprintf("rule '%s' points at an unknown category", pattern)
		suggestion = "create the category first or choose an existing one"
	case CodeRuleNotFound:
		message = fmt.Sprintf("rule '%s' not found", pattern)
		suggestion = "list rules to find the correct identifier"
	default:
		message = fmt.Sprintf("rule error for pattern '%s'", pattern)
		suggestion = "review the rule definition"
	}

	return build(err, CategoryRule, code, message).
		WithSuggestion(suggestion).
		WithContext("pattern", pattern)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeConfigConflict:
		message = fmt.Sprintf("configuration conflict with setting '%s': %v", setting, value)
		suggestion = "resolve the conflicting settings or use default values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *CategorizerError {
	var message string
	var suggestion string

	switch code {
	case CodeUnexpectedError:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	case CodeResourceExhausted:
		message = fmt.Sprintf("resource exhausted during %s", operation)
		suggestion = "try reducing batch size or chunk size"
	default:
		message = fmt.Sprintf("internal error during %s", operation)
		suggestion = "try again or contact support if the problem persists"
	}

	return build(err, CategoryInternal, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*CategorizerError   `json:"errors"`
	SampleErrors []*CategorizerError   `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*CategorizerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*CategorizerError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// AsCategorizerError extracts a CategorizerError from an error chain
func AsCategorizerError(err error) (*CategorizerError, bool) {
	var categorizerErr *CategorizerError
	if errors.As(err, &categorizerErr) {
		return categorizerErr, true
	}
	return nil, false
}

// HasCode reports whether err carries a CategorizerError with the given code
func HasCode(err error, code ErrorCode) bool {
	categorizerErr, ok := AsCategorizerError(err)
	return ok && categorizerErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already a CategorizerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *CategorizerError {
	if err == nil {
		return nil
	}

	if categorizerErr, ok := AsCategorizerError(err); ok {
		return categorizerErr
	}

	return Wrap(err, category, code, message)
}
