package errors

import (
	stderrors "errors"
	"fmt"
)

// SourceError is the structured error type for sourcecolon.
// It carries enough context for the caller to decide between retrying,
// skipping a file or surfacing the failure.
type SourceError struct {
	// Code is the unique error code (e.g., "ERR_207_STREAM_READ").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Precondition sentinels. Compare with errors.Is; matching is by code.
var (
	ErrMissingArgument = &SourceError{Code: ErrCodeMissingArgument, Message: "required argument missing"}
	ErrNotAnalyzed     = &SourceError{Code: ErrCodeNotAnalyzed, Message: "analyzer has not analyzed any content"}
	ErrAlreadyRendered = &SourceError{Code: ErrCodeAlreadyRendered, Message: "cross-reference already rendered"}
	ErrAlreadyAnalyzed = &SourceError{Code: ErrCodeAlreadyAnalyzed, Message: "analyzer instance already used"}
	ErrPayloadInvalid  = &SourceError{Code: ErrCodePayloadInvalid, Message: "configuration payload rejected"}
	ErrPeerRejected    = &SourceError{Code: ErrCodePeerRejected, Message: "peer not authorized"}
	ErrStreamRead      = &SourceError{Code: ErrCodeStreamRead, Message: "input stream failed"}
)

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so a wrapped SourceError satisfies errors.Is against
// the sentinel with the same code.
func (e *SourceError) Is(target error) bool {
	if t, ok := target.(*SourceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SourceError) WithDetail(key, value string) *SourceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SourceError) WithSuggestion(suggestion string) *SourceError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SourceError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SourceError {
	return &SourceError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SourceError from an existing error.
func Wrap(code string, err error) *SourceError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// MissingArgument reports a nil or empty required argument.
func MissingArgument(name string) *SourceError {
	return New(ErrCodeMissingArgument, fmt.Sprintf("required argument %q missing", name), nil).
		WithDetail("argument", name)
}

// StreamError reports a failure of the primary byte stream of a file.
// The whole file is abandoned; the caller owns retry/skip policy.
func StreamError(path string, cause error) *SourceError {
	return New(ErrCodeStreamRead, fmt.Sprintf("reading %s", path), cause).
		WithDetail("path", path)
}

// MemberError reports a single archive member that could not be decoded.
func MemberError(member string, cause error) *SourceError {
	return New(ErrCodeMemberDecode, fmt.Sprintf("decoding member %s", member), cause).
		WithDetail("member", member)
}

// PayloadError reports a configuration payload that failed to deserialize or validate.
func PayloadError(cause error) *SourceError {
	return New(ErrCodePayloadInvalid, "configuration payload rejected", cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SourceError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *SourceError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var se *SourceError
	if stderrors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var se *SourceError
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SourceError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var se *SourceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}
