package errors

import (
	stderrors "errors"
	"fmt"
)

// RagError is the structured error type for amanrag.
// It carries enough context to decide whether a retrieval path degraded,
// failed, or whether the whole call must be aborted.
type RagError struct {
	// Code is the unique error code (e.g., "ERR_310_SEARCH_FAILED").
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

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RagError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a RagError with the same code.
func (e *RagError) Is(target error) bool {
	if t, ok := target.(*RagError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RagError) WithSuggestion(suggestion string) *RagError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RagError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagError from an existing error, reusing its message.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is matching by kind.
var (
	ErrEmbedding  = &RagError{Code: ErrCodeEmbeddingFailed}
	ErrIndexQuery = &RagError{Code: ErrCodeIndexQuery}
	ErrSearch     = &RagError{Code: ErrCodeSearchFailed}
	ErrExtraction = &RagError{Code: ErrCodeExtractionFailed}
	ErrRetrieval  = &RagError{Code: ErrCodeRetrievalFailed}
	ErrTimeout    = &RagError{Code: ErrCodeTimeout}
	ErrValidation = &RagError{Code: ErrCodeInvalidInput}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RagError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *RagError {
	return New(ErrCodeFileNotFound, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *RagError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RagError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RagError {
	return New(ErrCodeInternal, message, cause)
}

// EmbeddingError reports that text could not be turned into a vector.
func EmbeddingError(message string, cause error) *RagError {
	return New(ErrCodeEmbeddingFailed, message, cause).
		WithSuggestion("Check the embeddings provider with 'amanrag config'")
}

// IndexQueryError reports a failed vector index lookup.
func IndexQueryError(message string, cause error) *RagError {
	return New(ErrCodeIndexQuery, message, cause)
}

// SearchError reports a failed web search. It is never fatal on its own.
func SearchError(message string, cause error) *RagError {
	return New(ErrCodeSearchFailed, message, cause)
}

// ExtractionError reports that a result page could not be fetched or parsed.
func ExtractionError(url string, message string, cause error) *RagError {
	return New(ErrCodeExtractionFailed, message, cause).WithDetail("url", url)
}

// TimeoutError reports that the retrieval deadline elapsed before a path finished.
func TimeoutError(message string, cause error) *RagError {
	return New(ErrCodeTimeout, message, cause)
}

// RetrievalError aggregates the causes of a call that produced no evidence.
// The joined causes remain reachable through errors.Is and errors.As.
func RetrievalError(message string, causes ...error) *RagError {
	return New(ErrCodeRetrievalFailed, message, Aggregate(causes...)).
		WithSuggestion("Check network connectivity and that the index exists ('amanrag index <dir>')")
}

// Aggregate joins non-nil errors. It returns nil when all errors are nil
// and the error itself when only one is non-nil.
func Aggregate(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return stderrors.Join(kept...)
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first RagError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from the first RagError in the chain.
func GetCategory(err error) Category {
	var re *RagError
	if stderrors.As(err, &re) {
		return re.Category
	}
	return ""
}
