// Package errors provides structured error handling for amanrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, index storage)
//   - 3XX: Network errors (search engine, page fetch, embedding backend)
//   - 4XX: Validation errors
//   - 5XX: Retrieval errors (per-path failures and their aggregate)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and index storage errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryRetrieval indicates failures of a retrieval path.
	CategoryRetrieval Category = "RETRIEVAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the whole call failed and no evidence was produced.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates one retrieval path failed; the other may still succeed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex  = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexLocked   = "ERR_207_INDEX_LOCKED"
	ErrCodeIndexQuery    = "ERR_210_INDEX_QUERY_FAILED"
	ErrCodeUnsupportedIO = "ERR_211_UNSUPPORTED_FILE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeSearchFailed       = "ERR_310_SEARCH_FAILED"
	ErrCodeSearchRateLimited  = "ERR_311_SEARCH_RATE_LIMITED"
	ErrCodeExtractionFailed   = "ERR_320_EXTRACTION_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidLimit      = "ERR_405_INVALID_LIMIT"

	// Retrieval errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeRetrievalFailed = "ERR_503_RETRIEVAL_FAILED"
	ErrCodeTimeout         = "ERR_504_DEADLINE_EXCEEDED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryRetrieval
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryRetrieval
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeRetrievalFailed, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeSearchFailed, ErrCodeSearchRateLimited, ErrCodeExtractionFailed, ErrCodeTimeout:
		// Web path failures degrade the result, they never abort it.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeSearchRateLimited:
		return true
	default:
		return false
	}
}
