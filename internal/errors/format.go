package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
)

// asRag returns the first RagError in the chain, wrapping anything else
// as an internal error.
func asRag(err error) *RagError {
	var re *RagError
	if stderrors.As(err, &re) {
		return re
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI formats an error for terminal output.
// With debug set, the aggregated causes are listed one per line.
func FormatForCLI(err error, debug bool) string {
	if err == nil {
		return ""
	}

	re := asRag(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", re.Message)
	if re.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", re.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", re.Code)

	if debug && re.Cause != nil {
		for _, cause := range unjoin(re.Cause) {
			fmt.Fprintf(&sb, "  Cause: %s\n", cause.Error())
		}
	}

	return sb.String()
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Causes     []string          `json:"causes,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	re := asRag(err)
	je := jsonError{
		Code:       re.Code,
		Message:    re.Message,
		Category:   string(re.Category),
		Severity:   string(re.Severity),
		Details:    re.Details,
		Suggestion: re.Suggestion,
		Retryable:  re.Retryable,
	}
	if re.Cause != nil {
		for _, cause := range unjoin(re.Cause) {
			je.Causes = append(je.Causes, cause.Error())
		}
	}

	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var re *RagError
	if !stderrors.As(err, &re) {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", re.Code),
		slog.String("error", re.Message),
		slog.String("category", string(re.Category)),
		slog.Bool("retryable", re.Retryable),
	}
	if re.Cause != nil {
		attrs = append(attrs, slog.String("cause", re.Cause.Error()))
	}
	for k, v := range re.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
