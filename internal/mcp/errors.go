package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Custom MCP error codes for amanrag.
const (
	// ErrCodeIndexUnavailable indicates the local index could not be read.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeNoEvidence indicates no retrieval path produced evidence.
	ErrCodeNoEvidence = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	// Timeouts first: a retrieval failure caused by the deadline is
	// reported as a timeout.
	if errors.Is(err, amerrors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &MCPError{Code: ErrCodeTimeout, Message: message(err, "Request timed out.")}
	}
	if errors.Is(err, context.Canceled) {
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var re *amerrors.RagError
	if errors.As(err, &re) {
		return mapRagError(re)
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

func mapRagError(re *amerrors.RagError) *MCPError {
	msg := re.Message
	if re.Suggestion != "" {
		msg = fmt.Sprintf("%s. %s", re.Message, re.Suggestion)
	}

	switch {
	case re.Category == amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
	case re.Code == amerrors.ErrCodeRetrievalFailed:
		return &MCPError{Code: ErrCodeNoEvidence, Message: msg}
	case re.Code == amerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: msg}
	case re.Category == amerrors.CategoryIO:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: msg}
	case re.Category == amerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: msg}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}
}

func message(err error, fallback string) string {
	var re *amerrors.RagError
	if errors.As(err, &re) {
		return re.Message
	}
	return fallback
}

// NewInvalidParamsError creates an error for invalid tool arguments.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}
