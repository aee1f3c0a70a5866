// Package mcp implements the Model Context Protocol server surface: the
// query and ingest tools plus diagnostic resources, bridging MCP clients
// to the retrieval engine.
package mcp

import (
	"context"
	"errors"
	"fmt"

	loreerr "github.com/loreweave/loreweave/internal/errors"
)

// JSON-RPC error codes used on the MCP surface.
const (
	// ErrCodeStoreUnavailable indicates a storage backend failure.
	ErrCodeStoreUnavailable = -32001

	// ErrCodeIngestFailed indicates document ingestion failed.
	ErrCodeIngestFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts engine errors to MCP errors. LoreError codes carry
// the mapping; anything unrecognized is an internal error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var le *loreerr.LoreError
	if errors.As(err, &le) {
		return mapLoreError(le)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an invalid-parameters error with a custom
// message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

func mapLoreError(le *loreerr.LoreError) *MCPError {
	message := le.Message
	if le.Suggestion != "" {
		message = fmt.Sprintf("%s %s", le.Message, le.Suggestion)
	}

	switch le.Code {
	case loreerr.ErrCodeValidationFailed, loreerr.ErrCodeMarkerInvalid, loreerr.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case loreerr.ErrCodeTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case loreerr.ErrCodeStoreUnreachable:
		return &MCPError{Code: ErrCodeStoreUnavailable, Message: message}
	case loreerr.ErrCodeIngestFailed:
		return &MCPError{Code: ErrCodeIngestFailed, Message: message}
	}

	switch le.Category {
	case loreerr.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case loreerr.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case loreerr.CategoryStorage:
		return &MCPError{Code: ErrCodeStoreUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
