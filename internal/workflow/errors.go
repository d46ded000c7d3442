package workflow

import "errors"

// Sentinel error kinds surfaced by manager and executor operations.
// Callers match with errors.Is; the wrapped text carries the detail.
var (
	// ErrNotFound marks an unknown tool name or a missing graph file.
	ErrNotFound = errors.New("workflow not found")

	// ErrBadInput marks a caller mistake: a missing required parameter
	// or an invalid tool name.
	ErrBadInput = errors.New("bad input")

	// ErrParseFailed marks a graph that could not be parsed: malformed
	// JSON or a DSL violation such as a duplicate MCP node.
	ErrParseFailed = errors.New("workflow parse failed")
)
