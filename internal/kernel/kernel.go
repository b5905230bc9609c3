// Package kernel defines the minimal contract the agent core requires from
// an IPython code executor ("ipybox"). The wire protocol of a real kernel is
// opaque and out of scope for this repository (spec §1(ii)); this package
// only fixes the event set a transport must produce: an approval dialogue
// for programmatic tool calls, streaming output chunks, and a final result.
package kernel

import (
	"context"
	"path/filepath"
)

// ApprovalRequest is raised by the kernel when executing code invokes a
// programmatic tool call (PTC) — the model's Python code calling an MCP
// tool directly rather than through a JSON tool call. The caller must
// resolve it with Accept or Reject before execution resumes.
type ApprovalRequest struct {
	ServerName string
	ToolName   string
	ToolArgs   map[string]any

	resolve func(bool)
}

// NewApprovalRequest constructs a request wired to the given resolution
// callback. Transports use this to bridge their own approval primitive to
// the kernel.ApprovalRequest contract.
func NewApprovalRequest(serverName, toolName string, toolArgs map[string]any, resolve func(bool)) ApprovalRequest {
	return ApprovalRequest{ServerName: serverName, ToolName: toolName, ToolArgs: toolArgs, resolve: resolve}
}

// Accept allows the pending programmatic tool call to proceed.
func (a ApprovalRequest) Accept() { a.resolve(true) }

// Reject denies the pending programmatic tool call.
func (a ApprovalRequest) Reject() { a.resolve(false) }

// Chunk is one piece of streaming stdout/stderr produced while a code cell
// is still executing.
type Chunk struct {
	Text string
}

// Result is the final outcome of a code cell execution.
type Result struct {
	Text   string
	Images []string // paths to materialized image files, relative to the session images dir
}

// Event is the tagged union a kernel stream yields: exactly one of the
// fields below is non-nil for any given value.
type Event struct {
	Approval *ApprovalRequest
	Chunk    *Chunk
	Result   *Result
}

// Executor is the contract a kernel transport must satisfy. Implementers may
// substitute any transport (local process, sandboxed microVM, remote
// service) as long as Execute produces the Event sequence described above
// and Reset clears persisted kernel state.
type Executor interface {
	// Execute submits code for execution and streams events until the
	// kernel yields a terminal Result or ctx is cancelled.
	Execute(ctx context.Context, code string) (<-chan Event, error)

	// Reset clears all variables and imports from the kernel's namespace.
	Reset(ctx context.Context) error
}

// ImagePath joins a kernel's configured images directory with a result image
// filename, mirroring how the original implementation renders image
// markdown links relative to the working directory.
func ImagePath(imagesDir, name string) string {
	return filepath.Join(imagesDir, name)
}
