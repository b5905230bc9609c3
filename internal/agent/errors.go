package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for agent lifecycle misuse.
var (
	// ErrNotStarted indicates Stream or Stop was called before Start.
	ErrNotStarted = errors.New("agent not started")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("agent already started")

	// ErrRejected marks a user rejection of a tool call. It never escapes
	// the agent; rejections surface as tool-return parts with
	// metadata.rejected = true.
	ErrRejected = errors.New("tool call rejected")
)

// ConfigError reports an invalid agent configuration. It is raised from
// construction or Start, never from within a turn.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("agent config: %s: %s", e.Field, e.Reason)
}

// ToolError wraps a transient tool failure (MCP call threw, kernel timed
// out, subagent crashed) with the name of the failing tool. The tool
// executor does not construct it: it reports transient failures to the model
// as tool-return strings, and the turn continues.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.ToolName, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
