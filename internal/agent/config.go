package agent

import (
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/freeact-go/freeact/internal/kernel"
	"github.com/freeact-go/freeact/internal/mcpclient"
	"github.com/freeact-go/freeact/internal/permissions"
	"github.com/freeact-go/freeact/internal/session"
	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

// MainAgentID is the agent id of the root agent; subagents get generated
// "sub-<4 hex>" ids.
const MainAgentID = "main"

// Defaults applied by sanitize for zero-valued Config fields.
const (
	DefaultMaxConcurrentSubagents = 8
	DefaultInlineMaxBytes         = 16 * 1024
	DefaultPreviewLines           = 10
	DefaultMaxOutputChars         = 5000
	DefaultExecutionTimeout       = 300 * time.Second
	DefaultSubagentMaxTurns       = 100
)

// Config assembles every collaborator and threshold an Agent needs. The
// agent reads no environment directly; all paths, models, timeouts, and
// server configs arrive here.
type Config struct {
	// AgentID identifies this agent in events and session files.
	// Default: "main".
	AgentID string

	// SystemPrompt is prepended to the first request of a fresh history.
	SystemPrompt string

	// Model is the provider-agnostic LLM stream. Required.
	Model model.Stream

	// NewKernel constructs this agent's IPython executor. Each agent —
	// subagents included — gets an independent kernel. Required.
	NewKernel func() kernel.Executor

	// MCPServers is the declarative server map; clients are constructed at
	// Start.
	MCPServers map[string]mcpclient.ServerConfig

	// Store persists message history and spilled tool results. Required.
	Store *session.Store

	// Permissions holds the tool allow-lists. Required.
	Permissions *permissions.Manager

	// EnableSubagents controls whether subagent_task is offered to the
	// model. Forced false for subagents themselves.
	EnableSubagents bool

	// MaxConcurrentSubagents bounds subagent fan-out across the whole
	// agent tree. Default: 8.
	MaxConcurrentSubagents int

	// InlineMaxBytes is the materializer threshold above which tool
	// results are spilled to disk. Default: 16 KiB.
	InlineMaxBytes int

	// PreviewLines is the head/tail line count of a spilled text result's
	// preview. Default: 10.
	PreviewLines int

	// MaxOutputChars caps formatted code-execution output, preserving 80%
	// head and 20% tail when truncating. Default: 5000.
	MaxOutputChars int

	// ExecutionTimeout bounds one code cell execution. Default: 300s.
	ExecutionTimeout time.Duration

	// ApprovalTimeout bounds PTC approvals raised during code execution.
	// Zero means unbounded. Agent-level approvals are always unbounded.
	ApprovalTimeout time.Duration

	// WorkingDir anchors the relative paths printed in overflow notices.
	// Default: ".".
	WorkingDir string

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Sink, when set, receives a copy of every emitted event (metrics,
	// tracing). Never required by the stream contract.
	Sink events.Sink

	// subagentSem is the tree-wide fan-out semaphore, shared by the root
	// with all descendants. Populated by New when nil.
	subagentSem *semaphore.Weighted

	// prebuiltServers bypasses MCPServers construction; used by in-package
	// tests to inject fake transports.
	prebuiltServers map[string]*mcpclient.Server
}

// sanitize fills defaults for empty strings, nil loggers, and non-positive
// numeric fields.
func (c Config) sanitize() Config {
	if c.AgentID == "" {
		c.AgentID = MainAgentID
	}
	if c.MaxConcurrentSubagents <= 0 {
		c.MaxConcurrentSubagents = DefaultMaxConcurrentSubagents
	}
	if c.InlineMaxBytes <= 0 {
		c.InlineMaxBytes = DefaultInlineMaxBytes
	}
	if c.PreviewLines <= 0 {
		c.PreviewLines = DefaultPreviewLines
	}
	if c.MaxOutputChars <= 0 {
		c.MaxOutputChars = DefaultMaxOutputChars
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// validate reports the first missing required collaborator.
func (c Config) validate() error {
	if c.Model == nil {
		return &ConfigError{Field: "Model", Reason: "required"}
	}
	if c.NewKernel == nil {
		return &ConfigError{Field: "NewKernel", Reason: "required"}
	}
	if c.Store == nil {
		return &ConfigError{Field: "Store", Reason: "required"}
	}
	if c.Permissions == nil {
		return &ConfigError{Field: "Permissions", Reason: "required"}
	}
	return nil
}
