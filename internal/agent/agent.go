// Package agent implements the code-action agent runtime core: the agent
// facade (C11), the turn engine (C8), the tool executor (C9), and the
// subagent runner (C10), grounded on original_source/freeact/agent/core.py.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/freeact-go/freeact/internal/kernel"
	"github.com/freeact-go/freeact/internal/materializer"
	"github.com/freeact-go/freeact/internal/mcpclient"
	"github.com/freeact-go/freeact/internal/registry"
	"github.com/freeact-go/freeact/internal/supervisor"
	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

// Agent drives a model through multi-turn tool-use loops. Lifecycle:
// New → Start → any number of Stream calls → Stop. Start brings up the
// kernel and every MCP server concurrently with partial-failure rollback;
// Stop tears them down concurrently.
type Agent struct {
	cfg    Config
	logger *slog.Logger

	kernel      kernel.Executor
	kernelMu    sync.Mutex
	servers     map[string]*mcpclient.Server
	sups        []*supervisor.Supervisor
	reg         *registry.Registry
	mat         *materializer.Materializer
	subagentSem *semaphore.Weighted

	mu      sync.Mutex
	history []model.Message
	started bool
}

// New validates cfg and constructs an Agent. No resources are acquired
// until Start.
func New(cfg Config) (*Agent, error) {
	cfg = cfg.sanitize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.subagentSem == nil {
		cfg.subagentSem = semaphore.NewWeighted(int64(cfg.MaxConcurrentSubagents))
	}

	logger := cfg.Logger.With("agent_id", cfg.AgentID)
	return &Agent{
		cfg:    cfg,
		logger: logger,
		mat: materializer.New(cfg.Store, materializer.Config{
			InlineMaxBytes: cfg.InlineMaxBytes,
			PreviewLines:   cfg.PreviewLines,
			WorkingDir:     cfg.WorkingDir,
		}, logger),
		subagentSem: cfg.subagentSem,
	}, nil
}

// ID returns the agent's immutable identity.
func (a *Agent) ID() string { return a.cfg.AgentID }

// Start acquires the kernel and every configured MCP server in parallel,
// enumerates MCP tools into the registry, loads the permission file, and —
// for the main agent only — restores prior history from the session store.
// If any resource fails to start, the others are stopped before the error
// is returned.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.mu.Unlock()

	reg, err := registry.New(a.cfg.EnableSubagents)
	if err != nil {
		return err
	}

	servers := a.cfg.prebuiltServers
	if servers == nil {
		servers, err = mcpclient.NewServers(a.cfg.MCPServers)
		if err != nil {
			return err
		}
	}

	k := a.cfg.NewKernel()
	sups := make([]*supervisor.Supervisor, 0, len(servers)+1)
	sups = append(sups, supervisor.New("kernel", kernelResource(k)))
	for _, name := range sortedServerNames(servers) {
		sups = append(sups, supervisor.New("mcp:"+name, servers[name]))
	}

	if err := supervisor.StartAll(ctx, sups...); err != nil {
		return err
	}

	rollback := func(err error) error {
		if stopErr := supervisor.StopAll(sups...); stopErr != nil {
			a.logger.Warn("rollback after failed start", "error", stopErr)
		}
		return err
	}

	for _, name := range sortedServerNames(servers) {
		if err := reg.AddMCPServer(ctx, servers[name]); err != nil {
			return rollback(err)
		}
	}

	if err := a.cfg.Permissions.Load(); err != nil {
		return rollback(err)
	}

	var history []model.Message
	if a.cfg.AgentID == MainAgentID {
		history, err = a.cfg.Store.Load(a.cfg.AgentID)
		if err != nil {
			return rollback(err)
		}
	}

	a.mu.Lock()
	a.kernel = k
	a.servers = servers
	a.sups = sups
	a.reg = reg
	a.history = history
	a.started = true
	a.mu.Unlock()

	a.logger.Info("agent started", "mcp_servers", len(servers), "restored_messages", len(history))
	return nil
}

// Stop tears down the kernel and every MCP server concurrently. A single
// teardown failure is returned directly; multiple failures are joined.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	sups := a.sups
	a.started = false
	a.mu.Unlock()

	return supervisor.StopAll(sups...)
}

// History returns a snapshot of the agent's message history.
func (a *Agent) History() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Run is a live agent stream. Drain Events until it closes, then read Err
// for the terminal error, if any. Every ApprovalRequest event received from
// Events must be resolved, or the turn blocks.
type Run struct {
	ch  chan events.Event
	err error
}

// Events yields the run's event stream in emission order.
func (r *Run) Events() <-chan events.Event { return r.ch }

// Err reports the error the run terminated with. Valid only after Events
// has closed.
func (r *Run) Err() error { return r.err }

// StreamOption customizes one Stream call.
type StreamOption func(*streamOptions)

type streamOptions struct {
	maxTurns int
}

// WithMaxTurns bounds the number of tool-execution rounds in this stream.
// Zero means unbounded: the stream runs until the model stops calling tools.
func WithMaxTurns(n int) StreamOption {
	return func(o *streamOptions) { o.maxTurns = n }
}

// Stream submits a user prompt and returns the resulting event stream. The
// prompt is an ordered mix of text and media-typed attachments; use
// model.TextPrompt for the plain-text case.
func (a *Agent) Stream(ctx context.Context, prompt []model.UserContent, opts ...StreamOption) (*Run, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	if len(prompt) == 0 {
		return nil, fmt.Errorf("agent: empty prompt")
	}

	var o streamOptions
	for _, opt := range opts {
		opt(&o)
	}

	run := &Run{ch: make(chan events.Event, 16)}
	emit := func(ev events.Event) {
		if a.cfg.Sink != nil {
			a.cfg.Sink.Emit(ev)
		}
		select {
		case run.ch <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(run.ch)
		run.err = a.runTurns(ctx, emit, prompt, o.maxTurns)
	}()
	return run, nil
}

// appendHistory records messages in memory and in the session log. History
// writes are strictly sequential per agent.
func (a *Agent) appendHistory(messages ...model.Message) error {
	a.mu.Lock()
	a.history = append(a.history, messages...)
	a.mu.Unlock()
	return a.cfg.Store.Append(a.cfg.AgentID, messages)
}

func (a *Agent) historySnapshot() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Message, len(a.history))
	copy(out, a.history)
	return out
}

// kernelResource adapts an Executor to the supervisor Resource contract.
// Executors without an explicit lifecycle need no start/stop work.
func kernelResource(k kernel.Executor) supervisor.Resource {
	if lc, ok := k.(kernel.Lifecycle); ok {
		return supervisor.Funcs{StartFn: lc.Start, StopFn: lc.Stop}
	}
	return supervisor.Funcs{}
}

func sortedServerNames(servers map[string]*mcpclient.Server) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
