// Package registry implements the tool registry (spec §4.6, C6): it loads
// the bundled built-in tool definitions, enumerates MCP server tools with
// server-key name prefixing, and resolves a tool name at dispatch time to
// either a built-in handler kind or an owning MCP server, grounded on
// original_source/freeact/agent/core.py's tool-definition assembly in
// Agent.start() and its _execute_tool dispatch table.
package registry

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/freeact-go/freeact/internal/mcpclient"
	"github.com/freeact-go/freeact/pkg/model"
)

//go:embed schemas/*.json
var bundledSchemas embed.FS

// Built-in tool names, exactly as dispatched by the tool executor (C9).
const (
	ToolExecuteIPythonCell = "ipybox_execute_ipython_cell"
	ToolResetKernel        = "ipybox_reset"
	ToolSubagentTask       = "subagent_task"
)

var builtinDescriptions = map[string]string{
	ToolExecuteIPythonCell: "Execute Python code in the persistent IPython kernel. State (variables, imports) carries over between calls.",
	ToolResetKernel:        "Reset the IPython kernel, discarding all variables and imports accumulated so far.",
	ToolSubagentTask:       "Delegate a task to a freshly spawned subagent and wait for its final response.",
}

// builtinNames is the fixed load order of the bundled schemas, matching the
// declaration order in spec §4.6.
var builtinNames = []string{ToolExecuteIPythonCell, ToolResetKernel, ToolSubagentTask}

// Kind distinguishes how a resolved tool name should be dispatched.
type Kind int

const (
	KindUnknown Kind = iota
	KindExecuteIPythonCell
	KindResetKernel
	KindSubagentTask
	KindMCP
)

// Resolution is what Lookup returns for a tool-call name: its dispatch kind,
// and — for KindMCP — the owning server and the tool's original (unprefixed)
// name.
type Resolution struct {
	Kind       Kind
	ServerName string
	ToolName   string
}

// Registry holds every tool definition surfaced to the model this turn:
// the built-ins plus, when MCP servers are connected, their enumerated and
// name-prefixed tools.
type Registry struct {
	definitions      []model.ToolDefinition
	subagentsEnabled bool
	mcpOwner         map[string]string // prefixed name -> server name
	mcpBareName      map[string]string // prefixed name -> original tool name
}

// New validates the bundled built-in schemas and constructs a Registry
// carrying only the built-ins. EnableSubagents controls whether
// subagent_task is included — per spec §4.6 it is never offered to
// subagents themselves.
func New(enableSubagents bool) (*Registry, error) {
	defs := make([]model.ToolDefinition, 0, len(builtinNames))
	for _, name := range builtinNames {
		if name == ToolSubagentTask && !enableSubagents {
			continue
		}
		schema, err := loadSchema(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: builtinDescriptions[name],
			Parameters:  schema,
		})
	}
	return &Registry{
		definitions:      defs,
		subagentsEnabled: enableSubagents,
		mcpOwner:         map[string]string{},
		mcpBareName:      map[string]string{},
	}, nil
}

// loadSchema reads and validates the bundled schema for a built-in tool
// name, failing fast at construction rather than at first dispatch.
func loadSchema(name string) (json.RawMessage, error) {
	raw, err := bundledSchemas.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("registry: read bundled schema for %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("registry: schema %s is not a valid resource: %w", name, err)
	}
	if _, err := compiler.Compile(name + ".json"); err != nil {
		return nil, fmt.Errorf("registry: schema %s failed compilation: %w", name, err)
	}
	return json.RawMessage(raw), nil
}

// AddMCPServer enumerates server's tools via ctx and adds them to the
// registry under their server-prefixed name (<server>_<tool>), recording the
// owning server for later dispatch.
func (r *Registry) AddMCPServer(ctx context.Context, server *mcpclient.Server) error {
	tools, err := server.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("registry: enumerate tools on %s: %w", server.Name, err)
	}

	for _, tool := range tools {
		prefixed := server.Name + "_" + tool.Name
		params, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("registry: marshal input schema for %s: %w", prefixed, err)
		}
		r.definitions = append(r.definitions, model.ToolDefinition{
			Name:        prefixed,
			Description: tool.Description,
			Parameters:  params,
		})
		r.mcpOwner[prefixed] = server.Name
		r.mcpBareName[prefixed] = tool.Name
	}
	return nil
}

// Definitions returns every tool definition currently surfaced to the
// model, in a stable order (built-ins first in declared order, then MCP
// tools sorted by prefixed name).
func (r *Registry) Definitions() []model.ToolDefinition {
	builtinCount := 0
	for _, d := range r.definitions {
		if _, ok := r.mcpOwner[d.Name]; ok {
			break
		}
		builtinCount++
	}

	out := make([]model.ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	sort.SliceStable(out[builtinCount:], func(i, j int) bool {
		return out[builtinCount+i].Name < out[builtinCount+j].Name
	})
	return out
}

// Lookup resolves a model-issued tool-call name to a dispatch Kind.
func (r *Registry) Lookup(name string) Resolution {
	switch name {
	case ToolExecuteIPythonCell:
		return Resolution{Kind: KindExecuteIPythonCell}
	case ToolResetKernel:
		return Resolution{Kind: KindResetKernel}
	case ToolSubagentTask:
		// A registry built for a subagent never offered subagent_task, so
		// a call to it must not spawn a grandchild.
		if !r.subagentsEnabled {
			return Resolution{Kind: KindUnknown}
		}
		return Resolution{Kind: KindSubagentTask}
	}

	if server, ok := r.mcpOwner[name]; ok {
		return Resolution{Kind: KindMCP, ServerName: server, ToolName: r.mcpBareName[name]}
	}
	return Resolution{Kind: KindUnknown}
}
