// Package mcpclient implements the MCP server manager (spec §4.7, C7): it
// turns a declarative server map into live stdio or streamable-HTTP MCP
// clients, applying each server's excluded_tools filter, grounded on
// mark3labs-mcphost's client wiring (cmd/root.go) and its excluded-tools
// wrapper (internal/builtin/registry.go).
package mcpclient

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig is one entry of the declarative MCP server map (spec §6). A
// valid entry has either Command (stdio) or URL (streamable HTTP) set, never
// neither or both.
type ServerConfig struct {
	Command       string            `yaml:"command,omitempty"`
	Args          []string          `yaml:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	URL           string            `yaml:"url,omitempty"`
	ExcludedTools []string          `yaml:"excluded_tools,omitempty"`
}

// Transport is the subset of mark3labs/mcp-go's client.MCPClient this
// package depends on. Factoring it out lets tests substitute an in-memory
// fake instead of spawning a real subprocess or HTTP server.
type Transport interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	Close() error
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Server is the contract the tool registry (C6) and tool executor (C9) use
// to enumerate and invoke a connected MCP server's tools, independent of its
// transport.
type Server struct {
	Name      string
	transport Transport

	excluded map[string]struct{}
}

// NewServer wraps an already-constructed Transport as a named Server. Used
// directly by newServer for production stdio/HTTP clients, and available to
// callers (including tests in other packages) that need to wire a fake
// Transport without a declarative ServerConfig.
func NewServer(name string, t Transport, excludedTools []string) *Server {
	return &Server{Name: name, transport: t, excluded: excludedSet(excludedTools)}
}

// Start connects the underlying transport and performs the MCP
// initialization handshake.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		return fmt.Errorf("mcpclient: start %s: %w", s.Name, err)
	}
	if _, err := s.transport.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return fmt.Errorf("mcpclient: initialize %s: %w", s.Name, err)
	}
	return nil
}

// Stop closes the underlying transport.
func (s *Server) Stop() error {
	if err := s.transport.Close(); err != nil {
		return fmt.Errorf("mcpclient: close %s: %w", s.Name, err)
	}
	return nil
}

// ListTools returns the server's tools with any excluded_tools names
// removed, mirroring _MCPServerStdioFiltered.list_tools in the reference
// implementation.
func (s *Server) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := s.transport.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools on %s: %w", s.Name, err)
	}
	if len(s.excluded) == 0 {
		return result.Tools, nil
	}

	filtered := make([]mcp.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		if _, skip := s.excluded[t.Name]; skip {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

// CallTool invokes name (without the server's tool-name prefix) with args.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := s.transport.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call %s on %s: %w", name, s.Name, err)
	}
	return result, nil
}

// NewServers constructs one Server per config entry, failing fast with the
// offending key named when an entry's shape is neither stdio nor HTTP
// (neither `command` nor `url` set, per spec §4.7).
func NewServers(configs map[string]ServerConfig) (map[string]*Server, error) {
	servers := make(map[string]*Server, len(configs))
	for name, cfg := range configs {
		server, err := newServer(name, cfg)
		if err != nil {
			return nil, err
		}
		servers[name] = server
	}
	return servers, nil
}

func newServer(name string, cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Command != "" && cfg.URL != "":
		return nil, fmt.Errorf("mcpclient: invalid server config for %q: both 'command' and 'url' set", name)

	case cfg.Command != "":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: construct stdio client for %q: %w", name, err)
		}
		return NewServer(name, c, cfg.ExcludedTools), nil

	case cfg.URL != "":
		c, err := client.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("mcpclient: construct http client for %q: %w", name, err)
		}
		return NewServer(name, c, cfg.ExcludedTools), nil

	default:
		return nil, fmt.Errorf("mcpclient: invalid server config for %q: must have 'command' or 'url'", name)
	}
}

func excludedSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
