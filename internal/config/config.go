// Package config loads the YAML agent configuration file: model selection,
// session paths, thresholds, and the declarative MCP server map. Environment
// references of the form ${VAR} are expanded before parsing so secrets stay
// out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freeact-go/freeact/internal/mcpclient"
)

// Reserved MCP server names; user configuration may not define a server
// under either of them. The repository itself ships no server under these
// names.
var reservedServerNames = map[string]struct{}{
	"pytools":    {},
	"filesystem": {},
}

// File is the on-disk agent configuration.
type File struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	WorkingDir   string `yaml:"working_dir"`
	SessionsRoot string `yaml:"sessions_root"`
	SessionID    string `yaml:"session_id"`

	InlineMaxBytes int `yaml:"inline_max_bytes"`
	PreviewLines   int `yaml:"preview_lines"`
	MaxOutputChars int `yaml:"max_output_chars"`

	ExecutionTimeoutSeconds int `yaml:"execution_timeout_seconds"`
	ApprovalTimeoutSeconds  int `yaml:"approval_timeout_seconds"`

	EnableSubagents        *bool `yaml:"enable_subagents"`
	MaxConcurrentSubagents int   `yaml:"max_concurrent_subagents"`

	MCPServers map[string]mcpclient.ServerConfig `yaml:"mcp_servers"`
}

// Load reads, env-expands, parses, and validates the configuration at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration bytes after ${VAR} expansion.
func Parse(data []byte) (*File, error) {
	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	f.applyDefaults()
	return &f, nil
}

func (f *File) validate() error {
	for name, cfg := range f.MCPServers {
		if _, reserved := reservedServerNames[name]; reserved {
			return fmt.Errorf("config: mcp server name %q is reserved", name)
		}
		if cfg.Command == "" && cfg.URL == "" {
			return fmt.Errorf("config: mcp server %q: must have 'command' or 'url'", name)
		}
		if cfg.Command != "" && cfg.URL != "" {
			return fmt.Errorf("config: mcp server %q: both 'command' and 'url' set", name)
		}
	}
	return nil
}

func (f *File) applyDefaults() {
	if f.Provider == "" {
		f.Provider = "anthropic"
	}
	if f.WorkingDir == "" {
		f.WorkingDir = "."
	}
	if f.SessionsRoot == "" {
		f.SessionsRoot = ".freeact/sessions"
	}
}

// ExecutionTimeout returns the configured code execution timeout, zero when
// unset (the agent applies its own default).
func (f *File) ExecutionTimeout() time.Duration {
	return time.Duration(f.ExecutionTimeoutSeconds) * time.Second
}

// ApprovalTimeout returns the configured PTC approval timeout, zero when
// unset (unbounded).
func (f *File) ApprovalTimeout() time.Duration {
	return time.Duration(f.ApprovalTimeoutSeconds) * time.Second
}

// SubagentsEnabled reports whether subagent_task should be offered;
// defaults to true when the field is absent.
func (f *File) SubagentsEnabled() bool {
	if f.EnableSubagents == nil {
		return true
	}
	return *f.EnableSubagents
}
