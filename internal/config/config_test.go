package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	f, err := Parse([]byte(`
provider: openai
model: gpt-4.1
system_prompt: be terse
working_dir: /srv/agent
sessions_root: /srv/agent/sessions
session_id: s-123
inline_max_bytes: 1024
execution_timeout_seconds: 60
approval_timeout_seconds: 30
enable_subagents: false
max_concurrent_subagents: 4
mcp_servers:
  database:
    command: db-mcp
    args: ["--readonly"]
    excluded_tools: ["drop_table"]
  search:
    url: https://search.internal/mcp
`))
	require.NoError(t, err)

	assert.Equal(t, "openai", f.Provider)
	assert.Equal(t, "gpt-4.1", f.Model)
	assert.Equal(t, 60*time.Second, f.ExecutionTimeout())
	assert.Equal(t, 30*time.Second, f.ApprovalTimeout())
	assert.False(t, f.SubagentsEnabled())
	assert.Equal(t, 4, f.MaxConcurrentSubagents)

	require.Len(t, f.MCPServers, 2)
	assert.Equal(t, "db-mcp", f.MCPServers["database"].Command)
	assert.Equal(t, []string{"drop_table"}, f.MCPServers["database"].ExcludedTools)
	assert.Equal(t, "https://search.internal/mcp", f.MCPServers["search"].URL)
}

func TestParseAppliesDefaults(t *testing.T) {
	f, err := Parse([]byte(`model: claude-sonnet-4-5`))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", f.Provider)
	assert.Equal(t, ".", f.WorkingDir)
	assert.Equal(t, ".freeact/sessions", f.SessionsRoot)
	assert.True(t, f.SubagentsEnabled())
	assert.Zero(t, f.ExecutionTimeout())
	assert.Zero(t, f.ApprovalTimeout())
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("DB_MCP_TOKEN", "sekrit")
	f, err := Parse([]byte(`
mcp_servers:
  database:
    command: db-mcp
    env:
      TOKEN: ${DB_MCP_TOKEN}
`))
	require.NoError(t, err)
	assert.Equal(t, "sekrit", f.MCPServers["database"].Env["TOKEN"])
}

func TestParseRejectsReservedServerNames(t *testing.T) {
	for _, name := range []string{"pytools", "filesystem"} {
		_, err := Parse([]byte("mcp_servers:\n  " + name + ":\n    command: x\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reserved")
	}
}

func TestParseRejectsMalformedServerShape(t *testing.T) {
	_, err := Parse([]byte(`
mcp_servers:
  broken:
    excluded_tools: ["a"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)

	_, err = Parse([]byte(`
mcp_servers:
  doubled:
    command: x
    url: https://x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"doubled"`)
}
