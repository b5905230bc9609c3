package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeact-go/freeact/internal/kernel"
	"github.com/freeact-go/freeact/internal/mcpclient"
	"github.com/freeact-go/freeact/internal/permissions"
	"github.com/freeact-go/freeact/internal/session"
	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

// scriptedModel replays a fixed sequence of model responses, one per Open
// call, emitting each text/thought part as a single streaming delta.
type scriptedModel struct {
	mu        sync.Mutex
	script    []scriptStep
	opens     int
	histories [][]model.Message
}

type scriptStep struct {
	msg model.Message
	err error
}

func respond(parts ...model.Part) scriptStep {
	return scriptStep{msg: model.Message{Role: model.RoleResponse, Parts: parts}}
}

func (m *scriptedModel) Open(ctx context.Context, history []model.Message, tools []model.ToolDefinition) (model.StreamHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]model.Message, len(history))
	copy(snapshot, history)
	m.histories = append(m.histories, snapshot)

	if m.opens >= len(m.script) {
		return nil, fmt.Errorf("unexpected model call %d", m.opens+1)
	}
	step := m.script[m.opens]
	m.opens++
	if step.err != nil {
		return nil, step.err
	}

	h := &scriptedHandle{msg: step.msg, events: make(chan model.StreamEvent, len(step.msg.Parts)+1)}
	for _, p := range step.msg.Parts {
		switch p.Kind {
		case model.PartText:
			h.events <- model.StreamEvent{TextDelta: p.Text}
		case model.PartThought:
			h.events <- model.StreamEvent{ThoughtDelta: p.Thought}
		}
	}
	close(h.events)
	return h, nil
}

func (m *scriptedModel) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

type scriptedHandle struct {
	msg    model.Message
	events chan model.StreamEvent
}

func (h *scriptedHandle) Events() <-chan model.StreamEvent { return h.events }
func (h *scriptedHandle) Aggregate() model.Message         { return h.msg }
func (h *scriptedHandle) Err() error                       { return nil }

// fakeTransport is an in-memory MCP transport: a fixed tool list and a
// per-tool result table.
type fakeTransport struct {
	tools   []mcp.Tool
	results map[string]*mcp.CallToolResult
	callErr map[string]error
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}
func (f *fakeTransport) Close() error { return nil }
func (f *fakeTransport) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}
func (f *fakeTransport) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := f.callErr[req.Params.Name]; err != nil {
		return nil, err
	}
	if r, ok := f.results[req.Params.Name]; ok {
		return r, nil
	}
	return &mcp.CallToolResult{}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func textTool(name string) mcp.Tool {
	return mcp.Tool{Name: name, Description: name}
}

type harness struct {
	agent *Agent
	model *scriptedModel
	fake  *kernel.Fake
	perms *permissions.Manager
	store *session.Store
	root  string
}

func newHarness(t *testing.T, script []scriptStep, mutate func(*Config)) *harness {
	t.Helper()

	root := t.TempDir()
	store := session.New(filepath.Join(root, "sessions"), "s1")
	perms, err := permissions.New(filepath.Join(root, ".freeact"))
	require.NoError(t, err)

	m := &scriptedModel{script: script}
	fake := kernel.NewFake()

	cfg := Config{
		SystemPrompt:    "You are a code-action agent.",
		Model:           m,
		NewKernel:       func() kernel.Executor { return fake },
		Store:           store,
		Permissions:     perms,
		EnableSubagents: true,
		WorkingDir:      root,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })

	return &harness{agent: a, model: m, fake: fake, perms: perms, store: store, root: root}
}

func withServers(servers map[string]*mcpclient.Server) func(*Config) {
	return func(c *Config) { c.prebuiltServers = servers }
}

// drain consumes a run to completion, resolving every approval request with
// decide (or rejecting when decide is nil).
func drain(t *testing.T, run *Run, decide func(events.Event) events.Decision) []events.Event {
	t.Helper()
	var out []events.Event
	for ev := range run.Events() {
		out = append(out, ev)
		if ev.Kind == events.KindApprovalRequest {
			if decide == nil {
				ev.Approval.Resolve(events.DecisionReject)
				continue
			}
			ev.Approval.Resolve(decide(ev))
		}
	}
	return out
}

func approveOnce(events.Event) events.Decision { return events.DecisionOnce }

func toolCall(id, name string, args map[string]any) model.Part {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return model.Part{Kind: model.PartToolCall, ToolCallID: id, ToolCallName: name, ToolCallArgs: raw}
}

func textPart(text string) model.Part {
	return model.Part{Kind: model.PartText, Text: text}
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func findAll(evs []events.Event, kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Scenario 1: a plain text response produces a chunk and a final aggregate,
// and history gains one request plus one response.
func TestPlainTextResponse(t *testing.T) {
	h := newHarness(t, []scriptStep{respond(textPart("Hello"))}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("hi"))
	require.NoError(t, err)
	evs := drain(t, run, nil)
	require.NoError(t, run.Err())

	require.Equal(t, []events.Kind{events.KindResponseChunk, events.KindResponse}, kinds(evs))
	assert.Equal(t, "Hello", evs[0].Text())
	assert.Equal(t, "Hello", evs[1].Text())
	assert.Equal(t, MainAgentID, evs[1].AgentID)

	history := h.agent.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleRequest, history[0].Role)
	assert.Equal(t, model.RoleResponse, history[1].Role)

	// The first request carries the system prompt.
	require.Len(t, history[0].Parts, 2)
	assert.Equal(t, model.PartSystemPrompt, history[0].Parts[0].Kind)
}

// Scenario 2: one approved code execution streams kernel output between the
// approval and the final model text.
func TestApprovedCodeExecution(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_execute_ipython_cell", map[string]any{"code": "print(7*6)"})),
		respond(textPart("The answer is 42.")),
	}, nil)
	h.fake.Responses["print(7*6)"] = kernel.Result{Text: "42\n"}

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("what is 7*6?"))
	require.NoError(t, err)
	evs := drain(t, run, approveOnce)
	require.NoError(t, run.Err())

	require.Equal(t, []events.Kind{
		events.KindApprovalRequest,
		events.KindCodeExecutionOutputChunk,
		events.KindCodeExecutionOutput,
		events.KindResponseChunk,
		events.KindResponse,
	}, kinds(evs))

	assert.Equal(t, "ipybox_execute_ipython_cell", evs[0].Approval.ToolName)
	assert.Equal(t, "call-1", evs[0].CorrID)
	assert.Equal(t, "42\n", evs[1].Text())
	assert.Equal(t, "call-1", evs[1].CorrID)
	assert.Equal(t, "42\n", evs[2].Text())
	assert.Empty(t, evs[2].Images)
	assert.Equal(t, "The answer is 42.", evs[4].Text())

	history := h.agent.History()
	require.Len(t, history, 4)
	returns := history[2].Parts
	require.Len(t, returns, 1)
	assert.Equal(t, "call-1", returns[0].ToolCallID)
	assert.Equal(t, "42\n", returns[0].ToolReturnResult)
	assert.False(t, returns[0].Rejected())
}

// Scenario 3: rejecting the only tool call ends the turn with a final
// "Tool call rejected" response and no further model calls.
func TestRejectionEndsTurn(t *testing.T) {
	servers := map[string]*mcpclient.Server{
		"database": mcpclient.NewServer("database", &fakeTransport{tools: []mcp.Tool{textTool("query")}}, nil),
	}
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "database_query", map[string]any{"q": "DROP TABLE users"})),
	}, withServers(servers))

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("clean up"))
	require.NoError(t, err)
	evs := drain(t, run, func(events.Event) events.Decision { return events.DecisionReject })
	require.NoError(t, run.Err())

	require.Equal(t, []events.Kind{events.KindApprovalRequest, events.KindResponse}, kinds(evs))
	assert.Equal(t, "database_query", evs[0].Approval.ToolName)
	assert.Equal(t, "Tool call rejected", evs[1].Text())
	assert.Equal(t, 1, h.model.openCount())

	history := h.agent.History()
	require.Len(t, history, 3)
	returns := history[2].Parts
	require.Len(t, returns, 1)
	assert.True(t, returns[0].Rejected())
	assert.Equal(t, "Tool call rejected", returns[0].ToolReturnResult)
}

// Scenario 4: two tool calls in one response run in parallel; all approvals
// and outputs arrive before the next model turn, and the tool-return batch
// matches the call batch one-to-one.
func TestTwoParallelToolCalls(t *testing.T) {
	servers := map[string]*mcpclient.Server{
		"svc": mcpclient.NewServer("svc", &fakeTransport{
			tools: []mcp.Tool{textTool("alpha"), textTool("beta")},
			results: map[string]*mcp.CallToolResult{
				"alpha": textResult("from A"),
				"beta":  textResult("from B"),
			},
		}, nil),
	}
	h := newHarness(t, []scriptStep{
		respond(
			toolCall("call-A", "svc_alpha", map[string]any{}),
			toolCall("call-B", "svc_beta", map[string]any{}),
		),
		respond(textPart("both done")),
	}, withServers(servers))

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("run both"))
	require.NoError(t, err)
	evs := drain(t, run, approveOnce)
	require.NoError(t, run.Err())

	approvals := findAll(evs, events.KindApprovalRequest)
	outputs := findAll(evs, events.KindToolOutput)
	require.Len(t, approvals, 2)
	require.Len(t, outputs, 2)

	gotOutputs := map[string]string{}
	for _, ev := range outputs {
		gotOutputs[ev.CorrID] = ev.Text()
	}
	assert.Equal(t, map[string]string{"call-A": "from A", "call-B": "from B"}, gotOutputs)

	history := h.agent.History()
	require.Len(t, history, 4)
	assert.Len(t, history[1].ToolCalls(), 2)
	returns := history[2].Parts
	require.Len(t, returns, 2)
	ids := []string{returns[0].ToolCallID, returns[1].ToolCallID}
	assert.ElementsMatch(t, []string{"call-A", "call-B"}, ids)
}

// Scenario 5: a subagent's events reach the root stream under the child's
// identity, and the parent's tool output is the child's last response text.
func TestSubagentIsolation(t *testing.T) {
	// The child shares the scripted model, so the second Open overall is
	// the child's single turn.
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "subagent_task", map[string]any{"prompt": "read x", "max_turns": 2})),
		respond(textPart("42")),
		respond(textPart("delegated")),
	}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("delegate"))
	require.NoError(t, err)
	evs := drain(t, run, approveOnce)
	require.NoError(t, run.Err())

	var childID string
	for _, ev := range evs {
		if strings.HasPrefix(ev.AgentID, "sub-") {
			childID = ev.AgentID
			break
		}
	}
	require.NotEmpty(t, childID, "no subagent events observed")
	require.Len(t, childID, len("sub-")+4)
	assert.NotEqual(t, MainAgentID, childID)

	childResponses := []events.Event{}
	for _, ev := range evs {
		if ev.AgentID == childID && ev.Kind == events.KindResponse {
			childResponses = append(childResponses, ev)
		}
	}
	require.NotEmpty(t, childResponses)
	assert.Equal(t, "42", childResponses[len(childResponses)-1].Text())

	outputs := findAll(evs, events.KindToolOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, MainAgentID, outputs[0].AgentID)
	assert.Equal(t, "42", outputs[0].Text())

	// The child's history was persisted under its own file, not main's.
	childHistory, err := h.store.Load(childID)
	require.NoError(t, err)
	assert.NotEmpty(t, childHistory)
}

func TestSubagentCrashIsIsolated(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "subagent_task", map[string]any{"prompt": "explode"})),
		{err: fmt.Errorf("provider unreachable")},
		respond(textPart("recovered")),
	}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("delegate"))
	require.NoError(t, err)
	evs := drain(t, run, approveOnce)
	require.NoError(t, run.Err())

	outputs := findAll(evs, events.KindToolOutput)
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0].Text(), "Subagent error: ")
	assert.Contains(t, outputs[0].Text(), "provider unreachable")

	// The parent turn continued to a final model response.
	finals := findAll(evs, events.KindResponse)
	require.NotEmpty(t, finals)
	assert.Equal(t, "recovered", finals[len(finals)-1].Text())
}

// Scenario 6: an oversized MCP result is spilled to disk and replaced by a
// notice; the file on disk holds the full payload.
func TestOverflowSpill(t *testing.T) {
	payload := strings.Repeat(strings.Repeat("x", 99)+"\n", 50) // 5000 bytes
	require.Len(t, payload, 5000)

	servers := map[string]*mcpclient.Server{
		"svc": mcpclient.NewServer("svc", &fakeTransport{
			tools:   []mcp.Tool{textTool("big")},
			results: map[string]*mcp.CallToolResult{"big": textResult(payload)},
		}, nil),
	}
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "svc_big", map[string]any{})),
		respond(textPart("saved")),
	}, func(c *Config) {
		c.InlineMaxBytes = 32
		c.PreviewLines = 2
		withServers(servers)(c)
	})
	h.perms.AllowSession("svc_big")

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("fetch"))
	require.NoError(t, err)
	evs := drain(t, run, nil)
	require.NoError(t, run.Err())

	// Pre-approved: no approval event at all.
	assert.Empty(t, findAll(evs, events.KindApprovalRequest))

	outputs := findAll(evs, events.KindToolOutput)
	require.Len(t, outputs, 1)
	notice := outputs[0].Text()
	assert.True(t, strings.HasPrefix(notice, "Tool result exceeded configured inline threshold (32 bytes)."), notice)
	assert.Contains(t, notice, "Actual size: 5000 bytes.")
	assert.Contains(t, notice, "Preview (first and last 2 lines):")

	lines := strings.Split(notice, "\n")
	last := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(last, "Full content saved to: "), last)
	rel := strings.TrimPrefix(last, "Full content saved to: ")
	assert.Regexp(t, `tool-results/[0-9a-f]{8}\.txt$`, rel)

	data, err := os.ReadFile(filepath.Join(h.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Len(t, data, 5000)
}

func TestUnknownToolIsNotRejected(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "nope_tool", map[string]any{})),
		respond(textPart("ok, never mind")),
	}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("try"))
	require.NoError(t, err)
	evs := drain(t, run, nil)
	require.NoError(t, run.Err())

	// No approval is emitted for an unknown tool, and the turn continues.
	assert.Empty(t, findAll(evs, events.KindApprovalRequest))
	assert.Equal(t, 2, h.model.openCount())

	history := h.agent.History()
	returns := history[2].Parts
	require.Len(t, returns, 1)
	assert.Equal(t, "Unknown tool name: nope_tool", returns[0].ToolReturnResult)
	assert.False(t, returns[0].Rejected())
}

func TestMaxTurnsStopsAfterOneToolRound(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_execute_ipython_cell", map[string]any{"code": "1"})),
		respond(toolCall("call-2", "ipybox_execute_ipython_cell", map[string]any{"code": "2"})),
	}, nil)
	h.perms.AllowSession("ipybox_execute_ipython_cell")

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("loop"), WithMaxTurns(1))
	require.NoError(t, err)
	drain(t, run, nil)
	require.NoError(t, run.Err())

	assert.Equal(t, 1, h.model.openCount())
}

func TestPTCRejectionMarksToolReturnRejected(t *testing.T) {
	code := "import db; db.query()"
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_execute_ipython_cell", map[string]any{"code": code})),
	}, nil)
	h.perms.AllowSession("ipybox_execute_ipython_cell")
	h.fake.Approvals[code] = kernel.NewApprovalRequest("database", "query", map[string]any{"q": "select 1"}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("query the db"))
	require.NoError(t, err)
	evs := drain(t, run, func(ev events.Event) events.Decision {
		// The PTC approval surfaces under the prefixed tool name.
		if ev.Approval.ToolName == "database_query" {
			return events.DecisionReject
		}
		return events.DecisionOnce
	})
	require.NoError(t, run.Err())

	approvals := findAll(evs, events.KindApprovalRequest)
	require.Len(t, approvals, 1)
	assert.Equal(t, "database_query", approvals[0].Approval.ToolName)
	assert.Equal(t, "call-1", approvals[0].CorrID)

	finals := findAll(evs, events.KindResponse)
	require.NotEmpty(t, finals)
	assert.Equal(t, "Tool call rejected", finals[len(finals)-1].Text())

	history := h.agent.History()
	returns := history[2].Parts
	require.Len(t, returns, 1)
	assert.True(t, returns[0].Rejected())
	assert.Equal(t, 1, h.model.openCount())
}

func TestPTCPreApprovalSkipsEmission(t *testing.T) {
	code := "import db; db.query()"
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_execute_ipython_cell", map[string]any{"code": code})),
		respond(textPart("queried")),
	}, nil)
	h.perms.AllowSession("ipybox_execute_ipython_cell")
	h.perms.AllowSession("database_query")
	h.fake.Approvals[code] = kernel.NewApprovalRequest("database", "query", nil, nil)
	h.fake.Responses[code] = kernel.Result{Text: "3 rows\n"}

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("query"))
	require.NoError(t, err)
	evs := drain(t, run, nil)
	require.NoError(t, run.Err())

	assert.Empty(t, findAll(evs, events.KindApprovalRequest))
	outputs := findAll(evs, events.KindCodeExecutionOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, "3 rows\n", outputs[0].Text())
}

func TestApproveAlwaysPersists(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_execute_ipython_cell", map[string]any{"code": "1"})),
		respond(toolCall("call-2", "ipybox_execute_ipython_cell", map[string]any{"code": "2"})),
		respond(textPart("done")),
	}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("go"))
	require.NoError(t, err)
	evs := drain(t, run, func(events.Event) events.Decision { return events.DecisionAlways })
	require.NoError(t, run.Err())

	// Only the first call needed an approval; the always-grant pre-approved
	// the second.
	assert.Len(t, findAll(evs, events.KindApprovalRequest), 1)

	// The grant reached disk.
	fresh, err := permissions.New(filepath.Join(h.root, ".freeact"))
	require.NoError(t, err)
	require.NoError(t, fresh.Load())
	assert.True(t, fresh.IsAllowed("ipybox_execute_ipython_cell", nil))
}

func TestMCPCallFailureIsNonRejectedToolReturn(t *testing.T) {
	servers := map[string]*mcpclient.Server{
		"svc": mcpclient.NewServer("svc", &fakeTransport{
			tools:   []mcp.Tool{textTool("flaky")},
			callErr: map[string]error{"flaky": fmt.Errorf("connection reset")},
		}, nil),
	}
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "svc_flaky", map[string]any{})),
		respond(textPart("noted")),
	}, withServers(servers))
	h.perms.AllowSession("svc_flaky")

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("go"))
	require.NoError(t, err)
	drain(t, run, nil)
	require.NoError(t, run.Err())

	history := h.agent.History()
	returns := history[2].Parts
	require.Len(t, returns, 1)
	content, ok := returns[0].ToolReturnResult.(string)
	require.True(t, ok)
	assert.Contains(t, content, "MCP tool call failed: ")
	assert.Contains(t, content, "connection reset")
	assert.False(t, returns[0].Rejected())
	assert.Equal(t, 2, h.model.openCount())
}

func TestKernelResetTool(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(toolCall("call-1", "ipybox_reset", nil)),
		respond(textPart("fresh")),
	}, nil)
	h.perms.AllowSession("ipybox_reset")

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("reset"))
	require.NoError(t, err)
	drain(t, run, nil)
	require.NoError(t, run.Err())

	assert.Equal(t, 1, h.fake.ResetCount)
	history := h.agent.History()
	assert.Equal(t, "Kernel reset.", history[2].Parts[0].ToolReturnResult)
}

func TestHistorySurvivesRestart(t *testing.T) {
	h := newHarness(t, []scriptStep{respond(textPart("Hello"))}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("hi"))
	require.NoError(t, err)
	drain(t, run, nil)
	require.NoError(t, run.Err())
	require.NoError(t, h.agent.Stop())

	reborn, err := New(Config{
		Model:       h.model,
		NewKernel:   func() kernel.Executor { return kernel.NewFake() },
		Store:       h.store,
		Permissions: h.perms,
	})
	require.NoError(t, err)
	require.NoError(t, reborn.Start(context.Background()))
	defer reborn.Stop()

	history := reborn.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleRequest, history[0].Role)
	assert.Equal(t, model.RoleResponse, history[1].Role)
}

func TestStreamBeforeStartFails(t *testing.T) {
	a, err := New(Config{
		Model:       &scriptedModel{},
		NewKernel:   func() kernel.Executor { return kernel.NewFake() },
		Store:       session.New(t.TempDir(), "s"),
		Permissions: mustPerms(t),
	})
	require.NoError(t, err)

	_, err = a.Stream(context.Background(), model.TextPrompt("hi"))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, a.Stop(), ErrNotStarted)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Model", cerr.Field)
}

func TestThoughtsAreRelayedAndAggregated(t *testing.T) {
	h := newHarness(t, []scriptStep{
		respond(model.Part{Kind: model.PartThought, Thought: "thinking..."}, textPart("answer")),
	}, nil)

	run, err := h.agent.Stream(context.Background(), model.TextPrompt("hm"))
	require.NoError(t, err)
	evs := drain(t, run, nil)
	require.NoError(t, run.Err())

	require.Equal(t, []events.Kind{
		events.KindThoughtsChunk,
		events.KindResponseChunk,
		events.KindThoughts,
		events.KindResponse,
	}, kinds(evs))
	assert.Equal(t, "thinking...", evs[2].Text())
}

func mustPerms(t *testing.T) *permissions.Manager {
	t.Helper()
	p, err := permissions.New(filepath.Join(t.TempDir(), ".freeact"))
	require.NoError(t, err)
	return p
}
