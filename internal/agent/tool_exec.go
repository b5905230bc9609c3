package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/freeact-go/freeact/internal/kernel"
	"github.com/freeact-go/freeact/internal/registry"
	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

const rejectedContent = "Tool call rejected"

// ptcRejectedRe recognizes a rejected programmatic tool call in kernel
// output. The kernel reports PTC rejection only as text today; a structured
// rejection event would be preferable but is not part of the contract.
var ptcRejectedRe = regexp.MustCompile(`ToolRunnerError: Approval request for \S+ rejected`)

// executeToolCall is the tool executor (C9): approval gating, dispatch, and
// normalization for one tool-call part. It always produces a tool-return
// part; failures become explanatory content, never propagated errors.
func (a *Agent) executeToolCall(ctx context.Context, call model.Part, emit func(events.Event)) model.Part {
	ret := model.Part{
		Kind:           model.PartToolReturn,
		ToolCallID:     call.ToolCallID,
		ToolReturnName: call.ToolCallName,
		ToolReturnMeta: map[string]any{"rejected": false},
	}

	res := a.reg.Lookup(call.ToolCallName)
	if res.Kind == registry.KindUnknown {
		ret.ToolReturnResult = "Unknown tool name: " + call.ToolCallName
		return ret
	}

	args := parseToolArgs(call.ToolCallArgs)

	if !a.cfg.Permissions.IsAllowed(call.ToolCallName, args) {
		approved := a.awaitApproval(ctx, call.ToolCallID, call.ToolCallName, args, emit)
		if !approved {
			ret.ToolReturnResult = rejectedContent
			ret.ToolReturnMeta["rejected"] = true
			return ret
		}
	}

	switch res.Kind {
	case registry.KindExecuteIPythonCell:
		a.executeCode(ctx, call, args, emit, &ret)
	case registry.KindResetKernel:
		a.resetKernel(ctx, &ret)
	case registry.KindSubagentTask:
		a.runSubagentTask(ctx, call, args, emit, &ret)
	case registry.KindMCP:
		a.callMCPTool(ctx, call, res, args, emit, &ret)
	}
	return ret
}

// awaitApproval emits an ApprovalRequest event and blocks on its future.
// Session and always grants are recorded with the permission manager so the
// next call to the same tool is pre-approved. Agent-level approvals are
// user-driven and therefore unbounded; only context cancellation unblocks
// them besides a decision.
func (a *Agent) awaitApproval(ctx context.Context, corrID, toolName string, args map[string]any, emit func(events.Event)) bool {
	ev, req := events.NewApproval(a.cfg.AgentID, corrID, toolName, args)
	emit(ev)

	decision, err := req.Decision(ctx)
	if err != nil {
		a.logger.Warn("approval wait aborted", "tool", toolName, "error", err)
		return false
	}

	switch decision {
	case events.DecisionAlways:
		if err := a.cfg.Permissions.AllowAlways(toolName); err != nil {
			a.logger.Warn("persisting always-allow failed", "tool", toolName, "error", err)
		}
	case events.DecisionSession:
		a.cfg.Permissions.AllowSession(toolName)
	}
	return decision.Approved()
}

// executeCode runs one code cell under the kernel lock: a single writer per
// kernel, held for the entire execution including its PTC dialogues.
func (a *Agent) executeCode(ctx context.Context, call model.Part, args map[string]any, emit func(events.Event), ret *model.Part) {
	code, _ := args["code"].(string)

	a.kernelMu.Lock()
	defer a.kernelMu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, a.cfg.ExecutionTimeout)
	defer cancel()

	stream, err := a.kernel.Execute(execCtx, code)
	if err != nil {
		ret.ToolReturnResult = "Code execution failed: " + err.Error()
		return
	}

	var final *kernel.Result
	for ev := range stream {
		switch {
		case ev.Chunk != nil:
			emit(events.CodeExecutionOutputChunk(a.cfg.AgentID, call.ToolCallID, ev.Chunk.Text))
		case ev.Approval != nil:
			a.resolvePTCApproval(ctx, call.ToolCallID, ev.Approval, emit)
		case ev.Result != nil:
			final = ev.Result
		}
	}

	if final == nil {
		reason := "kernel stream ended without a result"
		if err := execCtx.Err(); err != nil {
			reason = err.Error()
		}
		ret.ToolReturnResult = "Code execution failed: " + reason
		return
	}

	emit(events.CodeExecutionOutput(a.cfg.AgentID, call.ToolCallID, final.Text, final.Images))

	content := a.mat.Materialize(final.Text)
	if text, ok := content.(string); ok {
		content = truncateOutput(text, a.cfg.MaxOutputChars)
	}
	ret.ToolReturnResult = content

	if ptcRejectedRe.MatchString(final.Text) {
		ret.ToolReturnMeta["rejected"] = true
	}
}

// resolvePTCApproval re-wraps a kernel-level approval request as an
// agent-level ApprovalRequest under the enclosing call's correlation id,
// then signals the decision back to the paused kernel. Pre-approved tools
// skip emission entirely.
func (a *Agent) resolvePTCApproval(ctx context.Context, corrID string, req *kernel.ApprovalRequest, emit func(events.Event)) {
	prefixed := req.ServerName + "_" + req.ToolName
	if a.cfg.Permissions.IsAllowed(prefixed, req.ToolArgs) {
		req.Accept()
		return
	}

	waitCtx := ctx
	if a.cfg.ApprovalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.cfg.ApprovalTimeout)
		defer cancel()
	}

	if a.awaitApproval(waitCtx, corrID, prefixed, req.ToolArgs, emit) {
		req.Accept()
		return
	}
	req.Reject()
}

// resetKernel clears kernel state under the kernel lock.
func (a *Agent) resetKernel(ctx context.Context, ret *model.Part) {
	a.kernelMu.Lock()
	defer a.kernelMu.Unlock()

	if err := a.kernel.Reset(ctx); err != nil {
		ret.ToolReturnResult = "Kernel reset failed: " + err.Error()
		return
	}
	ret.ToolReturnResult = "Kernel reset."
}

// callMCPTool dispatches to the owning MCP server with the unprefixed tool
// name. A thrown call becomes an explanatory tool-return; the turn
// continues.
func (a *Agent) callMCPTool(ctx context.Context, call model.Part, res registry.Resolution, args map[string]any, emit func(events.Event), ret *model.Part) {
	server, ok := a.servers[res.ServerName]
	if !ok {
		ret.ToolReturnResult = "MCP tool call failed: server " + res.ServerName + " not connected"
		return
	}

	result, err := server.CallTool(ctx, res.ToolName, args)
	if err != nil {
		ret.ToolReturnResult = fmt.Sprintf("MCP tool call failed: %v", err)
		emit(events.ToolOutput(a.cfg.AgentID, call.ToolCallID, ret.ToolReturnResult))
		return
	}

	content := a.mat.Materialize(mcpResultContent(result))
	emit(events.ToolOutput(a.cfg.AgentID, call.ToolCallID, content))
	ret.ToolReturnResult = content
}

// parseToolArgs decodes a tool call's JSON arguments; malformed or absent
// arguments yield an empty map so permission checks and dispatch still see a
// uniform shape.
func parseToolArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// truncateOutput caps s at max characters, preserving 80% of the head and
// 20% of the tail around an elision marker.
func truncateOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 8 / 10
	tail := max - head
	return s[:head] + "\n... [output truncated] ...\n" + s[len(s)-tail:]
}
