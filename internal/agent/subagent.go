package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

// subagentEventQueueSize bounds the forwarding queue between a child's
// stream and the parent's emitter.
const subagentEventQueueSize = 64

// runSubagentTask is the subagent runner (C10): it spawns a child agent
// bounded by the tree-wide semaphore, forwards the child's events under the
// child's identity, and captures its last Response text as the parent's
// tool output. Any child failure — including a panic — collapses to a
// single "Subagent error" output; crashes never propagate to the parent.
func (a *Agent) runSubagentTask(ctx context.Context, call model.Part, args map[string]any, emit func(events.Event), ret *model.Part) {
	prompt, _ := args["prompt"].(string)
	maxTurns := DefaultSubagentMaxTurns
	if v, ok := args["max_turns"].(float64); ok && v > 0 {
		maxTurns = int(v)
	}

	content, err := a.spawnSubagent(ctx, prompt, maxTurns, emit)
	if err != nil {
		content = fmt.Sprintf("Subagent error: %v", err)
	}
	emit(events.ToolOutput(a.cfg.AgentID, call.ToolCallID, content))
	ret.ToolReturnResult = content
}

func (a *Agent) spawnSubagent(ctx context.Context, prompt string, maxTurns int, emit func(events.Event)) (content string, err error) {
	if err := a.subagentSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer a.subagentSem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg := a.cfg
	cfg.AgentID = newSubagentID()
	cfg.EnableSubagents = false
	// Child events are forwarded into the parent stream, which already
	// tees to the sink; a child-level sink would double-count them.
	cfg.Sink = nil

	child, err := New(cfg)
	if err != nil {
		return "", err
	}
	if err := child.Start(ctx); err != nil {
		return "", err
	}
	defer func() {
		if stopErr := child.Stop(); stopErr != nil {
			a.logger.Warn("subagent teardown failed", "subagent_id", child.ID(), "error", stopErr)
		}
	}()

	run, err := child.Stream(ctx, model.TextPrompt(prompt), WithMaxTurns(maxTurns))
	if err != nil {
		return "", err
	}

	// Events already carry the child's agent_id; they are forwarded
	// unchanged through a bounded queue so a slow parent consumer applies
	// backpressure rather than unbounded buffering. If the runner's ctx is
	// cancelled the queue drains and the parent sees no further child
	// events.
	queue := make(chan events.Event, subagentEventQueueSize)
	go func() {
		defer close(queue)
		for ev := range run.Events() {
			select {
			case queue <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastResponse string
	for ev := range queue {
		if ev.Kind == events.KindResponse && ev.AgentID == child.ID() {
			lastResponse = ev.Text()
		}
		emit(ev)
	}

	// On cancellation the queue was abandoned before the child finished;
	// its Err is not safe to read yet and the parent is going away anyway.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := run.Err(); err != nil {
		return "", err
	}
	return lastResponse, nil
}

// newSubagentID mints a "sub-<4 hex>" identity.
func newSubagentID() string {
	return "sub-" + uuid.NewString()[:4]
}
