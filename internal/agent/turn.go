package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/freeact-go/freeact/pkg/events"
	"github.com/freeact-go/freeact/pkg/model"
)

// runTurns is the turn engine (C8): it appends the user request to history,
// then loops (open model stream → relay deltas → execute all tool calls in
// parallel → feed results back) until the model stops calling tools, a tool
// call is rejected, or the turn budget is exhausted.
func (a *Agent) runTurns(ctx context.Context, emit func(events.Event), prompt []model.UserContent, maxTurns int) error {
	request := a.initialRequest(prompt)
	if err := a.appendHistory(request); err != nil {
		return err
	}

	turns := 0
	for {
		response, err := a.streamModel(ctx, emit)
		if err != nil {
			return err
		}

		calls := response.ToolCalls()
		if len(calls) == 0 {
			return nil
		}

		returns := a.executeToolCalls(ctx, emit, calls)
		if err := a.appendHistory(model.Message{Role: model.RoleRequest, Parts: returns}); err != nil {
			return err
		}

		if anyRejected(returns) {
			emit(events.Response(a.cfg.AgentID, rejectedContent))
			return nil
		}

		turns++
		if maxTurns > 0 && turns >= maxTurns {
			return nil
		}
	}
}

// initialRequest builds the request message for a user prompt: a fresh
// history additionally gets the system prompt as its leading part.
func (a *Agent) initialRequest(prompt []model.UserContent) model.Message {
	a.mu.Lock()
	fresh := len(a.history) == 0
	a.mu.Unlock()

	var parts []model.Part
	if fresh && a.cfg.SystemPrompt != "" {
		parts = append(parts, model.Part{Kind: model.PartSystemPrompt, SystemPrompt: a.cfg.SystemPrompt})
	}
	parts = append(parts, model.Part{Kind: model.PartUserPrompt, UserPrompt: prompt})
	return model.Message{Role: model.RoleRequest, Parts: parts}
}

// streamModel opens one model stream over the current history, relays text
// and thought deltas as chunk events, appends the aggregated response to
// history, and emits the final Thoughts/Response aggregates when non-empty.
func (a *Agent) streamModel(ctx context.Context, emit func(events.Event)) (model.Message, error) {
	handle, err := a.cfg.Model.Open(ctx, a.historySnapshot(), a.reg.Definitions())
	if err != nil {
		return model.Message{}, err
	}

	for ev := range handle.Events() {
		if ev.ThoughtDelta != "" {
			emit(events.ThoughtsChunk(a.cfg.AgentID, ev.ThoughtDelta))
		}
		if ev.TextDelta != "" {
			emit(events.ResponseChunk(a.cfg.AgentID, ev.TextDelta))
		}
	}
	if err := handle.Err(); err != nil {
		return model.Message{}, err
	}

	response := handle.Aggregate()
	if err := a.appendHistory(response); err != nil {
		return model.Message{}, err
	}

	if thoughts := aggregateParts(response, model.PartThought); thoughts != "" {
		emit(events.Thoughts(a.cfg.AgentID, thoughts))
	}
	if text := aggregateParts(response, model.PartText); text != "" {
		emit(events.Response(a.cfg.AgentID, text))
	}
	return response, nil
}

// executeToolCalls launches one tool executor per call and merges their
// event streams into emit in arrival order. The returned tool-return parts
// are indexed like calls; the count invariant (one return per call) holds by
// construction.
func (a *Agent) executeToolCalls(ctx context.Context, emit func(events.Event), calls []model.Part) []model.Part {
	merged := make(chan events.Event)
	returns := make([]model.Part, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			returns[i] = a.executeToolCall(ctx, call, func(ev events.Event) { merged <- ev })
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for ev := range merged {
		emit(ev)
	}
	return returns
}

func aggregateParts(msg model.Message, kind model.PartKind) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		if p.Kind != kind {
			continue
		}
		if kind == model.PartThought {
			b.WriteString(p.Thought)
		} else {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func anyRejected(returns []model.Part) bool {
	for _, r := range returns {
		if r.Rejected() {
			return true
		}
	}
	return false
}
