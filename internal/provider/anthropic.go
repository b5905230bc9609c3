// Package provider ships the concrete LLM adapters behind the core's
// provider-agnostic model.Stream contract. The agent core never imports
// these; cmd wiring selects one by name.
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/freeact-go/freeact/pkg/model"
)

const defaultMaxTokens = 8192

// Anthropic adapts the official Anthropic SDK to model.Stream.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic returns an adapter for the given model id.
func NewAnthropic(apiKey, modelID string, maxTokens int) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(modelID),
		maxTokens: int64(maxTokens),
	}
}

// Open starts one streaming message call over the given history and tools.
func (p *Anthropic) Open(ctx context.Context, history []model.Message, tools []model.ToolDefinition) (model.StreamHandle, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
	}

	if system := systemPrompt(history); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	messages, err := anthropicMessages(history)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}
	params.Messages = messages

	converted, err := anthropicTools(tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert tools: %w", err)
	}
	params.Tools = converted

	h := &anthropicHandle{events: make(chan model.StreamEvent, 16)}
	go h.consume(p.client.Messages.NewStreaming(ctx, params))
	return h, nil
}

// anthropicMessages converts history to SDK message params. System parts are
// handled separately; response thought parts are not echoed back.
func anthropicMessages(history []model.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range history {
		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Kind {
			case model.PartUserPrompt:
				for _, uc := range part.UserPrompt {
					if uc.Text != "" {
						content = append(content, anthropic.NewTextBlock(uc.Text))
					}
					if uc.Attachment != nil {
						content = append(content, anthropic.NewImageBlockBase64(
							uc.Attachment.MediaType,
							base64.StdEncoding.EncodeToString(uc.Attachment.Data),
						))
					}
				}
			case model.PartToolReturn:
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolCallID,
					contentString(part.ToolReturnResult),
					part.Rejected(),
				))
			case model.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case model.PartToolCall:
				var input map[string]any
				if len(part.ToolCallArgs) > 0 {
					if err := json.Unmarshal(part.ToolCallArgs, &input); err != nil {
						return nil, fmt.Errorf("tool call %s has invalid arguments: %w", part.ToolCallID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolCallName))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == model.RoleResponse {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func anthropicTools(tools []model.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

// systemPrompt returns the first system-prompt part of the history.
func systemPrompt(history []model.Message) string {
	for _, msg := range history {
		for _, part := range msg.Parts {
			if part.Kind == model.PartSystemPrompt {
				return part.SystemPrompt
			}
		}
	}
	return ""
}

// contentString flattens a tool-return result to text for providers whose
// tool-result channel is textual.
func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(raw)
	}
}

type anthropicHandle struct {
	events chan model.StreamEvent

	msg model.Message
	err error
}

func (h *anthropicHandle) Events() <-chan model.StreamEvent { return h.events }
func (h *anthropicHandle) Aggregate() model.Message         { return h.msg }
func (h *anthropicHandle) Err() error                       { return h.err }

// consume drains the SSE stream, relaying text and thinking deltas as they
// arrive and assembling tool calls across their start/delta/stop events.
func (h *anthropicHandle) consume(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) {
	defer close(h.events)

	var (
		text      strings.Builder
		thinking  strings.Builder
		toolCalls []model.Part

		currentTool  *model.Part
		currentInput strings.Builder
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &model.Part{Kind: model.PartToolCall, ToolCallID: use.ID, ToolCallName: use.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					h.events <- model.StreamEvent{TextDelta: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					thinking.WriteString(delta.Thinking)
					h.events <- model.StreamEvent{ThoughtDelta: delta.Thinking}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.ToolCallArgs = json.RawMessage(args)
				toolCalls = append(toolCalls, *currentTool)
				currentTool = nil
			}
		}
	}
	if err := stream.Err(); err != nil {
		h.err = err
	}

	var parts []model.Part
	if thinking.Len() > 0 {
		parts = append(parts, model.Part{Kind: model.PartThought, Thought: thinking.String()})
	}
	if text.Len() > 0 {
		parts = append(parts, model.Part{Kind: model.PartText, Text: text.String()})
	}
	parts = append(parts, toolCalls...)
	h.msg = model.Message{Role: model.RoleResponse, Parts: parts}
}
