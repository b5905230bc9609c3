package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/freeact-go/freeact/pkg/model"
)

// OpenAI adapts the go-openai chat completion stream to model.Stream. It is
// the second concrete provider behind the same contract, keeping the core
// demonstrably vendor-neutral.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI returns an adapter for the given model id.
func NewOpenAI(apiKey, modelID string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey), model: modelID}
}

// Open starts one streaming chat completion over the given history and
// tools.
func (p *OpenAI) Open(ctx context.Context, history []model.Message, tools []model.ToolDefinition) (model.StreamHandle, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: openaiMessages(history),
		Tools:    openaiTools(tools),
		Stream:   true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}

	h := &openaiHandle{events: make(chan model.StreamEvent, 16)}
	go h.consume(stream)
	return h, nil
}

func openaiMessages(history []model.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	for _, msg := range history {
		if msg.Role == model.RoleResponse {
			out = append(out, openaiAssistantMessage(msg))
			continue
		}
		for _, part := range msg.Parts {
			switch part.Kind {
			case model.PartSystemPrompt:
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleSystem,
					Content: part.SystemPrompt,
				})
			case model.PartUserPrompt:
				out = append(out, openaiUserMessage(part.UserPrompt))
			case model.PartToolReturn:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: part.ToolCallID,
					Content:    contentString(part.ToolReturnResult),
				})
			}
		}
	}
	return out
}

func openaiUserMessage(prompt []model.UserContent) openai.ChatCompletionMessage {
	hasAttachment := false
	for _, uc := range prompt {
		if uc.Attachment != nil {
			hasAttachment = true
			break
		}
	}

	if !hasAttachment {
		var text string
		for _, uc := range prompt {
			text += uc.Text
		}
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	var parts []openai.ChatMessagePart
	for _, uc := range prompt {
		if uc.Text != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: uc.Text})
		}
		if uc.Attachment != nil {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + uc.Attachment.MediaType + ";base64," +
						base64.StdEncoding.EncodeToString(uc.Attachment.Data),
				},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func openaiAssistantMessage(msg model.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	for _, part := range msg.Parts {
		switch part.Kind {
		case model.PartText:
			out.Content += part.Text
		case model.PartToolCall:
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   part.ToolCallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.ToolCallName,
					Arguments: string(part.ToolCallArgs),
				},
			})
		}
	}
	return out
}

func openaiTools(tools []model.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

type openaiHandle struct {
	events chan model.StreamEvent

	msg model.Message
	err error
}

func (h *openaiHandle) Events() <-chan model.StreamEvent { return h.events }
func (h *openaiHandle) Aggregate() model.Message         { return h.msg }
func (h *openaiHandle) Err() error                       { return h.err }

// consume drains the completion stream, relaying content deltas and
// accumulating tool-call argument fragments by index until EOF.
func (h *openaiHandle) consume(stream *openai.ChatCompletionStream) {
	defer close(h.events)
	defer stream.Close()

	var text string
	calls := map[int]*model.Part{}
	order := []int{}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.err = err
			break
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			text += delta.Content
			h.events <- model.StreamEvent{TextDelta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			part, ok := calls[idx]
			if !ok {
				part = &model.Part{Kind: model.PartToolCall}
				calls[idx] = part
				order = append(order, idx)
			}
			if tc.ID != "" {
				part.ToolCallID = tc.ID
			}
			if tc.Function.Name != "" {
				part.ToolCallName = tc.Function.Name
			}
			part.ToolCallArgs = append(part.ToolCallArgs, tc.Function.Arguments...)
		}
	}

	var parts []model.Part
	if text != "" {
		parts = append(parts, model.Part{Kind: model.PartText, Text: text})
	}
	for _, idx := range order {
		part := calls[idx]
		if len(part.ToolCallArgs) == 0 {
			part.ToolCallArgs = []byte("{}")
		}
		parts = append(parts, *part)
	}
	h.msg = model.Message{Role: model.RoleResponse, Parts: parts}
}
