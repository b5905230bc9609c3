// Package model defines the provider-neutral message and streaming contracts
// that the agent core depends on. The core never constructs these types from
// a specific vendor wire format; it only reads and writes the part kinds
// defined here and delegates actual model calls to a Stream implementation.
package model

import (
	"context"
	"encoding/json"
)

// PartKind tags the variant of a Part in a Request or Response message.
type PartKind string

const (
	PartSystemPrompt PartKind = "system_prompt"
	PartUserPrompt   PartKind = "user_prompt"
	PartToolReturn   PartKind = "tool_return"
	PartText         PartKind = "text"
	PartThought      PartKind = "thought"
	PartToolCall     PartKind = "tool_call"
)

// Attachment is a binary, media-type tagged blob embedded in a user prompt.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
	Name      string `json:"name,omitempty"`
}

// UserContent is one element of a multimodal user prompt: either plain text
// or a binary attachment.
type UserContent struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Part is one element of a Request or Response message. Exactly one of the
// kind-specific fields is populated, selected by Kind.
type Part struct {
	Kind PartKind `json:"kind"`

	// Request parts.
	SystemPrompt string        `json:"system_prompt,omitempty"`
	UserPrompt   []UserContent `json:"user_prompt,omitempty"`

	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ToolReturnName   string          `json:"tool_name,omitempty"`
	ToolReturnResult any             `json:"content,omitempty"`
	ToolReturnMeta   map[string]any  `json:"metadata,omitempty"`

	// Response parts.
	Text    string          `json:"text,omitempty"`
	Thought string          `json:"thought,omitempty"`
	ToolCallName string     `json:"tool_call_name,omitempty"`
	ToolCallArgs json.RawMessage `json:"tool_call_args,omitempty"`
}

// Rejected reports whether a tool-return part's metadata marks it rejected.
func (p Part) Rejected() bool {
	if p.ToolReturnMeta == nil {
		return false
	}
	v, ok := p.ToolReturnMeta["rejected"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Role distinguishes a Request (sent to the model) from a Response (produced
// by the model).
type Role string

const (
	RoleRequest  Role = "request"
	RoleResponse Role = "response"
)

// Message is one entry in the agent's history: an ordered list of parts all
// belonging to the same request or response.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// ToolCalls returns every tool-call part of a response message.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// ToolDefinition describes one callable tool surfaced to the model, either a
// built-in (ipybox_execute_ipython_cell, ipybox_reset, subagent_task) or an
// MCP tool discovered at agent start.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// StreamEvent is one increment of a model's streaming response.
type StreamEvent struct {
	TextDelta    string
	ThoughtDelta string
}

// StreamHandle is the live handle returned by Stream.Open. The core drains
// Events until the channel closes, then reads the final aggregated message
// with Aggregate. Err returns any error the stream terminated with.
type StreamHandle interface {
	Events() <-chan StreamEvent
	Aggregate() Message
	Err() error
}

// Stream is the provider-agnostic model call the agent core depends on. It
// never appears in the core's own import graph except as this interface —
// concrete adapters (internal/provider) live outside core per the contract
// in spec §1.
type Stream interface {
	Open(ctx context.Context, history []Message, tools []ToolDefinition) (StreamHandle, error)
}
