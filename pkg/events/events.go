// Package events defines the tagged event union an agent stream yields
// (spec §3). Every event carries the producing agent's id and, when it
// belongs to a tool call, the correlation id shared by the tool-call part,
// its approval request, its intermediate outputs, and its tool-return part.
package events

// Kind tags the variant of an Event.
type Kind string

const (
	KindResponseChunk            Kind = "response_chunk"
	KindResponse                 Kind = "response"
	KindThoughtsChunk            Kind = "thoughts_chunk"
	KindThoughts                 Kind = "thoughts"
	KindApprovalRequest          Kind = "approval_request"
	KindCodeExecutionOutputChunk Kind = "code_execution_output_chunk"
	KindCodeExecutionOutput      Kind = "code_execution_output"
	KindToolOutput               Kind = "tool_output"
)

// Event is one element of an agent stream. Content holds the event's
// payload: a string for text, thought, and code-output events; a string or
// structured value for tool outputs. Approval is non-nil only for
// KindApprovalRequest, and the consumer must resolve it exactly once.
type Event struct {
	Kind    Kind
	AgentID string
	CorrID  string

	Content  any
	Images   []string
	Approval *ApprovalRequest
}

// Text returns the event content as a string, or "" when the content is not
// textual.
func (e Event) Text() string {
	s, _ := e.Content.(string)
	return s
}

// Sink receives a copy of every event an agent emits. Implementations must
// not block; the agent calls Emit synchronously on its streaming path.
type Sink interface {
	Emit(Event)
}

// ResponseChunk is a streaming increment of model text.
func ResponseChunk(agentID, content string) Event {
	return Event{Kind: KindResponseChunk, AgentID: agentID, Content: content}
}

// Response is the final aggregated model text of one model stream.
func Response(agentID, content string) Event {
	return Event{Kind: KindResponse, AgentID: agentID, Content: content}
}

// ThoughtsChunk is a streaming increment of model thinking.
func ThoughtsChunk(agentID, content string) Event {
	return Event{Kind: KindThoughtsChunk, AgentID: agentID, Content: content}
}

// Thoughts is the final aggregated model thinking of one model stream.
func Thoughts(agentID, content string) Event {
	return Event{Kind: KindThoughts, AgentID: agentID, Content: content}
}

// CodeExecutionOutputChunk is one piece of streaming kernel stdout/stderr.
func CodeExecutionOutputChunk(agentID, corrID, text string) Event {
	return Event{Kind: KindCodeExecutionOutputChunk, AgentID: agentID, CorrID: corrID, Content: text}
}

// CodeExecutionOutput is the final output of one code cell execution.
func CodeExecutionOutput(agentID, corrID, text string, images []string) Event {
	return Event{Kind: KindCodeExecutionOutput, AgentID: agentID, CorrID: corrID, Content: text, Images: images}
}

// ToolOutput is the result of a non-kernel tool call.
func ToolOutput(agentID, corrID string, content any) Event {
	return Event{Kind: KindToolOutput, AgentID: agentID, CorrID: corrID, Content: content}
}
