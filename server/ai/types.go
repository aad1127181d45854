package ai

import (
	"context"
	"encoding/json"
)

// TurnRole identifies the author of a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is a single prior exchange used to seed a resumed chat.
type Turn struct {
	Role    TurnRole
	Content string
}

// ToolDefinition describes a function the model is allowed to call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema for the arguments object.
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult carries a tool execution outcome back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// Response is a single model reply. A reply carries text, tool calls, or both;
// the conversation only advances past tool calls once their results are sent back.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the model requested any tool invocations.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Chat is a stateful conversation with the model. Implementations keep the
// transcript client-side and replay it on every request.
type Chat interface {
	// Greet asks the model to open the conversation from the system prompt
	// alone, before any user input.
	Greet(ctx context.Context) (*Response, error)
	// Send appends a user message and returns the model's reply.
	Send(ctx context.Context, text string) (*Response, error)
	// SendToolResults returns tool outcomes to the model and gets its next reply.
	SendToolResults(ctx context.Context, results []ToolResult) (*Response, error)
	// Preload seeds the transcript with prior turns when resuming a conversation.
	Preload(turns []Turn)
}

// ChatClient creates model chats.
type ChatClient interface {
	StartChat(systemPrompt string, tools []ToolDefinition) Chat
	ModelName() string
}
