package ai

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// chatSession keeps the full transcript client-side and replays it on every
// completion request. It is not safe for concurrent use; the orchestrator
// serializes turns.
type chatSession struct {
	provider *Provider
	messages []openai.ChatCompletionMessage
	tools    []openai.Tool
}

func newChatSession(provider *Provider, systemPrompt string, tools []ToolDefinition) *chatSession {
	s := &chatSession{
		provider: provider,
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
	}
	for _, t := range tools {
		s.tools = append(s.tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return s
}

func (s *chatSession) Greet(ctx context.Context) (*Response, error) {
	return s.complete(ctx)
}

func (s *chatSession) Send(ctx context.Context, text string) (*Response, error) {
	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return s.complete(ctx)
}

func (s *chatSession) SendToolResults(ctx context.Context, results []ToolResult) (*Response, error) {
	for _, r := range results {
		s.messages = append(s.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    r.Content,
			Name:       r.Name,
			ToolCallID: r.CallID,
		})
	}
	return s.complete(ctx)
}

func (s *chatSession) Preload(turns []Turn) {
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		s.messages = append(s.messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: t.Content,
		})
	}
}

func (s *chatSession) complete(ctx context.Context) (*Response, error) {
	reply, err := s.provider.complete(ctx, s.messages, s.tools)
	if err != nil {
		return nil, err
	}

	// The assistant reply joins the transcript, tool calls included, so a
	// follow-up with tool results is well-formed.
	s.messages = append(s.messages, reply)

	resp := &Response{Content: reply.Content}
	for _, tc := range reply.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}
