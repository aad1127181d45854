package ai

import (
	"encoding/json"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) *chatSession {
	t.Helper()
	p, err := NewProvider(&Config{APIKey: "sk-test"})
	require.NoError(t, err)
	return newChatSession(p, "be helpful", []ToolDefinition{{
		Name:        "save_note",
		Description: "save a fact",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}})
}

func TestNewChatSessionSeedsSystemPrompt(t *testing.T) {
	s := testSession(t)

	require.Len(t, s.messages, 1)
	require.Equal(t, openai.ChatMessageRoleSystem, s.messages[0].Role)
	require.Equal(t, "be helpful", s.messages[0].Content)

	require.Len(t, s.tools, 1)
	require.Equal(t, openai.ToolTypeFunction, s.tools[0].Type)
	require.Equal(t, "save_note", s.tools[0].Function.Name)
}

func TestPreloadReplaysHistoryAfterSystemPrompt(t *testing.T) {
	s := testSession(t)
	s.Preload([]Turn{
		{Role: RoleAssistant, Content: "Morning! What's the plan?"},
		{Role: RoleUser, Content: "Going for a run"},
	})

	require.Len(t, s.messages, 3)
	require.Equal(t, openai.ChatMessageRoleSystem, s.messages[0].Role)
	require.Equal(t, openai.ChatMessageRoleAssistant, s.messages[1].Role)
	require.Equal(t, openai.ChatMessageRoleUser, s.messages[2].Role)
	require.Equal(t, "Going for a run", s.messages[2].Content)
}
