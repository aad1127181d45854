package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asterhq/aster/server/ai"
	"github.com/asterhq/aster/store"
)

type fakeNoteStore struct {
	notes     []*store.Note
	nextID    int64
	createErr error
}

func (f *fakeNoteStore) CreateNote(_ context.Context, create *store.Note) (*store.Note, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	create.ID = f.nextID
	f.notes = append(f.notes, create)
	return create, nil
}

func (f *fakeNoteStore) ListNotes(_ context.Context, find *store.FindNote) ([]*store.Note, error) {
	list := make([]*store.Note, 0)
	for _, n := range f.notes {
		if find.UserID != nil && n.UserID != *find.UserID {
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

func saveNoteCall(t *testing.T, args map[string]any) ai.ToolCall {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return ai.ToolCall{ID: "call_1", Name: ToolNameSaveNote, Arguments: string(raw)}
}

func decodeResult(t *testing.T, r ai.ToolResult) saveNoteResult {
	t.Helper()
	var out saveNoteResult
	require.NoError(t, json.Unmarshal([]byte(r.Content), &out))
	return out
}

func TestExecuteSaveNote(t *testing.T) {
	notes := &fakeNoteStore{}
	executor := NewToolExecutor(notes, 7, nil)
	executor.SetSourceConversation(42)

	result := executor.Execute(context.Background(), saveNoteCall(t, map[string]any{
		"category": "goal",
		"content":  "run a marathon",
	}))

	decoded := decodeResult(t, result)
	require.True(t, decoded.Success)
	require.Equal(t, int64(1), decoded.NoteID)

	require.Len(t, notes.notes, 1)
	saved := notes.notes[0]
	require.Equal(t, store.NoteCategoryGoal, saved.Category)
	require.Equal(t, "run a marathon", saved.Content)
	require.Equal(t, int32(store.NoteImportanceDefault), saved.Importance)
	require.Equal(t, int32(7), saved.UserID)
	require.NotNil(t, saved.SourceConversationID)
	require.Equal(t, int32(42), *saved.SourceConversationID)
}

func TestExecuteSaveNoteInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"unknown category", map[string]any{"category": "dream", "content": "fly"}},
		{"empty content", map[string]any{"category": "goal", "content": ""}},
		{"whitespace content", map[string]any{"category": "goal", "content": "   "}},
		{"missing category", map[string]any{"content": "something"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := &fakeNoteStore{}
			executor := NewToolExecutor(notes, 1, nil)

			result := executor.Execute(context.Background(), saveNoteCall(t, tt.args))
			decoded := decodeResult(t, result)
			require.False(t, decoded.Success)
			require.Equal(t, "invalid arguments", decoded.Error)
			require.Empty(t, notes.notes)
		})
	}
}

func TestExecuteSaveNoteMalformedJSON(t *testing.T) {
	notes := &fakeNoteStore{}
	executor := NewToolExecutor(notes, 1, nil)

	result := executor.Execute(context.Background(), ai.ToolCall{
		ID:        "call_1",
		Name:      ToolNameSaveNote,
		Arguments: `{"category": "goal", "content":`,
	})
	decoded := decodeResult(t, result)
	require.False(t, decoded.Success)
	require.Empty(t, notes.notes)
}

func TestExecuteSaveNoteImportance(t *testing.T) {
	tests := []struct {
		importance *int32
		want       int32
	}{
		{nil, 3},
		{ptr(int32(9)), 5},
		{ptr(int32(0)), 1},
		{ptr(int32(-2)), 1},
		{ptr(int32(4)), 4},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			notes := &fakeNoteStore{}
			executor := NewToolExecutor(notes, 1, nil)

			args := map[string]any{"category": "goal", "content": "run a marathon"}
			if tt.importance != nil {
				args["importance"] = *tt.importance
			}

			result := executor.Execute(context.Background(), saveNoteCall(t, args))
			require.True(t, decodeResult(t, result).Success)
			require.Equal(t, tt.want, notes.notes[0].Importance)
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	notes := &fakeNoteStore{}
	executor := NewToolExecutor(notes, 1, nil)

	result := executor.Execute(context.Background(), ai.ToolCall{
		ID:        "call_1",
		Name:      "delete_everything",
		Arguments: `{}`,
	})
	decoded := decodeResult(t, result)
	require.False(t, decoded.Success)
	require.Contains(t, decoded.Error, "unsupported tool")
	require.Empty(t, notes.notes)
}

func TestExecuteSaveNoteStoreFailure(t *testing.T) {
	notes := &fakeNoteStore{createErr: fmt.Errorf("disk full")}
	executor := NewToolExecutor(notes, 1, nil)

	result := executor.Execute(context.Background(), saveNoteCall(t, map[string]any{
		"category": "goal",
		"content":  "run a marathon",
	}))
	decoded := decodeResult(t, result)
	require.False(t, decoded.Success)
	require.Equal(t, "note could not be saved", decoded.Error)
}

func TestExecuteSaveNoteInvokesCallback(t *testing.T) {
	notes := &fakeNoteStore{}
	var seen []*store.Note
	executor := NewToolExecutor(notes, 1, func(n *store.Note) {
		seen = append(seen, n)
	})

	executor.Execute(context.Background(), saveNoteCall(t, map[string]any{
		"category": "insight",
		"content":  "motivated by streaks",
	}))
	require.Len(t, seen, 1)
	require.Equal(t, store.NoteCategoryInsight, seen[0].Category)
}

func ptr[T any](v T) *T {
	return &v
}
