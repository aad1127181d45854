package coach

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/asterhq/aster/server/ai"
	"github.com/asterhq/aster/server/internal/observability"
	"github.com/asterhq/aster/store"
)

// ToolNameSaveNote is the single tool exposed to the model.
const ToolNameSaveNote = "save_note"

// saveNoteSchema is the JSON Schema for the save_note arguments. Category
// values are lowercase on the wire and normalized before validation.
const saveNoteSchema = `{
	"type": "object",
	"properties": {
		"category": {
			"type": "string",
			"enum": ["goal", "challenge", "preference", "achievement", "insight", "context", "reminder"],
			"description": "What kind of fact this is."
		},
		"content": {
			"type": "string",
			"description": "The fact to remember, phrased as a standalone statement."
		},
		"importance": {
			"type": "integer",
			"minimum": 1,
			"maximum": 5,
			"description": "How much weight to give this fact later. Defaults to 3."
		}
	},
	"required": ["category", "content"]
}`

// SaveNoteTool returns the tool definition advertised to the model.
func SaveNoteTool() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        ToolNameSaveNote,
		Description: "Save a durable fact about the user so future conversations can build on it.",
		Parameters:  json.RawMessage(saveNoteSchema),
	}
}

// NoteStore is the slice of the storage layer the tool executor needs.
type NoteStore interface {
	CreateNote(ctx context.Context, create *store.Note) (*store.Note, error)
	ListNotes(ctx context.Context, find *store.FindNote) ([]*store.Note, error)
}

type saveNoteArgs struct {
	Category   string `json:"category"`
	Content    string `json:"content"`
	Importance *int32 `json:"importance"`
}

type saveNoteResult struct {
	Success bool   `json:"success"`
	NoteID  int64  `json:"note_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToolExecutor resolves model-issued tool calls. A malformed call is an
// expected, recoverable event: it produces a failure result for the model,
// never an error for the caller.
type ToolExecutor struct {
	notes                NoteStore
	userID               int32
	sourceConversationID *int32
	onSaved              func(*store.Note)
}

// NewToolExecutor creates an executor writing notes for the given user.
// onSaved, if non-nil, is invoked after each successful write so the session
// can keep its in-memory note cache current.
func NewToolExecutor(notes NoteStore, userID int32, onSaved func(*store.Note)) *ToolExecutor {
	return &ToolExecutor{
		notes:   notes,
		userID:  userID,
		onSaved: onSaved,
	}
}

// SetSourceConversation records which conversation subsequent notes came from.
func (e *ToolExecutor) SetSourceConversation(conversationID int32) {
	e.sourceConversationID = &conversationID
}

// Execute resolves one tool call and returns a structured result for the model.
func (e *ToolExecutor) Execute(ctx context.Context, call ai.ToolCall) ai.ToolResult {
	if call.Name != ToolNameSaveNote {
		return e.result(call, saveNoteResult{Success: false, Error: "unsupported tool: " + call.Name})
	}

	var args saveNoteArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return e.result(call, saveNoteResult{Success: false, Error: "invalid arguments"})
	}

	category := store.NoteCategory(strings.ToUpper(strings.TrimSpace(args.Category)))
	if !category.IsValid() || strings.TrimSpace(args.Content) == "" {
		return e.result(call, saveNoteResult{Success: false, Error: "invalid arguments"})
	}

	importance := int32(store.NoteImportanceDefault)
	if args.Importance != nil {
		importance = clampImportance(*args.Importance)
	}

	note, err := e.notes.CreateNote(ctx, &store.Note{
		UID:                  shortuuid.New(),
		UserID:               e.userID,
		Category:             category,
		Content:              strings.TrimSpace(args.Content),
		Importance:           importance,
		SourceConversationID: e.sourceConversationID,
		CreatedTs:            time.Now().Unix(),
	})
	if err != nil {
		// A failed save must not abort the turn; the model is told the note
		// was not stored and the conversation continues.
		if reqCtx, ok := observability.FromContext(ctx); ok {
			reqCtx.Error("failed to save note", err)
		}
		return e.result(call, saveNoteResult{Success: false, Error: "note could not be saved"})
	}

	observability.GlobalMetrics().RecordNoteSaved()
	if e.onSaved != nil {
		e.onSaved(note)
	}
	return e.result(call, saveNoteResult{Success: true, NoteID: note.ID})
}

func (e *ToolExecutor) result(call ai.ToolCall, r saveNoteResult) ai.ToolResult {
	payload, _ := json.Marshal(r)
	return ai.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(payload),
	}
}

func clampImportance(v int32) int32 {
	if v < store.NoteImportanceMin {
		return store.NoteImportanceMin
	}
	if v > store.NoteImportanceMax {
		return store.NoteImportanceMax
	}
	return v
}
