package coach

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/asterhq/aster/server/ai"
	coacherr "github.com/asterhq/aster/server/internal/errors"
	"github.com/asterhq/aster/server/internal/observability"
	"github.com/asterhq/aster/store"
)

// MaxToolDepth caps recursive tool resolution within one logical turn. A model
// that keeps issuing tool calls past this depth is misbehaving; the turn fails
// with ToolLoopExceeded instead of looping forever.
const MaxToolDepth = 5

type turnState int

const (
	stateIdle turnState = iota
	stateAwaitingModel
	stateResolvingTools
	stateErrored
)

// SessionMessage is one turn of the in-memory transcript.
type SessionMessage struct {
	Role      store.MessageRole
	Content   string
	CreatedTs int64
	// Preloaded marks turns reconstructed from storage rather than freshly
	// generated in this session.
	Preloaded bool
}

// ConversationStore is the slice of the storage layer the orchestrator needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error)
	GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	CountConversationsSince(ctx context.Context, userID int32, since int64) (int64, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
}

// Orchestrator owns one active coaching session for one user. It serializes
// turns: at most one is in flight at a time, and a second call while busy is
// rejected with TurnInProgress rather than interleaved, because the tool loop
// depends on strict request/response ordering with the model.
type Orchestrator struct {
	client        ai.ChatClient
	conversations ConversationStore
	notes         NoteStore
	executor      *ToolExecutor
	logger        *slog.Logger
	timezone      *time.Location
	now           func() time.Time

	userID int32
	facts  ProfileFacts

	// mu guards busy and all session state below. Turns are serialized by the
	// busy flag, but accessors run concurrently with turns, so every mutation
	// of the session fields must also hold mu.
	mu   sync.Mutex
	busy bool

	state           turnState
	conversationID  *int32
	conversationUID string
	chat            ai.Chat
	messages        []SessionMessage
	noteCache       []*store.Note
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTimezone sets the location used for the first-interaction-of-day check.
func WithTimezone(loc *time.Location) Option {
	return func(o *Orchestrator) { o.timezone = loc }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator for one user's session.
func NewOrchestrator(client ai.ChatClient, conversations ConversationStore, notes NoteStore, userID int32, facts ProfileFacts, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		conversations: conversations,
		notes:         notes,
		logger:        slog.Default(),
		timezone:      time.Local,
		now:           time.Now,
		userID:        userID,
		facts:         facts,
		state:         stateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.executor = NewToolExecutor(notes, userID, func(n *store.Note) {
		o.mu.Lock()
		o.noteCache = append(o.noteCache, n)
		o.mu.Unlock()
	})
	return o
}

// ConversationUID returns the UID of the active conversation, or empty when
// no session has been started.
func (o *Orchestrator) ConversationUID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationUID
}

// Messages returns a copy of the in-memory transcript.
func (o *Orchestrator) Messages() []SessionMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionMessage, len(o.messages))
	copy(out, o.messages)
	return out
}

// Start opens a new conversation: it evaluates day-state, creates the
// persisted conversation record, assembles the system prompt from profile
// facts and accumulated notes, and runs one tool-loop turn to produce the
// opening assistant greeting.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	if err := o.beginTurn(); err != nil {
		return "", err
	}
	defer o.endTurn()

	reqCtx := observability.NewRequestContext(o.logger, "start", o.userID)
	ctx = observability.WithRequestContext(ctx, reqCtx)
	observability.GlobalMetrics().RecordRequest("start")

	dayState, err := o.evaluateDayState(ctx)
	if err != nil {
		observability.GlobalMetrics().RecordFailure("start")
		return "", err
	}

	notes, err := o.notes.ListNotes(ctx, &store.FindNote{UserID: &o.userID})
	if err != nil {
		observability.GlobalMetrics().RecordFailure("start")
		return "", coacherr.Persistence("failed to list notes", err)
	}
	o.mu.Lock()
	o.noteCache = notes
	o.mu.Unlock()

	now := o.now()
	conversation, err := o.conversations.CreateConversation(ctx, &store.Conversation{
		UID:       shortuuid.New(),
		UserID:    o.userID,
		Title:     "Check-in " + now.In(o.timezone).Format("Jan 2, 2006"),
		ModelName: o.client.ModelName(),
		CreatedTs: now.Unix(),
		UpdatedTs: now.Unix(),
	})
	if err != nil {
		observability.GlobalMetrics().RecordFailure("start")
		return "", coacherr.Persistence("failed to create conversation", err)
	}
	prompt := BuildSystemPrompt(o.facts, notes, dayState)
	chat := o.client.StartChat(prompt, []ai.ToolDefinition{SaveNoteTool()})

	o.mu.Lock()
	o.conversationID = &conversation.ID
	o.conversationUID = conversation.UID
	o.messages = nil
	o.chat = chat
	o.state = stateAwaitingModel
	o.mu.Unlock()
	o.executor.SetSourceConversation(conversation.ID)

	resp, err := o.chat.Greet(ctx)
	if err != nil {
		return "", o.failTurn(reqCtx, "start", err)
	}

	text, err := o.resolveToolLoop(ctx, reqCtx, resp)
	if err != nil {
		return "", o.failTurn(reqCtx, "start", err)
	}

	o.persistAssistantMessage(ctx, reqCtx, text)
	o.setState(stateIdle)

	reqCtx.Info("conversation started",
		slog.String(observability.LogFieldConversation, o.conversationUID),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	observability.GlobalMetrics().RecordDuration("start", reqCtx.Duration())
	return text, nil
}

// SendUserMessage persists the user's message, runs one tool-loop turn, and
// returns the final assistant reply. Empty or whitespace-only input is
// rejected before any model call or persistence write.
func (o *Orchestrator) SendUserMessage(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", coacherr.InvalidArgument("message is empty")
	}

	if err := o.beginTurn(); err != nil {
		return "", err
	}
	defer o.endTurn()

	if o.chat == nil {
		return "", coacherr.InvalidArgument("session not started")
	}

	reqCtx := observability.NewRequestContext(o.logger, "send_message", o.userID)
	ctx = observability.WithRequestContext(ctx, reqCtx)
	observability.GlobalMetrics().RecordRequest("send_message")

	// The user message is persisted before the model is contacted so it is
	// never lost to a model failure.
	now := o.now().Unix()
	if _, err := o.conversations.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: *o.conversationID,
		Role:           store.MessageRoleUser,
		Content:        text,
		CreatedTs:      now,
	}); err != nil {
		observability.GlobalMetrics().RecordFailure("send_message")
		return "", coacherr.Persistence("failed to save user message", err)
	}
	o.mu.Lock()
	o.messages = append(o.messages, SessionMessage{
		Role:      store.MessageRoleUser,
		Content:   text,
		CreatedTs: now,
	})
	o.mu.Unlock()
	o.bumpConversation(ctx, reqCtx, now)

	o.setState(stateAwaitingModel)
	resp, err := o.chat.Send(ctx, text)
	if err != nil {
		return "", o.failTurn(reqCtx, "send_message", err)
	}

	reply, err := o.resolveToolLoop(ctx, reqCtx, resp)
	if err != nil {
		return "", o.failTurn(reqCtx, "send_message", err)
	}

	o.persistAssistantMessage(ctx, reqCtx, reply)
	o.setState(stateIdle)

	reqCtx.Info("turn completed",
		slog.String(observability.LogFieldConversation, o.conversationUID),
		slog.Int(observability.LogFieldMessageLen, len(reply)),
		slog.Int64(observability.LogFieldDuration, reqCtx.DurationMs()))
	observability.GlobalMetrics().RecordDuration("send_message", reqCtx.Duration())
	return reply, nil
}

// LoadConversation replaces the in-memory session with the persisted
// transcript of an existing conversation and reconstructs the model chat by
// replaying that transcript as history. Notes are not replayed as tool calls;
// only the conversational history is restored.
func (o *Orchestrator) LoadConversation(ctx context.Context, uid string) error {
	if err := o.beginTurn(); err != nil {
		return err
	}
	defer o.endTurn()

	reqCtx := observability.NewRequestContext(o.logger, "load_conversation", o.userID)
	ctx = observability.WithRequestContext(ctx, reqCtx)

	conversation, err := o.conversations.GetConversation(ctx, &store.FindConversation{
		UID:    &uid,
		UserID: &o.userID,
	})
	if err != nil {
		return coacherr.Persistence("failed to load conversation", err)
	}
	if conversation == nil {
		return coacherr.NotFound("conversation not found: " + uid)
	}

	persisted, err := o.conversations.ListMessages(ctx, &store.FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		return coacherr.Persistence("failed to load messages", err)
	}

	dayState, err := o.evaluateDayState(ctx)
	if err != nil {
		return err
	}
	notes, err := o.notes.ListNotes(ctx, &store.FindNote{UserID: &o.userID})
	if err != nil {
		return coacherr.Persistence("failed to list notes", err)
	}

	messages := make([]SessionMessage, 0, len(persisted))
	turns := make([]ai.Turn, 0, len(persisted))
	for _, m := range persisted {
		messages = append(messages, SessionMessage{
			Role:      m.Role,
			Content:   m.Content,
			CreatedTs: m.CreatedTs,
			Preloaded: true,
		})
		role := ai.RoleUser
		if m.Role == store.MessageRoleAssistant {
			role = ai.RoleAssistant
		}
		turns = append(turns, ai.Turn{Role: role, Content: m.Content})
	}

	prompt := BuildSystemPrompt(o.facts, notes, dayState)
	chat := o.client.StartChat(prompt, []ai.ToolDefinition{SaveNoteTool()})
	chat.Preload(turns)

	o.mu.Lock()
	o.chat = chat
	o.messages = messages
	o.noteCache = notes
	o.conversationID = &conversation.ID
	o.conversationUID = conversation.UID
	o.state = stateIdle
	o.mu.Unlock()
	o.executor.SetSourceConversation(conversation.ID)

	reqCtx.Info("conversation loaded",
		slog.String(observability.LogFieldConversation, conversation.UID),
		slog.Int("message_count", len(messages)))
	return nil
}

// Reset discards all in-memory session state and starts fresh, re-evaluating
// the first-interaction-of-day check.
func (o *Orchestrator) Reset(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return "", coacherr.TurnInProgress("a turn is already in progress")
	}
	o.chat = nil
	o.messages = nil
	o.noteCache = nil
	o.conversationID = nil
	o.conversationUID = ""
	o.state = stateIdle
	o.mu.Unlock()

	return o.Start(ctx)
}

// resolveToolLoop drives the bounded tool-resolution loop for one turn. Every
// tool call in a response is resolved, in order, before the full result set
// is sent back; the loop ends at the first response with no tool calls.
func (o *Orchestrator) resolveToolLoop(ctx context.Context, reqCtx *observability.RequestContext, resp *ai.Response) (string, error) {
	for depth := 1; ; depth++ {
		if !resp.HasToolCalls() {
			return resp.Content, nil
		}
		if depth >= MaxToolDepth {
			reqCtx.Warn("tool resolution depth exceeded",
				slog.Int(observability.LogFieldToolDepth, depth))
			return "", coacherr.ToolLoopExceeded(MaxToolDepth)
		}

		o.setState(stateResolvingTools)
		results := make([]ai.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, o.executor.Execute(ctx, call))
		}

		o.setState(stateAwaitingModel)
		var err error
		resp, err = o.chat.SendToolResults(ctx, results)
		if err != nil {
			return "", err
		}
	}
}

// evaluateDayState checks whether the user already has a conversation created
// since local midnight.
func (o *Orchestrator) evaluateDayState(ctx context.Context) (DayState, error) {
	midnight := localMidnight(o.now(), o.timezone)
	count, err := o.conversations.CountConversationsSince(ctx, o.userID, midnight)
	if err != nil {
		return DayStateReturning, coacherr.Persistence("failed to count conversations", err)
	}
	if count == 0 {
		return DayStateFirstOfDay, nil
	}
	return DayStateReturning, nil
}

// persistAssistantMessage writes the assistant reply to storage. A failed
// write is logged but does not block returning the reply to the user.
func (o *Orchestrator) persistAssistantMessage(ctx context.Context, reqCtx *observability.RequestContext, text string) {
	now := o.now().Unix()
	if _, err := o.conversations.CreateMessage(ctx, &store.Message{
		UID:            shortuuid.New(),
		ConversationID: *o.conversationID,
		Role:           store.MessageRoleAssistant,
		Content:        text,
		ModelName:      o.client.ModelName(),
		CreatedTs:      now,
	}); err != nil {
		reqCtx.Error("failed to save assistant message", err)
	}
	o.mu.Lock()
	o.messages = append(o.messages, SessionMessage{
		Role:      store.MessageRoleAssistant,
		Content:   text,
		CreatedTs: now,
	})
	o.mu.Unlock()
	o.bumpConversation(ctx, reqCtx, now)
}

func (o *Orchestrator) bumpConversation(ctx context.Context, reqCtx *observability.RequestContext, ts int64) {
	if _, err := o.conversations.UpdateConversation(ctx, &store.UpdateConversation{
		ID:        *o.conversationID,
		UpdatedTs: &ts,
	}); err != nil {
		reqCtx.Warn("failed to bump conversation timestamp",
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) beginTurn() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return coacherr.TurnInProgress("a turn is already in progress")
	}
	o.busy = true
	return nil
}

func (o *Orchestrator) endTurn() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s turnState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// currentState reports the turn-lifecycle state. Used in tests to observe
// transitions; idle and errored are the only states visible between turns.
func (o *Orchestrator) currentState() turnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// failTurn records a turn failure. The session and everything persisted so
// far remain intact; the next call re-enters cleanly.
func (o *Orchestrator) failTurn(reqCtx *observability.RequestContext, operation string, err error) error {
	o.setState(stateErrored)
	observability.GlobalMetrics().RecordFailure(operation)
	reqCtx.Error("turn failed", err,
		slog.String(observability.LogFieldConversation, o.conversationUID),
		slog.String(observability.LogFieldErrorCode, string(coacherr.GetCodeFromError(err, coacherr.ErrCodeModelError))))
	return err
}
