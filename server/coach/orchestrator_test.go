package coach

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asterhq/aster/server/ai"
	coacherr "github.com/asterhq/aster/server/internal/errors"
	"github.com/asterhq/aster/store"
)

type chatStep struct {
	resp *ai.Response
	err  error
}

// scriptedChat replays a fixed sequence of model responses and records what
// was sent to it.
type scriptedChat struct {
	mu          sync.Mutex
	steps       []chatStep
	calls       int
	preloaded   []ai.Turn
	sentResults [][]ai.ToolResult

	// blockOn, when > 0, makes that call number wait until release is closed.
	blockOn int
	release chan struct{}
}

func (c *scriptedChat) next() (*ai.Response, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.blockOn > 0 && call == c.blockOn {
		<-c.release
	}
	if call > len(c.steps) {
		return nil, fmt.Errorf("unexpected model call %d", call)
	}
	step := c.steps[call-1]
	return step.resp, step.err
}

func (c *scriptedChat) Greet(context.Context) (*ai.Response, error) { return c.next() }

func (c *scriptedChat) Send(context.Context, string) (*ai.Response, error) { return c.next() }

func (c *scriptedChat) SendToolResults(_ context.Context, results []ai.ToolResult) (*ai.Response, error) {
	c.mu.Lock()
	c.sentResults = append(c.sentResults, results)
	c.mu.Unlock()
	return c.next()
}

func (c *scriptedChat) Preload(turns []ai.Turn) {
	c.preloaded = append(c.preloaded, turns...)
}

func (c *scriptedChat) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type scriptedClient struct {
	chat       *scriptedChat
	lastPrompt string
	lastTools  []ai.ToolDefinition
}

func (c *scriptedClient) StartChat(systemPrompt string, tools []ai.ToolDefinition) ai.Chat {
	c.lastPrompt = systemPrompt
	c.lastTools = tools
	return c.chat
}

func (c *scriptedClient) ModelName() string { return "test-model" }

type fakeConversationStore struct {
	conversations []*store.Conversation
	messages      []*store.Message
	nextConvID    int32
	nextMsgID     int32
}

func (f *fakeConversationStore) CreateConversation(_ context.Context, create *store.Conversation) (*store.Conversation, error) {
	f.nextConvID++
	create.ID = f.nextConvID
	f.conversations = append(f.conversations, create)
	return create, nil
}

func (f *fakeConversationStore) GetConversation(_ context.Context, find *store.FindConversation) (*store.Conversation, error) {
	for _, c := range f.conversations {
		if find.UID != nil && c.UID != *find.UID {
			continue
		}
		if find.UserID != nil && c.UserID != *find.UserID {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (f *fakeConversationStore) UpdateConversation(_ context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	for _, c := range f.conversations {
		if c.ID == update.ID {
			if update.UpdatedTs != nil {
				c.UpdatedTs = *update.UpdatedTs
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("conversation not found")
}

func (f *fakeConversationStore) CountConversationsSince(_ context.Context, userID int32, since int64) (int64, error) {
	var count int64
	for _, c := range f.conversations {
		if c.UserID == userID && c.CreatedTs >= since {
			count++
		}
	}
	return count, nil
}

func (f *fakeConversationStore) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	f.nextMsgID++
	create.ID = f.nextMsgID
	f.messages = append(f.messages, create)
	return create, nil
}

func (f *fakeConversationStore) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	list := make([]*store.Message, 0)
	for _, m := range f.messages {
		if find.ConversationID != nil && m.ConversationID != *find.ConversationID {
			continue
		}
		list = append(list, m)
	}
	return list, nil
}

func textResponse(text string) chatStep {
	return chatStep{resp: &ai.Response{Content: text}}
}

func toolCallResponse(id string) chatStep {
	return chatStep{resp: &ai.Response{ToolCalls: []ai.ToolCall{{
		ID:        id,
		Name:      ToolNameSaveNote,
		Arguments: `{"category": "goal", "content": "run a marathon"}`,
	}}}}
}

func newTestOrchestrator(chat *scriptedChat, convs *fakeConversationStore, notes *fakeNoteStore) (*Orchestrator, *scriptedClient) {
	client := &scriptedClient{chat: chat}
	o := NewOrchestrator(client, convs, notes, 7, ProfileFacts{DisplayName: "Maya", PrimaryGoal: "run a marathon"},
		WithTimezone(time.UTC))
	return o, client
}

func TestStartFirstInteractionOfDay(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{textResponse("Morning Maya! What's the one thing today?")}}
	convs := &fakeConversationStore{}
	o, client := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	greeting, err := o.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Morning Maya! What's the one thing today?", greeting)

	// No conversations existed today, so the first-of-day variant is selected.
	require.Contains(t, client.lastPrompt, firstOfDayBlock)
	require.Len(t, client.lastTools, 1)
	require.Equal(t, ToolNameSaveNote, client.lastTools[0].Name)

	require.Len(t, convs.conversations, 1)
	require.Equal(t, "test-model", convs.conversations[0].ModelName)
	require.Len(t, convs.messages, 1)
	require.Equal(t, store.MessageRoleAssistant, convs.messages[0].Role)
	require.NotEmpty(t, o.ConversationUID())
}

func TestStartReturningSameDay(t *testing.T) {
	convs := &fakeConversationStore{}
	convs.CreateConversation(context.Background(), &store.Conversation{
		UID: "earlier", UserID: 7, CreatedTs: time.Now().Unix(),
	})

	chat := &scriptedChat{steps: []chatStep{textResponse("Back again?")}}
	o, client := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	require.Contains(t, client.lastPrompt, returningBlock)
	require.NotContains(t, client.lastPrompt, firstOfDayBlock)
}

func TestStartInjectsNotesIntoPrompt(t *testing.T) {
	notes := &fakeNoteStore{}
	notes.CreateNote(context.Background(), &store.Note{
		UserID: 7, Category: store.NoteCategoryChallenge, Content: "struggles with early mornings",
	})

	chat := &scriptedChat{steps: []chatStep{textResponse("hi")}}
	o, client := newTestOrchestrator(chat, &fakeConversationStore{}, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	require.Contains(t, client.lastPrompt, "struggles with early mornings")
}

func TestSendUserMessageRejectsEmptyInput(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{textResponse("hi")}}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	callsAfterStart := chat.callCount()
	messagesAfterStart := len(convs.messages)

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := o.SendUserMessage(context.Background(), input)
		require.True(t, coacherr.IsCode(err, coacherr.ErrCodeInvalidArgument))
	}

	require.Equal(t, callsAfterStart, chat.callCount())
	require.Equal(t, messagesAfterStart, len(convs.messages))
}

func TestSendUserMessagePersistsAndReplies(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		textResponse("Nice, how did the run go?"),
	}}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	reply, err := o.SendUserMessage(context.Background(), "I went for a run")
	require.NoError(t, err)
	require.Equal(t, "Nice, how did the run go?", reply)

	// greeting + user + assistant
	require.Len(t, convs.messages, 3)
	require.Equal(t, store.MessageRoleUser, convs.messages[1].Role)
	require.Equal(t, "I went for a run", convs.messages[1].Content)
	require.Equal(t, store.MessageRoleAssistant, convs.messages[2].Role)
}

func TestToolLoopResolvesChainedCalls(t *testing.T) {
	// Three chained tool-call responses, then a final text: all three resolve
	// before the reply is returned.
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		toolCallResponse("call_1"),
		toolCallResponse("call_2"),
		toolCallResponse("call_3"),
		textResponse("Got it, noted."),
	}}
	notes := &fakeNoteStore{}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	reply, err := o.SendUserMessage(context.Background(), "remember my goals")
	require.NoError(t, err)
	require.Equal(t, "Got it, noted.", reply)

	require.Len(t, notes.notes, 3)
	require.Len(t, chat.sentResults, 3)
	for _, results := range chat.sentResults {
		require.Len(t, results, 1)
		require.Contains(t, results[0].Content, `"success":true`)
	}
}

func TestToolLoopExceededStopsCalling(t *testing.T) {
	steps := []chatStep{textResponse("hi")}
	for i := 0; i < 10; i++ {
		steps = append(steps, toolCallResponse(fmt.Sprintf("call_%d", i)))
	}
	chat := &scriptedChat{steps: steps}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	_, err = o.SendUserMessage(context.Background(), "hello")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeToolLoopExceeded))

	// One Greet, one Send, then MaxToolDepth-1 resubmissions: the capped
	// response triggers no further model calls.
	require.Equal(t, 1+MaxToolDepth, chat.callCount())
}

func TestToolLoopResolvesAllCallsInOneResponse(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		{resp: &ai.Response{ToolCalls: []ai.ToolCall{
			{ID: "a", Name: ToolNameSaveNote, Arguments: `{"category": "goal", "content": "first"}`},
			{ID: "b", Name: ToolNameSaveNote, Arguments: `{"category": "insight", "content": "second"}`},
		}}},
		textResponse("done"),
	}}
	notes := &fakeNoteStore{}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	_, err = o.SendUserMessage(context.Background(), "two facts")
	require.NoError(t, err)

	require.Len(t, notes.notes, 2)
	require.Len(t, chat.sentResults, 1)
	require.Len(t, chat.sentResults[0], 2)
}

func TestImportanceClampedThroughToolLoop(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		{resp: &ai.Response{ToolCalls: []ai.ToolCall{{
			ID:        "call_1",
			Name:      ToolNameSaveNote,
			Arguments: `{"category": "goal", "content": "run a marathon", "importance": 9}`,
		}}}},
		textResponse("noted"),
	}}
	notes := &fakeNoteStore{}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	_, err = o.SendUserMessage(context.Background(), "remember this")
	require.NoError(t, err)

	require.Len(t, notes.notes, 1)
	require.Equal(t, int32(5), notes.notes[0].Importance)
}

func TestNoteSaveFailureDoesNotAbortTurn(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		toolCallResponse("call_1"),
		textResponse("Either way, keep going!"),
	}}
	notes := &fakeNoteStore{createErr: fmt.Errorf("disk full")}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	reply, err := o.SendUserMessage(context.Background(), "remember this")
	require.NoError(t, err)
	require.Equal(t, "Either way, keep going!", reply)
	require.Contains(t, chat.sentResults[0][0].Content, `"success":false`)
}

func TestModelFailurePreservesSession(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		{err: coacherr.ModelUnavailable("model provider unavailable", nil)},
		textResponse("recovered"),
	}}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	_, err = o.SendUserMessage(context.Background(), "are you there?")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeModelUnavailable))

	// The user message survived the failed turn.
	require.Equal(t, "are you there?", convs.messages[1].Content)

	// The next turn re-enters cleanly.
	reply, err := o.SendUserMessage(context.Background(), "hello again")
	require.NoError(t, err)
	require.Equal(t, "recovered", reply)
}

func TestLoadConversationMarksPreloaded(t *testing.T) {
	convs := &fakeConversationStore{}
	conversation, err := convs.CreateConversation(context.Background(), &store.Conversation{
		UID: "abc123", UserID: 7, CreatedTs: 100,
	})
	require.NoError(t, err)
	for i, m := range []struct {
		role    store.MessageRole
		content string
	}{
		{store.MessageRoleAssistant, "Morning! What's the plan?"},
		{store.MessageRoleUser, "Going for a run"},
		{store.MessageRoleAssistant, "How far?"},
		{store.MessageRoleUser, "10k"},
	} {
		convs.CreateMessage(context.Background(), &store.Message{
			ConversationID: conversation.ID, Role: m.role, Content: m.content, CreatedTs: int64(100 + i),
		})
	}

	chat := &scriptedChat{steps: []chatStep{textResponse("Solid distance. How did it feel?")}}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	require.NoError(t, o.LoadConversation(context.Background(), "abc123"))

	loaded := o.Messages()
	require.Len(t, loaded, 4)
	for _, m := range loaded {
		require.True(t, m.Preloaded)
	}
	require.Len(t, chat.preloaded, 4)
	require.Equal(t, ai.RoleAssistant, chat.preloaded[0].Role)
	require.Equal(t, ai.RoleUser, chat.preloaded[1].Role)

	_, err = o.SendUserMessage(context.Background(), "It felt great")
	require.NoError(t, err)

	after := o.Messages()
	require.Len(t, after, 6)
	require.False(t, after[4].Preloaded)
	require.False(t, after[5].Preloaded)
}

func TestLoadConversationNotFound(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedChat{}, &fakeConversationStore{}, &fakeNoteStore{})
	err := o.LoadConversation(context.Background(), "missing")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeNotFound))
}

func TestResetStartsFresh(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("first greeting"),
		textResponse("second greeting"),
	}}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	firstUID := o.ConversationUID()

	greeting, err := o.Reset(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second greeting", greeting)
	require.NotEqual(t, firstUID, o.ConversationUID())
	require.Len(t, convs.conversations, 2)
}

func TestConcurrentTurnRejected(t *testing.T) {
	chat := &scriptedChat{
		steps: []chatStep{
			textResponse("hi"),
			textResponse("slow reply"),
		},
		blockOn: 2,
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	go func() {
		defer wg.Done()
		close(started)
		_, err := o.SendUserMessage(context.Background(), "slow question")
		require.NoError(t, err)
	}()

	<-started
	// Wait for the in-flight turn to reach the blocked model call.
	require.Eventually(t, func() bool {
		return chat.callCount() == 2
	}, time.Second, 5*time.Millisecond)

	_, err = o.SendUserMessage(context.Background(), "impatient follow-up")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeTurnInProgress))

	close(chat.release)
	wg.Wait()
}

func TestSendUserMessageWithoutSession(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedChat{}, &fakeConversationStore{}, &fakeNoteStore{})
	_, err := o.SendUserMessage(context.Background(), "hello")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeInvalidArgument))
}

func TestSavedNoteVisibleToNextStart(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		{resp: &ai.Response{ToolCalls: []ai.ToolCall{{
			ID:        "call_1",
			Name:      ToolNameSaveNote,
			Arguments: `{"category": "reminder", "content": "check in about the race entry"}`,
		}}}},
		textResponse("noted"),
	}}
	notes := &fakeNoteStore{}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, notes)

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	_, err = o.SendUserMessage(context.Background(), "remind me about the race entry")
	require.NoError(t, err)

	// A fresh session for the same user sees the saved note in its prompt.
	chat2 := &scriptedChat{steps: []chatStep{textResponse("hi again")}}
	o2, client2 := newTestOrchestrator(chat2, convs, notes)
	_, err = o2.Start(context.Background())
	require.NoError(t, err)
	require.Contains(t, client2.lastPrompt, "Reminders:")
	require.Contains(t, client2.lastPrompt, "- check in about the race entry")
}

func TestAccessorsSafeDuringReset(t *testing.T) {
	// Messages and ConversationUID are read from request handlers while Reset
	// rebuilds the session; run them concurrently so the race detector covers
	// the session-state mutations.
	chat := &scriptedChat{steps: []chatStep{
		textResponse("first greeting"),
		textResponse("second greeting"),
	}}
	convs := &fakeConversationStore{}
	o, _ := newTestOrchestrator(chat, convs, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = o.ConversationUID()
					_ = o.Messages()
				}
			}
		}()
	}

	_, err = o.Reset(context.Background())
	require.NoError(t, err)
	close(done)
	wg.Wait()

	require.NotEmpty(t, o.ConversationUID())
	require.Len(t, o.Messages(), 1)
}

func TestTurnStateTransitions(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		textResponse("hi"),
		{err: coacherr.ModelUnavailable("model provider unavailable", nil)},
		textResponse("recovered"),
	}}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, &fakeNoteStore{})
	require.Equal(t, stateIdle, o.currentState())

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, stateIdle, o.currentState())

	_, err = o.SendUserMessage(context.Background(), "are you there?")
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeModelUnavailable))
	require.Equal(t, stateErrored, o.currentState())

	// An errored session stays usable; a successful turn returns to idle.
	_, err = o.SendUserMessage(context.Background(), "hello again")
	require.NoError(t, err)
	require.Equal(t, stateIdle, o.currentState())
}

func TestTurnStateObservableMidTurn(t *testing.T) {
	chat := &scriptedChat{
		steps: []chatStep{
			textResponse("hi"),
			textResponse("slow reply"),
		},
		blockOn: 2,
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.SendUserMessage(context.Background(), "slow question")
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return chat.callCount() == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, stateAwaitingModel, o.currentState())

	close(chat.release)
	wg.Wait()
	require.Equal(t, stateIdle, o.currentState())
}

func TestStartReportsModelFailure(t *testing.T) {
	chat := &scriptedChat{steps: []chatStep{
		{err: coacherr.ModelUnavailable("model provider unavailable", nil)},
	}}
	o, _ := newTestOrchestrator(chat, &fakeConversationStore{}, &fakeNoteStore{})

	_, err := o.Start(context.Background())
	require.True(t, coacherr.IsCode(err, coacherr.ErrCodeModelUnavailable))

	// Start can be retried after the failure.
	chat.mu.Lock()
	chat.steps = append(chat.steps, textResponse("finally"))
	chat.mu.Unlock()
	greeting, err := o.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "finally", greeting)
}
