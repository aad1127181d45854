package store

// Conversation is the persisted header record of one coaching conversation.
// A conversation owns its messages; deleting it cascades to them.
type Conversation struct {
	ID        int32
	UID       string
	UserID    int32
	Title     string
	ModelName string
	CreatedTs int64
	UpdatedTs int64
}

type FindConversation struct {
	ID     *int32
	UID    *string
	UserID *int32
	// CreatedAfter filters conversations created at or after the given
	// unix timestamp. Used for the first-interaction-of-day check.
	CreatedAfter *int64
}

type UpdateConversation struct {
	ID        int32
	Title     *string
	UpdatedTs *int64
}

type DeleteConversation struct {
	ID int32
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "USER"
	MessageRoleAssistant MessageRole = "ASSISTANT"
)

// Message is one persisted conversation turn.
type Message struct {
	ID             int32
	UID            string
	ConversationID int32
	Role           MessageRole
	Content        string
	ModelName      string
	CreatedTs      int64
}

type FindMessage struct {
	ID             *int32
	UID            *string
	ConversationID *int32
}

type DeleteMessage struct {
	ID             *int32
	ConversationID *int32
}
