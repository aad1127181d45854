package store

// NoteCategory classifies a remembered fact about a user.
type NoteCategory string

const (
	NoteCategoryGoal        NoteCategory = "GOAL"
	NoteCategoryChallenge   NoteCategory = "CHALLENGE"
	NoteCategoryPreference  NoteCategory = "PREFERENCE"
	NoteCategoryAchievement NoteCategory = "ACHIEVEMENT"
	NoteCategoryInsight     NoteCategory = "INSIGHT"
	NoteCategoryContext     NoteCategory = "CONTEXT"
	NoteCategoryReminder    NoteCategory = "REMINDER"
)

// NoteCategories returns all categories in their fixed presentation order.
// The order determines the informational priority the model perceives, so
// it is part of the contract, not a cosmetic choice.
func NoteCategories() []NoteCategory {
	return []NoteCategory{
		NoteCategoryGoal,
		NoteCategoryChallenge,
		NoteCategoryPreference,
		NoteCategoryAchievement,
		NoteCategoryInsight,
		NoteCategoryContext,
		NoteCategoryReminder,
	}
}

// IsValid reports whether the category is one of the enumerated set.
func (c NoteCategory) IsValid() bool {
	switch c {
	case NoteCategoryGoal, NoteCategoryChallenge, NoteCategoryPreference,
		NoteCategoryAchievement, NoteCategoryInsight, NoteCategoryContext,
		NoteCategoryReminder:
		return true
	}
	return false
}

const (
	// NoteImportanceMin and NoteImportanceMax bound the importance scale.
	NoteImportanceMin = 1
	NoteImportanceMax = 5
	// NoteImportanceDefault is used when the model omits importance.
	NoteImportanceDefault = 3
)

// Note is a durable, categorized fact about a user extracted from
// conversation. Notes are append-only from the orchestrator's point of view:
// never mutated, never deleted here.
type Note struct {
	ID         int64
	UID        string
	UserID     int32
	Category   NoteCategory
	Content    string
	Importance int32
	// SourceConversationID is a weak back-reference to the conversation the
	// note was extracted from. Nil when unknown; carries no ownership.
	SourceConversationID *int32
	CreatedTs            int64
}

type FindNote struct {
	ID       *int64
	UserID   *int32
	Category *NoteCategory
	Limit    int
	Offset   int
}

type DeleteNote struct {
	ID     *int64
	UserID *int32
}
