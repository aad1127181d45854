package coach

import (
	"fmt"
	"strings"
	"time"

	"github.com/asterhq/aster/store"
)

// DayState selects which greeting instruction variant the system prompt carries.
type DayState int

const (
	// DayStateFirstOfDay marks the user's first conversation of the calendar day.
	DayStateFirstOfDay DayState = iota
	// DayStateReturning marks any later conversation on the same day.
	DayStateReturning
)

// ProfileFacts are the known user facts injected into the system prompt.
// Every field is optional; absent fields are omitted rather than templated empty.
type ProfileFacts struct {
	DisplayName   string
	PrimaryGoal   string
	CoachingStyle string
}

const personaPreamble = `You are Aster, a personal coach. You help the user make steady progress on their goals through short, focused conversations. Be warm but direct. Keep replies concise and conversational; this is a chat, not an essay. When the user shares something durable about themselves (a goal, a struggle, a preference, a win, a realization, relevant life context, or something to follow up on), record it with the save_note tool before replying. Never mention notes or tools to the user.`

const firstOfDayBlock = `This is the user's first conversation today. Greet them, then ask for the one priority action they want to commit to today. Get a concrete answer before moving on.`

const returningBlock = `The user has already checked in today. Do not ask for their daily priority again. Keep a terse, practical tone and help with whatever they bring up.`

// categoryHeadings maps each note category to its prompt section heading.
// Rendering follows the fixed order of store.NoteCategories.
var categoryHeadings = map[store.NoteCategory]string{
	store.NoteCategoryGoal:        "Goals",
	store.NoteCategoryChallenge:   "Challenges",
	store.NoteCategoryPreference:  "Preferences",
	store.NoteCategoryAchievement: "Achievements",
	store.NoteCategoryInsight:     "Insights",
	store.NoteCategoryContext:     "Context",
	store.NoteCategoryReminder:    "Reminders",
}

// BuildSystemPrompt assembles the per-session system instructions from user
// facts, accumulated notes, and day-state. It is a pure function: identical
// inputs produce byte-identical output.
func BuildSystemPrompt(facts ProfileFacts, notes []*store.Note, day DayState) string {
	var b strings.Builder
	b.WriteString(personaPreamble)

	if facts.DisplayName != "" {
		fmt.Fprintf(&b, "\n\nThe user's name is %s.", facts.DisplayName)
	}
	if facts.PrimaryGoal != "" {
		fmt.Fprintf(&b, "\nTheir primary goal is: %s.", facts.PrimaryGoal)
	}
	if facts.CoachingStyle != "" {
		fmt.Fprintf(&b, "\nThey prefer a %s coaching style.", facts.CoachingStyle)
	}

	if len(notes) > 0 {
		b.WriteString("\n\nWhat you know about the user from previous conversations:")
		for _, category := range store.NoteCategories() {
			var group []*store.Note
			for _, n := range notes {
				if n.Category == category {
					group = append(group, n)
				}
			}
			if len(group) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n\n%s:", categoryHeadings[category])
			for _, n := range group {
				fmt.Fprintf(&b, "\n- %s", n.Content)
			}
		}
	}

	b.WriteString("\n\n")
	switch day {
	case DayStateFirstOfDay:
		b.WriteString(firstOfDayBlock)
	default:
		b.WriteString(returningBlock)
	}

	return b.String()
}

// localMidnight returns the unix timestamp of the start of the current day in
// the given location.
func localMidnight(now time.Time, loc *time.Location) int64 {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.Unix()
}
