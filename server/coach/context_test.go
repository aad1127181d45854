package coach

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asterhq/aster/store"
)

func TestBuildSystemPromptDeterministic(t *testing.T) {
	facts := ProfileFacts{DisplayName: "Maya", PrimaryGoal: "run a marathon"}
	notes := []*store.Note{
		{Category: store.NoteCategoryGoal, Content: "wants to run a sub-4h marathon"},
		{Category: store.NoteCategoryChallenge, Content: "struggles with early mornings"},
	}

	first := BuildSystemPrompt(facts, notes, DayStateFirstOfDay)
	second := BuildSystemPrompt(facts, notes, DayStateFirstOfDay)
	require.Equal(t, first, second)
}

func TestBuildSystemPromptOmitsNotesSectionWhenEmpty(t *testing.T) {
	prompt := BuildSystemPrompt(ProfileFacts{}, nil, DayStateFirstOfDay)
	require.NotContains(t, prompt, "What you know about the user")

	prompt = BuildSystemPrompt(ProfileFacts{}, []*store.Note{
		{Category: store.NoteCategoryInsight, Content: "works best with deadlines"},
	}, DayStateFirstOfDay)
	require.Contains(t, prompt, "What you know about the user")
	require.Contains(t, prompt, "- works best with deadlines")
}

func TestBuildSystemPromptDayStateVariants(t *testing.T) {
	first := BuildSystemPrompt(ProfileFacts{}, nil, DayStateFirstOfDay)
	require.Contains(t, first, firstOfDayBlock)
	require.NotContains(t, first, returningBlock)

	returning := BuildSystemPrompt(ProfileFacts{}, nil, DayStateReturning)
	require.Contains(t, returning, returningBlock)
	require.NotContains(t, returning, firstOfDayBlock)
}

func TestBuildSystemPromptGroupsNotesInFixedCategoryOrder(t *testing.T) {
	// Input order deliberately scrambled; output must follow the fixed
	// category order with empty categories omitted.
	notes := []*store.Note{
		{Category: store.NoteCategoryReminder, Content: "follow up on the race entry"},
		{Category: store.NoteCategoryGoal, Content: "finish the marathon"},
		{Category: store.NoteCategoryGoal, Content: "read more books"},
		{Category: store.NoteCategoryInsight, Content: "motivated by streaks"},
	}

	prompt := BuildSystemPrompt(ProfileFacts{}, notes, DayStateReturning)

	goals := strings.Index(prompt, "Goals:")
	insights := strings.Index(prompt, "Insights:")
	reminders := strings.Index(prompt, "Reminders:")
	require.True(t, goals >= 0)
	require.True(t, insights > goals)
	require.True(t, reminders > insights)

	require.NotContains(t, prompt, "Challenges:")
	require.NotContains(t, prompt, "Preferences:")
	require.NotContains(t, prompt, "Achievements:")
	require.NotContains(t, prompt, "Context:")
}

func TestBuildSystemPromptOptionalFacts(t *testing.T) {
	tests := []struct {
		name     string
		facts    ProfileFacts
		contains []string
		excludes []string
	}{
		{
			name:     "all facts",
			facts:    ProfileFacts{DisplayName: "Maya", PrimaryGoal: "ship the app", CoachingStyle: "direct"},
			contains: []string{"The user's name is Maya.", "Their primary goal is: ship the app.", "direct coaching style"},
		},
		{
			name:     "name only",
			facts:    ProfileFacts{DisplayName: "Maya"},
			contains: []string{"The user's name is Maya."},
			excludes: []string{"primary goal", "coaching style"},
		},
		{
			name:     "no facts",
			facts:    ProfileFacts{},
			excludes: []string{"The user's name", "primary goal", "coaching style"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := BuildSystemPrompt(tt.facts, nil, DayStateReturning)
			for _, s := range tt.contains {
				require.Contains(t, prompt, s)
			}
			for _, s := range tt.excludes {
				require.NotContains(t, prompt, s)
			}
		})
	}
}

func TestLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-03-15 01:30 UTC is still 2026-03-14 in New York.
	now := time.Date(2026, 3, 15, 1, 30, 0, 0, time.UTC)
	midnight := localMidnight(now, loc)

	want := time.Date(2026, 3, 14, 0, 0, 0, 0, loc).Unix()
	require.Equal(t, want, midnight)
}
