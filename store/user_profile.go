package store

// UserProfile holds the coaching-relevant facts about a user. The onboarding
// flow writes it; this core only reads it.
type UserProfile struct {
	UserID        int32
	DisplayName   string
	PrimaryGoal   string
	CoachingStyle string
	CreatedTs     int64
	UpdatedTs     int64
}

type FindUserProfile struct {
	UserID *int32
}

type UpsertUserProfile struct {
	UserID        int32
	DisplayName   string
	PrimaryGoal   string
	CoachingStyle string
}
