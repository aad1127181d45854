package store

import (
	"context"
	"fmt"
	"time"

	"github.com/asterhq/aster/internal/profile"
	"github.com/asterhq/aster/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// userProfileCache caches user profile rows; invalidated on upsert.
	userProfileCache *cache.Cache
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		userProfileCache: cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.userProfileCache.Close()
	return s.driver.Close()
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

// CountConversationsSince returns how many conversations the user created at
// or after the given unix timestamp. A zero count at local midnight drives
// the first-interaction-of-day greeting.
func (s *Store) CountConversationsSince(ctx context.Context, userID int32, since int64) (int64, error) {
	return s.driver.CountConversations(ctx, &FindConversation{
		UserID:       &userID,
		CreatedAfter: &since,
	})
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) DeleteMessage(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessage(ctx, delete)
}

func (s *Store) CreateNote(ctx context.Context, create *Note) (*Note, error) {
	if !create.Category.IsValid() {
		return nil, fmt.Errorf("invalid note category: %s", create.Category)
	}
	if create.Content == "" {
		return nil, fmt.Errorf("note content is required")
	}
	return s.driver.CreateNote(ctx, create)
}

func (s *Store) ListNotes(ctx context.Context, find *FindNote) ([]*Note, error) {
	return s.driver.ListNotes(ctx, find)
}

func (s *Store) DeleteNote(ctx context.Context, delete *DeleteNote) error {
	return s.driver.DeleteNote(ctx, delete)
}

func (s *Store) UpsertUserProfile(ctx context.Context, upsert *UpsertUserProfile) (*UserProfile, error) {
	p, err := s.driver.UpsertUserProfile(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.userProfileCache.Delete(userProfileCacheKey(upsert.UserID))
	return p, nil
}

func (s *Store) GetUserProfile(ctx context.Context, find *FindUserProfile) (*UserProfile, error) {
	if find.UserID != nil {
		if cached, ok := s.userProfileCache.Get(userProfileCacheKey(*find.UserID)); ok {
			if p, ok := cached.(*UserProfile); ok {
				return p, nil
			}
		}
	}

	p, err := s.driver.GetUserProfile(ctx, find)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.userProfileCache.Set(userProfileCacheKey(p.UserID), p)
	}
	return p, nil
}

func userProfileCacheKey(userID int32) string {
	return fmt.Sprintf("user_profile:%d", userID)
}
