package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/asterhq/aster/server/coach"
	"github.com/asterhq/aster/store"
)

type conversationSessionResponse struct {
	SessionID        string `json:"session_id"`
	SessionToken     string `json:"session_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// handleCreateConversationSession mints a one-shot session credential. The
// profile is validated up-front so a client without one gets a deterministic
// 404 here instead of a failure mid-conversation.
func (s *APIV1Service) handleCreateConversationSession(c echo.Context) error {
	userID := userIDFromContext(c)

	userProfile, err := s.Store.GetUserProfile(c.Request().Context(), &store.FindUserProfile{UserID: &userID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile")
	}
	if userProfile == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
	}

	sessionID, sessionToken := s.Sessions.CreateSession(userID)
	return c.JSON(http.StatusOK, conversationSessionResponse{
		SessionID:        sessionID,
		SessionToken:     sessionToken,
		ExpiresInSeconds: int(s.Sessions.TTL() / time.Second),
	})
}

type startConversationRequest struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
}

type conversationResponse struct {
	ConversationUID string `json:"conversation_uid"`
	Message         string `json:"message"`
}

// handleStartConversation consumes a pending session and opens a new
// conversation, returning the model's opening greeting.
func (s *APIV1Service) handleStartConversation(c echo.Context) error {
	userID := userIDFromContext(c)

	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if _, err := s.Sessions.ConsumeSession(req.SessionID, req.SessionToken); err != nil {
		return httpError(err)
	}
	if !s.limiter.Allow(rateLimitKey(userID)) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}

	orchestrator, err := s.newOrchestrator(c, userID)
	if err != nil {
		return err
	}

	greeting, err := orchestrator.Start(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	s.setOrchestrator(userID, orchestrator)

	return c.JSON(http.StatusOK, conversationResponse{
		ConversationUID: orchestrator.ConversationUID(),
		Message:         greeting,
	})
}

// handleResetConversation discards the active session and starts fresh.
func (s *APIV1Service) handleResetConversation(c echo.Context) error {
	userID := userIDFromContext(c)
	if !s.limiter.Allow(rateLimitKey(userID)) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}

	orchestrator := s.orchestratorFor(userID)
	if orchestrator == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active session")
	}

	greeting, err := orchestrator.Reset(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversationResponse{
		ConversationUID: orchestrator.ConversationUID(),
		Message:         greeting,
	})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// handleSendMessage runs one turn against the conversation identified by uid.
// If the user's active session is bound to a different conversation, the
// requested one is loaded from storage first.
func (s *APIV1Service) handleSendMessage(c echo.Context) error {
	userID := userIDFromContext(c)
	uid := c.Param("uid")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if !s.limiter.Allow(rateLimitKey(userID)) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	}

	orchestrator := s.orchestratorFor(userID)
	if orchestrator == nil || orchestrator.ConversationUID() != uid {
		var err error
		orchestrator, err = s.newOrchestrator(c, userID)
		if err != nil {
			return err
		}
		if err := orchestrator.LoadConversation(c.Request().Context(), uid); err != nil {
			return httpError(err)
		}
		s.setOrchestrator(userID, orchestrator)
	}

	reply, err := orchestrator.SendUserMessage(c.Request().Context(), req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversationResponse{
		ConversationUID: orchestrator.ConversationUID(),
		Message:         reply,
	})
}

type conversationListItem struct {
	UID       string `json:"uid"`
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
}

func (s *APIV1Service) handleListConversations(c echo.Context) error {
	userID := userIDFromContext(c)

	conversations, err := s.Store.ListConversations(c.Request().Context(), &store.FindConversation{UserID: &userID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations")
	}

	items := make([]conversationListItem, 0, len(conversations))
	for _, conv := range conversations {
		items = append(items, conversationListItem{
			UID:       conv.UID,
			Title:     conv.Title,
			ModelName: conv.ModelName,
			CreatedTs: conv.CreatedTs,
			UpdatedTs: conv.UpdatedTs,
		})
	}
	return c.JSON(http.StatusOK, items)
}

type messageItem struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"created_ts"`
}

func (s *APIV1Service) handleGetTranscript(c echo.Context) error {
	userID := userIDFromContext(c)
	uid := c.Param("uid")

	conversation, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{
		UID:    &uid,
		UserID: &userID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	messages, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{ConversationID: &conversation.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}

	items := make([]messageItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, messageItem{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedTs: m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, items)
}

type noteItem struct {
	UID        string `json:"uid"`
	Category   string `json:"category"`
	Content    string `json:"content"`
	Importance int32  `json:"importance"`
	CreatedTs  int64  `json:"created_ts"`
}

func (s *APIV1Service) handleListNotes(c echo.Context) error {
	userID := userIDFromContext(c)

	notes, err := s.Store.ListNotes(c.Request().Context(), &store.FindNote{UserID: &userID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list notes")
	}

	items := make([]noteItem, 0, len(notes))
	for _, n := range notes {
		items = append(items, noteItem{
			UID:        n.UID,
			Category:   string(n.Category),
			Content:    n.Content,
			Importance: n.Importance,
			CreatedTs:  n.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *APIV1Service) handleHealthz(c echo.Context) error {
	if err := s.Store.GetDriver().GetDB().PingContext(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// newOrchestrator builds a fresh orchestrator seeded with the user's profile
// facts.
func (s *APIV1Service) newOrchestrator(c echo.Context, userID int32) (*coach.Orchestrator, error) {
	userProfile, err := s.Store.GetUserProfile(c.Request().Context(), &store.FindUserProfile{UserID: &userID})
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile")
	}
	if userProfile == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "user profile not found")
	}

	facts := coach.ProfileFacts{
		DisplayName:   userProfile.DisplayName,
		PrimaryGoal:   userProfile.PrimaryGoal,
		CoachingStyle: userProfile.CoachingStyle,
	}
	loc, err := time.LoadLocation(s.Profile.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return coach.NewOrchestrator(s.Provider, s.Store, s.Store, userID, facts,
		coach.WithLogger(s.logger),
		coach.WithTimezone(loc),
	), nil
}

func rateLimitKey(userID int32) string {
	return fmt.Sprintf("user:%d", userID)
}
