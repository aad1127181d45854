package v1

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/asterhq/aster/internal/profile"
	"github.com/asterhq/aster/server/ai"
	"github.com/asterhq/aster/server/coach"
	coacherr "github.com/asterhq/aster/server/internal/errors"
	"github.com/asterhq/aster/server/middleware"
	"github.com/asterhq/aster/store"
)

// APIV1Service exposes the coaching conversation API over JSON/HTTP.
type APIV1Service struct {
	Secret   string
	Profile  *profile.Profile
	Store    *store.Store
	Provider *ai.Provider
	Sessions *SessionManager

	logger  *slog.Logger
	limiter *middleware.RateLimiter

	// orchestrators holds the active session per user. One user has at most
	// one live session; starting a new conversation replaces it.
	mu            sync.Mutex
	orchestrators map[int32]*coach.Orchestrator
}

// NewAPIV1Service creates the API service.
func NewAPIV1Service(secret string, prof *profile.Profile, st *store.Store, provider *ai.Provider) *APIV1Service {
	return &APIV1Service{
		Secret:   secret,
		Profile:  prof,
		Store:    st,
		Provider: provider,
		Sessions: NewSessionManager(DefaultSessionTTL),
		logger:   slog.Default(),
		// Chat turns are model-bound and slow; one turn per 2s with a small
		// burst is generous for a single human.
		limiter:       middleware.NewRateLimiter(rate.Limit(0.5), 5),
		orchestrators: make(map[int32]*coach.Orchestrator),
	}
}

// Register mounts all routes on the echo server.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.Use(echomw.CORS())

	e.GET("/healthz", s.handleHealthz)

	api := e.Group("/api/v1", s.authMiddleware)
	api.POST("/conversation-sessions", s.handleCreateConversationSession)
	api.POST("/conversations", s.handleStartConversation)
	api.POST("/conversations/reset", s.handleResetConversation)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:uid/messages", s.handleGetTranscript)
	api.POST("/conversations/:uid/messages", s.handleSendMessage)
	api.GET("/notes", s.handleListNotes)
	api.GET("/profile", s.handleGetProfile)
	api.PUT("/profile", s.handleUpsertProfile)
}

// orchestratorFor returns the user's active orchestrator, or nil.
func (s *APIV1Service) orchestratorFor(userID int32) *coach.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orchestrators[userID]
}

func (s *APIV1Service) setOrchestrator(userID int32, o *coach.Orchestrator) {
	s.mu.Lock()
	s.orchestrators[userID] = o
	s.mu.Unlock()
}

// httpError translates a coaching error into an echo HTTP error.
func httpError(err error) error {
	code := coacherr.GetCodeFromError(err, coacherr.ErrCodeModelError)
	status := http.StatusInternalServerError
	switch code {
	case coacherr.ErrCodeInvalidArgument:
		status = http.StatusBadRequest
	case coacherr.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case coacherr.ErrCodeNotFound:
		status = http.StatusNotFound
	case coacherr.ErrCodeRateLimitExceeded:
		status = http.StatusTooManyRequests
	case coacherr.ErrCodeTurnInProgress:
		status = http.StatusConflict
	case coacherr.ErrCodeModelUnavailable:
		status = http.StatusBadGateway
	case coacherr.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}
	msg := err.Error()
	if cErr, ok := err.(*coacherr.CoachError); ok {
		msg = cErr.Message
	}
	return echo.NewHTTPError(status, msg)
}
