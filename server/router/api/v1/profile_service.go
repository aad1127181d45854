package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/asterhq/aster/store"
)

type profileResponse struct {
	DisplayName   string `json:"display_name"`
	PrimaryGoal   string `json:"primary_goal"`
	CoachingStyle string `json:"coaching_style,omitempty"`
}

func (s *APIV1Service) handleGetProfile(c echo.Context) error {
	userID := userIDFromContext(c)

	userProfile, err := s.Store.GetUserProfile(c.Request().Context(), &store.FindUserProfile{UserID: &userID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user profile")
	}
	if userProfile == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
	}

	return c.JSON(http.StatusOK, profileResponse{
		DisplayName:   userProfile.DisplayName,
		PrimaryGoal:   userProfile.PrimaryGoal,
		CoachingStyle: userProfile.CoachingStyle,
	})
}

type upsertProfileRequest struct {
	DisplayName   string `json:"display_name"`
	PrimaryGoal   string `json:"primary_goal"`
	CoachingStyle string `json:"coaching_style"`
}

func (s *APIV1Service) handleUpsertProfile(c echo.Context) error {
	userID := userIDFromContext(c)

	var req upsertProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.PrimaryGoal) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "primary_goal is required")
	}

	userProfile, err := s.Store.UpsertUserProfile(c.Request().Context(), &store.UpsertUserProfile{
		UserID:        userID,
		DisplayName:   strings.TrimSpace(req.DisplayName),
		PrimaryGoal:   strings.TrimSpace(req.PrimaryGoal),
		CoachingStyle: strings.TrimSpace(req.CoachingStyle),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save user profile")
	}

	return c.JSON(http.StatusOK, profileResponse{
		DisplayName:   userProfile.DisplayName,
		PrimaryGoal:   userProfile.PrimaryGoal,
		CoachingStyle: userProfile.CoachingStyle,
	})
}
