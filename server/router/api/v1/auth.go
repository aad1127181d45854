package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const userIDContextKey = "user-id"

// authMiddleware verifies the Bearer token on every request and stores the
// authenticated user ID in the echo context. Tokens are HS256 JWTs whose
// subject claim carries the user ID.
func (s *APIV1Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		userID, err := s.verifyToken(tokenString)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		c.Set(userIDContextKey, userID)
		return next(c)
	}
}

func (s *APIV1Service) verifyToken(tokenString string) (int32, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 32)
	if err != nil {
		return 0, jwt.ErrTokenInvalidSubject
	}
	return int32(userID), nil
}

func userIDFromContext(c echo.Context) int32 {
	if id, ok := c.Get(userIDContextKey).(int32); ok {
		return id
	}
	return 0
}
