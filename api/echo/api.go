package echo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/authgate/domain"
	"go.pilab.hu/authgate/middleware"
	"go.pilab.hu/authgate/services"
)

// Pinger is the health-check dependency, satisfied by the MongoDB client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthAPI exposes the verification and session-management surface over HTTP.
type AuthAPI struct {
	auth     *services.AuthService
	sessions *services.SessionService
	health   Pinger
}

// NewAuthAPI initializes the HTTP API.
func NewAuthAPI(auth *services.AuthService, sessions *services.SessionService, health Pinger) *AuthAPI {
	return &AuthAPI{
		auth:     auth,
		sessions: sessions,
		health:   health,
	}
}

// RegisterRoutes registers the API routes.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/verify", a.VerifyHandler)
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authed := e.Group("/auth", middleware.BearerAuth(a.auth))
	authed.GET("/sessions", a.ListSessionsHandler)
	authed.DELETE("/sessions/:id", a.RevokeSessionHandler)
	authed.POST("/logout", a.LogoutHandler)
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyHandler verifies a presented bearer token and records a session on
// success. The response is always a VerificationResult, 200 on acceptance
// and 401 on rejection.
func (a *AuthAPI) VerifyHandler(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, services.VerificationResult{
			IsValid: false,
			Error:   "MalformedToken",
		})
	}

	result := a.auth.VerifyToken(c.Request().Context(), req.Token, c.RealIP())
	status := http.StatusOK
	if !result.IsValid {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, result)
}

type sessionResponse struct {
	ID          string `json:"id"`
	TokenExpiry string `json:"tokenExpiry"`
	LastActive  string `json:"lastActive"`
	CreatedAt   string `json:"createdAt"`
	Current     bool   `json:"current"`
}

// ListSessionsHandler lists the caller's active sessions.
func (a *AuthAPI) ListSessionsHandler(c echo.Context) error {
	identity, _ := middleware.IdentityFromRequest(c)

	sessions, err := a.sessions.GetActiveSessions(c.Request().Context(), identity.ID)
	if err != nil {
		log.Error().Err(err).Str("userID", identity.ID).Msg("failed to list sessions")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}

	response := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		response = append(response, sessionResponse{
			ID:          session.ID,
			TokenExpiry: session.TokenExpiry.UTC().Format(time.RFC3339),
			LastActive:  session.LastActiveAt.UTC().Format(time.RFC3339),
			CreatedAt:   session.CreatedAt.UTC().Format(time.RFC3339),
			Current:     session.ID == identity.SessionID,
		})
	}
	return c.JSON(http.StatusOK, response)
}

// RevokeSessionHandler revokes one of the caller's own sessions. Revoking a
// session that is already gone succeeds.
func (a *AuthAPI) RevokeSessionHandler(c echo.Context) error {
	identity, _ := middleware.IdentityFromRequest(c)
	sessionID := c.Param("id")

	session, err := a.sessions.GetSession(c.Request().Context(), sessionID)
	switch {
	case err == nil:
		if ownErr := middleware.RequireOwner(c, session.UserID); ownErr != nil {
			return ownErr
		}
	case errors.Is(err, domain.ErrNotFound):
		// Already gone: revocation stays idempotent.
	default:
		log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to load session")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke session")
	}

	if err := a.sessions.RevokeSession(c.Request().Context(), sessionID); err != nil {
		log.Error().Err(err).Str("sessionID", sessionID).Msg("failed to revoke session")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke session")
	}
	log.Info().Str("sessionID", sessionID).Str("userID", identity.ID).Msg("session revoked")
	return c.NoContent(http.StatusNoContent)
}

// LogoutHandler revokes every session of the caller.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	identity, _ := middleware.IdentityFromRequest(c)

	if err := a.sessions.RevokeAllUserSessions(c.Request().Context(), identity.ID); err != nil {
		log.Error().Err(err).Str("userID", identity.ID).Msg("failed to revoke sessions")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to log out")
	}
	return c.NoContent(http.StatusNoContent)
}

// HealthHandler reports storage reachability.
func (a *AuthAPI) HealthHandler(c echo.Context) error {
	if a.health != nil {
		if err := a.health.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
