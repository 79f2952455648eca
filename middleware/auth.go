package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/authgate/domain"
	autherrors "go.pilab.hu/authgate/errors"
)

// Authenticator resolves a bearer token to an identity with a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, token, callerKey string) (*domain.Identity, error)
}

// BearerAuth returns echo middleware that requires a valid bearer token
// backed by a live session. On success the identity is attached to the
// request context; on failure the caller sees a generic "not authenticated"
// response while the specific reason goes to the log only.
func BearerAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request())
			if !ok {
				return unauthenticated(c)
			}

			identity, err := auth.Authenticate(c.Request().Context(), token, c.RealIP())
			if err != nil {
				log.Debug().
					Str("reason", autherrors.ReasonOf(err)).
					Str("remote", c.RealIP()).
					Msg("request rejected")
				return unauthenticated(c)
			}

			ctx := domain.ContextWithIdentity(c.Request().Context(), identity)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func unauthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
}

// IdentityFromRequest retrieves the identity stored by BearerAuth.
func IdentityFromRequest(c echo.Context) (*domain.Identity, bool) {
	return domain.IdentityFromContext(c.Request().Context())
}

// RequireOwner is the single ownership check applied before every mutation
// of a user-owned record: it admits the owner and nobody else.
func RequireOwner(c echo.Context, ownerID string) error {
	identity, ok := IdentityFromRequest(c)
	if !ok || !identity.Owns(ownerID) {
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	}
	return nil
}
