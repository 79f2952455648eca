package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authgate/domain"
	"go.pilab.hu/authgate/services"
)

type stubUserRepo struct{}

func (stubUserRepo) CreateUser(context.Context, *domain.User) error { return nil }
func (stubUserRepo) UpdateUser(context.Context, *domain.User) error { return nil }
func (stubUserRepo) GetUserByID(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (stubUserRepo) GetUserBySubject(context.Context, string) (*domain.User, error) {
	return nil, domain.ErrNotFound
}
func (stubUserRepo) DeleteUser(context.Context, string) error { return nil }

type stubSessionRepo struct {
	session *domain.Session
	getErr  error
	deleted []string
}

func (s *stubSessionRepo) StoreSession(context.Context, *domain.Session) error { return nil }

func (s *stubSessionRepo) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.session == nil || s.session.ID != id {
		return nil, domain.ErrNotFound
	}
	return s.session, nil
}

func (s *stubSessionRepo) ListActiveSessions(context.Context, string, time.Time) ([]*domain.Session, error) {
	return nil, nil
}

func (s *stubSessionRepo) LatestActiveSession(context.Context, string, time.Time) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}

func (s *stubSessionRepo) TouchSession(context.Context, string, time.Time) error { return nil }

func (s *stubSessionRepo) DeleteSession(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubSessionRepo) DeleteSessionsByUserID(context.Context, string) (int64, error) {
	return 0, nil
}

func revokeContext(t *testing.T, identity *domain.Identity, sessionID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/auth/sessions/"+sessionID, nil)
	req = req.WithContext(domain.ContextWithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(sessionID)
	return c, rec
}

func newRevokeAPI(repo *stubSessionRepo) *AuthAPI {
	svc := services.NewSessionService(stubUserRepo{}, repo, 5, time.Hour)
	return NewAuthAPI(nil, svc, nil)
}

func TestRevokeSessionHandlerOwner(t *testing.T) {
	repo := &stubSessionRepo{session: &domain.Session{ID: "s1", UserID: "user-1"}}
	api := newRevokeAPI(repo)

	c, rec := revokeContext(t, &domain.Identity{ID: "user-1", SessionID: "s1"}, "s1")
	require.NoError(t, api.RevokeSessionHandler(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s1"}, repo.deleted)
}

func TestRevokeSessionHandlerAbsentSessionIsIdempotent(t *testing.T) {
	repo := &stubSessionRepo{}
	api := newRevokeAPI(repo)

	c, rec := revokeContext(t, &domain.Identity{ID: "user-1"}, "gone")
	require.NoError(t, api.RevokeSessionHandler(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"gone"}, repo.deleted)
}

func TestRevokeSessionHandlerForbidsOtherOwner(t *testing.T) {
	repo := &stubSessionRepo{session: &domain.Session{ID: "s1", UserID: "user-2"}}
	api := newRevokeAPI(repo)

	c, _ := revokeContext(t, &domain.Identity{ID: "user-1"}, "s1")
	err := api.RevokeSessionHandler(c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
	assert.Empty(t, repo.deleted)
}

func TestRevokeSessionHandlerStorageReadErrorDoesNotDelete(t *testing.T) {
	repo := &stubSessionRepo{getErr: errors.New("storage unavailable")}
	api := newRevokeAPI(repo)

	// An unreadable session must not be deleted unchecked: ownership could
	// not be confirmed.
	c, _ := revokeContext(t, &domain.Identity{ID: "user-1"}, "s1")
	err := api.RevokeSessionHandler(c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
	assert.Empty(t, repo.deleted)
}
