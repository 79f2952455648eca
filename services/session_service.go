package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	authgate "go.pilab.hu/authgate"
	"go.pilab.hu/authgate/domain"
	autherrors "go.pilab.hu/authgate/errors"
	"go.pilab.hu/authgate/internal/metrics"
)

const (
	// DefaultSessionCeiling is the maximum concurrent active sessions per
	// user before the oldest is evicted.
	DefaultSessionCeiling = 5

	// DefaultSessionCeilingDuration caps a session's lifetime regardless
	// of how long the token itself lives.
	DefaultSessionCeilingDuration = 8 * time.Hour
)

// SessionService owns user profiles and their sessions: it upserts the user
// on every successful verification, enforces the per-user session ceiling,
// and answers session-validity queries for the authorization middleware.
type SessionService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository

	ceiling         int
	ceilingDuration time.Duration
	now             func() time.Time

	// userLocks serializes check-evict-insert per subject so concurrent
	// logins from the same user cannot exceed the ceiling.
	userLocks sync.Map // subject -> *sync.Mutex
}

// NewSessionService creates a session manager. Zero values select the
// defaults.
func NewSessionService(users domain.UserRepository, sessions domain.SessionRepository, ceiling int, ceilingDuration time.Duration) *SessionService {
	if ceiling <= 0 {
		ceiling = DefaultSessionCeiling
	}
	if ceilingDuration <= 0 {
		ceilingDuration = DefaultSessionCeilingDuration
	}
	return &SessionService{
		users:           users,
		sessions:        sessions,
		ceiling:         ceiling,
		ceilingDuration: ceilingDuration,
		now:             time.Now,
	}
}

func (s *SessionService) lockUser(subject string) func() {
	value, _ := s.userLocks.LoadOrStore(subject, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RecordSession upserts the user for the verified identity and inserts a
// new session, evicting the oldest active one first when the user is at the
// ceiling. The effective expiry is min(token expiry, now + ceiling
// duration).
func (s *SessionService) RecordSession(ctx context.Context, identity *authgate.Identity) (*domain.Session, error) {
	unlock := s.lockUser(identity.Subject)
	defer unlock()

	now := s.now().UTC()

	user, err := s.upsertUser(ctx, identity, now)
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.ListActiveSessions(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	for len(active) >= s.ceiling {
		oldest := oldestSession(active)
		if err := s.sessions.DeleteSession(ctx, oldest.ID); err != nil {
			return nil, err
		}
		metrics.Inc(metrics.SessionsEvictedTotal)
		log.Debug().Str("sessionID", oldest.ID).Str("userID", user.ID).
			Msg("evicted oldest session at ceiling")
		active = removeSession(active, oldest.ID)
	}

	expiry := identity.ExpiresAt
	if capped := now.Add(s.ceilingDuration); capped.Before(expiry) {
		expiry = capped
	}

	session := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Subject:      identity.Subject,
		TokenID:      identity.TokenID,
		SessionState: identity.SessionState,
		TokenExpiry:  expiry.UTC(),
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.SessionsCreatedTotal)
	return session, nil
}

// oldestSession picks the session with the smallest LastActiveAt, breaking
// ties by the lexicographically smallest session ID.
func oldestSession(sessions []*domain.Session) *domain.Session {
	oldest := sessions[0]
	for _, session := range sessions[1:] {
		switch {
		case session.LastActiveAt.Before(oldest.LastActiveAt):
			oldest = session
		case session.LastActiveAt.Equal(oldest.LastActiveAt) && session.ID < oldest.ID:
			oldest = session
		}
	}
	return oldest
}

func removeSession(sessions []*domain.Session, id string) []*domain.Session {
	kept := sessions[:0]
	for _, session := range sessions {
		if session.ID != id {
			kept = append(kept, session)
		}
	}
	return kept
}

func (s *SessionService) upsertUser(ctx context.Context, identity *authgate.Identity, now time.Time) (*domain.User, error) {
	user, err := s.users.GetUserBySubject(ctx, identity.Subject)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		user = &domain.User{Subject: identity.Subject}
		applyIdentity(user, identity, now)
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, err
		}
		metrics.Inc(metrics.UsersCreatedTotal)
		log.Info().Str("subject", identity.Subject).Str("userID", user.ID).
			Msg("created user on first verification")
		return user, nil
	}

	applyIdentity(user, identity, now)
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// applyIdentity overwrites profile fields from the freshest verified token
// (last-write-wins) and records login/replay bookkeeping.
func applyIdentity(user *domain.User, identity *authgate.Identity, now time.Time) {
	user.Issuer = identity.Issuer
	user.Username = identity.Username
	user.Email = identity.Email
	user.FirstName = identity.FirstName
	user.LastName = identity.LastName
	user.Roles = identity.Roles
	user.EmailVerified = identity.EmailVerified
	user.LastLoginAt = &now

	if identity.TokenID != "" {
		user.LastTokenID = identity.TokenID
	}
	issuedAt := identity.IssuedAt
	user.LastTokenIssuedAt = &issuedAt
}

// ValidateUser resolves the caller's identity from the most recent live
// session of the given subject. A missing user or session is an
// authorization failure, not a crash.
func (s *SessionService) ValidateUser(ctx context.Context, subject string) (*domain.Identity, error) {
	user, err := s.users.GetUserBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, autherrors.NewUnauthorized("user not found")
		}
		return nil, err
	}

	now := s.now().UTC()
	session, err := s.sessions.LatestActiveSession(ctx, user.ID, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, autherrors.NewUnauthorized("no valid session found")
		}
		return nil, err
	}

	if err := s.sessions.TouchSession(ctx, session.ID, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Str("sessionID", session.ID).Msg("failed to refresh session activity")
	}

	return &domain.Identity{
		ID:        user.ID,
		Issuer:    user.Issuer,
		Subject:   user.Subject,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Roles:     user.Roles,
		SessionID: session.ID,
	}, nil
}

// GetSession retrieves a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessions.GetSessionByID(ctx, sessionID)
}

// GetActiveSessions returns the user's non-expired sessions.
func (s *SessionService) GetActiveSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.sessions.ListActiveSessions(ctx, userID, s.now().UTC())
}

// RevokeSession deletes a single session. Revoking an absent session is a
// no-op.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	metrics.Inc(metrics.SessionsRevokedTotal)
	return nil
}

// RevokeAllUserSessions deletes every session owned by the user.
func (s *SessionService) RevokeAllUserSessions(ctx context.Context, userID string) error {
	deleted, err := s.sessions.DeleteSessionsByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for i := int64(0); i < deleted; i++ {
		metrics.Inc(metrics.SessionsRevokedTotal)
	}
	return nil
}

// DeleteUser removes the user and, explicitly, every session it owns.
// Storage does not cascade; the session manager must.
func (s *SessionService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.RevokeAllUserSessions(ctx, userID); err != nil {
		return err
	}
	return s.users.DeleteUser(ctx, userID)
}
