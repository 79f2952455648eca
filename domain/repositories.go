package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a requested record does not
// exist. Deletes are idempotent and do not return it.
var ErrNotFound = errors.New("record not found")

// UserRepository persists User records keyed by provider subject.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserBySubject(ctx context.Context, subject string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
}

// SessionRepository persists Session records. Deletion is idempotent:
// deleting an absent session is not an error.
type SessionRepository interface {
	StoreSession(ctx context.Context, session *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	// ListActiveSessions returns the user's sessions with
	// TokenExpiry >= now, most recently active first.
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	// LatestActiveSession returns the most recently active non-expired
	// session for the user, or ErrNotFound.
	LatestActiveSession(ctx context.Context, userID string, now time.Time) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsByUserID(ctx context.Context, userID string) (int64, error)
}
