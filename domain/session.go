package domain

import "time"

// Session is a server-tracked login session owned by a User. Sessions are
// created on successful token verification and are immutable except for the
// LastActiveAt refresh. A session is authoritative only while
// TokenExpiry >= now; expired rows may linger until the storage TTL sweeps
// them, so every read path filters on expiry.
type Session struct {
	ID           string    `bson:"_id,omitempty"`
	UserID       string    `bson:"user_id"`
	Subject      string    `bson:"subject"`
	TokenID      string    `bson:"token_id,omitempty"` // JWT jti, when present
	SessionState string    `bson:"session_state,omitempty"`
	TokenExpiry  time.Time `bson:"token_expiry"`
	LastActiveAt time.Time `bson:"last_active_at"`
	CreatedAt    time.Time `bson:"created_at"`
	UserAgent    string    `bson:"user_agent,omitempty"`
	IPAddress    string    `bson:"ip_address,omitempty"`
}

// Active reports whether the session is still authoritative at now.
func (s *Session) Active(now time.Time) bool {
	return !s.TokenExpiry.Before(now)
}
