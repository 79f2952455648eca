package domain

import "time"

// User is the server-side profile for a subject known to the identity
// provider. It is created on the first successful token verification for a
// subject and updated (never replaced) on every subsequent one; profile
// fields are last-write-wins against the freshest token.
type User struct {
	ID            string     `bson:"_id,omitempty"`
	Subject       string     `bson:"subject"` // provider subject id (sub), unique
	Issuer        string     `bson:"issuer"`
	Username      string     `bson:"username"`
	Email         string     `bson:"email,omitempty"`
	FirstName     string     `bson:"first_name,omitempty"`
	LastName      string     `bson:"last_name,omitempty"`
	Roles         []string   `bson:"roles,omitempty"`
	EmailVerified bool       `bson:"email_verified,omitempty"`
	LastLoginAt   *time.Time `bson:"last_login_at,omitempty"`

	// Replay / monotonicity bookkeeping: id and issued-at of the most
	// recent token accepted for this subject.
	LastTokenID       string     `bson:"last_token_id,omitempty"`
	LastTokenIssuedAt *time.Time `bson:"last_token_issued_at,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}
