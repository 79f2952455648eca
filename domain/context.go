package domain

import "context"

type identityContextKey struct{}

// Identity is the authenticated caller attached to a request context after
// the bearer token verified and a live session was found.
type Identity struct {
	ID        string   `json:"id"` // User.ID
	Issuer    string   `json:"issuer"`
	Subject   string   `json:"subject"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	SessionID string   `json:"-"`
}

// ContextWithIdentity returns a child context carrying the identity.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok
}

// Owns is the single ownership predicate used by every protected mutation:
// a record is owned when its stored owner id matches either the user id or
// the provider subject of the caller.
func (id *Identity) Owns(ownerID string) bool {
	if id == nil || ownerID == "" {
		return false
	}
	return ownerID == id.ID || ownerID == id.Subject
}

// HasRole reports whether the identity carries the given realm role.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}
