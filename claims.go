package authgate

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	autherrors "go.pilab.hu/authgate/errors"
)

// TokenHeader is the decoded JOSE header of a bearer token.
type TokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// Audience unmarshals the aud claim, which providers emit either as a single
// string or as an array of strings.
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = Audience(many)
	return nil
}

// Contains reports whether the audience set includes value.
func (a Audience) Contains(value string) bool {
	for _, aud := range a {
		if aud == value {
			return true
		}
	}
	return false
}

// RealmAccess holds the provider's realm-level role grants.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Claims is the decoded payload of a bearer token. Until the verifier has
// confirmed the signature these values are untrusted input.
type Claims struct {
	Subject           string      `json:"sub"`
	PreferredUsername string      `json:"preferred_username"`
	Email             string      `json:"email,omitempty"`
	EmailVerified     bool        `json:"email_verified,omitempty"`
	GivenName         string      `json:"given_name,omitempty"`
	FamilyName        string      `json:"family_name,omitempty"`
	IssuedAt          int64       `json:"iat"`
	ExpiresAt         int64       `json:"exp"`
	Issuer            string      `json:"iss"`
	Audience          Audience    `json:"aud"`
	AuthorizedParty   string      `json:"azp,omitempty"`
	TokenID           string      `json:"jti,omitempty"`
	SessionState      string      `json:"session_state,omitempty"`
	RealmAccess       RealmAccess `json:"realm_access,omitempty"`
}

// IssuedAtTime returns iat as wall-clock time.
func (c *Claims) IssuedAtTime() time.Time { return time.Unix(c.IssuedAt, 0) }

// ExpiresAtTime returns exp as wall-clock time.
func (c *Claims) ExpiresAtTime() time.Time { return time.Unix(c.ExpiresAt, 0) }

// DecodedToken is the structural decomposition of a bearer token. The
// signature has not been checked; SigningInput and Signature carry what the
// verifier needs to do so.
type DecodedToken struct {
	Header       TokenHeader
	Claims       Claims
	SigningInput string // header.payload, exactly as presented
	Signature    []byte
}

// DecodeToken splits a bearer token into its three segments and decodes
// header and payload without verifying the signature. It is pure: no I/O,
// no clock access. Callers must treat the result as untrusted until the
// verifier has confirmed the signature.
func DecodeToken(token string) (*DecodedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, autherrors.NewMalformedToken("token must have exactly three segments")
	}
	for _, part := range parts {
		if part == "" {
			return nil, autherrors.NewMalformedToken("token has an empty segment")
		}
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, autherrors.NewMalformedToken("header segment is not valid base64url")
	}
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, autherrors.NewMalformedToken("payload segment is not valid base64url")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, autherrors.NewMalformedToken("signature segment is not valid base64url")
	}

	decoded := &DecodedToken{
		SigningInput: parts[0] + "." + parts[1],
		Signature:    signature,
	}
	if err := unmarshalObject(headerJSON, &decoded.Header); err != nil {
		return nil, autherrors.NewMalformedToken("header is not a JSON object")
	}
	if err := unmarshalObject(payloadJSON, &decoded.Claims); err != nil {
		return nil, autherrors.NewMalformedToken("payload is not a JSON object")
	}
	return decoded, nil
}

// unmarshalObject rejects any JSON value that is not an object before
// decoding into the target struct, so `null` or `[...]` segments fail
// structural validation instead of silently producing zero values.
func unmarshalObject(data []byte, target any) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
