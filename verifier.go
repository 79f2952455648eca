package authgate

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/authgate/cache"
	autherrors "go.pilab.hu/authgate/errors"
)

// State names a position in the verification state machine. Every token
// walks Received -> Accepted in order; any failure moves it to Rejected.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateStructureChecked State = "STRUCTURE_CHECKED"
	StateDecoded          State = "DECODED"
	StateKeyResolved      State = "KEY_RESOLVED"
	StateSignatureChecked State = "SIGNATURE_CHECKED"
	StateClaimsChecked    State = "CLAIMS_CHECKED"
	StateAccepted         State = "ACCEPTED"
	StateRejected         State = "REJECTED"
)

const (
	// DefaultExpiryGrace is the clock-skew slack applied after exp.
	DefaultExpiryGrace = 30 * time.Second

	// DefaultMaxTokenAge is the absolute ceiling on now - iat.
	DefaultMaxTokenAge = 24 * time.Hour

	// DefaultReplayWindow is how long an accepted jti stays poisoned.
	DefaultReplayWindow = 10 * time.Minute

	expectedAlgorithm = "RS256"
)

// Identity is the normalized result of a successful verification. Its
// fields come straight from signature-checked claims.
type Identity struct {
	Subject       string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	Roles         []string
	EmailVerified bool
	Issuer        string
	SessionState  string
	TokenID       string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// VerifierConfig carries the trust policy for token verification.
type VerifierConfig struct {
	// TrustedIssuers is the allow-list for the iss claim. Mandatory: an
	// empty list rejects every token.
	TrustedIssuers []string

	// TrustedClients, when non-empty, requires azp (or an aud entry) to
	// be a member.
	TrustedClients []string

	ExpiryGrace time.Duration
	MaxTokenAge time.Duration

	// ReplayProtection requires a jti claim and rejects a jti seen
	// before within ReplayWindow.
	ReplayProtection bool
	ReplayWindow     time.Duration
}

func (c *VerifierConfig) applyDefaults() {
	if c.ExpiryGrace <= 0 {
		c.ExpiryGrace = DefaultExpiryGrace
	}
	if c.MaxTokenAge <= 0 {
		c.MaxTokenAge = DefaultMaxTokenAge
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = DefaultReplayWindow
	}
}

// TokenVerifier runs the verification state machine. It is safe for
// concurrent use; all shared state lives in the key resolver and the replay
// store.
type TokenVerifier struct {
	keys   *KeyResolver
	replay cache.ReplayStore
	cfg    VerifierConfig
	now    func() time.Time
}

// NewTokenVerifier creates a verifier. replay may be nil when
// cfg.ReplayProtection is false.
func NewTokenVerifier(keys *KeyResolver, replay cache.ReplayStore, cfg VerifierConfig) *TokenVerifier {
	cfg.applyDefaults()
	return &TokenVerifier{
		keys:   keys,
		replay: replay,
		cfg:    cfg,
		now:    time.Now,
	}
}

// verification is the per-token run of the state machine.
type verification struct {
	verifier   *TokenVerifier
	raw        string
	state      State
	decoded    *DecodedToken
	key        *rsa.PublicKey
	markReplay bool
}

// Verify walks the token through the state machine and returns the
// normalized identity, or a typed VerificationError naming the rejection
// reason. It never panics past its boundary and never accepts a token whose
// signature was not cryptographically checked. With replay protection on it
// consumes the token id, so it belongs on the one-time login path; use
// Revalidate for later presentations of an already-accepted token.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	return v.run(ctx, token, true)
}

// Revalidate runs the same state machine without consuming the token id.
// A token that already created a session keeps authorizing requests for its
// remaining lifetime instead of being one-shot.
func (v *TokenVerifier) Revalidate(ctx context.Context, token string) (*Identity, error) {
	return v.run(ctx, token, false)
}

func (v *TokenVerifier) run(ctx context.Context, token string, markReplay bool) (*Identity, error) {
	run := &verification{verifier: v, raw: token, state: StateReceived, markReplay: markReplay}

	steps := []struct {
		next State
		fn   func(context.Context) error
	}{
		{StateStructureChecked, run.checkStructure},
		{StateDecoded, run.decode},
		{StateKeyResolved, run.resolveKey},
		{StateSignatureChecked, run.checkSignature},
		{StateClaimsChecked, run.checkClaims},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			from := run.state
			run.state = StateRejected
			log.Debug().Err(err).
				Str("from_state", string(from)).
				Msg("token rejected")
			return nil, err
		}
		run.state = step.next
	}

	identity := run.identity()
	run.state = StateAccepted
	return identity, nil
}

// checkStructure verifies the three-segment shape and that the header
// declares the expected algorithm and token type, before anything else is
// trusted enough to decode fully.
func (r *verification) checkStructure(context.Context) error {
	parts := strings.Split(r.raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return autherrors.NewMalformedToken("token must have exactly three non-empty segments")
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return autherrors.NewMalformedToken("header segment is not valid base64url")
	}
	var header TokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return autherrors.NewMalformedToken("header segment is not valid JSON")
	}
	if header.Alg != expectedAlgorithm {
		return autherrors.NewMalformedToken(fmt.Sprintf("unexpected algorithm %q", header.Alg))
	}
	if header.Typ != "" && header.Typ != "JWT" {
		return autherrors.NewMalformedToken(fmt.Sprintf("unexpected token type %q", header.Typ))
	}
	return nil
}

func (r *verification) decode(context.Context) error {
	decoded, err := DecodeToken(r.raw)
	if err != nil {
		return err
	}
	r.decoded = decoded
	return nil
}

func (r *verification) resolveKey(ctx context.Context) error {
	kid := r.decoded.Header.Kid
	if kid == "" {
		return autherrors.NewKeyNotFound(kid)
	}
	key, err := r.verifier.keys.ResolveKey(ctx, r.decoded.Claims.Issuer, kid)
	if err != nil {
		return err
	}
	r.key = key
	return nil
}

// checkSignature is mandatory: a kid match alone never proves anything.
func (r *verification) checkSignature(context.Context) error {
	method := jwt.GetSigningMethod(r.decoded.Header.Alg)
	if method == nil {
		return autherrors.NewMalformedToken(fmt.Sprintf("no signing method for %q", r.decoded.Header.Alg))
	}
	if err := method.Verify(r.decoded.SigningInput, r.decoded.Signature, r.key); err != nil {
		return autherrors.NewInvalidSignature(err.Error())
	}
	return nil
}

func (r *verification) checkClaims(ctx context.Context) error {
	v := r.verifier
	claims := &r.decoded.Claims
	now := v.now()

	if claims.ExpiresAtTime().Add(v.cfg.ExpiryGrace).Before(now) {
		return autherrors.NewExpired(fmt.Sprintf("token expired at %s", claims.ExpiresAtTime().UTC().Format(time.RFC3339)))
	}
	if claims.IssuedAtTime().After(now) {
		return autherrors.NewIssuedInFuture(fmt.Sprintf("token issued at %s", claims.IssuedAtTime().UTC().Format(time.RFC3339)))
	}
	if now.Sub(claims.IssuedAtTime()) > v.cfg.MaxTokenAge {
		return autherrors.NewTooOld(fmt.Sprintf("token older than %s", v.cfg.MaxTokenAge))
	}

	if !contains(v.cfg.TrustedIssuers, claims.Issuer) {
		return autherrors.NewUntrustedIssuer(claims.Issuer)
	}

	// A token is acceptable for this deployment when either the audience
	// or the authorized presenter names a trusted client.
	if len(v.cfg.TrustedClients) > 0 {
		if !r.audienceTrusted() && !contains(v.cfg.TrustedClients, claims.AuthorizedParty) {
			if claims.AuthorizedParty != "" {
				return autherrors.NewInvalidClient(fmt.Sprintf("authorized party %q is not trusted", claims.AuthorizedParty))
			}
			return autherrors.NewInvalidAudience("no trusted audience in aud claim")
		}
	}

	if err := r.requiredClaims(); err != nil {
		return err
	}

	if v.cfg.ReplayProtection && r.markReplay {
		first, err := v.replay.MarkTokenID(ctx, claims.TokenID, v.cfg.ReplayWindow)
		if err != nil {
			log.Error().Err(err).Msg("replay store unavailable, failing closed")
			return autherrors.NewUnauthorized("replay store unavailable")
		}
		if !first {
			return autherrors.NewReplayDetected(claims.TokenID)
		}
	}
	return nil
}

func (r *verification) audienceTrusted() bool {
	for _, client := range r.verifier.cfg.TrustedClients {
		if r.decoded.Claims.Audience.Contains(client) {
			return true
		}
	}
	return false
}

func (r *verification) requiredClaims() error {
	claims := &r.decoded.Claims

	var missing []string
	if claims.Subject == "" {
		missing = append(missing, "sub")
	}
	if claims.PreferredUsername == "" {
		missing = append(missing, "preferred_username")
	}
	if claims.IssuedAt == 0 {
		missing = append(missing, "iat")
	}
	if claims.ExpiresAt == 0 {
		missing = append(missing, "exp")
	}
	if len(claims.Audience) == 0 {
		missing = append(missing, "aud")
	}
	if claims.Issuer == "" {
		missing = append(missing, "iss")
	}
	if r.verifier.cfg.ReplayProtection && claims.TokenID == "" {
		missing = append(missing, "jti")
	}
	if len(missing) > 0 {
		return autherrors.NewMissingClaims("missing required claims: " + strings.Join(missing, ", "))
	}
	return nil
}

func (r *verification) identity() *Identity {
	claims := &r.decoded.Claims
	return &Identity{
		Subject:       claims.Subject,
		Username:      claims.PreferredUsername,
		Email:         claims.Email,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		Roles:         claims.RealmAccess.Roles,
		EmailVerified: claims.EmailVerified,
		Issuer:        claims.Issuer,
		SessionState:  claims.SessionState,
		TokenID:       claims.TokenID,
		IssuedAt:      claims.IssuedAtTime(),
		ExpiresAt:     claims.ExpiresAtTime(),
	}
}

func contains(set []string, value string) bool {
	for _, member := range set {
		if member == value {
			return true
		}
	}
	return false
}
