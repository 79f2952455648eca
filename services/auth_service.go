package services

import (
	"context"

	"github.com/rs/zerolog/log"

	authgate "go.pilab.hu/authgate"
	"go.pilab.hu/authgate/domain"
	autherrors "go.pilab.hu/authgate/errors"
	"go.pilab.hu/authgate/internal/metrics"
)

// VerificationResult is the caller-visible outcome of a verification
// attempt. It is always returned, never thrown: every internal failure is
// folded into IsValid=false with a stable reason code in Error.
type VerificationResult struct {
	IsValid      bool     `json:"isValid"`
	UserID       string   `json:"userId,omitempty"`
	Username     string   `json:"username,omitempty"`
	Email        string   `json:"email,omitempty"`
	FirstName    string   `json:"firstName,omitempty"`
	LastName     string   `json:"lastName,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	SessionState string   `json:"sessionState,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// AuthService composes the rate limiter, the token verifier and the session
// manager into the gateway's two entry points: VerifyToken for login-style
// verification and Authenticate for per-request authorization.
type AuthService struct {
	limiter  *authgate.RateLimiter
	verifier *authgate.TokenVerifier
	sessions *SessionService
}

// NewAuthService wires the verification pipeline.
func NewAuthService(limiter *authgate.RateLimiter, verifier *authgate.TokenVerifier, sessions *SessionService) *AuthService {
	return &AuthService{
		limiter:  limiter,
		verifier: verifier,
		sessions: sessions,
	}
}

// VerifyToken runs limiter -> verifier -> session recording and returns the
// normalized result. callerKey keys the rate limiter (typically the caller
// IP).
func (s *AuthService) VerifyToken(ctx context.Context, token, callerKey string) VerificationResult {
	identity, err := s.verify(ctx, token, callerKey)
	if err != nil {
		return failedResult(err)
	}

	if _, err := s.sessions.RecordSession(ctx, identity); err != nil {
		log.Error().Err(err).Str("subject", identity.Subject).Msg("failed to record session")
		return failedResult(err)
	}

	metrics.Inc(metrics.VerificationSuccessTotal)
	return VerificationResult{
		IsValid:      true,
		UserID:       identity.Subject,
		Username:     identity.Username,
		Email:        identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		Roles:        identity.Roles,
		SessionState: identity.SessionState,
	}
}

// Authenticate revalidates the presented token and requires a live
// server-side session for its subject. It backs the authorization middleware
// on every protected operation, so it neither consumes the token id nor
// spends the login rate budget: the limiter guards verification attempts at
// the login surface, not authorized requests.
func (s *AuthService) Authenticate(ctx context.Context, token, callerKey string) (*domain.Identity, error) {
	identity, err := s.verifier.Revalidate(ctx, token)
	if err != nil {
		metrics.IncFailure(autherrors.ReasonOf(err))
		return nil, err
	}
	return s.sessions.ValidateUser(ctx, identity.Subject)
}

func (s *AuthService) verify(ctx context.Context, token, callerKey string) (*authgate.Identity, error) {
	if !s.limiter.Allow(callerKey) {
		metrics.Inc(metrics.RateLimitedTotal)
		return nil, autherrors.NewRateLimited("too many verification attempts")
	}
	return s.verifier.Verify(ctx, token)
}

func failedResult(err error) VerificationResult {
	reason := autherrors.ReasonOf(err)
	metrics.IncFailure(reason)
	return VerificationResult{IsValid: false, Error: reason}
}
