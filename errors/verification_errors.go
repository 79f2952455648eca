package errors

import (
	stderrors "errors"
	"fmt"
)

// VerificationError is the typed failure produced by the token verification
// pipeline. Reason is a stable code suitable for metrics and for the
// caller-visible result; Description carries diagnostic detail for logs only.
type VerificationError struct {
	Reason      string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *VerificationError) Error() string {
	if e.Description == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Description)
}

// Verification failure reasons.
const (
	MalformedToken   = "MalformedToken"
	KeyFetchError    = "KeyFetchError"
	KeyNotFound      = "KeyNotFound"
	InvalidSignature = "InvalidSignature"
	Expired          = "Expired"
	IssuedInFuture   = "IssuedInFuture"
	TooOld           = "TooOld"
	UntrustedIssuer  = "UntrustedIssuer"
	InvalidAudience  = "InvalidAudience"
	InvalidClient    = "InvalidClient"
	MissingClaims    = "MissingClaims"
	ReplayDetected   = "ReplayDetected"
	RateLimited      = "RateLimited"
	Unauthorized     = "Unauthorized"
)

func NewMalformedToken(description string) *VerificationError {
	return &VerificationError{Reason: MalformedToken, Description: description}
}

func NewKeyFetchError(description string) *VerificationError {
	return &VerificationError{Reason: KeyFetchError, Description: description}
}

func NewKeyNotFound(kid string) *VerificationError {
	return &VerificationError{Reason: KeyNotFound, Description: fmt.Sprintf("no signing key matches kid %q", kid)}
}

func NewInvalidSignature(description string) *VerificationError {
	return &VerificationError{Reason: InvalidSignature, Description: description}
}

func NewExpired(description string) *VerificationError {
	return &VerificationError{Reason: Expired, Description: description}
}

func NewIssuedInFuture(description string) *VerificationError {
	return &VerificationError{Reason: IssuedInFuture, Description: description}
}

func NewTooOld(description string) *VerificationError {
	return &VerificationError{Reason: TooOld, Description: description}
}

func NewUntrustedIssuer(issuer string) *VerificationError {
	return &VerificationError{Reason: UntrustedIssuer, Description: fmt.Sprintf("issuer %q is not trusted", issuer)}
}

func NewInvalidAudience(description string) *VerificationError {
	return &VerificationError{Reason: InvalidAudience, Description: description}
}

func NewInvalidClient(description string) *VerificationError {
	return &VerificationError{Reason: InvalidClient, Description: description}
}

func NewMissingClaims(description string) *VerificationError {
	return &VerificationError{Reason: MissingClaims, Description: description}
}

func NewReplayDetected(tokenID string) *VerificationError {
	return &VerificationError{Reason: ReplayDetected, Description: fmt.Sprintf("token id %q was already presented", tokenID)}
}

func NewRateLimited(description string) *VerificationError {
	return &VerificationError{Reason: RateLimited, Description: description}
}

func NewUnauthorized(description string) *VerificationError {
	return &VerificationError{Reason: Unauthorized, Description: description}
}

// ReasonOf extracts the stable reason code from err. Errors that are not
// VerificationError collapse to Unauthorized so that internal details never
// leak into caller-visible results.
func ReasonOf(err error) string {
	var verr *VerificationError
	if stderrors.As(err, &verr) {
		return verr.Reason
	}
	return Unauthorized
}
