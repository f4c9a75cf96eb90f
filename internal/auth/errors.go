package auth

import (
	"errors"

	apperrors "github.com/passq/passq/pkg/errors"
)

// Closed error set for token and session validation. Callers match on these
// with errors.Is instead of inspecting message strings. The HTTP layer is
// expected to collapse all validation failures into a single
// "unauthenticated" response and keep the specific cause in internal logs.
var (
	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenMalformed indicates the token could not be parsed.
	ErrTokenMalformed = errors.New("auth: token malformed")
	// ErrBadSignature indicates the token's MAC does not verify.
	ErrBadSignature = errors.New("auth: bad token signature")
	// ErrWrongKind indicates an access token where a refresh token was
	// expected, or vice versa.
	ErrWrongKind = errors.New("auth: wrong token kind")
	// ErrTokenRevoked indicates the token id appears in the revocation
	// registry. Signature validity does not matter at that point.
	ErrTokenRevoked = errors.New("auth: token revoked")
	// ErrSessionNotFound indicates no active session matches the token's
	// session id.
	ErrSessionNotFound = errors.New("auth: session not found")
)

// AsAppError maps a validation error onto the response error surfaced to
// clients. Every rejection reason collapses into the same unauthenticated
// error so the response does not reveal why a token was refused; the
// original error travels along for internal logging only.
func AsAppError(err error) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrWrongKind),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrSessionNotFound):
		return apperrors.ErrUnauthenticated.WithInternal(err)
	default:
		return apperrors.FromError(err)
	}
}
