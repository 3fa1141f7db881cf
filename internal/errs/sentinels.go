// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Error kinds shared by the engine, its stores and its transports.
var (
	// ErrUnauthenticated indicates a missing, malformed, forged or expired session token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates a valid identity acting with the wrong role or as the wrong actor.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials indicates a credential mismatch. The message never reveals
	// whether the account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidFederatedToken indicates an identity-provider token that failed verification.
	ErrInvalidFederatedToken = errors.New("invalid federated token")

	// ErrDuplicateIdentity indicates a unique email or federated id violation.
	ErrDuplicateIdentity = errors.New("identity already exists")

	// ErrDuplicateApplication indicates a second application for the same owner.
	ErrDuplicateApplication = errors.New("application already exists")

	// ErrInvalidTransition indicates a state-machine precondition that does not hold
	// (wrong stage, wrong status, or a stale concurrent attempt).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrStorageUnavailable indicates the backing store could not complete the operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// Retryable reports whether the caller may retry the failed operation.
// Only storage outages qualify; every other kind is a definitive answer.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

var kinds = []error{
	ErrUnauthenticated,
	ErrForbidden,
	ErrInvalidCredentials,
	ErrInvalidFederatedToken,
	ErrDuplicateIdentity,
	ErrDuplicateApplication,
	ErrInvalidTransition,
	ErrStorageUnavailable,
	ErrNotFound,
	ErrValidation,
	ErrRateLimited,
}

// Kind returns the sentinel err wraps, or nil for an unclassified error.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// PublicMessage is the text safe to return to a remote caller. Credential
// and storage failures are reduced to their kind; unclassified errors are
// reported as "internal".
func PublicMessage(err error) string {
	switch k := Kind(err); k {
	case nil:
		return "internal"
	case ErrUnauthenticated, ErrInvalidCredentials, ErrInvalidFederatedToken, ErrStorageUnavailable:
		return k.Error()
	default:
		return err.Error()
	}
}
