package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidIssuer    = errors.New("invalid issuer")

	// ErrRandomnessUnavailable means the platform CSPRNG could not produce
	// bytes. It is a fatal configuration-level condition and is never
	// retried.
	ErrRandomnessUnavailable = errors.New("secure randomness unavailable")

	// ErrUnsupportedChallengeMethod is returned for any PKCE challenge
	// method other than S256.
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")

	// ErrCSRFMismatch means the state returned on the callback did not
	// exactly match the state issued by BeginLogin. The callback must be
	// rejected; it may be forged.
	ErrCSRFMismatch = errors.New("callback state does not match login state")

	// ErrMissingVerifier means no PKCE code verifier is held for the
	// callback, either because no login is in flight or because a later
	// BeginLogin replaced it.
	ErrMissingVerifier = errors.New("code verifier is missing")

	// ErrMissingCallbackParams means the provider redirect arrived without
	// the state or code query parameters.
	ErrMissingCallbackParams = errors.New("callback parameters are missing")

	// ErrTokenExchangeFailed covers any network, HTTP or parse failure from
	// the token or userinfo endpoints. Messages wrapping it must never
	// include the code verifier or raw tokens.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrExpiredSession means a session's ExpiresAt is no longer in the
	// future.
	ErrExpiredSession = errors.New("session is expired")
)
