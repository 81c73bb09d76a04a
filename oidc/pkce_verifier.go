package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based PKCE challenge method and the only method
	// supported: challenge = base64url(sha256(verifier)), no padding.
	S256 ChallengeMethod = "S256"

	// verifierLen is the length of the encoded verifier produced by
	// NewCodeVerifier: 32 random bytes base64url-encode to 43 characters,
	// the minimum of the RFC 7636 43-128 band.
	verifierLen = 43

	// minVerifierLen/maxVerifierLen are the RFC 7636 length band for a code
	// verifier.
	minVerifierLen = 43
	maxVerifierLen = 128

	// stateEntropyBytes is the number of random bytes behind a state token.
	// 16 bytes is 128 bits, which encodes to 22 base64url characters.
	stateEntropyBytes = 16
)

// CodeVerifier represents an unpadded, base64url-encoded random secret used
// as a PKCE code verifier, along with its derived challenge.
type CodeVerifier interface {
	// Verifier returns the verifier secret. It is only ever transmitted as
	// part of the final code-for-token exchange.
	Verifier() string

	// Challenge returns the derived challenge sent on the authorization
	// redirect.
	Challenge() string

	// Method returns the challenge method identifier sent alongside the
	// challenge.
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents a SHA-256 based PKCE code verifier.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface.
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new S256Verifier with a verifier of 256 bits of
// entropy from a cryptographically secure source, and its derived challenge.
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(32) // 256 bits
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier data: %w", op, ErrRandomnessUnavailable)
	}
	v := &S256Verifier{
		verifier: base64.RawURLEncoding.EncodeToString(data), // no padding
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements CodeVerifier.Verifier
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements CodeVerifier.Challenge
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements CodeVerifier.Method

// Copy a S256Verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a challenge for the given verifier. The
// derivation is deterministic for a given verifier and method. Only the S256
// method is supported; anything else returns ErrUnsupportedChallengeMethod.
func CreateCodeChallenge(method ChallengeMethod, verifier CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if verifier == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	if method != S256 {
		return "", fmt.Errorf("%s: %s: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	sum := sha256.Sum256([]byte(verifier.Verifier()))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// NewState generates an opaque CSRF token with 128 bits of entropy from a
// cryptographically secure source, encoded with the unpadded base64url
// alphabet. It is round-tripped through the authorization redirect as the
// oauth "state" parameter.
func NewState() (string, error) {
	const op = "oidc.NewState"
	data, err := uuid.GenerateRandomBytes(stateEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state data: %w", op, ErrRandomnessUnavailable)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
