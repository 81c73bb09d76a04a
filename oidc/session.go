package oidc

import (
	"time"
)

// UserProfile holds the claims the provider's userinfo endpoint returned for
// the authenticated subject. Only the subject identifier is required; every
// other claim is provider-defined and kept in the open-ended Claims map.
type UserProfile struct {
	// Subject is the required "sub" claim, a stable identifier for the end
	// user at the provider.
	Subject string

	// Claims is the full claim set as returned by the provider, including
	// "sub". Values keep the types encoding/json gives them.
	Claims map[string]interface{}
}

// StringClaim returns the named claim when it is present and a string, and ""
// otherwise. Handy for display attributes like "name", "email" or "picture".
func (p *UserProfile) StringClaim(name string) string {
	if p == nil {
		return ""
	}
	if v, ok := p.Claims[name].(string); ok {
		return v
	}
	return ""
}

// Session is the authenticated state resulting from a completed authorization
// code flow. The zero value is an unauthenticated session.
//
// Authenticated alone is not trustworthy: a session only counts as live while
// ExpiresAt is in the future, and every reader must check via Valid rather
// than the stored flag. Expiry is evaluated lazily at read time; nothing
// flips the flag in the background.
type Session struct {
	// Authenticated records that the flow completed. See Valid.
	Authenticated bool

	// User holds the userinfo claims fetched right after the code exchange.
	User *UserProfile

	// AccessToken is presented to resource servers as a bearer credential.
	AccessToken AccessToken

	// IDToken asserts the subject's identity and is carried as the
	// id_token_hint on a provider logout.
	IDToken IDToken

	// RefreshToken, when the provider granted one, obtains new access tokens
	// without re-authentication.
	RefreshToken RefreshToken

	// ExpiresAt is the absolute instant the access token stops being usable,
	// derived from the token response's expires_in at exchange time.
	ExpiresAt time.Time
}

// Expired returns true if the session's ExpiresAt is no longer strictly in
// the future. Supports WithExpirySkew to expire sessions early.
func (s *Session) Expired(opt ...Option) bool {
	return s.expired(time.Now(), opt...)
}

// expired is the WithNow-capable implementation backing Expired; the engine
// calls it with its own time source.
func (s *Session) expired(now time.Time, opt ...Option) bool {
	if s == nil {
		return true
	}
	opts := getSessionOpts(opt...)
	if s.ExpiresAt.IsZero() {
		return true
	}
	return !s.ExpiresAt.After(now.Add(opts.withExpirySkew))
}

// Valid returns true when the session is authenticated, holds an access
// token and has not expired.
func (s *Session) Valid(opt ...Option) bool {
	if s == nil {
		return false
	}
	if !s.Authenticated || s.AccessToken == "" {
		return false
	}
	return !s.Expired(opt...)
}

// sessionOptions is the set of available options for Session functions
type sessionOptions struct {
	withExpirySkew time.Duration
}

// sessionDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func sessionDefaults() sessionOptions {
	return sessionOptions{}
}

// getSessionOpts gets the session defaults and applies the opt overrides
// passed in.
func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
