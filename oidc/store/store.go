// Package store provides CredentialStore implementations for the oidc
// Engine: a mutex-guarded in-memory store, an atomic-rename file store, and
// a sqlite-backed store. All three persist a single session snapshot under
// one well-known slot and evict expired or unparsable snapshots on load, so
// a caller can never be handed stale credentials.
package store

import (
	"time"

	"github.com/xexe45/pingauth-go/oidc"
)

// sessionRecord is the wire shape every store implementation persists. Token
// values are raw here on purpose: the oidc package's token types redact
// themselves when marshaled, which protects logs but would make a snapshot
// useless. A record never travels anywhere but the store medium.
type sessionRecord struct {
	Authenticated bool                   `json:"authenticated"`
	Subject       string                 `json:"sub,omitempty"`
	Claims        map[string]interface{} `json:"claims,omitempty"`
	AccessToken   string                 `json:"access_token,omitempty"`
	IDToken       string                 `json:"id_token,omitempty"`
	RefreshToken  string                 `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time              `json:"expires_at,omitempty"`
}

func newSessionRecord(s oidc.Session) *sessionRecord {
	r := &sessionRecord{
		Authenticated: s.Authenticated,
		AccessToken:   string(s.AccessToken),
		IDToken:       string(s.IDToken),
		RefreshToken:  string(s.RefreshToken),
		ExpiresAt:     s.ExpiresAt,
	}
	if s.User != nil {
		r.Subject = s.User.Subject
		r.Claims = s.User.Claims
	}
	return r
}

func (r *sessionRecord) session() oidc.Session {
	s := oidc.Session{
		Authenticated: r.Authenticated,
		AccessToken:   oidc.AccessToken(r.AccessToken),
		IDToken:       oidc.IDToken(r.IDToken),
		RefreshToken:  oidc.RefreshToken(r.RefreshToken),
		ExpiresAt:     r.ExpiresAt,
	}
	if r.Subject != "" || len(r.Claims) > 0 {
		s.User = &oidc.UserProfile{
			Subject: r.Subject,
			Claims:  r.Claims,
		}
	}
	return s
}

// live reports whether the record still represents a usable authenticated
// session: a record whose expiry is not strictly in the future must be
// evicted, never returned.
func (r *sessionRecord) live(now time.Time) bool {
	if r == nil || !r.Authenticated || r.AccessToken == "" {
		return false
	}
	return r.ExpiresAt.After(now)
}
