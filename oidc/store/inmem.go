package store

import (
	"sync"
	"time"

	"github.com/xexe45/pingauth-go/oidc"
)

// InMem is a CredentialStore that holds the snapshot in process memory. It
// satisfies the store contract except for durability across restarts, which
// makes it the right store for tests and for callers that explicitly want a
// session to die with the process.
type InMem struct {
	mu  sync.Mutex
	rec *sessionRecord

	// now is the store's time source; tests override it to simulate expiry.
	now func() time.Time
}

// ensure that InMem implements the oidc.CredentialStore interface.
var _ oidc.CredentialStore = (*InMem)(nil)

// NewInMem creates an empty in-memory store.
func NewInMem() *InMem {
	return &InMem{
		now: time.Now,
	}
}

// Save stores a snapshot of the session, replacing any prior snapshot.
func (s *InMem) Save(session oidc.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = newSessionRecord(session)
	return nil
}

// Load returns the stored snapshot, evicting it first when it has expired.
func (s *InMem) Load() (*oidc.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, false
	}
	if !s.rec.live(s.now()) {
		s.rec = nil
		return nil, false
	}
	session := s.rec.session()
	return &session, true
}

// Clear removes the snapshot. It is idempotent.
func (s *InMem) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}
