package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xexe45/pingauth-go/oidc"
)

// File is a CredentialStore backed by a single JSON file. Writes go to a
// temporary file in the same directory followed by a rename, so a concurrent
// Load never observes a half-written snapshot. The file is created with 0600
// permissions since it holds raw tokens.
type File struct {
	mu   sync.Mutex
	path string

	now func() time.Time
}

// ensure that File implements the oidc.CredentialStore interface.
var _ oidc.CredentialStore = (*File)(nil)

// NewFile creates a file store at path. The file itself is created on the
// first Save; its parent directory must exist.
func NewFile(path string) (*File, error) {
	const op = "store.NewFile"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, oidc.ErrInvalidParameter)
	}
	return &File{
		path: path,
		now:  time.Now,
	}, nil
}

// Save serializes the session and atomically replaces the snapshot file.
func (s *File) Save(session oidc.Session) error {
	const op = "File.Save"
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(newSessionRecord(session))
	if err != nil {
		return fmt.Errorf("%s: unable to serialize session: %w", op, err)
	}

	dir, base := filepath.Split(s.path)
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("%s: unable to create temp snapshot: %w", op, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("%s: unable to restrict snapshot permissions: %w", op, err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("%s: unable to write snapshot: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: unable to close snapshot: %w", op, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%s: unable to replace snapshot: %w", op, err)
	}
	return nil
}

// Load reads the snapshot file. Absent, unparsable or expired snapshots are
// removed and reported as no session.
func (s *File) Load() (*oidc.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		// treat any read failure, not just absence, as no session
		return nil, false
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		os.Remove(s.path)
		return nil, false
	}
	if !rec.live(s.now()) {
		os.Remove(s.path)
		return nil, false
	}
	session := rec.session()
	return &session, true
}

// Clear removes the snapshot file. It is idempotent.
func (s *File) Clear() error {
	const op = "File.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%s: unable to remove snapshot: %w", op, err)
	}
	return nil
}
