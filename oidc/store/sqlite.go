package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xexe45/pingauth-go/oidc"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS oidc_session (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	record BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);`

// Sqlite is a CredentialStore backed by a single-row sqlite table. Each Save
// runs as one INSERT .. ON CONFLICT statement, which sqlite applies in an
// implicit transaction, so readers never observe a torn snapshot. The
// expires_at column is denormalized from the record so expired rows can be
// evicted without parsing.
type Sqlite struct {
	mu sync.Mutex
	db *sql.DB

	saveStmt  *sql.Stmt
	loadStmt  *sql.Stmt
	clearStmt *sql.Stmt

	now func() time.Time
}

// ensure that Sqlite implements the oidc.CredentialStore interface.
var _ oidc.CredentialStore = (*Sqlite)(nil)

// NewSqlite opens (creating if necessary) the sqlite database at path and
// prepares the store's statements. Close must be called to release them.
func NewSqlite(path string) (*Sqlite, error) {
	const op = "store.NewSqlite"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, oidc.ErrInvalidParameter)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open database: %w", op, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: unable to create schema: %w", op, err)
	}

	s := &Sqlite{
		db:  db,
		now: time.Now,
	}
	for _, stmt := range []struct {
		dst  **sql.Stmt
		stmt string
	}{
		{&s.saveStmt, `INSERT INTO oidc_session (id, record, expires_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at`},
		{&s.loadStmt, `SELECT record FROM oidc_session WHERE id = 1`},
		{&s.clearStmt, `DELETE FROM oidc_session`},
	} {
		prepared, err := db.Prepare(stmt.stmt)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: unable to prepare statement: %w", op, err)
		}
		*stmt.dst = prepared
	}
	return s, nil
}

// Save serializes the session and upserts the single snapshot row.
func (s *Sqlite) Save(session oidc.Session) error {
	const op = "Sqlite.Save"
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := newSessionRecord(session)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: unable to serialize session: %w", op, err)
	}
	if _, err := s.saveStmt.Exec(data, rec.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("%s: unable to write snapshot: %w", op, err)
	}
	return nil
}

// Load reads the snapshot row. Absent, unparsable or expired rows are
// deleted and reported as no session.
func (s *Sqlite) Load() (*oidc.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.loadStmt.QueryRow().Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false
	case err != nil:
		// storage-medium failures degrade to "no session"
		return nil, false
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		_, _ = s.clearStmt.Exec()
		return nil, false
	}
	if !rec.live(s.now()) {
		_, _ = s.clearStmt.Exec()
		return nil, false
	}
	session := rec.session()
	return &session, true
}

// Clear deletes the snapshot row. It is idempotent.
func (s *Sqlite) Clear() error {
	const op = "Sqlite.Clear"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.clearStmt.Exec(); err != nil {
		return fmt.Errorf("%s: unable to delete snapshot: %w", op, err)
	}
	return nil
}

// Close releases the prepared statements and the database handle, reporting
// every close failure rather than the first.
func (s *Sqlite) Close() error {
	const op = "Sqlite.Close"
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.clearStmt} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: unable to close statement: %w", op, err))
		}
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: unable to close database: %w", op, err))
	}
	return result.ErrorOrNil()
}
