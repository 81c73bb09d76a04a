package oidc

// CredentialStore is the persistence boundary for exactly one Session
// snapshot. Implementations never mutate a Session on their own; they save
// and restore equivalent snapshots, and they enforce expiry on the way out.
//
// Save/Load/Clear must be atomic with respect to each other for a single
// caller: a Load never observes a half-written snapshot. Multi-process
// mutual exclusion is not required.
//
// See the store package for file, sqlite and in-memory implementations.
type CredentialStore interface {
	// Save serializes the session and writes it under the store's single
	// slot, atomically replacing any prior snapshot.
	Save(s Session) error

	// Load reads the snapshot. When the snapshot is absent, unparsable, or
	// its expiry is not strictly in the future, Load returns (nil, false)
	// and clears the snapshot; stale or corrupt data is never handed to a
	// caller.
	Load() (*Session, bool)

	// Clear removes the snapshot unconditionally. It is idempotent.
	Clear() error
}
