package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/crsql-harness/internal/changeset"
)

// Session is a database session with the extension loaded.
// *database.DB satisfies it.
type Session interface {
	changeset.Querier
	changeset.QueryRower
	changeset.Execer
	changeset.TxBeginner
	SiteID(ctx context.Context) (uuid.UUID, error)
}

// SessionStore implements Store over a single database session.
//
// A session pins one connection, and statements on that connection are not
// isolated from a transaction open on it. SessionStore therefore runs one
// operation at a time, so a Pull never observes a Merge that has not
// committed.
type SessionStore struct {
	mu      sync.Mutex
	session Session
}

// NewSessionStore wraps session. The peers table must already exist;
// see changeset.EnsurePeersTable.
func NewSessionStore(session Session) *SessionStore {
	return &SessionStore{session: session}
}

// SiteID returns the session's site.
func (s *SessionStore) SiteID(ctx context.Context) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.SiteID(ctx)
}

// Pull reads changes from crsql_changes.
func (s *SessionStore) Pull(ctx context.Context, since changeset.Cursor, mode changeset.Mode, limit int) ([]changeset.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changeset.Pull(ctx, s.session, since, mode, limit)
}

// LastSeen reads a peer's merge cursor.
func (s *SessionStore) LastSeen(ctx context.Context, site uuid.UUID) (changeset.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changeset.LastSeen(ctx, s.session, site)
}

// Merge applies a peer's changes and advances its cursor in one transaction.
func (s *SessionStore) Merge(ctx context.Context, site uuid.UUID, changes []changeset.Change, until changeset.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return changeset.Merge(ctx, s.session, site, changes, until)
}
