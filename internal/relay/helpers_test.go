package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/crsql-harness/internal/changeset"
	"github.com/nerrad567/crsql-harness/internal/infrastructure/mqtt"
)

const testDBID = "relay-test"

var (
	localSite = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	peerSite  = uuid.MustParse("1f0e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// memStore keeps local changes and merged changes in memory.
type memStore struct {
	mu       sync.Mutex
	site     uuid.UUID
	siteErr  error
	local    []changeset.Change
	applied  []changeset.Change
	lastSeen map[uuid.UUID]changeset.Cursor
	applyErr error
}

func newMemStore(local ...changeset.Change) *memStore {
	return &memStore{
		site:     localSite,
		local:    local,
		lastSeen: make(map[uuid.UUID]changeset.Cursor),
	}
}

func (s *memStore) SiteID(context.Context) (uuid.UUID, error) {
	return s.site, s.siteErr
}

func (s *memStore) Pull(_ context.Context, since changeset.Cursor, _ changeset.Mode, limit int) ([]changeset.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []changeset.Change
	for _, ch := range s.local {
		if ch.Position().After(since) {
			out = append(out, ch)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) LastSeen(_ context.Context, site uuid.UUID) (changeset.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.lastSeen[site]; ok {
		return c, nil
	}
	return changeset.Start, nil
}

func (s *memStore) Merge(_ context.Context, site uuid.UUID, changes []changeset.Change, until changeset.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, changes...)
	s.lastSeen[site] = until
	return nil
}

func (s *memStore) getApplied() []changeset.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := make([]changeset.Change, len(s.applied))
	copy(cpy, s.applied)
	return cpy
}

// published is one message accepted by memTransport.PublishBatch.
type published struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// memTransport encodes batches the way the MQTT client does and delivers
// them to every relay subscribed to the same db_id.
type memTransport struct {
	mu           sync.Mutex
	messages     []published
	handlers     map[string]mqtt.BatchHandler
	unsubscribed []string
	failPublish  bool
	subErr       error
}

func newMemTransport() *memTransport {
	return &memTransport{handlers: make(map[string]mqtt.BatchHandler)}
}

func (m *memTransport) PublishBatch(dbID string, b changeset.Batch, qos byte) error {
	topic, payload, err := mqtt.ChangesMessage(dbID, b)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.failPublish {
		m.mu.Unlock()
		return errors.New("broker unavailable")
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: payload, QoS: qos})
	m.mu.Unlock()

	m.deliver(topic, payload)
	return nil
}

func (m *memTransport) SubscribeBatches(dbID string, _ byte, handler mqtt.BatchHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return m.subErr
	}
	m.handlers[dbID] = handler
	return nil
}

func (m *memTransport) UnsubscribeBatches(dbID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, dbID)
	m.unsubscribed = append(m.unsubscribed, dbID)
	return nil
}

// deliver hands a raw message to every subscriber whose db_id accepts it.
// Messages the MQTT client would reject never reach a handler.
func (m *memTransport) deliver(topic string, payload []byte) {
	m.mu.Lock()
	handlers := make(map[string]mqtt.BatchHandler, len(m.handlers))
	for dbID, h := range m.handlers {
		handlers[dbID] = h
	}
	m.mu.Unlock()

	for dbID, h := range handlers {
		b, err := mqtt.ParseChangesMessage(dbID, topic, payload)
		if err != nil {
			continue
		}
		_ = h(b)
	}
}

func (m *memTransport) getMessages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]published, len(m.messages))
	copy(cpy, m.messages)
	return cpy
}

func (m *memTransport) subscribed(dbID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[dbID]
	return ok
}

func (m *memTransport) setFailPublish(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPublish = fail
}

// syncRecord is one WriteSyncBatch call.
type syncRecord struct {
	DBID      string
	Direction string
	Site      string
	Changes   int
	DBVersion int64
}

type memRecorder struct {
	mu      sync.Mutex
	records []syncRecord
}

func (r *memRecorder) WriteSyncBatch(dbID, direction, site string, changes int, dbVersion int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, syncRecord{dbID, direction, site, changes, dbVersion})
}

func (r *memRecorder) getRecords() []syncRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	cpy := make([]syncRecord, len(r.records))
	copy(cpy, r.records)
	return cpy
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// change builds a todo.text change at (dbVersion, seq) from site.
func change(dbVersion, seq int64, site uuid.UUID, text string) changeset.Change {
	return changeset.Change{
		Table:      "todo",
		PK:         []byte{0x01, 0x09, byte(dbVersion)},
		CID:        "text",
		Val:        changeset.TextValue(text),
		ColVersion: 1,
		DBVersion:  dbVersion,
		SiteID:     site[:],
		CL:         1,
		Seq:        seq,
	}
}

// newTestRelay builds a relay whose site is already resolved, as Run would.
func newTestRelay(t *testing.T, store Store, transport Transport, opts Options) *Relay {
	t.Helper()
	if opts.DBID == "" {
		opts.DBID = testDBID
	}
	r, err := New(store, transport, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.site = localSite
	return r
}

// batchFrom wraps changes from site after since.
func batchFrom(site uuid.UUID, since changeset.Cursor, changes ...changeset.Change) changeset.Batch {
	return changeset.NewBatch(site, since, changes)
}

// encodeBatch encodes a batch of changes from site after since.
func encodeBatch(t *testing.T, site uuid.UUID, since changeset.Cursor, changes ...changeset.Change) []byte {
	t.Helper()
	payload, err := batchFrom(site, since, changes...).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return payload
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
