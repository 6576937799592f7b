package mailbridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

type mockTx struct {
	commits   int
	rollbacks int
}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error   { m.commits++; return nil }
func (m *mockTx) Rollback() error { m.rollbacks++; return nil }

// mockEmailStore implements EmailGateway over in-memory maps.
type mockEmailStore struct {
	tx        mockTx
	seenUIDs  map[string]struct{}
	statsRows []*store.EmailStats
}

func newMockEmailStore() *mockEmailStore {
	return &mockEmailStore{seenUIDs: make(map[string]struct{})}
}

func (m *mockEmailStore) BeginTx(ctx context.Context) (store.Tx, error) { return &m.tx, nil }

func (m *mockEmailStore) PersistEmailUID(ctx context.Context, tx store.DBTransaction, serverID, emailUID string) error {
	key := serverID + "/" + emailUID
	if _, dup := m.seenUIDs[key]; dup {
		return fmt.Errorf("email uid %s: %w", emailUID, store.ErrConflict)
	}
	m.seenUIDs[key] = struct{}{}
	return nil
}

func (m *mockEmailStore) PersistEmailStats(ctx context.Context, tx store.DBTransaction, stats *store.EmailStats) error {
	m.statsRows = append(m.statsRows, stats)
	return nil
}

// mockMailbox implements Mailbox over an in-memory inbox.
type mockMailbox struct {
	emails map[uint32]*Email

	connects int
	closes   int
	moved    map[uint32]string
	deleted  []uint32

	listErr error
	idleErr error
	idled   int
}

func newMockMailbox() *mockMailbox {
	return &mockMailbox{
		emails: make(map[uint32]*Email),
		moved:  make(map[uint32]string),
	}
}

func (m *mockMailbox) Connect(ctx context.Context) error { m.connects++; return nil }
func (m *mockMailbox) Close() error                      { m.closes++; return nil }

func (m *mockMailbox) ListUIDs(ctx context.Context) ([]uint32, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var uids []uint32
	for uid := range m.emails {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (m *mockMailbox) Fetch(ctx context.Context, uid uint32) (*Email, error) {
	email, ok := m.emails[uid]
	if !ok {
		return nil, fmt.Errorf("mailbridge: uid %d: no such email", uid)
	}
	return email, nil
}

func (m *mockMailbox) Idle(ctx context.Context) error {
	m.idled++
	if m.idleErr != nil {
		return m.idleErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockMailbox) Move(ctx context.Context, uid uint32, folder string) error {
	m.moved[uid] = folder
	return nil
}

func (m *mockMailbox) Delete(ctx context.Context, uid uint32) error {
	m.deleted = append(m.deleted, uid)
	return nil
}

// mockPublisher records published envelopes.
type mockPublisher struct {
	published  []*mq.Envelope
	delays     []time.Duration
	publishErr error
}

func (m *mockPublisher) Publish(ctx context.Context, env *mq.Envelope, opts ...mq.PublishOption) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, env)
	m.delays = append(m.delays, mq.DelayOf(opts...))
	return nil
}

var errSessionLost = errors.New("session lost")
