package supervision

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

// mockGateway implements Gateway over in-memory maps.
type mockGateway struct {
	tx mockTx

	supervisions map[int64]*store.Supervision
	simulations  map[string]*store.Simulation
	jobs         map[string]*store.Job
	period       *store.JobPeriod

	savedScripts map[int64]string
	attempts     []dispatchAttempt
}

type dispatchAttempt struct {
	id  int64
	err *string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		supervisions: make(map[int64]*store.Supervision),
		simulations:  make(map[string]*store.Simulation),
		jobs:         make(map[string]*store.Job),
		savedScripts: make(map[int64]string),
	}
}

func (m *mockGateway) BeginTx(ctx context.Context) (store.Tx, error) { return &m.tx, nil }

func (m *mockGateway) RetrieveSimulation(ctx context.Context, tx store.DBTransaction, uid string) (*store.Simulation, error) {
	sim, ok := m.simulations[uid]
	if !ok {
		return nil, fmt.Errorf("simulation %s: %w", uid, store.ErrNotFound)
	}
	return sim, nil
}

func (m *mockGateway) RetrieveJob(ctx context.Context, tx store.DBTransaction, uid string) (*store.Job, error) {
	job, ok := m.jobs[uid]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", uid, store.ErrNotFound)
	}
	return job, nil
}

func (m *mockGateway) RetrieveLatestJobPeriod(ctx context.Context, tx store.DBTransaction, simulationUID string) (*store.JobPeriod, error) {
	if m.period == nil {
		return nil, fmt.Errorf("job period for simulation %s: %w", simulationUID, store.ErrNotFound)
	}
	return m.period, nil
}

func (m *mockGateway) CreateSupervision(ctx context.Context, tx store.DBTransaction, simulationUID, jobUID string) (*store.Supervision, error) {
	sup := &store.Supervision{ID: int64(len(m.supervisions) + 1), SimulationUID: simulationUID, JobUID: jobUID}
	m.supervisions[sup.ID] = sup
	return sup, nil
}

func (m *mockGateway) RetrieveSupervision(ctx context.Context, tx store.DBTransaction, id int64) (*store.Supervision, error) {
	sup, ok := m.supervisions[id]
	if !ok {
		return nil, fmt.Errorf("supervision %d: %w", id, store.ErrNotFound)
	}
	return sup, nil
}

func (m *mockGateway) SaveSupervisionScript(ctx context.Context, tx store.DBTransaction, id int64, script string) error {
	m.savedScripts[id] = script
	if sup, ok := m.supervisions[id]; ok {
		sup.Script = &script
	}
	return nil
}

func (m *mockGateway) RecordDispatchAttempt(ctx context.Context, tx store.DBTransaction, id int64, dispatchDate time.Time, dispatchError *string) error {
	m.attempts = append(m.attempts, dispatchAttempt{id: id, err: dispatchError})
	if sup, ok := m.supervisions[id]; ok {
		sup.DispatchTryCount++
		sup.DispatchDate = &dispatchDate
		sup.DispatchError = dispatchError
	}
	return nil
}

// mockPublisher records published envelopes and their delays.
type mockPublisher struct {
	published []*mq.Envelope
	delays    []time.Duration
}

func (m *mockPublisher) Publish(ctx context.Context, env *mq.Envelope, opts ...mq.PublishOption) error {
	m.published = append(m.published, env)
	m.delays = append(m.delays, mq.DelayOf(opts...))
	return nil
}

// mockDispatcher records dispatched scripts.
type mockDispatcher struct {
	calls []string
	err   error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, login, machine, script string) error {
	m.calls = append(m.calls, login+"@"+machine)
	return m.err
}

// mockAlerter records sent alerts.
type mockAlerter struct {
	subjects []string
}

func (m *mockAlerter) SendAlert(ctx context.Context, subject, body string) error {
	m.subjects = append(m.subjects, subject)
	return nil
}

func ptr(s string) *string { return &s }
