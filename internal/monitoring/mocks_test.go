package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

// mockTx implements store.Tx and records commit/rollback calls.
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

// mockGateway implements store.Gateway with per-test function fields.
// Unset retrieval fields report not found; unset mutation fields
// record the call and succeed.
type mockGateway struct {
	tx mockTx

	simulations map[string]*store.Simulation
	jobs        map[string]*store.Job
	period      *store.JobPeriod

	persistedSimulations []*store.Simulation
	persistedJobs        []*store.Job
	supersededHashIDs    []string
	endedJobs            []string
	endedSimulations     []string
	clearedErrors        []string
	recordedPeriods      []*store.JobPeriod
	failureIncrements    []string
	createdSupervisions  []*store.Supervision

	persistJobEndErr error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		simulations: make(map[string]*store.Simulation),
		jobs:        make(map[string]*store.Job),
	}
}

func (m *mockGateway) BeginTx(ctx context.Context) (store.Tx, error) { return &m.tx, nil }
func (m *mockGateway) Ping(ctx context.Context) error                { return nil }

func (m *mockGateway) PersistSimulationStart(ctx context.Context, tx store.DBTransaction, sim *store.Simulation) (*store.Simulation, error) {
	m.persistedSimulations = append(m.persistedSimulations, sim)
	m.simulations[sim.UID] = sim
	return sim, nil
}

func (m *mockGateway) MarkSupersededSimulations(ctx context.Context, tx store.DBTransaction, hashID, activeUID string) error {
	m.supersededHashIDs = append(m.supersededHashIDs, hashID)
	return nil
}

func (m *mockGateway) PersistJobStart(ctx context.Context, tx store.DBTransaction, job *store.Job) (*store.Job, error) {
	m.persistedJobs = append(m.persistedJobs, job)
	m.jobs[job.UID] = job
	return job, nil
}

func (m *mockGateway) PersistJobEnd(ctx context.Context, tx store.DBTransaction, endDate time.Time, isError bool, jobUID, simulationUID string) error {
	if m.persistJobEndErr != nil {
		return m.persistJobEndErr
	}
	m.endedJobs = append(m.endedJobs, jobUID)
	return nil
}

func (m *mockGateway) PersistSimulationEnd(ctx context.Context, tx store.DBTransaction, endDate time.Time, isError bool, simulationUID string) (*store.Simulation, error) {
	sim, ok := m.simulations[simulationUID]
	if !ok {
		return nil, fmt.Errorf("simulation %s: %w", simulationUID, store.ErrNotFound)
	}
	m.endedSimulations = append(m.endedSimulations, simulationUID)
	sim.ExecutionEndDate = &endDate
	sim.IsError = isError
	return sim, nil
}

func (m *mockGateway) ClearSimulationError(ctx context.Context, tx store.DBTransaction, simulationUID string) error {
	m.clearedErrors = append(m.clearedErrors, simulationUID)
	return nil
}

func (m *mockGateway) RetrieveSimulation(ctx context.Context, tx store.DBTransaction, uid string) (*store.Simulation, error) {
	sim, ok := m.simulations[uid]
	if !ok {
		return nil, fmt.Errorf("simulation %s: %w", uid, store.ErrNotFound)
	}
	return sim, nil
}

func (m *mockGateway) RetrieveActiveSimulation(ctx context.Context, tx store.DBTransaction, hashID string) (*store.Simulation, error) {
	for _, sim := range m.simulations {
		if sim.HashID != nil && *sim.HashID == hashID && !sim.IsObsolete {
			return sim, nil
		}
	}
	return nil, fmt.Errorf("active simulation for hashid %s: %w", hashID, store.ErrNotFound)
}

func (m *mockGateway) RetrieveJob(ctx context.Context, tx store.DBTransaction, uid string) (*store.Job, error) {
	job, ok := m.jobs[uid]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", uid, store.ErrNotFound)
	}
	return job, nil
}

func (m *mockGateway) ListSimulationJobs(ctx context.Context, tx store.DBTransaction, simulationUID string) ([]*store.Job, error) {
	var jobs []*store.Job
	for _, job := range m.jobs {
		if job.SimulationUID == simulationUID {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (m *mockGateway) RetrieveLatestJobPeriod(ctx context.Context, tx store.DBTransaction, simulationUID string) (*store.JobPeriod, error) {
	if m.period == nil {
		return nil, fmt.Errorf("job period for simulation %s: %w", simulationUID, store.ErrNotFound)
	}
	return m.period, nil
}

func (m *mockGateway) RecordJobPeriod(ctx context.Context, tx store.DBTransaction, period *store.JobPeriod) error {
	m.recordedPeriods = append(m.recordedPeriods, period)
	return nil
}

func (m *mockGateway) IncrementLatestPeriodFailure(ctx context.Context, tx store.DBTransaction, simulationUID string) error {
	m.failureIncrements = append(m.failureIncrements, simulationUID)
	return nil
}

func (m *mockGateway) CreateSupervision(ctx context.Context, tx store.DBTransaction, simulationUID, jobUID string) (*store.Supervision, error) {
	sup := &store.Supervision{
		ID:            int64(len(m.createdSupervisions) + 1),
		SimulationUID: simulationUID,
		JobUID:        jobUID,
	}
	m.createdSupervisions = append(m.createdSupervisions, sup)
	return sup, nil
}

func (m *mockGateway) RetrieveSupervision(ctx context.Context, tx store.DBTransaction, id int64) (*store.Supervision, error) {
	return nil, store.ErrNotFound
}

func (m *mockGateway) SaveSupervisionScript(ctx context.Context, tx store.DBTransaction, id int64, script string) error {
	return nil
}

func (m *mockGateway) RecordDispatchAttempt(ctx context.Context, tx store.DBTransaction, id int64, dispatchDate time.Time, dispatchError *string) error {
	return nil
}

func (m *mockGateway) PersistEmailUID(ctx context.Context, tx store.DBTransaction, serverID, emailUID string) error {
	return nil
}

func (m *mockGateway) PersistEmailStats(ctx context.Context, tx store.DBTransaction, stats *store.EmailStats) error {
	return nil
}

// mockPublisher records published envelopes and their delays.
type mockPublisher struct {
	published []publishedMessage
}

type publishedMessage struct {
	env   *mq.Envelope
	delay time.Duration
}

func (m *mockPublisher) Publish(ctx context.Context, env *mq.Envelope, opts ...mq.PublishOption) error {
	m.published = append(m.published, publishedMessage{env: env, delay: mq.DelayOf(opts...)})
	return nil
}

func (m *mockPublisher) byType(c mq.Code) []*mq.Envelope {
	var out []*mq.Envelope
	for _, p := range m.published {
		if p.env.Props.Type == c {
			out = append(out, p.env)
		}
	}
	return out
}
