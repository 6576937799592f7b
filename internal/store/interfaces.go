package store

import (
	"context"
	"database/sql"
	"time"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active
// transaction to the repository methods, so every mutating pipeline
// step can join the ambient transaction for its message.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// MonitoringStore handles persistence of Simulation and Job records.
type MonitoringStore interface {
	// PersistSimulationStart upserts a simulation keyed by its UID.
	PersistSimulationStart(ctx context.Context, tx DBTransaction, sim *Simulation) (*Simulation, error)

	// MarkSupersededSimulations flags every other incarnation of the
	// given hash identifier as obsolete, keeping activeUID as the
	// single active simulation.
	MarkSupersededSimulations(ctx context.Context, tx DBTransaction, hashID, activeUID string) error

	// PersistJobStart upserts a job keyed by its UID. Duplicate
	// starts for the same UID update the row in place.
	PersistJobStart(ctx context.Context, tx DBTransaction, job *Job) (*Job, error)

	// PersistJobEnd records the terminal state of a job.
	PersistJobEnd(ctx context.Context, tx DBTransaction, endDate time.Time, isError bool, jobUID, simulationUID string) error

	// PersistSimulationEnd records the terminal state of a simulation
	// and returns the updated row.
	PersistSimulationEnd(ctx context.Context, tx DBTransaction, endDate time.Time, isError bool, simulationUID string) (*Simulation, error)

	// ClearSimulationError lifts the error flag on a simulation.
	ClearSimulationError(ctx context.Context, tx DBTransaction, simulationUID string) error

	// RetrieveSimulation returns the simulation with the given UID.
	RetrieveSimulation(ctx context.Context, tx DBTransaction, uid string) (*Simulation, error)

	// RetrieveActiveSimulation returns the non-obsolete simulation
	// for a hash identifier.
	RetrieveActiveSimulation(ctx context.Context, tx DBTransaction, hashID string) (*Simulation, error)

	// RetrieveJob returns the job with the given UID.
	RetrieveJob(ctx context.Context, tx DBTransaction, uid string) (*Job, error)

	// ListSimulationJobs returns the jobs of a simulation, oldest
	// first.
	ListSimulationJobs(ctx context.Context, tx DBTransaction, simulationUID string) ([]*Job, error)

	// RetrieveLatestJobPeriod returns the most recent output period
	// of a simulation, including its failure count.
	RetrieveLatestJobPeriod(ctx context.Context, tx DBTransaction, simulationUID string) (*JobPeriod, error)

	// RecordJobPeriod upserts an output period reported by a
	// compute-job start.
	RecordJobPeriod(ctx context.Context, tx DBTransaction, period *JobPeriod) error

	// IncrementLatestPeriodFailure bumps the failure counter of the
	// most recent output period of a simulation. A simulation with no
	// recorded period is a no-op.
	IncrementLatestPeriodFailure(ctx context.Context, tx DBTransaction, simulationUID string) error
}

// SupervisionStore handles persistence of Supervision records.
type SupervisionStore interface {
	// CreateSupervision inserts a new supervision row and returns it.
	CreateSupervision(ctx context.Context, tx DBTransaction, simulationUID, jobUID string) (*Supervision, error)

	// RetrieveSupervision returns the supervision with the given id.
	RetrieveSupervision(ctx context.Context, tx DBTransaction, id int64) (*Supervision, error)

	// SaveSupervisionScript stores the formatted dispatch script.
	SaveSupervisionScript(ctx context.Context, tx DBTransaction, id int64, script string) error

	// RecordDispatchAttempt increments the try counter, stamps the
	// dispatch date and stores the dispatch error (nil on success).
	RecordDispatchAttempt(ctx context.Context, tx DBTransaction, id int64, dispatchDate time.Time, dispatchError *string) error
}

// EmailStore handles mailbox UID deduplication and decode statistics.
type EmailStore interface {
	// PersistEmailUID records a mailbox UID. Returns ErrConflict when
	// the UID was already recorded.
	PersistEmailUID(ctx context.Context, tx DBTransaction, serverID, emailUID string) error

	// PersistEmailStats stores the decode statistics for one email.
	PersistEmailStats(ctx context.Context, tx DBTransaction, stats *EmailStats) error
}

// Gateway combines the store interfaces with transaction control. It
// is the single source of truth consumed by every pipeline.
type Gateway interface {
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	MonitoringStore
	SupervisionStore
	EmailStore
}
