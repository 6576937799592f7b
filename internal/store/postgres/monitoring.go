package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"simwatch/internal/store"
)

const simulationColumns = `uid, hashid, name, execution_state, is_error, is_obsolete,
	compute_node_login, compute_node_machine, execution_start_date, execution_end_date, created_at`

const jobColumns = `uid, simulation_uid, type, accounting_project, scheduler_id,
	is_startup, is_error, warning_delay, execution_start_date, execution_end_date,
	pp_name, pp_date, pp_dimension, pp_component, pp_file, created_at`

// PersistSimulationStart upserts a simulation row keyed by UID.
// Duplicate start events update the descriptive fields in place.
func (s *Store) PersistSimulationStart(ctx context.Context, tx store.DBTransaction, sim *store.Simulation) (*store.Simulation, error) {
	query := fmt.Sprintf(`
		INSERT INTO simulations (uid, hashid, name, execution_state, compute_node_login, compute_node_machine, execution_start_date)
		VALUES ($1, $2, $3, 'running', $4, $5, $6)
		ON CONFLICT (uid) DO UPDATE SET
			hashid = EXCLUDED.hashid,
			name = EXCLUDED.name,
			execution_state = 'running',
			compute_node_login = EXCLUDED.compute_node_login,
			compute_node_machine = EXCLUDED.compute_node_machine,
			execution_start_date = EXCLUDED.execution_start_date
		RETURNING %s
	`, simulationColumns)

	row := s.getExecutor(tx).QueryRowContext(ctx, query,
		sim.UID,
		sim.HashID,
		sim.Name,
		sim.ComputeNodeLogin,
		sim.ComputeNodeMachine,
		sim.ExecutionStartDate,
	)
	return scanSimulation(row)
}

// MarkSupersededSimulations flags every other incarnation sharing the
// hash identifier as obsolete.
func (s *Store) MarkSupersededSimulations(ctx context.Context, tx store.DBTransaction, hashID, activeUID string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE simulations
		SET is_obsolete = TRUE
		WHERE hashid = $1 AND uid <> $2
	`, hashID, activeUID)
	return err
}

// PersistJobStart upserts a job row keyed by UID. A duplicate start
// for the same UID updates the row instead of creating a second one.
func (s *Store) PersistJobStart(ctx context.Context, tx store.DBTransaction, job *store.Job) (*store.Job, error) {
	query := fmt.Sprintf(`
		INSERT INTO jobs (uid, simulation_uid, type, accounting_project, scheduler_id,
			is_startup, is_error, warning_delay, execution_start_date,
			pp_name, pp_date, pp_dimension, pp_component, pp_file)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (uid) DO UPDATE SET
			simulation_uid = EXCLUDED.simulation_uid,
			type = EXCLUDED.type,
			accounting_project = EXCLUDED.accounting_project,
			scheduler_id = EXCLUDED.scheduler_id,
			is_startup = EXCLUDED.is_startup,
			warning_delay = EXCLUDED.warning_delay,
			execution_start_date = EXCLUDED.execution_start_date,
			pp_name = EXCLUDED.pp_name,
			pp_date = EXCLUDED.pp_date,
			pp_dimension = EXCLUDED.pp_dimension,
			pp_component = EXCLUDED.pp_component,
			pp_file = EXCLUDED.pp_file
		RETURNING %s
	`, jobColumns)

	row := s.getExecutor(tx).QueryRowContext(ctx, query,
		job.UID,
		job.SimulationUID,
		job.Type,
		job.AccountingProject,
		job.SchedulerID,
		job.IsStartup,
		job.WarningDelay,
		job.ExecutionStartDate,
		job.PostProcessingName,
		job.PostProcessingDate,
		job.PostProcessingDimension,
		job.PostProcessingComponent,
		job.PostProcessingFile,
	)
	return scanJob(row)
}

// PersistJobEnd records the terminal state of a job.
func (s *Store) PersistJobEnd(ctx context.Context, tx store.DBTransaction, endDate time.Time, isError bool, jobUID, simulationUID string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE jobs
		SET execution_end_date = $1, is_error = $2
		WHERE uid = $3 AND simulation_uid = $4
	`, endDate, isError, jobUID, simulationUID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobUID, store.ErrNotFound)
	}
	return nil
}

// PersistSimulationEnd records the terminal state of a simulation.
func (s *Store) PersistSimulationEnd(ctx context.Context, tx store.DBTransaction, endDate time.Time, isError bool, simulationUID string) (*store.Simulation, error) {
	query := fmt.Sprintf(`
		UPDATE simulations
		SET execution_end_date = $1, is_error = $2, execution_state = 'complete'
		WHERE uid = $3
		RETURNING %s
	`, simulationColumns)

	row := s.getExecutor(tx).QueryRowContext(ctx, query, endDate, isError, simulationUID)
	sim, err := scanSimulation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("simulation %s: %w", simulationUID, store.ErrNotFound)
	}
	return sim, err
}

// ClearSimulationError lifts the error flag on a simulation. Clearing
// an unknown simulation is a no-op: the start event may not have been
// received yet.
func (s *Store) ClearSimulationError(ctx context.Context, tx store.DBTransaction, simulationUID string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE simulations SET is_error = FALSE WHERE uid = $1
	`, simulationUID)
	return err
}

// RetrieveSimulation returns the simulation with the given UID.
func (s *Store) RetrieveSimulation(ctx context.Context, tx store.DBTransaction, uid string) (*store.Simulation, error) {
	query := fmt.Sprintf("SELECT %s FROM simulations WHERE uid = $1", simulationColumns)
	sim, err := scanSimulation(s.getExecutor(tx).QueryRowContext(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("simulation %s: %w", uid, store.ErrNotFound)
	}
	return sim, err
}

// RetrieveActiveSimulation returns the single non-obsolete simulation
// for a hash identifier.
func (s *Store) RetrieveActiveSimulation(ctx context.Context, tx store.DBTransaction, hashID string) (*store.Simulation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM simulations
		WHERE hashid = $1 AND NOT is_obsolete
	`, simulationColumns)
	sim, err := scanSimulation(s.getExecutor(tx).QueryRowContext(ctx, query, hashID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active simulation for hashid %s: %w", hashID, store.ErrNotFound)
	}
	return sim, err
}

// RetrieveJob returns the job with the given UID.
func (s *Store) RetrieveJob(ctx context.Context, tx store.DBTransaction, uid string) (*store.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE uid = $1", jobColumns)
	job, err := scanJob(s.getExecutor(tx).QueryRowContext(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", uid, store.ErrNotFound)
	}
	return job, err
}

// ListSimulationJobs returns the jobs of a simulation, oldest first.
func (s *Store) ListSimulationJobs(ctx context.Context, tx store.DBTransaction, simulationUID string) ([]*store.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE simulation_uid = $1
		ORDER BY execution_start_date
	`, jobColumns)
	rows, err := s.getExecutor(tx).QueryContext(ctx, query, simulationUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RetrieveLatestJobPeriod returns the most recent output period of a
// simulation.
func (s *Store) RetrieveLatestJobPeriod(ctx context.Context, tx store.DBTransaction, simulationUID string) (*store.JobPeriod, error) {
	var p store.JobPeriod
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT simulation_uid, period_id, period_date_begin, period_date_end, failure_count
		FROM job_periods
		WHERE simulation_uid = $1
		ORDER BY period_id DESC
		LIMIT 1
	`, simulationUID).Scan(&p.SimulationUID, &p.PeriodID, &p.PeriodDateBegin, &p.PeriodDateEnd, &p.FailureCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job period for simulation %s: %w", simulationUID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordJobPeriod upserts an output period reported by a compute-job
// start.
func (s *Store) RecordJobPeriod(ctx context.Context, tx store.DBTransaction, period *store.JobPeriod) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		INSERT INTO job_periods (simulation_uid, period_id, period_date_begin, period_date_end)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (simulation_uid, period_id) DO UPDATE SET
			period_date_begin = EXCLUDED.period_date_begin,
			period_date_end = EXCLUDED.period_date_end
	`, period.SimulationUID, period.PeriodID, period.PeriodDateBegin, period.PeriodDateEnd)
	return err
}

// IncrementLatestPeriodFailure bumps the failure counter on the most
// recent output period of a simulation.
func (s *Store) IncrementLatestPeriodFailure(ctx context.Context, tx store.DBTransaction, simulationUID string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE job_periods
		SET failure_count = failure_count + 1
		WHERE id = (
			SELECT id FROM job_periods
			WHERE simulation_uid = $1
			ORDER BY period_id DESC
			LIMIT 1
		)
	`, simulationUID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSimulation(row rowScanner) (*store.Simulation, error) {
	var sim store.Simulation
	err := row.Scan(
		&sim.UID,
		&sim.HashID,
		&sim.Name,
		&sim.ExecutionState,
		&sim.IsError,
		&sim.IsObsolete,
		&sim.ComputeNodeLogin,
		&sim.ComputeNodeMachine,
		&sim.ExecutionStartDate,
		&sim.ExecutionEndDate,
		&sim.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sim, nil
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	err := row.Scan(
		&job.UID,
		&job.SimulationUID,
		&job.Type,
		&job.AccountingProject,
		&job.SchedulerID,
		&job.IsStartup,
		&job.IsError,
		&job.WarningDelay,
		&job.ExecutionStartDate,
		&job.ExecutionEndDate,
		&job.PostProcessingName,
		&job.PostProcessingDate,
		&job.PostProcessingDimension,
		&job.PostProcessingComponent,
		&job.PostProcessingFile,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
