package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"simwatch/internal/store"
)

const supervisionColumns = `id, simulation_uid, job_uid, script,
	dispatch_try_count, dispatch_date, dispatch_error, created_at`

// CreateSupervision inserts a new supervision row.
func (s *Store) CreateSupervision(ctx context.Context, tx store.DBTransaction, simulationUID, jobUID string) (*store.Supervision, error) {
	query := fmt.Sprintf(`
		INSERT INTO supervisions (simulation_uid, job_uid)
		VALUES ($1, $2)
		RETURNING %s
	`, supervisionColumns)
	return scanSupervision(s.getExecutor(tx).QueryRowContext(ctx, query, simulationUID, jobUID))
}

// RetrieveSupervision returns the supervision with the given id.
func (s *Store) RetrieveSupervision(ctx context.Context, tx store.DBTransaction, id int64) (*store.Supervision, error) {
	query := fmt.Sprintf("SELECT %s FROM supervisions WHERE id = $1", supervisionColumns)
	sup, err := scanSupervision(s.getExecutor(tx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("supervision %d: %w", id, store.ErrNotFound)
	}
	return sup, err
}

// SaveSupervisionScript stores the formatted dispatch script.
func (s *Store) SaveSupervisionScript(ctx context.Context, tx store.DBTransaction, id int64, script string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE supervisions SET script = $1 WHERE id = $2
	`, script, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("supervision %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// RecordDispatchAttempt increments the try counter, stamps the
// dispatch date and stores the dispatch error. A nil dispatchError
// clears any error recorded by a previous attempt.
func (s *Store) RecordDispatchAttempt(ctx context.Context, tx store.DBTransaction, id int64, dispatchDate time.Time, dispatchError *string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE supervisions
		SET dispatch_try_count = dispatch_try_count + 1,
			dispatch_date = $1,
			dispatch_error = $2
		WHERE id = $3
	`, dispatchDate, dispatchError, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("supervision %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanSupervision(row rowScanner) (*store.Supervision, error) {
	var sup store.Supervision
	err := row.Scan(
		&sup.ID,
		&sup.SimulationUID,
		&sup.JobUID,
		&sup.Script,
		&sup.DispatchTryCount,
		&sup.DispatchDate,
		&sup.DispatchError,
		&sup.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sup, nil
}
