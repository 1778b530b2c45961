package sqldb

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/imagvfx/coalition/service"
)

func createWorkersTable(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS workers (
			name TEXT PRIMARY KEY,
			affinity TEXT NOT NULL,
			status TEXT NOT NULL,
			job INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL,
			last_seen BIGINT NOT NULL,
			finished INTEGER NOT NULL,
			errors INTEGER NOT NULL
		)
	`)
	return err
}

const upsertWorker = `
	INSERT INTO workers (
		name,
		affinity,
		status,
		job,
		enabled,
		last_seen,
		finished,
		errors
	)
	VALUES (
		:name,
		:affinity,
		:status,
		:job,
		:enabled,
		:last_seen,
		:finished,
		:errors
	)
	ON CONFLICT (name) DO UPDATE SET
		affinity = excluded.affinity,
		status = excluded.status,
		job = excluded.job,
		enabled = excluded.enabled,
		last_seen = excluded.last_seen,
		finished = excluded.finished,
		errors = excluded.errors
`

// WorkerService interacts with a database for coalition workers.
type WorkerService struct {
	db *sqlx.DB
}

// NewWorkerService creates a new WorkerService.
func NewWorkerService(db *sqlx.DB) *WorkerService {
	return &WorkerService{db: db}
}

// UpdateWorkers adds or updates the workers.
func (s *WorkerService) UpdateWorkers(workers []*service.Worker) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()
	err = updateWorkers(tx, workers)
	if err != nil {
		return err
	}
	return errors.WithStack(tx.Commit())
}

func updateWorkers(tx *sqlx.Tx, workers []*service.Worker) error {
	for _, w := range workers {
		_, err := tx.NamedExec(upsertWorker, w)
		if err != nil {
			return errors.Wrapf(err, "update worker %v", w.Name)
		}
	}
	return nil
}

// FindWorkers finds all workers, ordered by their name.
func (s *WorkerService) FindWorkers() ([]*service.Worker, error) {
	workers := make([]*service.Worker, 0)
	query := `
		SELECT
			name,
			affinity,
			status,
			job,
			enabled,
			last_seen,
			finished,
			errors
		FROM workers
		ORDER BY name ASC
	`
	err := s.db.Select(&workers, query)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return workers, nil
}
