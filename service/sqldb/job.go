package sqldb

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/imagvfx/coalition/service"
)

func createJobsTable(tx *sqlx.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY,
			parent INTEGER NOT NULL,
			title TEXT NOT NULL,
			command TEXT NOT NULL,
			dir TEXT NOT NULL,
			priority INTEGER NOT NULL,
			retry_limit INTEGER NOT NULL,
			retry_count INTEGER NOT NULL,
			timeout INTEGER NOT NULL,
			affinity TEXT NOT NULL,
			dependencies TEXT NOT NULL,
			local_progress TEXT NOT NULL,
			global_progress TEXT NOT NULL,
			state TEXT NOT NULL,
			worker TEXT NOT NULL,
			created BIGINT NOT NULL,
			start_time BIGINT NOT NULL,
			duration BIGINT NOT NULL
		)
	`)
	return err
}

const jobColumns = `
	id,
	parent,
	title,
	command,
	dir,
	priority,
	retry_limit,
	retry_count,
	timeout,
	affinity,
	dependencies,
	local_progress,
	global_progress,
	state,
	worker,
	created,
	start_time,
	duration
`

const insertJob = `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (
		:id,
		:parent,
		:title,
		:command,
		:dir,
		:priority,
		:retry_limit,
		:retry_count,
		:timeout,
		:affinity,
		:dependencies,
		:local_progress,
		:global_progress,
		:state,
		:worker,
		:created,
		:start_time,
		:duration
	)
`

// Parent of a job cannot be changed, so it is not updated.
const upsertJob = insertJob + `
	ON CONFLICT (id) DO UPDATE SET
		title = excluded.title,
		command = excluded.command,
		dir = excluded.dir,
		priority = excluded.priority,
		retry_limit = excluded.retry_limit,
		retry_count = excluded.retry_count,
		timeout = excluded.timeout,
		affinity = excluded.affinity,
		dependencies = excluded.dependencies,
		local_progress = excluded.local_progress,
		global_progress = excluded.global_progress,
		state = excluded.state,
		worker = excluded.worker,
		start_time = excluded.start_time,
		duration = excluded.duration
`

// JobService interacts with a database for coalition jobs.
type JobService struct {
	db *sqlx.DB
}

// NewJobService creates a new JobService.
func NewJobService(db *sqlx.DB) *JobService {
	return &JobService{db: db}
}

// addJobs inserts new jobs. It fails when one of them is already in the database.
func addJobs(tx *sqlx.Tx, jobs []*service.Job) error {
	for _, j := range jobs {
		_, err := tx.NamedExec(insertJob, j)
		if err != nil {
			return errors.Wrapf(err, "add job %v", j.ID)
		}
	}
	return nil
}

// UpdateJobs updates the jobs in the database. Jobs not in the database are added.
func (s *JobService) UpdateJobs(jobs []*service.Job) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()
	err = updateJobs(tx, jobs)
	if err != nil {
		return err
	}
	return errors.WithStack(tx.Commit())
}

func updateJobs(tx *sqlx.Tx, jobs []*service.Job) error {
	for _, j := range jobs {
		_, err := tx.NamedExec(upsertJob, j)
		if err != nil {
			return errors.Wrapf(err, "update job %v", j.ID)
		}
	}
	return nil
}

// FindJobs finds jobs those matched with given filter, ordered by their ID.
func (s *JobService) FindJobs(f service.JobFilter) ([]*service.Job, error) {
	where := NewWhere()
	if f.State != "" {
		where.Add("state", f.State)
	}
	jobs := make([]*service.Job, 0)
	query := `SELECT ` + jobColumns + ` FROM jobs` + where.Stmt() + ` ORDER BY id ASC`
	err := s.db.Select(&jobs, s.db.Rebind(query), where.Vals()...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return jobs, nil
}
