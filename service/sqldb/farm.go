package sqldb

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/imagvfx/coalition/service"
)

// FarmService interacts with a database for a coalition farm.
type FarmService struct {
	db *sqlx.DB
}

// NewFarmService creates a new FarmService.
func NewFarmService(db *sqlx.DB) *FarmService {
	return &FarmService{db: db}
}

// Update applies all changes of a farm transaction in a db transaction.
func (s *FarmService) Update(u service.FarmUpdate) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return errors.WithStack(err)
	}
	defer tx.Rollback()
	err = addJobs(tx, u.NewJobs)
	if err != nil {
		return err
	}
	err = updateJobs(tx, u.Jobs)
	if err != nil {
		return err
	}
	err = updateWorkers(tx, u.Workers)
	if err != nil {
		return err
	}
	return errors.WithStack(tx.Commit())
}

// Check checks the database is reachable.
func (s *FarmService) Check() error {
	return errors.WithStack(s.db.Ping())
}

// Services are services backed by a sql database.
type Services struct {
	fs *FarmService
	js *JobService
	ws *WorkerService
}

func NewServices(db *sqlx.DB) *Services {
	return &Services{
		fs: NewFarmService(db),
		js: NewJobService(db),
		ws: NewWorkerService(db),
	}
}

func (s *Services) FarmService() service.FarmService {
	return s.fs
}

func (s *Services) JobService() service.JobService {
	return s.js
}

func (s *Services) WorkerService() service.WorkerService {
	return s.ws
}
