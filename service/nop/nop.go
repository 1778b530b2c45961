package nop

import "github.com/imagvfx/coalition/service"

// Services are services those do nothing.
// A farm using them lives only in memory.
type Services struct{}

func (Services) FarmService() service.FarmService {
	return &FarmService{}
}

func (Services) JobService() service.JobService {
	return &JobService{}
}

func (Services) WorkerService() service.WorkerService {
	return &WorkerService{}
}

// FarmService is a FarmService which does nothing.
type FarmService struct{}

// Update returns nil.
func (s *FarmService) Update(service.FarmUpdate) error {
	return nil
}

// JobService is a JobService which does nothing.
// We need this for testing.
type JobService struct{}

// UpdateJobs returns nil.
func (s *JobService) UpdateJobs([]*service.Job) error {
	return nil
}

// FindJobs returns (nil, nil).
func (s *JobService) FindJobs(f service.JobFilter) ([]*service.Job, error) {
	return nil, nil
}

// WorkerService is a WorkerService which does nothing.
// We need this for testing.
type WorkerService struct{}

// UpdateWorkers returns nil.
func (s *WorkerService) UpdateWorkers([]*service.Worker) error {
	return nil
}

// FindWorkers returns (nil, nil).
func (s *WorkerService) FindWorkers() ([]*service.Worker, error) {
	return nil, nil
}
