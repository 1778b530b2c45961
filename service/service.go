package service

// Services bundles the services a farm persists it's records with.
type Services interface {
	FarmService() FarmService
	JobService() JobService
	WorkerService() WorkerService
}

// FarmService applies changes of a farm transaction at once.
type FarmService interface {
	Update(FarmUpdate) error
}

// FarmUpdate is every record a farm transaction has changed.
// Either all of them should be applied, or nothing.
type FarmUpdate struct {
	NewJobs []*Job
	Jobs    []*Job
	Workers []*Worker
}

// Empty reports whether there is nothing to update.
func (u FarmUpdate) Empty() bool {
	return len(u.NewJobs) == 0 && len(u.Jobs) == 0 && len(u.Workers) == 0
}

// JobService is an interface which let us use sqldb.JobService.
// A farm uses it when it restores the records.
type JobService interface {
	UpdateJobs([]*Job) error
	FindJobs(JobFilter) ([]*Job, error)
}

// WorkerService is an interface which let us use sqldb.WorkerService.
type WorkerService interface {
	UpdateWorkers([]*Worker) error
	FindWorkers() ([]*Worker, error)
}

// Job is a job information for database service.
type Job struct {
	ID             int    `db:"id"`
	Parent         int    `db:"parent"`
	Title          string `db:"title"`
	Command        string `db:"command"`
	Dir            string `db:"dir"`
	Priority       int    `db:"priority"`
	RetryLimit     int    `db:"retry_limit"`
	RetryCount     int    `db:"retry_count"`
	Timeout        int    `db:"timeout"`
	Affinity       string `db:"affinity"`
	Dependencies   string `db:"dependencies"`
	LocalProgress  string `db:"local_progress"`
	GlobalProgress string `db:"global_progress"`
	State          string `db:"state"`
	Worker         string `db:"worker"`
	Created        int64  `db:"created"`
	StartTime      int64  `db:"start_time"`
	Duration       int64  `db:"duration"`
}

// JobFilter is a job filter for searching jobs.
// Empty fields are not used for filtering.
type JobFilter struct {
	State string
}

// Worker is a worker information for database service.
type Worker struct {
	Name     string `db:"name"`
	Affinity string `db:"affinity"`
	Status   string `db:"status"`
	Job      int    `db:"job"`
	Enabled  bool   `db:"enabled"`
	LastSeen int64  `db:"last_seen"`
	Finished int    `db:"finished"`
	Errors   int    `db:"errors"`
}
