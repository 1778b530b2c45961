package coalition

import (
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/imagvfx/coalition/service"
	"github.com/imagvfx/coalition/service/nop"
)

var (
	// ErrStaleReport is returned when a worker reports about a job it isn't working on.
	ErrStaleReport = errors.New("stale report")

	// ErrNoWorkerName is returned when a worker called the farm without a name.
	ErrNoWorkerName = errors.New("worker name is empty")

	// ErrEmptyBatch is returned when bulk creation is asked to create no jobs.
	ErrEmptyBatch = errors.New("bulk size should be bigger than 0")

	ErrUnknownProperty = errors.New("unknown property")
	ErrInvalidValue    = errors.New("invalid value")
)

// DefaultLiveness is how long a worker could be silent before it is considered offline.
const DefaultLiveness = time.Minute

// Farm manages jobs and workers.
type Farm struct {
	db          *memdb.MemDB
	farmService service.FarmService

	// nextID is the ID of the next job.
	// It is only accessed inside of write transactions.
	nextID JobID

	mu           sync.RWMutex
	workerGroups []*WorkerGroup
	liveness     time.Duration

	// now is time.Now except in tests.
	now func() time.Time
}

// NewFarm creates a new Farm.
// It restores jobs and workers from the services, if they have any.
// Nil services makes an in-memory farm.
func NewFarm(services service.Services, wgrps []*WorkerGroup) (*Farm, error) {
	if services == nil {
		services = nop.Services{}
	}
	db, err := memdb.NewMemDB(farmSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	f := &Farm{
		db:           db,
		farmService:  services.FarmService(),
		nextID:       1,
		workerGroups: wgrps,
		liveness:     DefaultLiveness,
		now:          time.Now,
	}
	err = f.restore(services.JobService(), services.WorkerService())
	if err != nil {
		return nil, err
	}
	return f, nil
}

// update runs fn in a write transaction.
// Records changed in fn are handed to the farm service before the transaction is committed.
// When either of them fails, nothing is changed.
func (f *Farm) update(fn func(tx *txn) error) error {
	tx := newTxn(f.db, true)
	defer tx.Abort()
	err := fn(tx)
	if err != nil {
		return err
	}
	u := tx.serviceUpdate()
	if !u.Empty() {
		err = f.farmService.Update(u)
		if err != nil {
			return errors.Wrap(err, "could not persist farm update")
		}
	}
	tx.Commit()
	return nil
}

// view runs fn in a read transaction, which sees a snapshot of the farm.
func (f *Farm) view(fn func(tx *txn)) {
	tx := newTxn(f.db, false)
	defer tx.Abort()
	fn(tx)
}

// SetWorkerGroups replaces the worker groups.
// It only affects workers registered after the call.
func (f *Farm) SetWorkerGroups(wgrps []*WorkerGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workerGroups = wgrps
}

// WorkerGroups returns the worker groups.
func (f *Farm) WorkerGroups() []*WorkerGroup {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.workerGroups
}

// SetLiveness sets how long a worker could be silent before it is considered offline.
func (f *Farm) SetLiveness(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveness = d
}

func (f *Farm) livenessWindow() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.liveness
}

// Job returns a copy of the job. The root job always exists.
func (f *Farm) Job(id JobID) (*Job, bool) {
	var j *Job
	f.view(func(tx *txn) {
		j = tx.job(id)
	})
	if j == nil {
		return nil, false
	}
	return j.copy(), true
}

// CreateJob creates a job from the fields.
// It returns a Rejection as the error, when the fields are not valid.
func (f *Farm) CreateJob(fields JobFields) (JobID, error) {
	j, err := buildJob(fields)
	if err != nil {
		return 0, err
	}
	err = f.update(func(tx *txn) error {
		return f.addJobs(tx, []*Job{j})
	})
	if err != nil {
		return 0, err
	}
	jobsCreated.Inc()
	log.WithFields(log.Fields{"job": j.ID, "parent": j.Parent}).Debug("job created")
	return j.ID, nil
}

// CreateJobs creates n sibling jobs from the fields at once.
// IndexToken in title and command of each job is replaced by the job's index in the batch.
// Either all of the jobs are created or none of them.
// It returns InvalidBulkSize when n is bigger than MaxBulkSize.
func (f *Farm) CreateJobs(fields JobFields, n int) ([]JobID, error) {
	if n <= 0 {
		return nil, ErrEmptyBatch
	}
	if n > MaxBulkSize {
		return nil, InvalidBulkSize
	}
	tmpl, err := buildJob(fields)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = bulkJob(tmpl, i)
	}
	err = f.update(func(tx *txn) error {
		return f.addJobs(tx, jobs)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]JobID, n)
	for i, j := range jobs {
		ids[i] = j.ID
	}
	jobsCreated.Add(float64(n))
	log.WithFields(log.Fields{"first": ids[0], "n": n, "parent": tmpl.Parent}).Debug("jobs created")
	return ids, nil
}

// addJobs adds sibling jobs under their parent.
func (f *Farm) addJobs(tx *txn, jobs []*Job) error {
	for _, j := range jobs {
		err := checkReferences(tx, j)
		if err != nil {
			return err
		}
	}
	parent := tx.job(jobs[0].Parent).copy()
	now := f.now().Unix()
	for _, j := range jobs {
		j.ID = f.nextID
		f.nextID++
		j.Created = now
		err := tx.addJob(j)
		if err != nil {
			return err
		}
		parent.Children = append(parent.Children, j.ID)
	}
	return tx.putJob(parent)
}

// JobEntry is a job with stat of it's children.
type JobEntry struct {
	*Job
	Stat BranchStat
}

// JobList is the listing of a job's children.
type JobList struct {
	// Job is the listed job.
	Job *Job

	// Parents is a chain of jobs from the root to the listed job.
	Parents []*Job

	Children []*JobEntry
}

// ListJobs lists children of a job.
// An unknown job falls back to the root, so it always lists something.
//
// When filter is empty, deleted jobs are hidden.
// Otherwise only jobs in the filter state are listed, and the deleted jobs could be
// listed only with JobDeleted filter. A job without a state is always listed.
func (f *Farm) ListJobs(id JobID, filter JobState) *JobList {
	l := &JobList{}
	f.view(func(tx *txn) {
		j := tx.job(id)
		if j == nil {
			j = tx.job(RootID)
		}
		l.Job = j.copy()
		for _, p := range tx.parents(j) {
			l.Parents = append(l.Parents, p.copy())
		}
		l.Parents = append(l.Parents, l.Job)
		l.Children = make([]*JobEntry, 0, len(j.Children))
		for _, c := range j.Children {
			cj := tx.job(c)
			if cj == nil {
				continue
			}
			if filter == "" {
				if cj.Deleted() {
					continue
				}
			} else if cj.State != "" && cj.State != filter {
				continue
			}
			e := &JobEntry{Job: cj.copy()}
			for _, gc := range cj.Children {
				if gj := tx.job(gc); gj != nil {
					e.Stat.Add(gj.State)
				}
			}
			l.Children = append(l.Children, e)
		}
	})
	return l
}

// Jobs returns every job except the root, ordered by ID.
func (f *Farm) Jobs() []*Job {
	var jobs []*Job
	f.view(func(tx *txn) {
		jobs = tx.allJobs()
	})
	for i, j := range jobs {
		jobs[i] = j.copy()
	}
	return jobs
}

// dependenciesFinished checks all dependencies of the job are finished.
func (tx *txn) dependenciesFinished(j *Job) bool {
	for _, d := range j.Dependencies {
		dj := tx.job(d)
		if dj == nil || dj.State != JobFinished {
			return false
		}
	}
	return true
}

// release detaches the job from the worker and sets the job state to the given one.
// Both j and w should be modifiable copies, and w could be nil.
// The caller should put them back.
func release(j *Job, w *Worker, to JobState, now int64) {
	if w != nil && w.Job == j.ID {
		w.Job = 0
		if w.Status == WorkerBusy {
			w.Status = WorkerIdle
		}
	}
	if j.State == JobWorking && j.StartTime != 0 {
		j.Duration = now - j.StartTime
	}
	j.Worker = ""
	j.State = to
}

// releaseJob releases the job from it's worker if it has one, then puts both back.
func (f *Farm) releaseJob(tx *txn, j *Job, to JobState) error {
	var w *Worker
	if j.Worker != "" {
		if sw := tx.worker(j.Worker); sw != nil {
			w = sw.copy()
		}
	}
	release(j, w, to, f.now().Unix())
	if w != nil {
		err := tx.putWorker(w)
		if err != nil {
			return err
		}
	}
	return tx.putJob(j)
}

// PickJob assigns a job to the worker, and returns a copy of the job.
// It returns nil without an error when there is no job for the worker.
//
// A job is picked from the waiting jobs, which its affinity is empty or same as the worker's,
// and all of it's dependencies are finished. Lower priority value goes first,
// then lower ID.
func (f *Farm) PickJob(name string) (*Job, error) {
	var picked *Job
	err := f.update(func(tx *txn) error {
		w, err := f.touchWorker(tx, name)
		if err != nil {
			return err
		}
		now := f.now().Unix()
		if w.Job != 0 {
			// The worker asks a new job while it should be working on one.
			// It has lost the job somehow, so the job goes back to the queue.
			if j := tx.job(w.Job); j != nil && j.State == JobWorking && j.Worker == w.Name {
				j = j.copy()
				release(j, w, JobWaiting, now)
				err := tx.putJob(j)
				if err != nil {
					return err
				}
				log.WithFields(log.Fields{"worker": w.Name, "job": j.ID}).Warn("worker asked a new job while working, job released")
			}
			w.Job = 0
			w.Status = WorkerIdle
		}
		if !w.Enabled {
			return tx.putWorker(w)
		}
		var next *Job
		tx.waitingJobs(func(j *Job) bool {
			if j.Affinity != "" && j.Affinity != w.Affinity {
				return true
			}
			if !tx.dependenciesFinished(j) {
				return true
			}
			next = j
			return false
		})
		if next == nil {
			return tx.putWorker(w)
		}
		j := next.copy()
		j.State = JobWorking
		j.Worker = w.Name
		j.StartTime = now
		j.Duration = 0
		w.Job = j.ID
		w.Status = WorkerBusy
		err = tx.putJob(j)
		if err != nil {
			return err
		}
		picked = j.copy()
		return tx.putWorker(w)
	})
	if err != nil {
		return nil, err
	}
	if picked != nil {
		jobsDispatched.Inc()
		log.WithFields(log.Fields{"worker": name, "job": picked.ID}).Debug("job dispatched")
	}
	return picked, nil
}

// EndJob ends the job the worker is working on.
// Zero code means the job is finished, otherwise it is failed.
// A failed job goes back to the queue, unless it used up all of it's retries.
//
// It returns ErrStaleReport, when the worker isn't the one working on the job.
// The worker is still considered alive in that case.
func (f *Farm) EndJob(name string, id JobID, code int) error {
	var result JobState
	err := f.update(func(tx *txn) error {
		w, err := f.touchWorker(tx, name)
		if err != nil {
			return err
		}
		j := tx.job(id)
		if w.Job != id || j == nil || j.State != JobWorking || j.Worker != name {
			return errors.Wrapf(ErrStaleReport, "worker %v ended job %v", name, id)
		}
		j = j.copy()
		result = JobFinished
		if code == 0 {
			w.Finished++
		} else {
			w.Errors++
			result = JobError
			if j.RetryCount < j.RetryLimit {
				j.RetryCount++
				result = JobWaiting
			}
		}
		release(j, w, result, f.now().Unix())
		err = tx.putJob(j)
		if err != nil {
			return err
		}
		return tx.putWorker(w)
	})
	if err != nil {
		if errors.Is(err, ErrStaleReport) {
			staleReports.Inc()
			f.touch(name)
		}
		return err
	}
	jobsEnded.WithLabelValues(string(result)).Inc()
	log.WithFields(log.Fields{"worker": name, "job": id, "code": code}).Debugf("job ended: %v", result)
	return nil
}

// SetProgress sets progress markers of the job the worker is working on.
// It returns ErrStaleReport, when the worker isn't the one working on the job.
func (f *Farm) SetProgress(name string, id JobID, local, global string) error {
	err := f.update(func(tx *txn) error {
		w, err := f.touchWorker(tx, name)
		if err != nil {
			return err
		}
		j := tx.job(id)
		if w.Job != id || j == nil || j.State != JobWorking || j.Worker != name {
			return errors.Wrapf(ErrStaleReport, "worker %v set progress of job %v", name, id)
		}
		j = j.copy()
		j.LocalProgress = local
		j.GlobalProgress = global
		err = tx.putJob(j)
		if err != nil {
			return err
		}
		return tx.putWorker(w)
	})
	if errors.Is(err, ErrStaleReport) {
		staleReports.Inc()
		f.touch(name)
	}
	return err
}

// touch refreshes liveness of the worker in it's own transaction.
// A report rejected as stale still proves the worker is alive.
func (f *Farm) touch(name string) {
	err := f.update(func(tx *txn) error {
		w, err := f.touchWorker(tx, name)
		if err != nil {
			return err
		}
		return tx.putWorker(w)
	})
	if err != nil {
		log.WithField("worker", name).Errorf("touch worker: %v", err)
	}
}
