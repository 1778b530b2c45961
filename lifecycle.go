package coalition

import (
	log "github.com/sirupsen/logrus"
)

// transition changes a job, which is a modifiable copy, in a write transaction.
// It returns true when it changed the job.
type transition func(f *Farm, tx *txn, j *Job) (bool, error)

// transit applies the transition to the jobs, and returns how many jobs are changed.
// Unknown jobs, the root and deleted jobs are skipped, so it is safe to call it
// with the same ids repeatedly.
func (f *Farm) transit(op string, ids []JobID, fn transition) (int, error) {
	n := 0
	err := f.update(func(tx *txn) error {
		seen := make(map[JobID]bool)
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			j := tx.job(id)
			if j == nil || j.ID == RootID || j.Deleted() {
				continue
			}
			changed, err := fn(f, tx, j.copy())
			if err != nil {
				return err
			}
			if changed {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n != 0 {
		jobTransitions.WithLabelValues(op).Add(float64(n))
		log.WithFields(log.Fields{"op": op, "jobs": n}).Info("jobs changed")
	}
	return n, nil
}

// Reset puts finished or failed jobs back to the queue, with their retries refilled.
// Waiting jobs get their retries refilled as well.
func (f *Farm) Reset(ids []JobID) (int, error) {
	return f.transit("reset", ids, resetJob)
}

// Retry is same as Reset.
func (f *Farm) Retry(ids []JobID) (int, error) {
	return f.transit("retry", ids, resetJob)
}

func resetJob(f *Farm, tx *txn, j *Job) (bool, error) {
	switch j.State {
	case JobError, JobFinished:
		j.State = JobWaiting
	case JobWaiting:
		if j.RetryCount == 0 {
			return false, nil
		}
	default:
		return false, nil
	}
	j.RetryCount = 0
	return true, tx.putJob(j)
}

// ResetErrors puts failed jobs back to the queue, with their retries refilled.
func (f *Farm) ResetErrors(ids []JobID) (int, error) {
	return f.transit("reseterrors", ids, func(f *Farm, tx *txn, j *Job) (bool, error) {
		if j.State != JobError {
			return false, nil
		}
		j.State = JobWaiting
		j.RetryCount = 0
		return true, tx.putJob(j)
	})
}

// Pause pauses waiting or working jobs.
// The worker of a working job is released, and gets to know it with it's next heartbeat.
func (f *Farm) Pause(ids []JobID) (int, error) {
	return f.transit("pause", ids, func(f *Farm, tx *txn, j *Job) (bool, error) {
		switch j.State {
		case JobWaiting:
			j.State = JobPaused
			return true, tx.putJob(j)
		case JobWorking:
			return true, f.releaseJob(tx, j, JobPaused)
		}
		return false, nil
	})
}

// Start puts paused jobs back to the queue.
func (f *Farm) Start(ids []JobID) (int, error) {
	return f.transit("start", ids, func(f *Farm, tx *txn, j *Job) (bool, error) {
		if j.State != JobPaused {
			return false, nil
		}
		j.State = JobWaiting
		return true, tx.putJob(j)
	})
}

// Stop puts working jobs back to the queue, releasing their workers.
// It is not counted as a failure of the jobs.
func (f *Farm) Stop(ids []JobID) (int, error) {
	return f.transit("stop", ids, func(f *Farm, tx *txn, j *Job) (bool, error) {
		if j.State != JobWorking {
			return false, nil
		}
		return true, f.releaseJob(tx, j, JobWaiting)
	})
}

// Delete deletes the jobs and their sub jobs.
// Deleted jobs are remained as tombstones. They will not be changed anymore.
func (f *Farm) Delete(ids []JobID) (int, error) {
	return f.transit("delete", ids, deleteJob)
}

// Clear is same as Delete.
func (f *Farm) Clear(ids []JobID) (int, error) {
	return f.transit("clear", ids, deleteJob)
}

func deleteJob(f *Farm, tx *txn, j *Job) (bool, error) {
	for _, sj := range tx.subtree(j) {
		if sj.Deleted() {
			continue
		}
		c := sj.copy()
		if c.ID == j.ID {
			c = j
		}
		if c.State == JobWorking {
			err := f.releaseJob(tx, c, JobDeleted)
			if err != nil {
				return false, err
			}
			continue
		}
		c.State = JobDeleted
		err := tx.putJob(c)
		if err != nil {
			return false, err
		}
	}
	return true, nil
}
