package coalition

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// WorkerStatus is a status of a worker.
type WorkerStatus string

const (
	WorkerIdle    = WorkerStatus("IDLE")
	WorkerBusy    = WorkerStatus("BUSY")
	WorkerOffline = WorkerStatus("OFFLINE")
)

// Worker is a remote process who continuously takes a job and run it's command.
// Workers are registered implicitly, when they first call the farm.
type Worker struct {
	// Name is identity of the worker. Usually it is hostname or ip of the worker.
	Name string

	// Affinity decides which jobs the worker can take.
	Affinity string

	Status WorkerStatus

	// Job is the job the worker is currently working. 0 means no job.
	Job JobID

	// Enabled is false when a user stopped the worker.
	// A disabled worker finishes it's current job, but doesn't get a new one.
	Enabled bool

	// LastSeen is when the worker lastly called the farm, in unix seconds.
	LastSeen int64

	// Finished and Errors count jobs the worker has ended.
	Finished int
	Errors   int
}

func (w *Worker) copy() *Worker {
	c := *w
	return &c
}

// WorkerGroup is a group of workers, matched by their address.
// Workers in the group get the group's Affinity when they are registered.
type WorkerGroup struct {
	Name     string
	Matchers []AddressMatcher
	Affinity string
}

// Match checks the worker name or address matches to the group.
func (g WorkerGroup) Match(addr string) bool {
	addr = strings.Split(addr, ":")[0] // remove port
	for _, m := range g.Matchers {
		if m.Match(addr) {
			return true
		}
	}
	return false
}

// groupAffinity returns the Affinity of the first group the worker belongs to.
func groupAffinity(wgrps []*WorkerGroup, name string) string {
	for _, g := range wgrps {
		if g.Match(name) {
			return g.Affinity
		}
	}
	return ""
}

// touchWorker returns a modifiable copy of the worker, registering it when it is new.
// The caller should put it back.
func (f *Farm) touchWorker(tx *txn, name string) (*Worker, error) {
	if name == "" {
		return nil, ErrNoWorkerName
	}
	w := tx.worker(name)
	if w == nil {
		w = &Worker{
			Name:     name,
			Affinity: groupAffinity(f.WorkerGroups(), name),
			Status:   WorkerIdle,
			Enabled:  true,
		}
		log.WithFields(log.Fields{"worker": name, "affinity": w.Affinity}).Info("worker registered")
	} else {
		w = w.copy()
	}
	if w.Status == WorkerOffline {
		w.Status = WorkerIdle
		if w.Job != 0 {
			w.Status = WorkerBusy
		}
	}
	w.LastSeen = f.now().Unix()
	return w, nil
}

// Heartbeat tells the farm the worker is alive.
// It returns the job the worker should be working on, or 0 when it shouldn't work on any.
// A worker gets 0 while it is running a job when the job is paused, stopped or deleted.
func (f *Farm) Heartbeat(name string) (JobID, error) {
	var id JobID
	err := f.update(func(tx *txn) error {
		w, err := f.touchWorker(tx, name)
		if err != nil {
			return err
		}
		id = w.Job
		return tx.putWorker(w)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Worker returns a copy of the worker.
func (f *Farm) Worker(name string) (*Worker, bool) {
	var w *Worker
	f.view(func(tx *txn) {
		w = tx.worker(name)
	})
	if w == nil {
		return nil, false
	}
	return w.copy(), true
}

// Workers returns all workers ordered by their name.
func (f *Farm) Workers() []*Worker {
	var workers []*Worker
	f.view(func(tx *txn) {
		workers = tx.allWorkers()
	})
	for i, w := range workers {
		workers[i] = w.copy()
	}
	return workers
}

// StartWorkers enables the workers, so they could take jobs again.
// Unknown workers are skipped. It returns number of workers changed.
func (f *Farm) StartWorkers(names []string) (int, error) {
	return f.enableWorkers(names, true)
}

// StopWorkers disables the workers. A disabled worker finishes it's current job,
// but doesn't take a new one. Unknown workers are skipped.
// It returns number of workers changed.
func (f *Farm) StopWorkers(names []string) (int, error) {
	return f.enableWorkers(names, false)
}

func (f *Farm) enableWorkers(names []string, enable bool) (int, error) {
	n := 0
	err := f.update(func(tx *txn) error {
		for _, name := range names {
			w := tx.worker(name)
			if w == nil || w.Enabled == enable {
				continue
			}
			w = w.copy()
			w.Enabled = enable
			err := tx.putWorker(w)
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SweepWorkers marks workers those are not heard from within the liveness window as offline.
// Jobs of the workers go back to the queue without consuming their retries.
// It returns number of workers went offline.
func (f *Farm) SweepWorkers(now time.Time) (int, error) {
	window := f.livenessWindow()
	n := 0
	err := f.update(func(tx *txn) error {
		for _, w := range tx.allWorkers() {
			if w.Status == WorkerOffline {
				continue
			}
			if now.Sub(time.Unix(w.LastSeen, 0)) <= window {
				continue
			}
			w = w.copy()
			if w.Job != 0 {
				if j := tx.job(w.Job); j != nil && j.State == JobWorking && j.Worker == w.Name {
					j = j.copy()
					release(j, w, JobWaiting, now.Unix())
					err := tx.putJob(j)
					if err != nil {
						return err
					}
					log.WithFields(log.Fields{"worker": w.Name, "job": j.ID}).Warn("job released from offline worker")
				}
				w.Job = 0
			}
			w.Status = WorkerOffline
			err := tx.putWorker(w)
			if err != nil {
				return err
			}
			n++
			log.WithField("worker", w.Name).Info("worker offline")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	f.observe()
	return n, nil
}
