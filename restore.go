package coalition

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/imagvfx/coalition/service"
)

// restore loads jobs and workers from the services into the farm.
//
// Nobody is working on a job when a farm starts. So working jobs go back to the queue,
// and workers are offline until they call the farm again. Those changes are written
// back to the services before anything is loaded.
func (f *Farm) restore(js service.JobService, ws service.WorkerService) error {
	interrupted, err := js.FindJobs(service.JobFilter{State: string(JobWorking)})
	if err != nil {
		return errors.Wrap(err, "find working jobs")
	}
	for _, sj := range interrupted {
		sj.State = string(JobWaiting)
		sj.Worker = ""
	}
	if len(interrupted) != 0 {
		err = js.UpdateJobs(interrupted)
		if err != nil {
			return errors.Wrap(err, "requeue working jobs")
		}
		log.WithField("jobs", len(interrupted)).Info("interrupted jobs went back to the queue")
	}
	sworkers, err := ws.FindWorkers()
	if err != nil {
		return errors.Wrap(err, "find workers")
	}
	gone := make([]*service.Worker, 0)
	for _, sw := range sworkers {
		if sw.Status == string(WorkerOffline) && sw.Job == 0 {
			continue
		}
		sw.Status = string(WorkerOffline)
		sw.Job = 0
		gone = append(gone, sw)
	}
	if len(gone) != 0 {
		err = ws.UpdateWorkers(gone)
		if err != nil {
			return errors.Wrap(err, "set workers offline")
		}
	}
	sjobs, err := js.FindJobs(service.JobFilter{})
	if err != nil {
		return errors.Wrap(err, "find jobs")
	}
	jobs := make([]*Job, 0, len(sjobs))
	known := make(map[JobID]bool, len(sjobs))
	for _, sj := range sjobs {
		if sj.ID == int(RootID) {
			continue
		}
		j, err := jobFromService(sj)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
		known[j.ID] = true
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	for _, j := range jobs {
		if j.Parent != RootID && !known[j.Parent] {
			log.WithFields(log.Fields{"job": j.ID, "parent": j.Parent}).Warn("parent of the job is missing, it goes under the root")
			j.Parent = RootID
		}
	}
	tx := newTxn(f.db, true)
	defer tx.Abort()
	root := &Job{ID: RootID, Title: "Root", Dir: DefaultDir}
	children := make(map[JobID][]JobID)
	for _, j := range jobs {
		children[j.Parent] = append(children[j.Parent], j.ID)
		if j.ID >= f.nextID {
			f.nextID = j.ID + 1
		}
	}
	root.Children = children[RootID]
	err = tx.Insert(jobsTable, root)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, j := range jobs {
		j.Children = children[j.ID]
		err := tx.Insert(jobsTable, j)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	for _, sw := range sworkers {
		w := workerFromService(sw)
		err := tx.Insert(workersTable, w)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	tx.Commit()
	if len(jobs) != 0 || len(sworkers) != 0 {
		log.WithFields(log.Fields{"jobs": len(jobs), "workers": len(sworkers)}).Info("farm restored")
	}
	f.observe()
	return nil
}

// serviceUpdate returns records changed in the transaction, in service types.
// The root job isn't a record, so it is left out.
func (tx *txn) serviceUpdate() service.FarmUpdate {
	u := service.FarmUpdate{}
	for _, j := range tx.newJobs {
		u.NewJobs = append(u.NewJobs, jobToService(j))
	}
	for _, j := range tx.jobs {
		if j.ID == RootID {
			continue
		}
		u.Jobs = append(u.Jobs, jobToService(j))
	}
	for _, w := range tx.workers {
		u.Workers = append(u.Workers, workerToService(w))
	}
	return u
}

func jobToService(j *Job) *service.Job {
	return &service.Job{
		ID:             int(j.ID),
		Parent:         int(j.Parent),
		Title:          j.Title,
		Command:        j.Command,
		Dir:            j.Dir,
		Priority:       j.Priority,
		RetryLimit:     j.RetryLimit,
		RetryCount:     j.RetryCount,
		Timeout:        j.Timeout,
		Affinity:       j.Affinity,
		Dependencies:   formatJobIDs(j.Dependencies),
		LocalProgress:  j.LocalProgress,
		GlobalProgress: j.GlobalProgress,
		State:          string(j.State),
		Worker:         j.Worker,
		Created:        j.Created,
		StartTime:      j.StartTime,
		Duration:       j.Duration,
	}
}

func jobFromService(sj *service.Job) (*Job, error) {
	deps, err := parseJobIDs(sj.Dependencies)
	if err != nil {
		return nil, errors.Wrapf(err, "job %v: dependencies", sj.ID)
	}
	j := &Job{
		ID:             JobID(sj.ID),
		Parent:         JobID(sj.Parent),
		Title:          sj.Title,
		Command:        sj.Command,
		Dir:            sj.Dir,
		Priority:       sj.Priority,
		RetryLimit:     sj.RetryLimit,
		RetryCount:     sj.RetryCount,
		Timeout:        sj.Timeout,
		Affinity:       sj.Affinity,
		Dependencies:   deps,
		LocalProgress:  sj.LocalProgress,
		GlobalProgress: sj.GlobalProgress,
		State:          JobState(sj.State),
		Worker:         sj.Worker,
		Created:        sj.Created,
		StartTime:      sj.StartTime,
		Duration:       sj.Duration,
	}
	switch j.State {
	case JobWaiting, JobWorking, JobPaused, JobFinished, JobError, JobDeleted:
	default:
		return nil, errors.Errorf("job %v: unknown state %q", sj.ID, sj.State)
	}
	return j, nil
}

func workerToService(w *Worker) *service.Worker {
	return &service.Worker{
		Name:     w.Name,
		Affinity: w.Affinity,
		Status:   string(w.Status),
		Job:      int(w.Job),
		Enabled:  w.Enabled,
		LastSeen: w.LastSeen,
		Finished: w.Finished,
		Errors:   w.Errors,
	}
}

func workerFromService(sw *service.Worker) *Worker {
	return &Worker{
		Name:     sw.Name,
		Affinity: sw.Affinity,
		Status:   WorkerStatus(sw.Status),
		Job:      JobID(sw.Job),
		Enabled:  sw.Enabled,
		LastSeen: sw.LastSeen,
		Finished: sw.Finished,
		Errors:   sw.Errors,
	}
}
