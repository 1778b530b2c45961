package coalition

import (
	"strconv"
	"strings"
)

// JobID is the identifier of a job.
// IDs are given from a single counter of a farm, so they never get reused.
type JobID int

// RootID is the ID of the synthetic root job. Every tree of jobs hangs from it.
const RootID = JobID(0)

// JobState is a state of a job.
type JobState string

const (
	JobWaiting  = JobState("WAITING")
	JobWorking  = JobState("WORKING")
	JobPaused   = JobState("PAUSED")
	JobFinished = JobState("FINISHED")
	JobError    = JobState("ERROR")
	JobDeleted  = JobState("DELETED")
)

// Job is a job, user sended to a farm to run it's command on a worker.
type Job struct {
	// NOTE: A Job stored in a farm should be read-only.
	// Use copy, modify and put it back through a write transaction.

	// ID lets a Job distinguishes from others.
	ID JobID

	// Parent is the parent job's ID. Jobs under the root has 0 as Parent.
	// It cannot be changed after the job is created.
	Parent JobID

	// Title is human readable title for job.
	Title string

	// Command is a shell command line that a worker will execute.
	Command string

	// Dir is the working directory of the command.
	Dir string

	// Priority decides which job goes first.
	// Lower values take precedence to higher values.
	// Jobs having the same priority are served in order of their ID.
	Priority int

	// RetryLimit is number of maximum automatic retries when the job failed.
	RetryLimit int

	// RetryCount is how many times the job has retried automatically.
	// It will be reset, when user resets the job.
	RetryCount int

	// Timeout is a hint for workers, in seconds. 0 means no timeout.
	// The farm doesn't enforce it.
	Timeout int

	// Affinity limits workers those can take the job.
	// Empty Affinity can be served by any worker.
	Affinity string

	// Dependencies are jobs that should be finished before this job starts.
	Dependencies []JobID

	// LocalProgress and GlobalProgress are progress markers
	// reported by the worker running the job. The farm doesn't interpret them.
	LocalProgress  string
	GlobalProgress string

	// State is the job's state. The root job has an empty State.
	State JobState

	// Children are IDs of the sub jobs in order of their creation.
	Children []JobID

	// Worker is name of the worker currently running the job.
	// It is empty unless the job is in JobWorking state.
	Worker string

	// Created is when the job was created, in unix seconds.
	Created int64

	// StartTime is when the job lastly started, in unix seconds.
	StartTime int64

	// Duration is how long the last run took, in seconds.
	Duration int64
}

// copy returns a copy of the job, that is safe to modify.
func (j *Job) copy() *Job {
	c := *j
	c.Dependencies = append([]JobID(nil), j.Dependencies...)
	c.Children = append([]JobID(nil), j.Children...)
	return &c
}

// Deleted reports whether the job is a tombstone.
func (j *Job) Deleted() bool {
	return j.State == JobDeleted
}

// DependenciesString returns the job's dependencies as comma separated IDs.
func (j *Job) DependenciesString() string {
	return formatJobIDs(j.Dependencies)
}

// BranchStat counts states of a job's direct children.
type BranchStat struct {
	Total    int
	Finished int
	Errors   int
	Working  int
}

// Add counts a child job in the stat. Deleted children are not counted.
func (st *BranchStat) Add(s JobState) {
	switch s {
	case JobDeleted:
		return
	case JobFinished:
		st.Finished++
	case JobError:
		st.Errors++
	case JobWorking:
		st.Working++
	}
	st.Total++
}

// parseJobIDs parses IDs separated by commas and/or spaces.
// An empty string gives nil.
func parseJobIDs(s string) ([]JobID, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, nil
	}
	ids := make([]JobID, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, JobID(n))
	}
	return ids, nil
}

func formatJobIDs(ids []JobID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(int(id))
	}
	return strings.Join(strs, ",")
}
