package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/imagvfx/coalition"
)

// jobFields gathers job fields from the request.
// Only the parameters present in the request are set.
func jobFields(r *http.Request) coalition.JobFields {
	fields := make(coalition.JobFields)
	for _, k := range coalition.JobFieldKeys() {
		vs, ok := r.Form[k]
		if !ok || len(vs) == 0 {
			continue
		}
		fields[k] = vs[0]
	}
	return fields
}

// handleAddJob creates a job. It writes the new job's id,
// or the rejection code when the parameters are not valid.
func (h *apiHandler) handleAddJob(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	id, err := h.farm.CreateJob(jobFields(r))
	if err != nil {
		var rej coalition.Rejection
		if errors.As(err, &rej) {
			io.WriteString(w, strconv.Itoa(int(rej)))
			return
		}
		writeFarmError(w, r, err)
		return
	}
	io.WriteString(w, strconv.Itoa(int(id)))
}

// handleAddJobBulk creates bulkSize sibling jobs at once. It writes ids of the new jobs.
// It writes False when it couldn't create the jobs, except bulkSize is not a number
// or is bigger than coalition.MaxBulkSize.
func (h *apiHandler) handleAddJobBulk(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	size := r.Form.Get("bulkSize")
	if size == "" {
		io.WriteString(w, "False")
		return
	}
	n, err := strconv.Atoi(size)
	if err != nil {
		writeError(w, http.StatusBadRequest, int(coalition.InvalidBulkSize), coalition.InvalidBulkSize)
		return
	}
	if n <= 0 {
		io.WriteString(w, "False")
		return
	}
	if n > coalition.MaxBulkSize {
		err := errors.Wrapf(coalition.InvalidBulkSize, "bulkSize should not exceed %v", coalition.MaxBulkSize)
		writeError(w, http.StatusBadRequest, int(coalition.InvalidBulkSize), err)
		return
	}
	ids, err := h.farm.CreateJobs(jobFields(r), n)
	if err != nil {
		var rej coalition.Rejection
		if errors.As(err, &rej) {
			io.WriteString(w, "False")
			return
		}
		writeFarmError(w, r, err)
		return
	}
	writeJSON(w, ids)
}

// jobVars are names of the values in a row of getjobs.
var jobVars = []string{
	"ID",
	"Title",
	"Command",
	"Dir",
	"State",
	"Worker",
	"Priority",
	"Affinity",
	"RetryCount",
	"RetryLimit",
	"Timeout",
	"Dependencies",
	"LocalProgress",
	"GlobalProgress",
	"Parent",
	"Total",
	"Finished",
	"Errors",
	"Working",
	"StartTime",
	"Duration",
}

func jobRow(e *coalition.JobEntry) []interface{} {
	j := e.Job
	var state interface{}
	if j.State != "" {
		state = j.State
	}
	return []interface{}{
		j.ID,
		j.Title,
		j.Command,
		j.Dir,
		state,
		j.Worker,
		j.Priority,
		j.Affinity,
		j.RetryCount,
		j.RetryLimit,
		j.Timeout,
		j.DependenciesString(),
		j.LocalProgress,
		j.GlobalProgress,
		j.Parent,
		e.Stat.Total,
		e.Stat.Finished,
		e.Stat.Errors,
		e.Stat.Working,
		j.StartTime,
		j.Duration,
	}
}

type parentEntry struct {
	ID    coalition.JobID
	Title string
}

type jobsResponse struct {
	Vars    []string
	Jobs    [][]interface{}
	Parents []parentEntry
}

// handleGetJobs lists children of a job.
// An id that is not a job lists children of the root.
func (h *apiHandler) handleGetJobs(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	id, err := strconv.Atoi(r.Form.Get("id"))
	if err != nil {
		id = int(coalition.RootID)
	}
	l := h.farm.ListJobs(coalition.JobID(id), coalition.JobState(r.Form.Get("filter")))
	resp := jobsResponse{
		Vars:    jobVars,
		Jobs:    make([][]interface{}, 0, len(l.Children)),
		Parents: make([]parentEntry, 0, len(l.Parents)),
	}
	for _, c := range l.Children {
		resp.Jobs = append(resp.Jobs, jobRow(c))
	}
	for _, p := range l.Parents {
		resp.Parents = append(resp.Parents, parentEntry{ID: p.ID, Title: p.Title})
	}
	writeJSON(w, resp)
}

// handleUpdateJobs sets a property of the jobs.
func (h *apiHandler) handleUpdateJobs(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	ids, err := formIDs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, err)
		return
	}
	_, err = h.farm.UpdateJobs(ids, r.Form.Get("prop"), r.Form.Get("value"))
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	io.WriteString(w, "1")
}

// jobsHandler returns a handler applying fn to the jobs.
func (h *apiHandler) jobsHandler(fn func([]coalition.JobID) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r) {
			return
		}
		ids, err := formIDs(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, 0, err)
			return
		}
		_, err = fn(ids)
		if err != nil {
			writeFarmError(w, r, err)
			return
		}
		io.WriteString(w, "1")
	}
}
