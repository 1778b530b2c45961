package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/imagvfx/coalition"
)

var workerVars = []string{
	"Name",
	"Affinity",
	"Status",
	"Job",
	"Enabled",
	"LastSeen",
	"Finished",
	"Errors",
}

type workersResponse struct {
	Vars    []string
	Workers [][]interface{}
}

func (h *apiHandler) handleGetWorkers(w http.ResponseWriter, r *http.Request) {
	ws := h.farm.Workers()
	resp := workersResponse{
		Vars:    workerVars,
		Workers: make([][]interface{}, 0, len(ws)),
	}
	for _, wk := range ws {
		resp.Workers = append(resp.Workers, []interface{}{
			wk.Name,
			wk.Affinity,
			wk.Status,
			wk.Job,
			wk.Enabled,
			wk.LastSeen,
			wk.Finished,
			wk.Errors,
		})
	}
	writeJSON(w, resp)
}

// handleUpdateWorkers sets a property of the workers. Workers are identified by their name.
func (h *apiHandler) handleUpdateWorkers(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	_, err := h.farm.UpdateWorkers(formNames(r), r.Form.Get("prop"), r.Form.Get("value"))
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	io.WriteString(w, "1")
}

// workersHandler returns a handler applying fn to the workers.
func (h *apiHandler) workersHandler(fn func([]string) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r) {
			return
		}
		_, err := fn(formNames(r))
		if err != nil {
			writeFarmError(w, r, err)
			return
		}
		io.WriteString(w, "1")
	}
}

type heartbeatResponse struct {
	Job coalition.JobID
}

// handleHeartbeat tells the worker which job it should be working on.
// The worker should abort it's current job when it is not the one.
// Affinity of the worker is updated when the parameter is given.
func (h *apiHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	name := r.Form.Get("name")
	id, err := h.farm.Heartbeat(name)
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	if aff, ok := r.Form["affinity"]; ok && len(aff) != 0 {
		_, err := h.farm.UpdateWorkers([]string{name}, "Affinity", aff[0])
		if err != nil {
			writeFarmError(w, r, err)
			return
		}
	}
	writeJSON(w, heartbeatResponse{Job: id})
}

// handlePickJob writes a job for the worker, or null when there is nothing to do.
func (h *apiHandler) handlePickJob(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	j, err := h.farm.PickJob(r.Form.Get("name"))
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	writeJSON(w, j)
}

func (h *apiHandler) handleEndJob(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	id, err := strconv.Atoi(r.Form.Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, err)
		return
	}
	code, err := strconv.Atoi(r.Form.Get("code"))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, err)
		return
	}
	err = h.farm.EndJob(r.Form.Get("name"), coalition.JobID(id), code)
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	io.WriteString(w, "1")
}

func (h *apiHandler) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	id, err := strconv.Atoi(r.Form.Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, err)
		return
	}
	err = h.farm.SetProgress(r.Form.Get("name"), coalition.JobID(id), r.Form.Get("local"), r.Form.Get("global"))
	if err != nil {
		writeFarmError(w, r, err)
		return
	}
	io.WriteString(w, "1")
}
