// Package api serves a farm over http.
//
// Endpoints under /json are for users and their tools, and the ones under /workers are
// for remote workers. They all take parameters from either url query or form body.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/imagvfx/coalition"
)

// RequestIDHeader is the header each response carries to identify it's request in the log.
const RequestIDHeader = "X-Request-Id"

type apiHandler struct {
	farm *coalition.Farm
}

// NewRouter creates a router serving the farm.
// Callers could add more routes to it, the middlewares are applied to them as well.
func NewRouter(farm *coalition.Farm) *mux.Router {
	h := &apiHandler{farm: farm}
	r := mux.NewRouter()
	r.Use(recovery, accessLog)

	r.HandleFunc("/", handleRoot)
	r.HandleFunc("/json", methodNotAllowed)
	r.HandleFunc("/workers", methodNotAllowed)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Handle("/health", &healthHandler{checker: farm}).Methods("GET")

	jr := r.PathPrefix("/json").Subrouter()
	jr.HandleFunc("/addjob", h.handleAddJob).Methods("GET", "POST")
	jr.HandleFunc("/addjobbulknew", h.handleAddJobBulk).Methods("GET", "POST")
	jr.HandleFunc("/getjobs", h.handleGetJobs).Methods("GET", "POST")
	jr.HandleFunc("/getworkers", h.handleGetWorkers).Methods("GET", "POST")
	jr.HandleFunc("/updatejobs", h.handleUpdateJobs).Methods("GET", "POST")
	jr.HandleFunc("/updateworkers", h.handleUpdateWorkers).Methods("GET", "POST")
	for name, fn := range map[string]func([]coalition.JobID) (int, error){
		"retryjob":       farm.Retry,
		"deletejob":      farm.Delete,
		"resetjobs":      farm.Reset,
		"reseterrorjobs": farm.ResetErrors,
		"pausejobs":      farm.Pause,
		"startjobs":      farm.Start,
		"stopjobs":       farm.Stop,
		"clearjobs":      farm.Clear,
	} {
		jr.HandleFunc("/"+name, h.jobsHandler(fn)).Methods("GET", "POST")
	}
	jr.HandleFunc("/startworker", h.workersHandler(farm.StartWorkers)).Methods("GET", "POST")
	jr.HandleFunc("/stopworker", h.workersHandler(farm.StopWorkers)).Methods("GET", "POST")

	wr := r.PathPrefix("/workers").Subrouter()
	wr.HandleFunc("/heartbeat", h.handleHeartbeat).Methods("GET", "POST")
	wr.HandleFunc("/pickjob", h.handlePickJob).Methods("GET", "POST")
	wr.HandleFunc("/endjob", h.handleEndJob).Methods("GET", "POST")
	wr.HandleFunc("/setprogress", h.handleSetProgress).Methods("GET", "POST")
	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "coalition")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// apiError is an error response.
type apiError struct {
	Code  int `json:",omitempty"`
	Error string
}

func writeError(w http.ResponseWriter, status int, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Code: code, Error: err.Error()})
}

// writeFarmError writes an error from the farm.
// Errors caused by the request are 4xx, others are 500.
func writeFarmError(w http.ResponseWriter, r *http.Request, err error) {
	var rej coalition.Rejection
	switch {
	case errors.As(err, &rej):
		writeError(w, http.StatusBadRequest, int(rej), err)
	case errors.Is(err, coalition.ErrUnknownProperty), errors.Is(err, coalition.ErrInvalidValue),
		errors.Is(err, coalition.ErrNoWorkerName), errors.Is(err, coalition.ErrEmptyBatch):
		writeError(w, http.StatusBadRequest, 0, err)
	case errors.Is(err, coalition.ErrStaleReport):
		writeError(w, http.StatusConflict, 0, err)
	default:
		log.WithField("request_id", w.Header().Get(RequestIDHeader)).Errorf("%v %v: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, 0, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Print(err)
	}
}

// parseForm parses url query and form body of the request.
// It writes the error response, when it couldn't.
func parseForm(w http.ResponseWriter, r *http.Request) bool {
	err := r.ParseForm()
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, err)
		return false
	}
	return true
}

// formIDs returns job ids from the repeated id parameters.
// Each of them could also be a comma separated list.
func formIDs(r *http.Request) ([]coalition.JobID, error) {
	ids := make([]coalition.JobID, 0)
	for _, v := range formNames(r) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %q", v)
		}
		ids = append(ids, coalition.JobID(n))
	}
	return ids, nil
}

// formNames returns the values of repeated id parameters.
func formNames(r *http.Request) []string {
	names := make([]string, 0)
	for _, v := range r.Form["id"] {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			names = append(names, s)
		}
	}
	return names
}

type healthHandler struct {
	checker coalition.Checker
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.checker.Check()
	if err != nil {
		log.Warnf("health check failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusRecorder remembers the status code written to the response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog gives the request an id and logs it when it is served.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"took":       time.Since(start),
		}).Debug("served")
	})
}

// recovery keeps a panic in a handler from killing the server.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.WithField("request_id", w.Header().Get(RequestIDHeader)).Errorf("panic serving %v: %v", r.URL.Path, p)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
