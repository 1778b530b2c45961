package coalition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "coalition_"

var (
	jobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_created_total",
		Help: "Number of jobs created.",
	})
	jobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_dispatched_total",
		Help: "Number of jobs assigned to workers.",
	})
	jobsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_ended_total",
		Help: "Number of jobs ended by workers, by the state they went to.",
	}, []string{"state"})
	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "job_transitions_total",
		Help: "Number of jobs changed by user operations.",
	}, []string{"operation"})
	staleReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "stale_reports_total",
		Help: "Number of reports from workers those are not working on the job anymore.",
	})
	jobsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "jobs",
		Help: "Number of jobs by state.",
	}, []string{"state"})
	workersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "workers",
		Help: "Number of workers by status.",
	}, []string{"status"})
)

// observe refreshes gauges from a snapshot of the farm.
func (f *Farm) observe() {
	f.view(func(tx *txn) {
		for _, s := range []JobState{JobWaiting, JobWorking, JobPaused, JobFinished, JobError, JobDeleted} {
			jobsByState.WithLabelValues(string(s)).Set(float64(tx.countJobs(s)))
		}
		for _, s := range []WorkerStatus{WorkerIdle, WorkerBusy, WorkerOffline} {
			workersByStatus.WithLabelValues(string(s)).Set(float64(tx.countWorkers(s)))
		}
	})
}

// Checker is a service those could tell it's health.
type Checker interface {
	Check() error
}

// Check checks the farm is healthy.
// A farm in memory is always healthy, but a farm persisting it's records is not when
// it cannot reach the database.
func (f *Farm) Check() error {
	if c, ok := f.farmService.(Checker); ok {
		return c.Check()
	}
	return nil
}
