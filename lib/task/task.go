// Package task runs functions periodically in background.
package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type task struct {
	name     string
	fn       func()
	interval time.Duration
	latency  prometheus.Histogram
	stop     chan struct{}
}

// BackgroundTaskManager runs registered tasks until they are stopped.
// It is not threadsafe, it should only be accessed from a single goroutine.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	reg           prometheus.Registerer
	wg            *sync.WaitGroup
}

// NewBackgroundTaskManager creates a new BackgroundTaskManager.
// Latency histograms of the tasks are registered to reg, prefixed with metricsPrefix.
// Nil reg doesn't register them.
func NewBackgroundTaskManager(metricsPrefix string, reg prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		reg:           reg,
		wg:            &sync.WaitGroup{},
	}
}

// Register runs fn right away, then every interval after the previous run ends.
func (m *BackgroundTaskManager) Register(fn func(), interval time.Duration, name string) error {
	t := &task{
		name:     name,
		fn:       fn,
		interval: interval,
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    m.metricsPrefix + name + "_latency_seconds",
			Help:    "Background loop " + name + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		stop: make(chan struct{}),
	}
	if m.reg != nil {
		err := m.reg.Register(t.latency)
		if err != nil {
			return err
		}
	}
	m.start(t)
	m.tasks = append(m.tasks, t)
	return nil
}

// StopAll stops all the tasks and waits them to return.
// It reports whether it has timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	for _, t := range m.tasks {
		close(t.stop)
	}
	m.tasks = nil
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false
	case <-time.After(timeout):
		log.Warnf("background tasks didn't stop in %v", timeout)
		return true
	}
}

func (m *BackgroundTaskManager) start(t *task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		run(t)
		for {
			select {
			case <-time.After(t.interval):
			case <-t.stop:
				return
			}
			run(t)
		}
	}()
}

func run(t *task) {
	start := time.Now()
	t.fn()
	t.latency.Observe(time.Since(start).Seconds())
}
