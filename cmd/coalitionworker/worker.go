package main

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/imagvfx/coalition"
	"github.com/imagvfx/coalition/farmrpc"
)

// progressLine is an output line of a command reporting it's progress.
// The second value, global progress, is optional.
//
//	PROGRESS: 50% 10%
var progressLine = regexp.MustCompile(`^PROGRESS:\s*(\S+)(?:\s+(\S+))?\s*$`)

// worker picks jobs from a farm and runs them one by one.
type worker struct {
	name     string
	affinity string
	client   *farmrpc.Client

	// heartbeat is the interval to tell the farm the worker is alive.
	heartbeat time.Duration
	// poll is the interval to ask a job when the farm has nothing to do.
	poll time.Duration
	// attempts is number of tries of a call to the farm, when the farm is unreachable.
	attempts uint

	log *log.Entry
}

// retriable reports whether the call would succeed when it is tried again later.
func retriable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// retry calls fn until it succeeds, or it fails with an error that will not go away.
func (w *worker) retry(ctx context.Context, what string, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(w.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retriable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warnf("%v: attempt %v: %v", what, n+1, err)
		}),
	)
}

// run works until ctx is done. It only returns an error when it couldn't reach the farm at start.
func (w *worker) run(ctx context.Context) error {
	err := w.retry(ctx, "handshake", func() error {
		_, err := w.client.Heartbeat(ctx, w.name, w.affinity)
		return err
	})
	if err != nil {
		return err
	}
	w.log.Info("joined the farm")
	for {
		a, err := w.client.PickJob(ctx, w.name)
		if err != nil && ctx.Err() == nil {
			w.log.Errorf("pick job: %v", err)
		}
		if a == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.poll):
			}
			continue
		}
		w.work(ctx, a)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// work runs the job and reports the result to the farm.
// The job is aborted when the farm takes it back.
func (w *worker) work(ctx context.Context, a *farmrpc.Assignment) {
	l := w.log.WithFields(log.Fields{"job": a.ID, "title": a.Title})
	l.Info("start")

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(a.Timeout)*time.Second)
		defer cancel()
	}
	var takenBack int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if w.watch(runCtx, a.ID) {
			atomic.StoreInt32(&takenBack, 1)
			abort()
		}
	}()
	code := w.exec(runCtx, a, l)
	abort()
	wg.Wait()

	if atomic.LoadInt32(&takenBack) == 1 {
		l.Info("aborted, the farm took the job back")
		return
	}
	if ctx.Err() != nil {
		// The farm will put the job back to the queue, when it lost the worker.
		l.Info("interrupted")
		return
	}
	if runCtx.Err() == context.DeadlineExceeded {
		l.Warnf("timed out after %vs", a.Timeout)
	}
	err := w.retry(ctx, "end job", func() error {
		return w.client.EndJob(ctx, w.name, a.ID, code)
	})
	if status.Code(err) == codes.FailedPrecondition {
		l.Info("the farm doesn't expect the job anymore")
		return
	}
	if err != nil {
		l.Errorf("end job: %v", err)
		return
	}
	l.WithField("code", code).Info("end")
}

// watch sends heartbeats until ctx is done.
// It returns true when the farm expects another job from the worker than the running one.
func (w *worker) watch(ctx context.Context, id coalition.JobID) bool {
	tick := time.NewTicker(w.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
		expected, err := w.client.Heartbeat(ctx, w.name, "")
		if err != nil {
			if ctx.Err() == nil {
				w.log.Errorf("heartbeat: %v", err)
			}
			continue
		}
		if expected != id {
			return true
		}
	}
}

// exec runs the command of the job in a shell, and returns it's exit code.
// Output of the command is logged, and progress lines are sent to the farm.
func (w *worker) exec(ctx context.Context, a *farmrpc.Assignment, l *log.Entry) int {
	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = a.Dir
	out, err := cmd.StdoutPipe()
	if err != nil {
		l.Errorf("exec: %v", err)
		return -1
	}
	cmd.Stderr = cmd.Stdout
	err = cmd.Start()
	if err != nil {
		l.Errorf("exec: %v", err)
		return -1
	}
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		line := sc.Text()
		l.Debug(line)
		m := progressLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		err := w.client.SetProgress(ctx, w.name, a.ID, m[1], m[2])
		if err != nil && ctx.Err() == nil {
			l.Errorf("set progress: %v", err)
		}
	}
	err = cmd.Wait()
	if err == nil {
		return 0
	}
	if exit, ok := err.(*exec.ExitError); ok && exit.ExitCode() > 0 {
		return exit.ExitCode()
	}
	l.Errorf("exec: %v", err)
	return -1
}
