package main

import (
	"context"
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/imagvfx/coalition"
	"github.com/imagvfx/coalition/farmrpc"
)

// startWorker runs a worker for a new farm until the test ends.
func startWorker(t *testing.T) *coalition.Farm {
	t.Helper()
	f, err := coalition.NewFarm(nil, nil)
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	s := farmrpc.NewGRPCServer(f)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	w := &worker{
		name:      "w1",
		client:    farmrpc.NewClient(conn),
		heartbeat: 20 * time.Millisecond,
		poll:      10 * time.Millisecond,
		attempts:  3,
		log:       log.WithField("worker", "w1"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func jobEnded(f *coalition.Farm, id coalition.JobID) func() bool {
	return func() bool {
		j, _ := f.Job(id)
		return j.State == coalition.JobFinished || j.State == coalition.JobError
	}
}

func TestWorkerRunsJobs(t *testing.T) {
	f := startWorker(t)
	dir := t.TempDir()

	ok, err := f.CreateJob(coalition.JobFields{"title": "ok", "cmd": "echo PROGRESS: 50% 10%; pwd", "dir": dir})
	require.NoError(t, err)
	fail, err := f.CreateJob(coalition.JobFields{"title": "fail", "cmd": "exit 3", "retry": "0"})
	require.NoError(t, err)

	require.Eventually(t, jobEnded(f, ok), 5*time.Second, 10*time.Millisecond)
	j, _ := f.Job(ok)
	assert.Equal(t, coalition.JobFinished, j.State)
	assert.Equal(t, "50%", j.LocalProgress)
	assert.Equal(t, "10%", j.GlobalProgress)

	require.Eventually(t, jobEnded(f, fail), 5*time.Second, 10*time.Millisecond)
	j, _ = f.Job(fail)
	assert.Equal(t, coalition.JobError, j.State)

	w, _ := f.Worker("w1")
	assert.Equal(t, 1, w.Finished)
	assert.Equal(t, 1, w.Errors)
}

func TestWorkerAbortsTakenBackJob(t *testing.T) {
	f := startWorker(t)

	long, err := f.CreateJob(coalition.JobFields{"title": "long", "cmd": "exec sleep 30", "priority": "1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := f.Job(long)
		return j.State == coalition.JobWorking
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.Pause([]coalition.JobID{long})
	require.NoError(t, err)
	next, err := f.CreateJob(coalition.JobFields{"title": "next", "cmd": "true"})
	require.NoError(t, err)

	require.Eventually(t, jobEnded(f, next), 5*time.Second, 10*time.Millisecond, "worker should give up the paused job")
	j, _ := f.Job(long)
	assert.Equal(t, coalition.JobPaused, j.State)
}

func TestWorkerTimeout(t *testing.T) {
	f := startWorker(t)

	id, err := f.CreateJob(coalition.JobFields{"title": "slow", "cmd": "exec sleep 30", "timeout": "1", "retry": "0"})
	require.NoError(t, err)
	require.Eventually(t, jobEnded(f, id), 5*time.Second, 10*time.Millisecond)
	j, _ := f.Job(id)
	assert.Equal(t, coalition.JobError, j.State)
}
