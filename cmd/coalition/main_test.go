package main

import (
	"bytes"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagvfx/coalition"
	"github.com/imagvfx/coalition/api"
)

func newTestServer(t *testing.T) (*coalition.Farm, string) {
	t.Helper()
	f, err := coalition.NewFarm(nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(f))
	t.Cleanup(srv.Close)
	return f, srv.URL
}

// run runs the command line against the server, and returns what it printed.
func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--addr", addr}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestAddAndList(t *testing.T) {
	f, addr := newTestServer(t)

	out, err := run(t, addr, "add", "--title", "shot", "--cmd", "true")
	require.NoError(t, err)
	n, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err)
	parent := coalition.JobID(n)
	j, ok := f.Job(parent)
	require.True(t, ok)
	assert.Equal(t, "shot", j.Title)
	assert.Equal(t, coalition.DefaultPriority, j.Priority, "priority should be decided by the server")

	out, err = run(t, addr, "bulk", "-n", "3", "--parent", strconv.Itoa(n), "--title", "frame {index}", "--cmd", "render {index}")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	out, err = run(t, addr, "list", "--parent", strconv.Itoa(n))
	require.NoError(t, err)
	assert.Contains(t, out, "shot(")
	assert.Equal(t, 3, strings.Count(out, "frame "))
	assert.Contains(t, out, "WAITING")

	out, err = run(t, addr, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(0/3)")

	out, err = run(t, addr, "add")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(int(coalition.NoParameters)), strings.TrimSpace(out))

	_, err = run(t, addr, "bulk", "-n", "2", "--title", "x")
	assert.Error(t, err)
}

func TestJobOps(t *testing.T) {
	f, addr := newTestServer(t)
	id, err := f.CreateJob(coalition.JobFields{"title": "a", "cmd": "true"})
	require.NoError(t, err)
	sid := strconv.Itoa(int(id))

	_, err = run(t, addr, "pause", sid)
	require.NoError(t, err)
	j, _ := f.Job(id)
	assert.Equal(t, coalition.JobPaused, j.State)

	_, err = run(t, addr, "start", sid)
	require.NoError(t, err)
	j, _ = f.Job(id)
	assert.Equal(t, coalition.JobWaiting, j.State)

	_, err = run(t, addr, "update", "Priority", "5", sid)
	require.NoError(t, err)
	j, _ = f.Job(id)
	assert.Equal(t, 5, j.Priority)

	_, err = run(t, addr, "update", "NoSuchProp", "5", sid)
	assert.Error(t, err)

	_, err = run(t, addr, "delete", "x")
	assert.Error(t, err)

	_, err = run(t, addr, "delete", sid)
	require.NoError(t, err)
	j, _ = f.Job(id)
	assert.Equal(t, coalition.JobDeleted, j.State)
}

func TestWorkers(t *testing.T) {
	f, addr := newTestServer(t)

	out, err := run(t, addr, "workers")
	require.NoError(t, err)
	assert.Equal(t, "no worker to show\n", out)

	_, err = f.Heartbeat("w1")
	require.NoError(t, err)
	_, err = run(t, addr, "workers", "update", "Affinity", "GPU", "w1")
	require.NoError(t, err)
	_, err = run(t, addr, "workers", "stop", "w1")
	require.NoError(t, err)

	out, err = run(t, addr, "workers")
	require.NoError(t, err)
	assert.Contains(t, out, "w1")
	assert.Contains(t, out, "(stopped)")
	assert.Contains(t, out, "[GPU]")

	w, ok := f.Worker("w1")
	require.True(t, ok)
	assert.False(t, w.Enabled)
}
