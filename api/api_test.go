package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagvfx/coalition"
)

func newTestServer(t *testing.T) (*coalition.Farm, *httptest.Server) {
	t.Helper()
	f, err := coalition.NewFarm(nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(f))
	t.Cleanup(srv.Close)
	return f, srv
}

func get(t *testing.T, srv *httptest.Server, path string, params url.Values) (int, string) {
	t.Helper()
	u := srv.URL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func post(t *testing.T, srv *httptest.Server, path string, params url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, params)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRoot(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	for _, p := range []string{"/json", "/workers"} {
		status, _ := get(t, srv, p, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, status, p)
	}
	status, _ := get(t, srv, "/json/getworkers", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = get(t, srv, "/health", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body := get(t, srv, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "coalition_jobs_created_total")
}

func TestAddJob(t *testing.T) {
	_, srv := newTestServer(t)
	cases := []struct {
		params url.Values
		want   string
	}{
		{url.Values{}, "12"},
		{url.Values{"cmd": {"echo"}}, "8"},
		{url.Values{"title": {"a"}}, "9"},
		{url.Values{"title": {""}, "cmd": {"echo"}}, "10"},
		{url.Values{"title": {"a"}, "cmd": {""}}, "11"},
		{url.Values{"title": {"a"}, "cmd": {"echo"}, "parent": {"42"}}, "15"},
		{url.Values{"title": {"a"}, "cmd": {"echo"}, "priority": {"high"}}, "14"},
		{url.Values{"title": {"Ping"}, "cmd": {"echo"}}, "1"},
	}
	for _, c := range cases {
		status, body := get(t, srv, "/json/addjob", c.params)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, c.want, body, c.params.Encode())
	}
	status, body := post(t, srv, "/json/addjob", url.Values{
		"parent":         {"0"},
		"title":          {"Posted"},
		"cmd":            {"echo posted"},
		"dir":            {"."},
		"priority":       {"1000"},
		"retry":          {"1"},
		"timeout":        {"0"},
		"affinity":       {""},
		"dependencies":   {""},
		"localprogress":  {""},
		"globalprogress": {""},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2", body)
}

func TestAddJobBulk(t *testing.T) {
	f, srv := newTestServer(t)
	cases := []struct {
		label  string
		params url.Values
	}{
		{"missing title", url.Values{"cmd": {"echo hello"}, "bulkSize": {"3"}}},
		{"missing cmd", url.Values{"title": {"BulkJob"}, "bulkSize": {"3"}}},
		{"missing bulkSize", url.Values{"title": {"BulkJob"}, "cmd": {"echo hello"}}},
		{"bulkSize zero", url.Values{"title": {"BulkJob"}, "cmd": {"echo hello"}, "bulkSize": {"0"}}},
		{"bulkSize negative", url.Values{"title": {"BulkJob"}, "cmd": {"echo hello"}, "bulkSize": {"-1"}}},
		{"no parameters", url.Values{}},
	}
	for _, c := range cases {
		status, body := get(t, srv, "/json/addjobbulknew", c.params)
		assert.Equal(t, http.StatusOK, status, c.label)
		assert.Equal(t, "False", body, c.label)
	}
	assert.Empty(t, f.Jobs())

	status, body := get(t, srv, "/json/addjobbulknew", url.Values{"title": {"BulkJob"}, "cmd": {"echo hello"}, "bulkSize": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, status)
	e := apiError{}
	require.NoError(t, json.Unmarshal([]byte(body), &e))
	assert.Equal(t, int(coalition.InvalidBulkSize), e.Code)

	for _, size := range []string{strconv.Itoa(coalition.MaxBulkSize + 1), "9223372036854775807", "99999999999999999999"} {
		status, body := get(t, srv, "/json/addjobbulknew", url.Values{"title": {"BulkJob"}, "cmd": {"echo hello"}, "bulkSize": {size}})
		assert.Equal(t, http.StatusBadRequest, status, size)
		e := apiError{}
		require.NoError(t, json.Unmarshal([]byte(body), &e), size)
		assert.Equal(t, int(coalition.InvalidBulkSize), e.Code, size)
	}
	assert.Empty(t, f.Jobs())

	status, body = post(t, srv, "/json/addjobbulknew", url.Values{"title": {"frame {index}"}, "cmd": {"render {index}"}, "bulkSize": {"3"}})
	assert.Equal(t, http.StatusOK, status)
	ids := []int{}
	require.NoError(t, json.Unmarshal([]byte(body), &ids))
	assert.Equal(t, []int{1, 2, 3}, ids)
	j, ok := f.Job(3)
	require.True(t, ok)
	assert.Equal(t, "frame 2", j.Title)
}

type getJobsResponse struct {
	Vars    []string
	Jobs    [][]interface{}
	Parents []struct {
		ID    int
		Title string
	}
}

func getJobs(t *testing.T, srv *httptest.Server, params url.Values) getJobsResponse {
	t.Helper()
	status, body := get(t, srv, "/json/getjobs", params)
	require.Equal(t, http.StatusOK, status)
	resp := getJobsResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func column(t *testing.T, resp getJobsResponse, name string) []interface{} {
	t.Helper()
	idx := -1
	for i, v := range resp.Vars {
		if v == name {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "no var named %v", name)
	col := make([]interface{}, 0, len(resp.Jobs))
	for _, row := range resp.Jobs {
		require.Len(t, row, len(resp.Vars))
		col = append(col, row[idx])
	}
	return col
}

func TestGetJobs(t *testing.T) {
	f, srv := newTestServer(t)
	parent, err := f.CreateJob(coalition.JobFields{"title": "shot", "cmd": "true"})
	require.NoError(t, err)
	_, err = f.CreateJobs(coalition.JobFields{"title": "frame", "cmd": "true", "parent": "1"}, 2)
	require.NoError(t, err)
	other, err := f.CreateJob(coalition.JobFields{"title": "other", "cmd": "true"})
	require.NoError(t, err)
	_, err = f.Pause([]coalition.JobID{other})
	require.NoError(t, err)

	resp := getJobs(t, srv, url.Values{"id": {"0"}})
	require.Len(t, resp.Parents, 1)
	assert.Equal(t, 0, resp.Parents[0].ID)
	assert.Equal(t, "Root", resp.Parents[0].Title)
	assert.Equal(t, []interface{}{float64(parent), float64(other)}, column(t, resp, "ID"))
	assert.Equal(t, []interface{}{"WAITING", "PAUSED"}, column(t, resp, "State"))
	assert.Equal(t, []interface{}{float64(2), float64(0)}, column(t, resp, "Total"))

	resp = getJobs(t, srv, url.Values{"id": {"0"}, "filter": {"PAUSED"}})
	assert.Equal(t, []interface{}{float64(other)}, column(t, resp, "ID"))
	resp = getJobs(t, srv, url.Values{"id": {"0"}, "filter": {"paused"}})
	assert.Empty(t, resp.Jobs)

	resp = getJobs(t, srv, url.Values{"id": {"1"}})
	require.Len(t, resp.Parents, 2)
	assert.Equal(t, 1, resp.Parents[1].ID)
	assert.Equal(t, []interface{}{"frame", "frame"}, column(t, resp, "Title"))

	for _, id := range []string{"9999", "abc", ""} {
		resp = getJobs(t, srv, url.Values{"id": {id}})
		require.Len(t, resp.Parents, 1, id)
		assert.Equal(t, 0, resp.Parents[0].ID, id)
	}
}

func TestJobOperations(t *testing.T) {
	f, srv := newTestServer(t)
	ids, err := f.CreateJobs(coalition.JobFields{"title": "a", "cmd": "true"}, 4)
	require.NoError(t, err)

	state := func(id coalition.JobID) coalition.JobState {
		j, ok := f.Job(id)
		require.True(t, ok)
		return j.State
	}
	status, body := get(t, srv, "/json/pausejobs", url.Values{"id": {"1", "2"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)
	assert.Equal(t, coalition.JobPaused, state(ids[0]))
	assert.Equal(t, coalition.JobPaused, state(ids[1]))

	_, body = post(t, srv, "/json/startjobs", url.Values{"id": {"1,2"}})
	assert.Equal(t, "1", body)
	assert.Equal(t, coalition.JobWaiting, state(ids[0]))

	for _, ep := range []string{"deletejob", "deletejob", "retryjob", "resetjobs", "reseterrorjobs", "stopjobs"} {
		status, body := get(t, srv, "/json/"+ep, url.Values{"id": {"3", "9999"}})
		assert.Equal(t, http.StatusOK, status, ep)
		assert.Equal(t, "1", body, ep)
	}
	assert.Equal(t, coalition.JobDeleted, state(ids[2]))

	_, body = get(t, srv, "/json/clearjobs", url.Values{"id": {"1", "2", "4"}})
	assert.Equal(t, "1", body)
	resp := getJobs(t, srv, url.Values{"id": {"0"}})
	assert.Empty(t, resp.Jobs)

	status, _ = get(t, srv, "/json/pausejobs", url.Values{"id": {"x"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateJobs(t *testing.T) {
	f, srv := newTestServer(t)
	id, err := f.CreateJob(coalition.JobFields{"title": "a", "cmd": "true", "affinity": "GPU"})
	require.NoError(t, err)

	_, body := get(t, srv, "/json/updatejobs", url.Values{"id": {"1"}, "prop": {"Affinity"}, "value": {""}})
	assert.Equal(t, "1", body)
	j, _ := f.Job(id)
	assert.Equal(t, "", j.Affinity)

	_, body = get(t, srv, "/json/updatejobs", url.Values{"id": {"1"}, "prop": {"Priority"}, "value": {"5"}})
	assert.Equal(t, "1", body)
	j, _ = f.Job(id)
	assert.Equal(t, 5, j.Priority)

	status, _ := get(t, srv, "/json/updatejobs", url.Values{"id": {"1"}, "prop": {"State"}, "value": {"FINISHED"}})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = get(t, srv, "/json/updatejobs", url.Values{"id": {"1"}, "prop": {"RetryLimit"}, "value": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestWorkerEndpoints(t *testing.T) {
	f, srv := newTestServer(t)
	id, err := f.CreateJob(coalition.JobFields{"title": "a", "cmd": "echo a", "affinity": "GPU", "retry": "0"})
	require.NoError(t, err)

	status, body := get(t, srv, "/workers/heartbeat", url.Values{"name": {"w1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"Job":0}`, body)
	status, _ = get(t, srv, "/workers/heartbeat", url.Values{"name": {""}})
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = get(t, srv, "/workers/pickjob", url.Values{"name": {"w1"}})
	assert.Equal(t, "null", strings.TrimSpace(body))

	_, body = get(t, srv, "/json/updateworkers", url.Values{"id": {"w1"}, "prop": {"Affinity"}, "value": {"GPU"}})
	assert.Equal(t, "1", body)
	_, body = get(t, srv, "/workers/pickjob", url.Values{"name": {"w1"}})
	j := coalition.Job{}
	require.NoError(t, json.Unmarshal([]byte(body), &j))
	assert.Equal(t, id, j.ID)
	assert.Equal(t, "w1", j.Worker)

	_, body = post(t, srv, "/workers/heartbeat", url.Values{"name": {"w1"}})
	assert.JSONEq(t, `{"Job":1}`, body)

	_, body = post(t, srv, "/workers/setprogress", url.Values{"name": {"w1"}, "id": {"1"}, "local": {"0.5"}, "global": {"0.1"}})
	assert.Equal(t, "1", body)
	status, _ = post(t, srv, "/workers/setprogress", url.Values{"name": {"w2"}, "id": {"1"}, "local": {"0.5"}})
	assert.Equal(t, http.StatusConflict, status)

	status, body = post(t, srv, "/workers/endjob", url.Values{"name": {"w1"}, "id": {"1"}, "code": {"1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body)
	j2, _ := f.Job(id)
	assert.Equal(t, coalition.JobError, j2.State)
	status, _ = post(t, srv, "/workers/endjob", url.Values{"name": {"w1"}, "id": {"1"}, "code": {"0"}})
	assert.Equal(t, http.StatusConflict, status)

	_, body = get(t, srv, "/json/stopworker", url.Values{"id": {"w1"}})
	assert.Equal(t, "1", body)
	_, body = get(t, srv, "/json/stopworker", url.Values{"id": {"w1"}})
	assert.Equal(t, "1", body)

	status, body = get(t, srv, "/json/getworkers", nil)
	assert.Equal(t, http.StatusOK, status)
	resp := struct {
		Vars    []string
		Workers [][]interface{}
	}{}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, workerVars, resp.Vars)
	require.Len(t, resp.Workers, 1)
	assert.Equal(t, []interface{}{"w1", "GPU", "IDLE", float64(0), false}, resp.Workers[0][:5])
	assert.Equal(t, float64(1), resp.Workers[0][7])

	_, body = get(t, srv, "/workers/heartbeat", url.Values{"name": {"w3"}, "affinity": {"CPU"}})
	assert.JSONEq(t, `{"Job":0}`, body)
	w3, ok := f.Worker("w3")
	require.True(t, ok)
	assert.Equal(t, "CPU", w3.Affinity)
}
