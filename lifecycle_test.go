package coalition

import (
	"testing"
)

// failAll runs and fails every job the worker could pick, until no job is left.
func failAll(t *testing.T, f *Farm, worker string) {
	t.Helper()
	for {
		j, err := f.PickJob(worker)
		if err != nil {
			t.Fatal(err)
		}
		if j == nil {
			return
		}
		err = f.EndJob(worker, j.ID, 1)
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestResetErrorChildren(t *testing.T) {
	f := newTestFarm(t)
	p := mustCreateJob(t, f, JobFields{"title": "parent", "cmd": "true"})
	_, err := f.Pause([]JobID{p})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := f.CreateJobs(JobFields{"title": "child {index}", "cmd": "false", "parent": "1", "retry": "10"}, 6)
	if err != nil {
		t.Fatal(err)
	}
	failAll(t, f, "w")
	for _, id := range ids {
		j := mustJob(t, f, id)
		if j.State != JobError || j.RetryCount != 10 {
			t.Fatalf("job %v: got (%v, %v), want (%v, 10)", id, j.State, j.RetryCount, JobError)
		}
	}
	n, err := f.Reset(ids)
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("got %v, want 6", n)
	}
	for _, id := range ids {
		j := mustJob(t, f, id)
		if j.State != JobWaiting || j.RetryCount != 0 {
			t.Fatalf("job %v: got (%v, %v), want (%v, 0)", id, j.State, j.RetryCount, JobWaiting)
		}
	}
}

func TestResetErrors(t *testing.T) {
	f := newTestFarm(t)
	a := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "false", "retry": "0", "priority": "1"})
	b := mustCreateJob(t, f, JobFields{"title": "b", "cmd": "true", "priority": "2"})
	j, _ := f.PickJob("w")
	if err := f.EndJob("w", j.ID, 1); err != nil {
		t.Fatal(err)
	}
	j, _ = f.PickJob("w")
	if err := f.EndJob("w", j.ID, 0); err != nil {
		t.Fatal(err)
	}
	n, err := f.ResetErrors([]JobID{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	if s := mustJob(t, f, a).State; s != JobWaiting {
		t.Fatalf("got %v, want %v", s, JobWaiting)
	}
	if s := mustJob(t, f, b).State; s != JobFinished {
		t.Fatalf("got %v, want %v", s, JobFinished)
	}
	// Retry brings finished jobs back too.
	n, err = f.Retry([]JobID{b})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	if s := mustJob(t, f, b).State; s != JobWaiting {
		t.Fatalf("got %v, want %v", s, JobWaiting)
	}
}

func TestPauseWorkingJob(t *testing.T) {
	f := newTestFarm(t)
	id := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "sleep 100"})
	j, err := f.PickJob("w")
	if err != nil {
		t.Fatal(err)
	}
	if j == nil {
		t.Fatal("should get a job")
	}
	got, err := f.Heartbeat("w")
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("heartbeat: got %v, want %v", got, id)
	}
	n, err := f.Pause([]JobID{id})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	got, err = f.Heartbeat("w")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("heartbeat after pause: got %v, want 0", got)
	}
	w, _ := f.Worker("w")
	if w.Status != WorkerIdle {
		t.Fatalf("got %v, want %v", w.Status, WorkerIdle)
	}
	checkAssignment(t, f)

	// paused job is not picked.
	j, err = f.PickJob("w")
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Fatalf("got job %v, want no job", j.ID)
	}
	n, err = f.Start([]JobID{id, id})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	j, err = f.PickJob("w")
	if err != nil {
		t.Fatal(err)
	}
	if j == nil || j.ID != id {
		t.Fatalf("got %v, want job %v", j, id)
	}
}

func TestStopJob(t *testing.T) {
	f := newTestFarm(t)
	id := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "sleep 100", "retry": "0"})
	_, err := f.PickJob("w")
	if err != nil {
		t.Fatal(err)
	}
	n, err := f.Stop([]JobID{id})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	j := mustJob(t, f, id)
	if j.State != JobWaiting || j.RetryCount != 0 {
		t.Fatalf("got (%v, %v), want (%v, 0)", j.State, j.RetryCount, JobWaiting)
	}
	w, _ := f.Worker("w")
	if w.Errors != 0 || w.Job != 0 {
		t.Fatalf("unexpected worker: %+v", w)
	}
	// Stop does nothing to a waiting job.
	n, err = f.Stop([]JobID{id})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %v, want 0", n)
	}
}

func TestDeleteJob(t *testing.T) {
	f := newTestFarm(t)
	p := mustCreateJob(t, f, JobFields{"title": "parent", "cmd": "true"})
	c := mustCreateJob(t, f, JobFields{"title": "child", "cmd": "true", "parent": "1", "priority": "1"})
	gc := mustCreateJob(t, f, JobFields{"title": "grandchild", "cmd": "true", "parent": "2", "priority": "0"})
	j, err := f.PickJob("w")
	if err != nil {
		t.Fatal(err)
	}
	if j.ID != gc {
		t.Fatalf("got %v, want %v", j.ID, gc)
	}

	n, err := f.Delete([]JobID{p, 404})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %v, want 1", n)
	}
	for _, id := range []JobID{p, c, gc} {
		if s := mustJob(t, f, id).State; s != JobDeleted {
			t.Fatalf("job %v: got %v, want %v", id, s, JobDeleted)
		}
	}
	checkAssignment(t, f)
	before := f.Jobs()

	// Following calls are no-ops.
	for _, op := range []func([]JobID) (int, error){f.Delete, f.Clear, f.Retry, f.Reset, f.Start, f.Pause} {
		n, err := op([]JobID{p, c, gc})
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("got %v, want 0", n)
		}
	}
	after := f.Jobs()
	if len(before) != len(after) {
		t.Fatalf("jobs changed: got %v, want %v", len(after), len(before))
	}
	for i := range before {
		if before[i].State != after[i].State {
			t.Fatalf("job %v: got %v, want %v", after[i].ID, after[i].State, before[i].State)
		}
	}
	// A deleted job cannot be a parent.
	_, err = f.CreateJob(JobFields{"title": "x", "cmd": "true", "parent": "1"})
	if err != UnknownParent {
		t.Fatalf("got %v, want %v", err, UnknownParent)
	}
}

func TestRootJobUnchangeable(t *testing.T) {
	f := newTestFarm(t)
	mustCreateJob(t, f, JobFields{"title": "a", "cmd": "true"})
	n, err := f.Delete([]JobID{RootID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %v, want 0", n)
	}
	if s := mustJob(t, f, 1).State; s != JobWaiting {
		t.Fatalf("got %v, want %v", s, JobWaiting)
	}
}
