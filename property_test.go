package coalition

import (
	"errors"
	"reflect"
	"testing"
)

func TestUpdateJobs(t *testing.T) {
	f := newTestFarm(t)
	a := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "true"})
	b := mustCreateJob(t, f, JobFields{"title": "b", "cmd": "true"})
	cases := []struct {
		prop  string
		value string
		check func(j *Job) bool
	}{
		{"Affinity", "GPU", func(j *Job) bool { return j.Affinity == "GPU" }},
		{"Affinity", "", func(j *Job) bool { return j.Affinity == "" }},
		{"Title", "new title", func(j *Job) bool { return j.Title == "new title" }},
		{"Command", "echo new", func(j *Job) bool { return j.Command == "echo new" }},
		{"Dir", "/tmp", func(j *Job) bool { return j.Dir == "/tmp" }},
		{"Priority", "-10", func(j *Job) bool { return j.Priority == -10 }},
		{"RetryLimit", "3", func(j *Job) bool { return j.RetryLimit == 3 }},
		{"Timeout", "120", func(j *Job) bool { return j.Timeout == 120 }},
	}
	for _, c := range cases {
		n, err := f.UpdateJobs([]JobID{a, b, 404}, c.prop, c.value)
		if err != nil {
			t.Fatalf("%v=%q: %v", c.prop, c.value, err)
		}
		if n != 2 {
			t.Fatalf("%v=%q: got %v, want 2", c.prop, c.value, n)
		}
		for _, id := range []JobID{a, b} {
			if j := mustJob(t, f, id); !c.check(j) {
				t.Fatalf("%v=%q: unexpected job: %+v", c.prop, c.value, j)
			}
		}
	}
	_, err := f.UpdateJobs([]JobID{b}, "Dependencies", "1")
	if err != nil {
		t.Fatal(err)
	}
	if deps := mustJob(t, f, b).Dependencies; !reflect.DeepEqual(deps, []JobID{a}) {
		t.Fatalf("got %v, want %v", deps, []JobID{a})
	}
}

func TestUpdateJobsInvalid(t *testing.T) {
	f := newTestFarm(t)
	a := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "true"})
	cases := []struct {
		prop  string
		value string
		want  error
	}{
		{"State", "FINISHED", ErrUnknownProperty},
		{"Worker", "w", ErrUnknownProperty},
		{"RetryCount", "0", ErrUnknownProperty},
		{"affinity", "GPU", ErrUnknownProperty},
		{"Title", "", ErrInvalidValue},
		{"Command", "", ErrInvalidValue},
		{"Priority", "high", ErrInvalidValue},
		{"RetryLimit", "-1", ErrInvalidValue},
		{"Timeout", "-1", ErrInvalidValue},
		{"Dependencies", "1", ErrInvalidValue},
		{"Dependencies", "99", ErrInvalidValue},
		{"Dependencies", "x", ErrInvalidValue},
	}
	for _, c := range cases {
		_, err := f.UpdateJobs([]JobID{a}, c.prop, c.value)
		if !errors.Is(err, c.want) {
			t.Fatalf("%v=%q: got %v, want %v", c.prop, c.value, err, c.want)
		}
	}
	j := mustJob(t, f, a)
	if j.Title != "a" || j.Command != "true" || j.Priority != DefaultPriority {
		t.Fatalf("job should not be changed: %+v", j)
	}
}

func TestUpdateDeletedJob(t *testing.T) {
	f := newTestFarm(t)
	a := mustCreateJob(t, f, JobFields{"title": "a", "cmd": "true"})
	_, err := f.Delete([]JobID{a})
	if err != nil {
		t.Fatal(err)
	}
	n, err := f.UpdateJobs([]JobID{a}, "Title", "b")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %v, want 0", n)
	}
}

func TestPropertyNames(t *testing.T) {
	got := JobProperties()
	want := []string{"Affinity", "Command", "Dependencies", "Dir", "Priority", "RetryLimit", "Timeout", "Title"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := WorkerProperties(); !reflect.DeepEqual(got, []string{"Affinity"}) {
		t.Fatalf("got %v, want [Affinity]", got)
	}
}
