package coalition

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// jobProperty sets a property of a job, which is a modifiable copy.
type jobProperty func(tx *txn, j *Job, value string) error

// jobProperties are properties of jobs those users can change.
var jobProperties = map[string]jobProperty{
	"Title": func(tx *txn, j *Job, v string) error {
		if v == "" {
			return errors.Wrap(ErrInvalidValue, "empty title")
		}
		j.Title = v
		return nil
	},
	"Command": func(tx *txn, j *Job, v string) error {
		if v == "" {
			return errors.Wrap(ErrInvalidValue, "empty command")
		}
		j.Command = v
		return nil
	},
	"Dir": func(tx *txn, j *Job, v string) error {
		if v == "" {
			v = DefaultDir
		}
		j.Dir = v
		return nil
	},
	"Priority": func(tx *txn, j *Job, v string) error {
		n, err := atoi(v, false)
		if err != nil {
			return err
		}
		j.Priority = n
		return nil
	},
	"RetryLimit": func(tx *txn, j *Job, v string) error {
		n, err := atoi(v, true)
		if err != nil {
			return err
		}
		j.RetryLimit = n
		return nil
	},
	"Timeout": func(tx *txn, j *Job, v string) error {
		n, err := atoi(v, true)
		if err != nil {
			return err
		}
		j.Timeout = n
		return nil
	},
	"Affinity": func(tx *txn, j *Job, v string) error {
		j.Affinity = v
		return nil
	},
	"Dependencies": func(tx *txn, j *Job, v string) error {
		deps, err := parseJobIDs(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidValue, "dependencies: %v", err)
		}
		for _, d := range deps {
			if d == j.ID || d == RootID || tx.job(d) == nil {
				return errors.Wrapf(ErrInvalidValue, "dependency %v", d)
			}
		}
		j.Dependencies = deps
		return nil
	},
}

// workerProperty sets a property of a worker, which is a modifiable copy.
type workerProperty func(w *Worker, value string) error

// workerProperties are properties of workers those users can change.
var workerProperties = map[string]workerProperty{
	"Affinity": func(w *Worker, v string) error {
		w.Affinity = v
		return nil
	},
}

func atoi(v string, nonNegative bool) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidValue, "not a number: %q", v)
	}
	if nonNegative && n < 0 {
		return 0, errors.Wrapf(ErrInvalidValue, "negative number: %v", n)
	}
	return n, nil
}

// JobProperties returns names of job properties those could be updated.
func JobProperties() []string {
	names := make([]string, 0, len(jobProperties))
	for k := range jobProperties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WorkerProperties returns names of worker properties those could be updated.
func WorkerProperties() []string {
	names := make([]string, 0, len(workerProperties))
	for k := range workerProperties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UpdateJobs sets a property of the jobs. Unknown and deleted jobs are skipped.
// It returns ErrUnknownProperty when the property cannot be updated,
// or ErrInvalidValue when the value is not valid for the property.
// In either case, no job is changed.
func (f *Farm) UpdateJobs(ids []JobID, prop, value string) (int, error) {
	set, ok := jobProperties[prop]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownProperty, "job property %q", prop)
	}
	n := 0
	err := f.update(func(tx *txn) error {
		for _, id := range ids {
			j := tx.job(id)
			if j == nil || j.ID == RootID || j.Deleted() {
				continue
			}
			j = j.copy()
			err := set(tx, j, value)
			if err != nil {
				return err
			}
			err = tx.putJob(j)
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpdateWorkers sets a property of the workers. Unknown workers are skipped.
// It returns ErrUnknownProperty when the property cannot be updated.
func (f *Farm) UpdateWorkers(names []string, prop, value string) (int, error) {
	set, ok := workerProperties[prop]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownProperty, "worker property %q", prop)
	}
	n := 0
	err := f.update(func(tx *txn) error {
		for _, name := range names {
			w := tx.worker(name)
			if w == nil {
				continue
			}
			w = w.copy()
			err := set(w, value)
			if err != nil {
				return err
			}
			err = tx.putWorker(w)
			if err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
