package coalition

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	jobsTable    = "jobs"
	workersTable = "workers"

	idIndex     = "id"     // lookup by primary key
	stateIndex  = "state"  // lookup jobs or workers by their state
	orderIndex  = "order"  // iterate jobs of a state in dispatch order
	statusIndex = "status" // lookup workers by status
)

// farmSchema creates the database schema of a farm.
// It has "jobs" and "workers" tables. The root job is stored in the jobs table as well,
// but it has no state so it never appears in the state or order index.
func farmSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					stateIndex: {
						Name:         stateIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "State"},
					},
					orderIndex: {
						Name:         orderIndex,
						AllowMissing: true,
						Indexer:      dispatchOrderIndex{},
					},
				},
			},
			workersTable: {
				Name: workersTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					statusIndex: {
						Name:    statusIndex,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}

// dispatchOrderIndex indexes jobs by (State, Priority, ID).
// Its keys compare bytewise the same way as the tuple does,
// including negative priorities.
type dispatchOrderIndex struct{}

func (dispatchOrderIndex) FromObject(obj interface{}) (bool, []byte, error) {
	j, ok := obj.(*Job)
	if !ok {
		return false, nil, fmt.Errorf("unexpected object for order index: %T", obj)
	}
	if j.State == "" {
		return false, nil, nil
	}
	return true, orderKey(j.State, int64(j.Priority), int64(j.ID)), nil
}

func (dispatchOrderIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("order index needs state, priority and id: got %d args", len(args))
	}
	state, ok := args[0].(JobState)
	if !ok {
		return nil, fmt.Errorf("order index: state should be a JobState: %T", args[0])
	}
	pri, ok := args[1].(int)
	if !ok {
		return nil, fmt.Errorf("order index: priority should be an int: %T", args[1])
	}
	id, ok := args[2].(JobID)
	if !ok {
		return nil, fmt.Errorf("order index: id should be a JobID: %T", args[2])
	}
	return orderKey(state, int64(pri), int64(id)), nil
}

func orderKey(s JobState, pri, id int64) []byte {
	key := make([]byte, 0, len(s)+1+8+8)
	key = append(key, s...)
	key = append(key, 0)
	key = appendOrdered(key, pri)
	key = appendOrdered(key, id)
	return key
}

// appendOrdered appends n as 8 big endian bytes with the sign bit flipped,
// so smaller numbers are always come first.
func appendOrdered(b []byte, n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n)^(1<<63))
	return append(b, buf[:]...)
}

// txn is a farm transaction.
// In addition to memdb.Txn, it remembers jobs and workers put through it,
// so they could be handed to the services before the transaction commits.
type txn struct {
	*memdb.Txn

	newJobs   []*Job
	jobs      []*Job
	jobIdx    map[JobID]int
	workers   []*Worker
	workerIdx map[string]int
}

func newTxn(db *memdb.MemDB, write bool) *txn {
	return &txn{
		Txn:       db.Txn(write),
		jobIdx:    make(map[JobID]int),
		workerIdx: make(map[string]int),
	}
}

// job returns a job having the id. It returns nil when the job doesn't exist.
// The returned job must not be modified.
func (tx *txn) job(id JobID) *Job {
	obj, err := tx.First(jobsTable, idIndex, id)
	if err != nil {
		// only happens with a broken schema
		panic(err)
	}
	if obj == nil {
		return nil
	}
	return obj.(*Job)
}

// addJob inserts a new job.
func (tx *txn) addJob(j *Job) error {
	err := tx.Insert(jobsTable, j)
	if err != nil {
		return errors.WithStack(err)
	}
	tx.newJobs = append(tx.newJobs, j)
	return nil
}

// putJob puts back a modified copy of an existing job.
// The job must not be modified after that.
func (tx *txn) putJob(j *Job) error {
	err := tx.Insert(jobsTable, j)
	if err != nil {
		return errors.WithStack(err)
	}
	if i, ok := tx.jobIdx[j.ID]; ok {
		tx.jobs[i] = j
		return nil
	}
	for i, n := range tx.newJobs {
		if n.ID == j.ID {
			tx.newJobs[i] = j
			return nil
		}
	}
	tx.jobIdx[j.ID] = len(tx.jobs)
	tx.jobs = append(tx.jobs, j)
	return nil
}

// waitingJobs iterates WAITING jobs in dispatch order.
// It stops when fn returns false.
func (tx *txn) waitingJobs(fn func(j *Job) bool) {
	it, err := tx.LowerBound(jobsTable, orderIndex, JobWaiting, math.MinInt, JobID(0))
	if err != nil {
		panic(err)
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		j := obj.(*Job)
		if j.State != JobWaiting {
			// The index is sorted by state first.
			// So we've seen all waiting jobs when this comparison fails.
			return
		}
		if !fn(j) {
			return
		}
	}
}

// countJobs counts jobs in the state.
func (tx *txn) countJobs(s JobState) int {
	it, err := tx.Get(jobsTable, stateIndex, string(s))
	if err != nil {
		panic(err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}

// allJobs returns all jobs except the root, ordered by their ID.
func (tx *txn) allJobs() []*Job {
	it, err := tx.Get(jobsTable, idIndex)
	if err != nil {
		panic(err)
	}
	jobs := make([]*Job, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		j := obj.(*Job)
		if j.ID == RootID {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// parents returns the ancestors of a job, from the root to the job's parent.
func (tx *txn) parents(j *Job) []*Job {
	chain := make([]*Job, 0)
	for j.ID != RootID {
		p := tx.job(j.Parent)
		if p == nil {
			break
		}
		chain = append(chain, p)
		j = p
	}
	for i, k := 0, len(chain)-1; i < k; i, k = i+1, k-1 {
		chain[i], chain[k] = chain[k], chain[i]
	}
	return chain
}

// subtree returns the job and all of it's descendants, parents before children.
func (tx *txn) subtree(j *Job) []*Job {
	tree := []*Job{j}
	for i := 0; i < len(tree); i++ {
		for _, c := range tree[i].Children {
			cj := tx.job(c)
			if cj == nil {
				continue
			}
			tree = append(tree, cj)
		}
	}
	return tree
}

// worker returns a worker having the name. It returns nil when the worker doesn't exist.
// The returned worker must not be modified.
func (tx *txn) worker(name string) *Worker {
	obj, err := tx.First(workersTable, idIndex, name)
	if err != nil {
		panic(err)
	}
	if obj == nil {
		return nil
	}
	return obj.(*Worker)
}

// putWorker inserts or replaces a worker.
// The worker must not be modified after that.
func (tx *txn) putWorker(w *Worker) error {
	err := tx.Insert(workersTable, w)
	if err != nil {
		return errors.WithStack(err)
	}
	if i, ok := tx.workerIdx[w.Name]; ok {
		tx.workers[i] = w
		return nil
	}
	tx.workerIdx[w.Name] = len(tx.workers)
	tx.workers = append(tx.workers, w)
	return nil
}

// allWorkers returns all workers ordered by their name.
func (tx *txn) allWorkers() []*Worker {
	it, err := tx.Get(workersTable, idIndex)
	if err != nil {
		panic(err)
	}
	workers := make([]*Worker, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		workers = append(workers, obj.(*Worker))
	}
	return workers
}

// countWorkers counts workers in the status.
func (tx *txn) countWorkers(s WorkerStatus) int {
	it, err := tx.Get(workersTable, statusIndex, string(s))
	if err != nil {
		panic(err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
