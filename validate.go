package coalition

import (
	"math"
	"strconv"
	"strings"
)

// Rejection is a reason why a job could not be created.
// Its numeric value is what clients see, so existing values should not be changed.
type Rejection int

const (
	MissingTitle      = Rejection(8)
	MissingCommand    = Rejection(9)
	EmptyTitle        = Rejection(10)
	EmptyCommand      = Rejection(11)
	NoParameters      = Rejection(12)
	InvalidBulkSize   = Rejection(13)
	InvalidNumber     = Rejection(14)
	UnknownParent     = Rejection(15)
	UnknownDependency = Rejection(16)
)

var rejectionText = map[Rejection]string{
	MissingTitle:      "missing title",
	MissingCommand:    "missing command",
	EmptyTitle:        "empty title",
	EmptyCommand:      "empty command",
	NoParameters:      "no parameters",
	InvalidBulkSize:   "invalid bulk size",
	InvalidNumber:     "invalid number",
	UnknownParent:     "unknown parent",
	UnknownDependency: "unknown dependency",
}

func (r Rejection) Error() string {
	s, ok := rejectionText[r]
	if !ok {
		return "rejected: " + strconv.Itoa(int(r))
	}
	return s
}

// Field names of JobFields. They are also the parameter names of the external APIs.
const (
	FieldParent         = "parent"
	FieldTitle          = "title"
	FieldCommand        = "cmd"
	FieldDir            = "dir"
	FieldPriority       = "priority"
	FieldRetry          = "retry"
	FieldTimeout        = "timeout"
	FieldAffinity       = "affinity"
	FieldDependencies   = "dependencies"
	FieldLocalProgress  = "localprogress"
	FieldGlobalProgress = "globalprogress"
)

var jobFieldKeys = []string{
	FieldParent,
	FieldTitle,
	FieldCommand,
	FieldDir,
	FieldPriority,
	FieldRetry,
	FieldTimeout,
	FieldAffinity,
	FieldDependencies,
	FieldLocalProgress,
	FieldGlobalProgress,
}

// JobFieldKeys returns all the keys JobFields could have.
func JobFieldKeys() []string {
	return append([]string(nil), jobFieldKeys...)
}

// JobFields are raw fields of a job to be created.
// An absent field differs from a field having an empty value.
type JobFields map[string]string

// Defaults of fields those are not supplied.
const (
	DefaultDir        = "."
	DefaultPriority   = 1000
	DefaultRetryLimit = 10
)

// MaxBulkSize is the most jobs a bulk creation could create at once.
const MaxBulkSize = 10000

// IndexToken in title or command of a bulk job is replaced with the job's index in the batch.
const IndexToken = "{index}"

// buildJob checks the fields and creates a waiting job from them.
// It doesn't check references to other jobs, nor allocates an ID.
//
// The checks run in a fixed order, and the first failure is returned.
// Clients rely on the order, so don't change it.
func buildJob(fields JobFields) (*Job, error) {
	n := 0
	for _, k := range jobFieldKeys {
		if _, ok := fields[k]; ok {
			n++
		}
	}
	if n == 0 {
		return nil, NoParameters
	}
	title, ok := fields[FieldTitle]
	if !ok {
		return nil, MissingTitle
	}
	cmd, ok := fields[FieldCommand]
	if !ok {
		return nil, MissingCommand
	}
	if title == "" {
		return nil, EmptyTitle
	}
	if cmd == "" {
		return nil, EmptyCommand
	}
	j := &Job{
		Title:          title,
		Command:        cmd,
		Dir:            DefaultDir,
		Priority:       DefaultPriority,
		RetryLimit:     DefaultRetryLimit,
		Affinity:       fields[FieldAffinity],
		LocalProgress:  fields[FieldLocalProgress],
		GlobalProgress: fields[FieldGlobalProgress],
		State:          JobWaiting,
	}
	if dir := fields[FieldDir]; dir != "" {
		j.Dir = dir
	}
	num := func(key string, dst *int, min int) error {
		v, ok := fields[key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < min {
			return InvalidNumber
		}
		*dst = n
		return nil
	}
	parent := 0
	if err := num(FieldParent, &parent, 0); err != nil {
		return nil, err
	}
	j.Parent = JobID(parent)
	if err := num(FieldPriority, &j.Priority, math.MinInt); err != nil {
		return nil, err
	}
	if err := num(FieldRetry, &j.RetryLimit, 0); err != nil {
		return nil, err
	}
	if err := num(FieldTimeout, &j.Timeout, 0); err != nil {
		return nil, err
	}
	deps, err := parseJobIDs(fields[FieldDependencies])
	if err != nil {
		return nil, UnknownDependency
	}
	j.Dependencies = deps
	return j, nil
}

// checkReferences checks the job's parent and dependencies exist in the farm.
// A deleted job cannot be a parent.
func checkReferences(tx *txn, j *Job) error {
	p := tx.job(j.Parent)
	if p == nil || p.Deleted() {
		return UnknownParent
	}
	for _, d := range j.Dependencies {
		if d == RootID || tx.job(d) == nil {
			return UnknownDependency
		}
	}
	return nil
}

// bulkJob returns a copy of the template job for the idx-th job of a batch.
func bulkJob(tmpl *Job, idx int) *Job {
	j := tmpl.copy()
	i := strconv.Itoa(idx)
	j.Title = strings.ReplaceAll(j.Title, IndexToken, i)
	j.Command = strings.ReplaceAll(j.Command, IndexToken, i)
	return j
}
