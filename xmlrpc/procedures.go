package xmlrpc

import (
	"strconv"

	"github.com/imagvfx/coalition"
)

type procedure func(params []interface{}) (interface{}, error)

func procedures(f *coalition.Farm) map[string]procedure {
	procs := map[string]procedure{
		"addjob":      addJob(f),
		"heartbeat":   heartbeat(f),
		"pickjob":     pickJob(f),
		"endjob":      endJob(f),
		"setprogress": setProgress(f),
	}
	for name, fn := range map[string]func([]coalition.JobID) (int, error){
		"resetjobs":      f.Reset,
		"reseterrorjobs": f.ResetErrors,
		"pausejobs":      f.Pause,
		"startjobs":      f.Start,
		"stopjobs":       f.Stop,
		"clearjobs":      f.Clear,
		"deletejob":      f.Delete,
		"retryjob":       f.Retry,
	} {
		procs[name] = batch(fn)
	}
	return procs
}

func checkParams(params []interface{}, min, max int) error {
	if len(params) < min || len(params) > max {
		if min == max {
			return faultf(FaultInvalidParams, "want %d params, got %d", min, len(params))
		}
		return faultf(FaultInvalidParams, "want %d to %d params, got %d", min, max, len(params))
	}
	return nil
}

func stringParam(params []interface{}, i int) (string, error) {
	s, ok := params[i].(string)
	if !ok {
		return "", faultf(FaultInvalidParams, "param %d should be a string, got %T", i, params[i])
	}
	return s, nil
}

// intParam returns the i-th param as an int. A string holding an integer is also accepted.
func intParam(params []interface{}, i int) (int, error) {
	switch v := params[i].(type) {
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n, nil
		}
	}
	return 0, faultf(FaultInvalidParams, "param %d should be an int, got %v", i, params[i])
}

// addJob creates a job from the struct and returns it's id.
func addJob(f *coalition.Farm) procedure {
	return func(params []interface{}) (interface{}, error) {
		err := checkParams(params, 1, 1)
		if err != nil {
			return nil, err
		}
		st, ok := params[0].(map[string]interface{})
		if !ok {
			return nil, faultf(FaultInvalidParams, "param 0 should be a struct, got %T", params[0])
		}
		fields := make(coalition.JobFields)
		for _, k := range coalition.JobFieldKeys() {
			v, ok := st[k]
			if !ok {
				continue
			}
			switch v := v.(type) {
			case string:
				fields[k] = v
			case int:
				fields[k] = strconv.Itoa(v)
			case []interface{}:
				// dependencies
				s := ""
				for i, d := range v {
					if i != 0 {
						s += ","
					}
					n, ok := d.(int)
					if !ok {
						return nil, faultf(FaultInvalidParams, "%v should have ints, got %T", k, d)
					}
					s += strconv.Itoa(n)
				}
				fields[k] = s
			default:
				return nil, faultf(FaultInvalidParams, "%v has unsupported type %T", k, v)
			}
		}
		id, err := f.CreateJob(fields)
		if err != nil {
			return nil, err
		}
		return id, nil
	}
}

// heartbeat returns the id of the job the worker should be working on.
// The affinity of the worker is set, if given.
func heartbeat(f *coalition.Farm) procedure {
	return func(params []interface{}) (interface{}, error) {
		err := checkParams(params, 1, 2)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		id, err := f.Heartbeat(name)
		if err != nil {
			return nil, err
		}
		if len(params) == 2 {
			aff, err := stringParam(params, 1)
			if err != nil {
				return nil, err
			}
			_, err = f.UpdateWorkers([]string{name}, "Affinity", aff)
			if err != nil {
				return nil, err
			}
		}
		return id, nil
	}
}

// pickJob returns a job for the worker, or an empty struct when there is nothing to do.
func pickJob(f *coalition.Farm) procedure {
	return func(params []interface{}) (interface{}, error) {
		err := checkParams(params, 1, 1)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		j, err := f.PickJob(name)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return map[string]interface{}{}, nil
		}
		return map[string]interface{}{
			"ID":       j.ID,
			"Parent":   j.Parent,
			"Title":    j.Title,
			"Command":  j.Command,
			"Dir":      j.Dir,
			"Timeout":  j.Timeout,
			"Affinity": j.Affinity,
		}, nil
	}
}

func endJob(f *coalition.Farm) procedure {
	return func(params []interface{}) (interface{}, error) {
		err := checkParams(params, 3, 3)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		id, err := intParam(params, 1)
		if err != nil {
			return nil, err
		}
		code, err := intParam(params, 2)
		if err != nil {
			return nil, err
		}
		err = f.EndJob(name, coalition.JobID(id), code)
		if err != nil {
			return nil, err
		}
		return true, nil
	}
}

func setProgress(f *coalition.Farm) procedure {
	return func(params []interface{}) (interface{}, error) {
		err := checkParams(params, 4, 4)
		if err != nil {
			return nil, err
		}
		name, err := stringParam(params, 0)
		if err != nil {
			return nil, err
		}
		id, err := intParam(params, 1)
		if err != nil {
			return nil, err
		}
		local, err := stringParam(params, 2)
		if err != nil {
			return nil, err
		}
		global, err := stringParam(params, 3)
		if err != nil {
			return nil, err
		}
		err = f.SetProgress(name, coalition.JobID(id), local, global)
		if err != nil {
			return nil, err
		}
		return true, nil
	}
}

// batch returns a procedure applying fn to the jobs.
// It takes an array of ids, or ids as separate params. It returns the number of jobs changed.
func batch(fn func([]coalition.JobID) (int, error)) procedure {
	return func(params []interface{}) (interface{}, error) {
		if len(params) == 1 {
			if arr, ok := params[0].([]interface{}); ok {
				params = arr
			}
		}
		ids := make([]coalition.JobID, 0, len(params))
		for i := range params {
			id, err := intParam(params, i)
			if err != nil {
				return nil, err
			}
			ids = append(ids, coalition.JobID(id))
		}
		n, err := fn(ids)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}
