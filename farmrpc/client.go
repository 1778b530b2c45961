package farmrpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/imagvfx/coalition"
)

// Assignment is a job given to a worker.
type Assignment struct {
	ID       coalition.JobID
	Title    string
	Command  string
	Dir      string
	Timeout  int
	Affinity string
}

// Client calls a farm on behalf of a worker.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a new Client.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp := &structpb.Struct{}
	err = c.cc.Invoke(ctx, fullMethod(method), req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Heartbeat tells the farm the worker is alive, and returns the job the worker should be working on.
// Empty affinity keeps the worker's affinity as is.
func (c *Client) Heartbeat(ctx context.Context, name, affinity string) (coalition.JobID, error) {
	in := map[string]interface{}{fieldName: name}
	if affinity != "" {
		in[fieldAffinity] = affinity
	}
	resp, err := c.call(ctx, MethodHeartbeat, in)
	if err != nil {
		return 0, err
	}
	id, err := intField(resp, fieldJob)
	if err != nil {
		return 0, err
	}
	return coalition.JobID(id), nil
}

// PickJob asks a job to the farm. It returns nil when there is nothing to do.
func (c *Client) PickJob(ctx context.Context, name string) (*Assignment, error) {
	resp, err := c.call(ctx, MethodPickJob, map[string]interface{}{fieldName: name})
	if err != nil {
		return nil, err
	}
	v, ok := resp.GetFields()[fieldJob]
	if !ok {
		return nil, nil
	}
	js := v.GetStructValue()
	if js == nil {
		return nil, errors.New("job should be a struct")
	}
	a := &Assignment{}
	id, err := intField(js, fieldID)
	if err != nil {
		return nil, err
	}
	a.ID = coalition.JobID(id)
	a.Timeout, err = intField(js, fieldTimeout)
	if err != nil {
		return nil, err
	}
	for key, dst := range map[string]*string{
		fieldTitle:    &a.Title,
		fieldCommand:  &a.Command,
		fieldDir:      &a.Dir,
		fieldAffinity: &a.Affinity,
	} {
		*dst, err = stringField(js, key)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// EndJob reports the job has ended with the exit code.
func (c *Client) EndJob(ctx context.Context, name string, id coalition.JobID, code int) error {
	_, err := c.call(ctx, MethodEndJob, map[string]interface{}{
		fieldName: name,
		fieldID:   int(id),
		fieldCode: code,
	})
	return err
}

// SetProgress reports progress of the job.
func (c *Client) SetProgress(ctx context.Context, name string, id coalition.JobID, local, global string) error {
	_, err := c.call(ctx, MethodSetProgress, map[string]interface{}{
		fieldName:   name,
		fieldID:     int(id),
		fieldLocal:  local,
		fieldGlobal: global,
	})
	return err
}
