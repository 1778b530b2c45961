package farmrpc

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/imagvfx/coalition"
)

// Server serves a farm to workers.
type Server struct {
	farm *coalition.Farm
}

// NewServer creates a new Server.
func NewServer(f *coalition.Farm) *Server {
	return &Server{farm: f}
}

// NewGRPCServer creates a grpc server which serves the farm.
func NewGRPCServer(f *coalition.Farm, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnaryInterceptor(logInterceptor))
	s := grpc.NewServer(opts...)
	RegisterFarmServer(s, NewServer(f))
	return s
}

func logInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	l := log.WithFields(log.Fields{
		"request_id": xid.New().String(),
		"method":     info.FullMethod,
		"took":       time.Since(start),
	})
	if err != nil {
		l.WithField("code", status.Code(err)).Debug(err)
	} else {
		l.Debug("served")
	}
	return resp, err
}

// rpcError converts an error from the farm to a grpc status error.
func rpcError(err error) error {
	switch {
	case errors.Is(err, coalition.ErrStaleReport):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, coalition.ErrNoWorkerName):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	log.Errorf("farmrpc: %v", err)
	return status.Error(codes.Internal, "internal error")
}

func stringField(in *structpb.Struct, key string) (string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "missing field: %v", key)
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%v should be a string", key)
	}
	return s.StringValue, nil
}

func intField(in *structpb.Struct, key string) (int, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field: %v", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "%v should be an integer", key)
	}
	return int(n.NumberValue), nil
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("build response: %v", err))
	}
	return s, nil
}

// Heartbeat tells the worker which job it should be working on.
// The affinity of the worker is set, if given.
func (s *Server) Heartbeat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(in, fieldName)
	if err != nil {
		return nil, err
	}
	id, err := s.farm.Heartbeat(name)
	if err != nil {
		return nil, rpcError(err)
	}
	if _, ok := in.GetFields()[fieldAffinity]; ok {
		aff, err := stringField(in, fieldAffinity)
		if err != nil {
			return nil, err
		}
		_, err = s.farm.UpdateWorkers([]string{name}, "Affinity", aff)
		if err != nil {
			return nil, rpcError(err)
		}
	}
	return newStruct(map[string]interface{}{fieldJob: int(id)})
}

// PickJob gives a job to the worker. The response doesn't have the job field,
// when there is nothing to do.
func (s *Server) PickJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(in, fieldName)
	if err != nil {
		return nil, err
	}
	j, err := s.farm.PickJob(name)
	if err != nil {
		return nil, rpcError(err)
	}
	if j == nil {
		return newStruct(map[string]interface{}{})
	}
	return newStruct(map[string]interface{}{
		fieldJob: map[string]interface{}{
			fieldID:       int(j.ID),
			fieldTitle:    j.Title,
			fieldCommand:  j.Command,
			fieldDir:      j.Dir,
			fieldTimeout:  j.Timeout,
			fieldAffinity: j.Affinity,
		},
	})
}

func (s *Server) EndJob(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(in, fieldName)
	if err != nil {
		return nil, err
	}
	id, err := intField(in, fieldID)
	if err != nil {
		return nil, err
	}
	code, err := intField(in, fieldCode)
	if err != nil {
		return nil, err
	}
	err = s.farm.EndJob(name, coalition.JobID(id), code)
	if err != nil {
		return nil, rpcError(err)
	}
	return &structpb.Struct{}, nil
}

func (s *Server) SetProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := stringField(in, fieldName)
	if err != nil {
		return nil, err
	}
	id, err := intField(in, fieldID)
	if err != nil {
		return nil, err
	}
	local, err := stringField(in, fieldLocal)
	if err != nil {
		return nil, err
	}
	global, err := stringField(in, fieldGlobal)
	if err != nil {
		return nil, err
	}
	err = s.farm.SetProgress(name, coalition.JobID(id), local, global)
	if err != nil {
		return nil, rpcError(err)
	}
	return &structpb.Struct{}, nil
}
