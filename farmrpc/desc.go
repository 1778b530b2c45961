// Package farmrpc lets remote workers talk to a farm over grpc.
//
// Messages are protobuf Structs, so the service doesn't need generated code.
// Both the server and the client of this package agree on the field names.
package farmrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "coalition.Farm"

// Method names of the service.
const (
	MethodHeartbeat   = "Heartbeat"
	MethodPickJob     = "PickJob"
	MethodEndJob      = "EndJob"
	MethodSetProgress = "SetProgress"
)

// Field names of the messages.
const (
	fieldName     = "name"
	fieldAffinity = "affinity"
	fieldJob      = "job"
	fieldID       = "id"
	fieldCode     = "code"
	fieldLocal    = "local"
	fieldGlobal   = "global"
	fieldTitle    = "title"
	fieldCommand  = "command"
	fieldDir      = "dir"
	fieldTimeout  = "timeout"
)

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// FarmServer is the server API of coalition.Farm service.
type FarmServer interface {
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PickJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EndJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterFarmServer registers srv to s.
func RegisterFarmServer(s grpc.ServiceRegistrar, srv FarmServer) {
	s.RegisterService(&farmServiceDesc, srv)
}

var farmServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FarmServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodHeartbeat, Handler: unaryHandler(MethodHeartbeat, FarmServer.Heartbeat)},
		{MethodName: MethodPickJob, Handler: unaryHandler(MethodPickJob, FarmServer.PickJob)},
		{MethodName: MethodEndJob, Handler: unaryHandler(MethodEndJob, FarmServer.EndJob)},
		{MethodName: MethodSetProgress, Handler: unaryHandler(MethodSetProgress, FarmServer.SetProgress)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coalition/farm",
}

type unaryMethod func(FarmServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler makes a grpc method handler from a FarmServer method.
func unaryHandler(method string, call unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FarmServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(FarmServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
