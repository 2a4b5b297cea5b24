// Package adminpb implements the admin/introspection gRPC plane from
// SPEC_FULL.md §4.19: ListDaemons, ShutDownDaemon, Health, bound to a
// separate listen address and reachable only by operators, never tenant
// traffic. The wire contract is documented as a real .proto file
// (api/proto/admin.proto); this package hand-wires google.golang.org/grpc's
// low-level grpc.ServiceDesc API against that contract rather than
// protoc-generated stubs, since no protoc toolchain is available in this
// build environment. Messages are carried as
// google.golang.org/protobuf/types/known/structpb.Struct — a real,
// already-compiled protobuf message type — so the service still speaks
// genuine protobuf-encoded gRPC over the wire, just without
// codegen-specific field accessors.
package adminpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServer is the service interface Server implements.
type AdminServer interface {
	ListDaemons(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ShutDownDaemon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc is the grpc.ServiceDesc for AdminServer, mirroring
// api/proto/admin.proto's `service Admin`.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ayb.admin.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListDaemons", Handler: listDaemonsHandler},
		{MethodName: "ShutDownDaemon", Handler: shutDownDaemonHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin.proto",
}

func listDaemonsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(AdminServer).ListDaemons(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ayb.admin.Admin/ListDaemons"}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ListDaemons(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func shutDownDaemonHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(AdminServer).ShutDownDaemon(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ayb.admin.Admin/ShutDownDaemon"}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ShutDownDaemon(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(AdminServer).Health(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ayb.admin.Admin/Health"}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).Health(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}
