package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ReferralGateServiceName = "referral.v1.ReferralGate"

	RegisterMethod = "/" + ReferralGateServiceName + "/Register"
	ClaimMethod    = "/" + ReferralGateServiceName + "/Claim"
	StatusMethod   = "/" + ReferralGateServiceName + "/Status"
)

// ReferralGateServer is the server API for the referral.v1.ReferralGate
// service. Messages are google.protobuf.Struct documents.
type ReferralGateServer interface {
	Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Claim(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterReferralGateServer attaches srv to s.
func RegisterReferralGateServer(s grpc.ServiceRegistrar, srv ReferralGateServer) {
	s.RegisterService(&ReferralGateServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(ReferralGateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReferralGateServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ReferralGateServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ReferralGateServiceDesc = grpc.ServiceDesc{
	ServiceName: ReferralGateServiceName,
	HandlerType: (*ReferralGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Register",
			Handler:    unaryHandler(RegisterMethod, ReferralGateServer.Register),
		},
		{
			MethodName: "Claim",
			Handler:    unaryHandler(ClaimMethod, ReferralGateServer.Claim),
		},
		{
			MethodName: "Status",
			Handler:    unaryHandler(StatusMethod, ReferralGateServer.Status),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "referral/v1/referral_gate.proto",
}
