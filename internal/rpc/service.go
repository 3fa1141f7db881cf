package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/caregate/internal/convert"
)

const ServiceName = "caregate.v1.Caregate"

// Method names.
const (
	MethodRegister          = "Register"
	MethodLogin             = "Login"
	MethodLoginGoogle       = "LoginGoogle"
	MethodChangePassword    = "ChangePassword"
	MethodMe                = "Me"
	MethodSubmitStage       = "SubmitStage"
	MethodMyApplication     = "MyApplication"
	MethodGetApplication    = "GetApplication"
	MethodApplicationEvents = "ApplicationEvents"
	MethodListApplications  = "ListApplications"
	MethodReviewApplication = "ReviewApplication"
	MethodSetIdentityStatus = "SetIdentityStatus"
)

// FullMethod returns "/caregate.v1.Caregate/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// PublicMethods need no bearer token.
var PublicMethods = map[string]bool{
	FullMethod(MethodRegister):    true,
	FullMethod(MethodLogin):       true,
	FullMethod(MethodLoginGoogle): true,
}

// CaregateServer is implemented by the gRPC transport.
type CaregateServer interface {
	Register(context.Context, *convert.RegisterRequest) (*convert.Session, error)
	Login(context.Context, *convert.LoginRequest) (*convert.Session, error)
	LoginGoogle(context.Context, *convert.GoogleLoginRequest) (*convert.Session, error)
	ChangePassword(context.Context, *convert.ChangePasswordRequest) (*convert.Empty, error)
	Me(context.Context, *convert.Empty) (*convert.Identity, error)
	SubmitStage(context.Context, *convert.StagePayload) (*convert.Application, error)
	MyApplication(context.Context, *convert.Empty) (*convert.Application, error)
	GetApplication(context.Context, *convert.IDRequest) (*convert.Application, error)
	ApplicationEvents(context.Context, *convert.IDRequest) (*convert.Events, error)
	ListApplications(context.Context, *convert.ListApplicationsRequest) (*convert.Applications, error)
	ReviewApplication(context.Context, *convert.ReviewRequest) (*convert.Application, error)
	SetIdentityStatus(context.Context, *convert.SetStatusRequest) (*convert.Identity, error)
}

// unary builds a method descriptor that decodes Req and dispatches to call
// through the server's interceptor chain.
func unary[Req, Resp any](name string, call func(CaregateServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CaregateServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CaregateServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes caregate.v1.Caregate for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CaregateServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegister, CaregateServer.Register),
		unary(MethodLogin, CaregateServer.Login),
		unary(MethodLoginGoogle, CaregateServer.LoginGoogle),
		unary(MethodChangePassword, CaregateServer.ChangePassword),
		unary(MethodMe, CaregateServer.Me),
		unary(MethodSubmitStage, CaregateServer.SubmitStage),
		unary(MethodMyApplication, CaregateServer.MyApplication),
		unary(MethodGetApplication, CaregateServer.GetApplication),
		unary(MethodApplicationEvents, CaregateServer.ApplicationEvents),
		unary(MethodListApplications, CaregateServer.ListApplications),
		unary(MethodReviewApplication, CaregateServer.ReviewApplication),
		unary(MethodSetIdentityStatus, CaregateServer.SetIdentityStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "caregate/v1/caregate.json",
}

// RegisterCaregateServer registers srv on s.
func RegisterCaregateServer(s grpc.ServiceRegistrar, srv CaregateServer) {
	s.RegisterService(&ServiceDesc, srv)
}
