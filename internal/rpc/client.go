package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/caregate/internal/convert"
)

// Client is a typed caregate.v1.Caregate client using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *convert.RegisterRequest, opts ...grpc.CallOption) (*convert.Session, error) {
	return invoke[convert.Session](ctx, c, MethodRegister, in, opts)
}

func (c *Client) Login(ctx context.Context, in *convert.LoginRequest, opts ...grpc.CallOption) (*convert.Session, error) {
	return invoke[convert.Session](ctx, c, MethodLogin, in, opts)
}

func (c *Client) LoginGoogle(ctx context.Context, in *convert.GoogleLoginRequest, opts ...grpc.CallOption) (*convert.Session, error) {
	return invoke[convert.Session](ctx, c, MethodLoginGoogle, in, opts)
}

func (c *Client) ChangePassword(ctx context.Context, in *convert.ChangePasswordRequest, opts ...grpc.CallOption) error {
	_, err := invoke[convert.Empty](ctx, c, MethodChangePassword, in, opts)
	return err
}

func (c *Client) Me(ctx context.Context, opts ...grpc.CallOption) (*convert.Identity, error) {
	return invoke[convert.Identity](ctx, c, MethodMe, &convert.Empty{}, opts)
}

func (c *Client) SubmitStage(ctx context.Context, in *convert.StagePayload, opts ...grpc.CallOption) (*convert.Application, error) {
	return invoke[convert.Application](ctx, c, MethodSubmitStage, in, opts)
}

func (c *Client) MyApplication(ctx context.Context, opts ...grpc.CallOption) (*convert.Application, error) {
	return invoke[convert.Application](ctx, c, MethodMyApplication, &convert.Empty{}, opts)
}

func (c *Client) GetApplication(ctx context.Context, id string, opts ...grpc.CallOption) (*convert.Application, error) {
	return invoke[convert.Application](ctx, c, MethodGetApplication, &convert.IDRequest{ID: id}, opts)
}

func (c *Client) ApplicationEvents(ctx context.Context, id string, opts ...grpc.CallOption) (*convert.Events, error) {
	return invoke[convert.Events](ctx, c, MethodApplicationEvents, &convert.IDRequest{ID: id}, opts)
}

func (c *Client) ListApplications(ctx context.Context, in *convert.ListApplicationsRequest, opts ...grpc.CallOption) (*convert.Applications, error) {
	return invoke[convert.Applications](ctx, c, MethodListApplications, in, opts)
}

func (c *Client) ReviewApplication(ctx context.Context, in *convert.ReviewRequest, opts ...grpc.CallOption) (*convert.Application, error) {
	return invoke[convert.Application](ctx, c, MethodReviewApplication, in, opts)
}

func (c *Client) SetIdentityStatus(ctx context.Context, in *convert.SetStatusRequest, opts ...grpc.CallOption) (*convert.Identity, error) {
	return invoke[convert.Identity](ctx, c, MethodSetIdentityStatus, in, opts)
}
