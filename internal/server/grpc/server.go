// Package grpcserver exposes the caregate.v1.Caregate gRPC API handlers.
package grpcserver

import (
	"context"

	"github.com/and161185/caregate/internal/convert"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/policy"
	"github.com/and161185/caregate/internal/rpc"
	"github.com/and161185/caregate/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	auth service.AuthService
	apps service.ApplicationService
}

var _ rpc.CaregateServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, apps service.ApplicationService) *Server {
	return &Server{auth: auth, apps: apps}
}

// --- Auth ---

// Register creates a new identity and returns its first session.
func (s *Server) Register(ctx context.Context, req *convert.RegisterRequest) (*convert.Session, error) {
	role, err := convert.ParseOptionalRole(req.Role)
	if err != nil {
		return nil, toStatus(err)
	}
	sess, err := s.auth.Register(ctx, service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Role:       role,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToSession(sess)
	return &out, nil
}

// Login authenticates with email and password.
func (s *Server) Login(ctx context.Context, req *convert.LoginRequest) (*convert.Session, error) {
	sess, err := s.auth.Login(ctx, req.Email, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToSession(sess)
	return &out, nil
}

// LoginGoogle authenticates with a Google ID token.
func (s *Server) LoginGoogle(ctx context.Context, req *convert.GoogleLoginRequest) (*convert.Session, error) {
	role, err := convert.ParseOptionalRole(req.Role)
	if err != nil {
		return nil, toStatus(err)
	}
	sess, err := s.auth.LoginFederated(ctx, req.IDToken, role)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToSession(sess)
	return &out, nil
}

func (s *Server) ChangePassword(ctx context.Context, req *convert.ChangePasswordRequest) (*convert.Empty, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.auth.ChangePassword(ctx, p.Claims.IdentityID, req.OldPassword, req.NewPassword); err != nil {
		return nil, toStatus(err)
	}
	return &convert.Empty{}, nil
}

// Me returns the caller's identity.
func (s *Server) Me(ctx context.Context, _ *convert.Empty) (*convert.Identity, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToIdentity(p.Identity)
	return &out, nil
}

// --- Applications ---

func (s *Server) SubmitStage(ctx context.Context, req *convert.StagePayload) (*convert.Application, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	payload, err := convert.FromStagePayload(*req)
	if err != nil {
		return nil, toStatus(err)
	}
	app, err := s.apps.SubmitApplicationStage(ctx, p, payload)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToApplication(app)
	return &out, nil
}

func (s *Server) MyApplication(ctx context.Context, _ *convert.Empty) (*convert.Application, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	app, err := s.apps.MyApplication(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToApplication(app)
	return &out, nil
}

func (s *Server) GetApplication(ctx context.Context, req *convert.IDRequest) (*convert.Application, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := convert.ParseID(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	app, err := s.apps.GetApplication(ctx, p, id)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToApplication(app)
	return &out, nil
}

func (s *Server) ApplicationEvents(ctx context.Context, req *convert.IDRequest) (*convert.Events, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := convert.ParseID(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	evs, err := s.apps.History(ctx, p, id)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToEvents(evs)
	return &out, nil
}

// --- Admin ---

func (s *Server) ListApplications(ctx context.Context, req *convert.ListApplicationsRequest) (*convert.Applications, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	f, err := convert.FromListRequest(*req)
	if err != nil {
		return nil, toStatus(err)
	}
	apps, err := s.apps.ListApplications(ctx, p, f)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToApplications(apps)
	return &out, nil
}

// ReviewApplication approves or rejects a pending stage.
// The admin check runs before the request is parsed.
func (s *Server) ReviewApplication(ctx context.Context, req *convert.ReviewRequest) (*convert.Application, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := gate.Require(&p, policy.AdminOnly); err != nil {
		return nil, toStatus(err)
	}
	id, err := convert.ParseID(req.ApplicationID)
	if err != nil {
		return nil, toStatus(err)
	}
	stage, action, err := convert.FromReview(*req)
	if err != nil {
		return nil, toStatus(err)
	}
	app, err := s.apps.ReviewApplication(ctx, p, id, stage, action, req.Reason)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToApplication(app)
	return &out, nil
}

func (s *Server) SetIdentityStatus(ctx context.Context, req *convert.SetStatusRequest) (*convert.Identity, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := convert.ParseID(req.IdentityID)
	if err != nil {
		return nil, toStatus(err)
	}
	st, err := convert.ParseStatus(req.Status)
	if err != nil {
		return nil, toStatus(err)
	}
	ident, err := s.auth.SetIdentityStatus(ctx, p, id, st)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToIdentity(ident)
	return &out, nil
}
