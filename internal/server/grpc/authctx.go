package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/model"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (model.Principal, error)
}

// AuthUnary authenticates every method not listed in public and stores the
// principal in the handler context.
func AuthUnary(a Authenticator, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if public[info.FullMethod] {
			return next(ctx, req)
		}
		raw, ok := bearerTokenFromMD(ctx)
		if !ok {
			return nil, toStatus(errs.ErrUnauthenticated)
		}
		p, err := a.Authenticate(ctx, raw)
		if err != nil {
			return nil, toStatus(err)
		}
		return next(gate.WithPrincipal(ctx, p), req)
	}
}

// principal returns the authenticated caller.
func principal(ctx context.Context) (model.Principal, error) {
	p, ok := gate.PrincipalFrom(ctx)
	if !ok {
		return model.Principal{}, errs.ErrUnauthenticated
	}
	return *p, nil
}

func bearerTokenFromMD(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get("authorization") {
		if tok, ok := gate.Bearer(strings.TrimSpace(v)); ok {
			return tok, true
		}
	}
	return "", false
}
