// Package gate turns a bearer token into a verified Principal and checks
// role requirements. It holds no state of its own.
package gate

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/policy"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(raw string) (model.Claims, error)
}

// IdentityGetter loads identities by id.
type IdentityGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error)
}

// Gate authenticates requests.
type Gate struct {
	tokens     TokenVerifier
	identities IdentityGetter
	rec        metrics.Recorder
	log        *zap.Logger
}

// New constructs a Gate. A nil recorder or logger is replaced by a no-op.
func New(tokens TokenVerifier, identities IdentityGetter, rec metrics.Recorder, log *zap.Logger) *Gate {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{tokens: tokens, identities: identities, rec: rec, log: log}
}

// Authenticate verifies raw and loads the identity it names. Blocked or
// unknown identities and tokens whose role no longer matches are rejected.
func (g *Gate) Authenticate(ctx context.Context, raw string) (model.Principal, error) {
	claims, err := g.tokens.Verify(raw)
	if err != nil {
		g.rec.RecordTokenRejected()
		return model.Principal{}, errs.ErrUnauthenticated
	}
	id, err := g.identities.GetByID(ctx, claims.IdentityID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		g.log.Info("token for unknown identity", zap.String("identity_id", claims.IdentityID.String()))
		return model.Principal{}, errs.ErrUnauthenticated
	case err != nil:
		return model.Principal{}, err
	}
	if !id.Status.CanAuthenticate() {
		g.log.Info("token for blocked identity", zap.String("identity_id", id.ID.String()))
		return model.Principal{}, errs.ErrUnauthenticated
	}
	if id.Role != claims.Role {
		return model.Principal{}, errs.ErrUnauthenticated
	}
	return model.Principal{Claims: claims, Identity: *id}, nil
}

// Require checks that p holds one of roles. A nil principal is unauthenticated.
func Require(p *model.Principal, roles model.RoleSet) error {
	if p == nil {
		return policy.Authorize(nil, roles)
	}
	return policy.Authorize(&p.Claims, roles)
}

// Bearer extracts the token from an Authorization header value.
func Bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(model.Principal)
	if !ok {
		return nil, false
	}
	return &p, true
}
