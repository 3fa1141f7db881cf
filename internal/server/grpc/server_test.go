package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/caregate/internal/convert"
	pkgcrypto "github.com/and161185/caregate/internal/crypto"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/repository/memory"
	"github.com/and161185/caregate/internal/rpc"
	"github.com/and161185/caregate/internal/service"
	"github.com/and161185/caregate/internal/token"
)

const bufSize = 1 << 20

type env struct {
	cl   *rpc.Client
	auth *service.AuthServiceImpl
}

func startBufGRPC(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)

	store := memory.New()
	tokens, err := token.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	hasher := pkgcrypto.NewHasher(&argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	auth, err := service.NewAuthService(store.Identities(), tokens, hasher, nil, service.WithLogger(log))
	require.NoError(t, err)
	apps := service.NewApplicationService(store.Applications(), service.WithLogger(log))
	g := gate.New(tokens, store.Identities(), metrics.Nop{}, log)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		MetricsUnary(metrics.Nop{}),
		AuthUnary(g, rpc.PublicMethods),
	))
	rpc.RegisterCaregateServer(gs, New(auth, apps))
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })

	return &env{cl: rpc.NewClient(cc), auth: auth}
}

func withToken(tok string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, status.Code(err), err.Error())
}

func TestServer_E2E_OnboardingFlow(t *testing.T) {
	t.Parallel()
	e := startBufGRPC(t)
	ctx := context.Background()

	_, err := e.auth.EnsureAdmin(ctx, "admin@x.io", "admin-pass")
	require.NoError(t, err)
	admin, err := e.cl.Login(ctx, &convert.LoginRequest{Email: "admin@x.io", Password: "admin-pass"})
	require.NoError(t, err)
	adminCtx := withToken(admin.Token)

	cg, err := e.cl.Register(ctx, &convert.RegisterRequest{Email: "cg@x.io", Password: "password1", Role: "caregiver"})
	require.NoError(t, err)
	require.Equal(t, "caregiver", cg.Identity.Role)
	cgCtx := withToken(cg.Token)

	me, err := e.cl.Me(cgCtx)
	require.NoError(t, err)
	require.Equal(t, cg.Identity.ID, me.ID)

	app, err := e.cl.SubmitStage(cgCtx, &convert.StagePayload{
		Stage:        "application",
		ResumeRef:    "cv.pdf",
		Availability: &convert.Availability{Weekdays: true},
	})
	require.NoError(t, err)
	require.Equal(t, "pending_review", app.StageStatus)

	_, err = e.cl.ReviewApplication(cgCtx, &convert.ReviewRequest{ApplicationID: app.ID, Stage: "application", Action: "approve"})
	requireCode(t, err, codes.PermissionDenied)
	_, err = e.cl.ReviewApplication(cgCtx, &convert.ReviewRequest{ApplicationID: "garbage", Stage: "x", Action: "y"})
	requireCode(t, err, codes.PermissionDenied)

	app, err = e.cl.ReviewApplication(adminCtx, &convert.ReviewRequest{ApplicationID: app.ID, Stage: "application", Action: "approve"})
	require.NoError(t, err)
	require.Equal(t, "interview", app.Stage)

	_, err = e.cl.ReviewApplication(adminCtx, &convert.ReviewRequest{ApplicationID: app.ID, Stage: "application", Action: "approve"})
	requireCode(t, err, codes.FailedPrecondition)

	queue, err := e.cl.ListApplications(adminCtx, &convert.ListApplicationsRequest{Stage: "interview"})
	require.NoError(t, err)
	require.Len(t, queue.Applications, 1)

	_, err = e.cl.ListApplications(cgCtx, &convert.ListApplicationsRequest{})
	requireCode(t, err, codes.PermissionDenied)

	mine, err := e.cl.MyApplication(cgCtx)
	require.NoError(t, err)
	require.Equal(t, app.ID, mine.ID)

	got, err := e.cl.GetApplication(adminCtx, app.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Version)

	evs, err := e.cl.ApplicationEvents(cgCtx, app.ID)
	require.NoError(t, err)
	require.Len(t, evs.Events, 2)

	_, err = e.cl.GetApplication(adminCtx, "not-a-uuid")
	requireCode(t, err, codes.InvalidArgument)
}

func TestServer_AuthErrors(t *testing.T) {
	t.Parallel()
	e := startBufGRPC(t)
	ctx := context.Background()

	_, err := e.cl.Me(ctx)
	requireCode(t, err, codes.Unauthenticated)
	_, err = e.cl.Me(withToken("forged.token.value"))
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.cl.Login(ctx, &convert.LoginRequest{Email: "nobody@x.io", Password: "password1"})
	requireCode(t, err, codes.Unauthenticated)

	_, err = e.cl.Register(ctx, &convert.RegisterRequest{Email: "a@x.io", Password: "password1", Role: "admin"})
	requireCode(t, err, codes.PermissionDenied)
	_, err = e.cl.Register(ctx, &convert.RegisterRequest{Email: "a@x.io", Password: "short"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = e.cl.Register(ctx, &convert.RegisterRequest{Email: "a@x.io", Password: "password1"})
	require.NoError(t, err)
	_, err = e.cl.Register(ctx, &convert.RegisterRequest{Email: "a@x.io", Password: "password1"})
	requireCode(t, err, codes.AlreadyExists)

	_, err = e.cl.LoginGoogle(ctx, &convert.GoogleLoginRequest{IDToken: "x"})
	requireCode(t, err, codes.Unauthenticated)
}

func TestServer_BlockedIdentityLosesToken(t *testing.T) {
	t.Parallel()
	e := startBufGRPC(t)
	ctx := context.Background()

	_, err := e.auth.EnsureAdmin(ctx, "admin@x.io", "admin-pass")
	require.NoError(t, err)
	admin, err := e.cl.Login(ctx, &convert.LoginRequest{Email: "admin@x.io", Password: "admin-pass"})
	require.NoError(t, err)

	user, err := e.cl.Register(ctx, &convert.RegisterRequest{Email: "u@x.io", Password: "password1"})
	require.NoError(t, err)
	userCtx := withToken(user.Token)

	require.NoError(t, e.cl.ChangePassword(userCtx, &convert.ChangePasswordRequest{OldPassword: "password1", NewPassword: "password2"}))

	blocked, err := e.cl.SetIdentityStatus(withToken(admin.Token), &convert.SetStatusRequest{IdentityID: user.Identity.ID, Status: "blocked"})
	require.NoError(t, err)
	require.Equal(t, "blocked", blocked.Status)

	_, err = e.cl.Me(userCtx)
	requireCode(t, err, codes.Unauthenticated)
	_, err = e.cl.Login(ctx, &convert.LoginRequest{Email: "u@x.io", Password: "password2"})
	requireCode(t, err, codes.Unauthenticated)
}
