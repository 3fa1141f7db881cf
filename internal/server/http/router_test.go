package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/caregate/internal/crypto"
	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/metrics"
	"github.com/and161185/caregate/internal/repository/memory"
	"github.com/and161185/caregate/internal/service"
	"github.com/and161185/caregate/internal/token"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testAPI struct {
	h    http.Handler
	auth *service.AuthServiceImpl
	reg  *prometheus.Registry
}

func newTestAPI(t *testing.T, authLimiter *IPRateLimiter, pinger Pinger) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t)

	store := memory.New()
	tokens, err := token.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	hasher := pkgcrypto.NewHasher(&argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)

	auth, err := service.NewAuthService(store.Identities(), tokens, hasher, nil, service.WithLogger(log), service.WithRecorder(rec))
	require.NoError(t, err)
	apps := service.NewApplicationService(store.Applications(), service.WithLogger(log), service.WithRecorder(rec))

	h := NewRouter(Deps{
		Auth:         auth,
		Applications: apps,
		Gate:         gate.New(tokens, store.Identities(), rec, log),
		Pinger:       pinger,
		Gatherer:     reg,
		AuthLimiter:  authLimiter,
		Recorder:     rec,
		Log:          log,
	})
	return &testAPI{h: h, auth: auth, reg: reg}
}

type response struct {
	Code int
	Data json.RawMessage
	Err  *apiError
}

func (a *testAPI) do(t *testing.T, method, path, tok string, body any) response {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:5555"
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	a.h.ServeHTTP(rr, req)

	out := response{Code: rr.Code}
	if rr.Body.Len() == 0 {
		return out
	}
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *apiError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	out.Data, out.Err = env.Data, env.Error
	return out
}

func decodeData[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

type sessionJSON struct {
	Token    string `json:"token"`
	Identity struct {
		ID     string `json:"id"`
		Role   string `json:"role"`
		Status string `json:"status"`
	} `json:"identity"`
}

type applicationJSON struct {
	ID          string `json:"id"`
	Stage       string `json:"stage"`
	StageStatus string `json:"stage_status"`
	Version     int64  `json:"version"`
}

func (a *testAPI) adminToken(t *testing.T) string {
	t.Helper()
	_, err := a.auth.EnsureAdmin(context.Background(), "admin@x.io", "admin-pass")
	require.NoError(t, err)
	r := a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "admin@x.io", "password": "admin-pass"})
	require.Equal(t, http.StatusOK, r.Code)
	return decodeData[sessionJSON](t, r).Token
}

func TestRouter_EndToEnd(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil, nil)
	admin := api.adminToken(t)

	r := api.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"email": "carol@x.io", "password": "password1", "role": "caregiver",
	})
	require.Equal(t, http.StatusCreated, r.Code)
	cg := decodeData[sessionJSON](t, r)
	require.Equal(t, "caregiver", cg.Identity.Role)

	r = api.do(t, http.MethodGet, "/v1/me", cg.Token, nil)
	require.Equal(t, http.StatusOK, r.Code)

	r = api.do(t, http.MethodPost, "/v1/applications/stages", cg.Token, map[string]any{
		"stage": "application", "resume_ref": "cv.pdf", "availability": map[string]bool{"weekdays": true},
	})
	require.Equal(t, http.StatusCreated, r.Code)
	app := decodeData[applicationJSON](t, r)
	require.Equal(t, "pending_review", app.StageStatus)

	stages := []struct {
		stage   string
		payload map[string]any
	}{
		{"application", nil},
		{"interview", map[string]any{"interview_video_ref": "v1"}},
		{"training", map[string]any{"training_agreement_accepted": true}},
		{"internship", map[string]any{"internship_selection": "north"}},
		{"hired", map[string]any{"career_path": "senior"}},
	}
	for _, s := range stages {
		if s.payload != nil {
			s.payload["stage"] = s.stage
			r = api.do(t, http.MethodPost, "/v1/applications/stages", cg.Token, s.payload)
			require.Equal(t, http.StatusOK, r.Code, s.stage)
		}
		r = api.do(t, http.MethodPost, "/v1/admin/applications/"+app.ID+"/review", admin,
			map[string]string{"stage": s.stage, "action": "approve"})
		require.Equal(t, http.StatusOK, r.Code, s.stage)
	}
	final := decodeData[applicationJSON](t, r)
	require.Equal(t, "hired", final.Stage)
	require.Equal(t, "approved", final.StageStatus)
	require.EqualValues(t, 10, final.Version)

	r = api.do(t, http.MethodGet, "/v1/applications/"+app.ID+"/events", cg.Token, nil)
	require.Equal(t, http.StatusOK, r.Code)
	evs := decodeData[struct {
		Events []map[string]any `json:"events"`
	}](t, r)
	require.Len(t, evs.Events, 10)

	r = api.do(t, http.MethodGet, "/v1/applications/me", cg.Token, nil)
	require.Equal(t, http.StatusOK, r.Code)
	require.Equal(t, app.ID, decodeData[applicationJSON](t, r).ID)

	r = api.do(t, http.MethodGet, "/v1/admin/applications?stage=hired&limit=5", admin, nil)
	require.Equal(t, http.StatusOK, r.Code)
	list := decodeData[struct {
		Applications []applicationJSON `json:"applications"`
	}](t, r)
	require.Len(t, list.Applications, 1)
}

func TestRouter_ErrorMapping(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil, nil)
	admin := api.adminToken(t)

	r := api.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "c@x.io", "password": "password1", "role": "caregiver"})
	require.Equal(t, http.StatusCreated, r.Code)
	cg := decodeData[sessionJSON](t, r)

	cases := []struct {
		name, method, path, tok string
		body                    any
		status                  int
		code                    string
	}{
		{"no token", http.MethodGet, "/v1/me", "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"forged token", http.MethodGet, "/v1/me", "a.b.c", nil, http.StatusUnauthorized, "unauthenticated"},
		{"bad credentials", http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "c@x.io", "password": "nope-nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown email", http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "z@x.io", "password": "nope-nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"duplicate", http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "c@x.io", "password": "password1"}, http.StatusConflict, "duplicate_identity"},
		{"admin self-register", http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "d@x.io", "password": "password1", "role": "admin"}, http.StatusForbidden, "forbidden"},
		{"malformed json", http.MethodPost, "/v1/auth/login", "", "{", http.StatusBadRequest, "validation_failed"},
		{"unknown field", http.MethodPost, "/v1/auth/login", "", `{"email":"a","password":"b","x":1}`, http.StatusBadRequest, "validation_failed"},
		{"google disabled", http.MethodPost, "/v1/auth/google", "", map[string]string{"id_token": "t"}, http.StatusUnauthorized, "invalid_federated_token"},
		{"caregiver reviews", http.MethodPost, "/v1/admin/applications/not-an-id/review", cg.Token, map[string]string{"stage": "x"}, http.StatusForbidden, "forbidden"},
		{"caregiver lists", http.MethodGet, "/v1/admin/applications", cg.Token, nil, http.StatusForbidden, "forbidden"},
		{"bad id", http.MethodGet, "/v1/applications/xyz", admin, nil, http.StatusBadRequest, "validation_failed"},
		{"bad limit", http.MethodGet, "/v1/admin/applications?limit=ten", admin, nil, http.StatusBadRequest, "validation_failed"},
		{"no application", http.MethodGet, "/v1/applications/me", cg.Token, nil, http.StatusNotFound, "not_found"},
		{"stage out of order", http.MethodPost, "/v1/applications/stages", cg.Token, map[string]any{"stage": "interview", "interview_video_ref": "v"}, http.StatusConflict, "invalid_transition"},
		{"review action", http.MethodPost, "/v1/admin/applications/6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11/review", admin, map[string]string{"stage": "application", "action": "submit"}, http.StatusBadRequest, "validation_failed"},
		{"unknown route", http.MethodGet, "/v1/nope", "", nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		r := api.do(t, tc.method, tc.path, tc.tok, tc.body)
		require.Equal(t, tc.status, r.Code, tc.name)
		require.NotNil(t, r.Err, tc.name)
		require.Equal(t, tc.code, r.Err.Code, tc.name)
	}

	r = api.do(t, http.MethodPost, "/v1/applications/stages", cg.Token, map[string]any{
		"stage": "application", "resume_ref": "cv", "availability": map[string]bool{},
	})
	require.Equal(t, http.StatusCreated, r.Code)
	r = api.do(t, http.MethodPost, "/v1/applications/stages", cg.Token, map[string]any{
		"stage": "application", "resume_ref": "cv", "availability": map[string]bool{},
	})
	require.Equal(t, http.StatusConflict, r.Code)
	require.Equal(t, "duplicate_application", r.Err.Code)
}

func TestRouter_BlockAndPasswordChange(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, nil, nil)
	admin := api.adminToken(t)

	r := api.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"email": "u@x.io", "password": "password1"})
	require.Equal(t, http.StatusCreated, r.Code)
	user := decodeData[sessionJSON](t, r)
	require.Equal(t, "client", user.Identity.Role)

	r = api.do(t, http.MethodPost, "/v1/auth/password", user.Token, map[string]string{"old_password": "password1", "new_password": "password2"})
	require.Equal(t, http.StatusNoContent, r.Code)

	r = api.do(t, http.MethodPost, "/v1/admin/identities/"+user.Identity.ID+"/status", user.Token, map[string]string{"status": "blocked"})
	require.Equal(t, http.StatusForbidden, r.Code)

	r = api.do(t, http.MethodPost, "/v1/admin/identities/"+user.Identity.ID+"/status", admin, map[string]string{"status": "blocked"})
	require.Equal(t, http.StatusOK, r.Code)
	require.Equal(t, "blocked", decodeData[struct {
		Status string `json:"status"`
	}](t, r).Status)

	r = api.do(t, http.MethodGet, "/v1/me", user.Token, nil)
	require.Equal(t, http.StatusUnauthorized, r.Code)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	t.Parallel()
	lim := NewIPRateLimiter(0.001, 2, time.Minute)
	t.Cleanup(lim.Stop)
	api := newTestAPI(t, lim, nil)

	body := map[string]string{"email": "x@x.io", "password": "whatever1"}
	for i := 0; i < 2; i++ {
		r := api.do(t, http.MethodPost, "/v1/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, r.Code)
	}
	r := api.do(t, http.MethodPost, "/v1/auth/login", "", body)
	require.Equal(t, http.StatusTooManyRequests, r.Code)
	require.Equal(t, "rate_limited", r.Err.Code)

	// other routes are not throttled
	r = api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, r.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	down := newTestAPI(t, nil, fakePinger{err: fmt.Errorf("ping: %w: %w", errs.ErrStorageUnavailable, errors.New("refused"))})
	r := down.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, r.Code)
	require.Equal(t, "storage unavailable", r.Err.Message)

	api := newTestAPI(t, nil, fakePinger{})
	r = api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, r.Code)

	api.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "x@x.io", "password": "whatever1"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	api.h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.True(t, strings.Contains(body, "caregate_requests_total"), body)
	require.True(t, strings.Contains(body, "caregate_auth_attempts_total"), body)
}
