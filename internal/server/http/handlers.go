package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/and161185/caregate/internal/convert"
	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/gate"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/policy"
	"github.com/and161185/caregate/internal/service"
)

type handler struct {
	auth   service.AuthService
	apps   service.ApplicationService
	pinger Pinger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// principalOf is set by the authenticate middleware.
func principalOf(r *http.Request) (model.Principal, error) {
	p, ok := gate.PrincipalFrom(r.Context())
	if !ok {
		return model.Principal{}, errs.ErrUnauthenticated
	}
	return *p, nil
}

// --- auth ---

// POST /v1/auth/register
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req convert.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	role, err := convert.ParseOptionalRole(req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	sess, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Role:       role,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToSession(sess))
}

// POST /v1/auth/login
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req convert.LoginRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	sess, err := h.auth.Login(r.Context(), req.Email, req.Password, clientIP(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToSession(sess))
}

// POST /v1/auth/google
func (h *handler) loginGoogle(w http.ResponseWriter, r *http.Request) {
	var req convert.GoogleLoginRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	role, err := convert.ParseOptionalRole(req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	sess, err := h.auth.LoginFederated(r.Context(), req.IDToken, role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToSession(sess))
}

// POST /v1/auth/password
func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req convert.ChangePasswordRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), p.Claims.IdentityID, req.OldPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/me
func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToIdentity(p.Identity))
}

// --- applications ---

// POST /v1/applications/stages
func (h *handler) submitStage(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req convert.StagePayload
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	payload, err := convert.FromStagePayload(req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	app, err := h.apps.SubmitApplicationStage(r.Context(), p, payload)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	status := http.StatusOK
	if payload.Stage == model.StageApplication {
		status = http.StatusCreated
	}
	writeJSON(w, status, convert.ToApplication(app))
}

// GET /v1/applications/me
func (h *handler) myApplication(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	app, err := h.apps.MyApplication(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToApplication(app))
}

// GET /v1/applications/{id}
func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := convert.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	app, err := h.apps.GetApplication(r.Context(), p, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToApplication(app))
}

// GET /v1/applications/{id}/events
func (h *handler) applicationEvents(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := convert.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	evs, err := h.apps.History(r.Context(), p, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToEvents(evs))
}

// --- admin ---

// GET /v1/admin/applications?stage=&status=&limit=&offset=
func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	q := r.URL.Query()
	req := convert.ListApplicationsRequest{Stage: q.Get("stage"), Status: q.Get("status")}
	if req.Limit, err = queryInt(q.Get("limit")); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.Offset, err = queryInt(q.Get("offset")); err != nil {
		handleServiceError(w, err)
		return
	}
	f, err := convert.FromListRequest(req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	apps, err := h.apps.ListApplications(r.Context(), p, f)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToApplications(apps))
}

// POST /v1/admin/applications/{id}/review
// The admin check runs before the request is parsed.
func (h *handler) reviewApplication(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := gate.Require(&p, policy.AdminOnly); err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := convert.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req convert.ReviewRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	stage, action, err := convert.FromReview(req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	app, err := h.apps.ReviewApplication(r.Context(), p, id, stage, action, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToApplication(app))
}

// POST /v1/admin/identities/{id}/status
func (h *handler) setIdentityStatus(w http.ResponseWriter, r *http.Request) {
	p, err := principalOf(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	id, err := convert.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	var req convert.SetStatusRequest
	if err := decode(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	st, err := convert.ParseStatus(req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	ident, err := h.auth.SetIdentityStatus(r.Context(), p, id, st)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToIdentity(ident))
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", errs.ErrValidation, v)
	}
	return n, nil
}
