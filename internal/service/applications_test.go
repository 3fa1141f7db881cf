package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/repository/memory"
)

func payloadFor(stage model.Stage) model.StagePayload {
	p := model.StagePayload{Stage: stage}
	switch stage {
	case model.StageApplication:
		p.ResumeRef = "resume-1.pdf"
		p.CoverLetter = "I have five years of experience."
		p.Availability = &model.Availability{Weekdays: true, Nights: true}
	case model.StageInterview:
		p.InterviewVideoRef = "video-1"
	case model.StageTraining:
		p.TrainingAgreementAccepted = true
	case model.StageInternship:
		p.InternshipSelection = "north-clinic"
	case model.StageHired:
		p.CareerPath = "senior-care"
	}
	return p
}

type appFixture struct {
	auth  *authFixture
	apps  *ApplicationServiceImpl
	admin model.Principal
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	auth := newAuthFixture(t)
	apps := NewApplicationService(auth.store.Applications(), WithLogger(zaptest.NewLogger(t)))

	ctx := context.Background()
	_, err := auth.svc.EnsureAdmin(ctx, "admin@x.io", "admin-pass")
	require.NoError(t, err)
	sess, err := auth.svc.Login(ctx, "admin@x.io", "admin-pass", "")
	require.NoError(t, err)
	return &appFixture{auth: auth, apps: apps, admin: principalOf(t, auth.tokens, sess)}
}

func (f *appFixture) register(t *testing.T, email string, role model.Role) model.Principal {
	t.Helper()
	sess, err := f.auth.svc.Register(context.Background(), RegisterInput{Email: email, Password: "password1", Role: role})
	require.NoError(t, err)
	return principalOf(t, f.auth.tokens, sess)
}

func TestApplications_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	cg := f.register(t, "carol@x.io", model.RoleCaregiver)

	app, err := f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.NoError(t, err)
	require.Equal(t, model.StageApplication, app.Stage)
	require.Equal(t, model.StagePendingReview, app.StageStatus)

	for _, stage := range []model.Stage{model.StageApplication, model.StageInterview, model.StageTraining, model.StageInternship} {
		if stage != model.StageApplication {
			app, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(stage))
			require.NoError(t, err, stage)
		}
		app, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, stage, model.ActionApprove, "")
		require.NoError(t, err, stage)
		require.Equal(t, model.StageNotSubmitted, app.StageStatus)
	}
	require.Equal(t, model.StageHired, app.Stage)

	app, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageHired))
	require.NoError(t, err)
	app, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageHired, model.ActionApprove, "welcome")
	require.NoError(t, err)
	require.Equal(t, model.StageHired, app.Stage)
	require.Equal(t, model.StageApproved, app.StageStatus)

	// hired/approved accepts nothing further
	_, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageHired, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageHired))
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	mine, err := f.apps.MyApplication(ctx, cg)
	require.NoError(t, err)
	require.Equal(t, app.Version, mine.Version)
	require.Equal(t, "resume-1.pdf", mine.ResumeRef)
	require.Equal(t, "senior-care", mine.CareerPath)
	require.NotNil(t, mine.Availability)
	require.True(t, mine.Availability.Nights)

	events, err := f.apps.History(ctx, cg, app.ID)
	require.NoError(t, err)
	require.Len(t, events, 10)
	require.Equal(t, model.ActionSubmit, events[0].Action)
	require.Equal(t, cg.Claims.IdentityID, events[0].Actor.ID)
	last := events[len(events)-1]
	require.Equal(t, model.ActionApprove, last.Action)
	require.Equal(t, "welcome", last.Reason)
	require.Equal(t, model.StageApproved, last.ToStatus)
}

func TestApplications_DuplicateApplication(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	cg := f.register(t, "dup@x.io", model.RoleCaregiver)
	_, err := f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.NoError(t, err)
	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.ErrorIs(t, err, errs.ErrDuplicateApplication)
}

func TestApplications_SubmitChecks(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	client := f.register(t, "client@x.io", model.RoleClient)
	_, err := f.apps.SubmitApplicationStage(ctx, client, payloadFor(model.StageApplication))
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.apps.SubmitApplicationStage(ctx, f.admin, payloadFor(model.StageApplication))
	require.ErrorIs(t, err, errs.ErrForbidden)

	cg := f.register(t, "cg@x.io", model.RoleCaregiver)
	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageInterview))
	require.ErrorIs(t, err, errs.ErrInvalidTransition, "no application yet")

	_, err = f.apps.SubmitApplicationStage(ctx, cg, model.StagePayload{Stage: "onboarding"})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.apps.SubmitApplicationStage(ctx, cg, model.StagePayload{Stage: model.StageApplication})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.NoError(t, err)

	// the interview cannot be submitted before the application is approved
	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageInterview))
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, err = f.apps.MyApplication(ctx, client)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.MyApplication(ctx, f.register(t, "fresh@x.io", model.RoleCaregiver))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestApplications_ReviewChecks(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	cg := f.register(t, "rev@x.io", model.RoleCaregiver)
	app, err := f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.NoError(t, err)

	// the role check precedes the lookup
	_, err = f.apps.ReviewApplication(ctx, cg, uuid.Must(uuid.NewV4()), model.StageApplication, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.ReviewApplication(ctx, cg, app.ID, model.StageApplication, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageApplication, model.ActionSubmit, "")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, "bogus", model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.apps.ReviewApplication(ctx, f.admin, uuid.Must(uuid.NewV4()), model.StageApplication, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageInterview, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	rejected, err := f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageApplication, model.ActionReject, "incomplete")
	require.NoError(t, err)
	require.Equal(t, model.StageRejected, rejected.Stage)

	_, err = f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageApplication, model.ActionApprove, "")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.ErrorIs(t, err, errs.ErrDuplicateApplication)
}

func TestApplications_ConcurrentApprovalsOneWinner(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	cg := f.register(t, "race@x.io", model.RoleCaregiver)
	app, err := f.apps.SubmitApplicationStage(ctx, cg, payloadFor(model.StageApplication))
	require.NoError(t, err)

	const n = 16
	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.apps.ReviewApplication(ctx, f.admin, app.ID, model.StageApplication, model.ActionApprove, "")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, errs.ErrInvalidTransition):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, n-1, conflicts.Load())

	got, err := f.apps.MyApplication(ctx, cg)
	require.NoError(t, err)
	require.Equal(t, model.StageInterview, got.Stage)
	require.EqualValues(t, 2, got.Version)

	events, err := f.apps.History(ctx, f.admin, app.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestApplications_Visibility(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	owner := f.register(t, "owner@x.io", model.RoleCaregiver)
	other := f.register(t, "other@x.io", model.RoleCaregiver)
	client := f.register(t, "cl@x.io", model.RoleClient)

	app, err := f.apps.SubmitApplicationStage(ctx, owner, payloadFor(model.StageApplication))
	require.NoError(t, err)

	_, err = f.apps.GetApplication(ctx, owner, app.ID)
	require.NoError(t, err)
	_, err = f.apps.GetApplication(ctx, f.admin, app.ID)
	require.NoError(t, err)
	_, err = f.apps.GetApplication(ctx, other, app.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.GetApplication(ctx, client, app.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.History(ctx, other, app.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.GetApplication(ctx, f.admin, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestApplications_List(t *testing.T) {
	t.Parallel()
	f := newAppFixture(t)
	ctx := context.Background()

	a := f.register(t, "la@x.io", model.RoleCaregiver)
	b := f.register(t, "lb@x.io", model.RoleCaregiver)
	appA, err := f.apps.SubmitApplicationStage(ctx, a, payloadFor(model.StageApplication))
	require.NoError(t, err)
	_, err = f.apps.SubmitApplicationStage(ctx, b, payloadFor(model.StageApplication))
	require.NoError(t, err)
	_, err = f.apps.ReviewApplication(ctx, f.admin, appA.ID, model.StageApplication, model.ActionApprove, "")
	require.NoError(t, err)

	all, err := f.apps.ListApplications(ctx, f.admin, model.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := f.apps.ListApplications(ctx, f.admin, model.ApplicationFilter{Status: model.StagePendingReview})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.Claims.IdentityID, pending[0].OwnerID)

	interview, err := f.apps.ListApplications(ctx, f.admin, model.ApplicationFilter{Stage: model.StageInterview})
	require.NoError(t, err)
	require.Len(t, interview, 1)
	require.Equal(t, appA.ID, interview[0].ID)

	_, err = f.apps.ListApplications(ctx, a, model.ApplicationFilter{})
	require.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.apps.ListApplications(ctx, f.admin, model.ApplicationFilter{Stage: "nope"})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.apps.ListApplications(ctx, f.admin, model.ApplicationFilter{Limit: 500})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestApplications_ZeroPrincipalForbidden(t *testing.T) {
	t.Parallel()

	apps := NewApplicationService(memory.New().Applications())
	_, err := apps.MyApplication(context.Background(), model.Principal{})
	require.ErrorIs(t, err, errs.ErrForbidden)
}
