package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/onboarding"
	"github.com/and161185/caregate/internal/policy"
	"github.com/and161185/caregate/internal/repository"
)

const maxListLimit = 200

// ApplicationService runs the caregiver onboarding pipeline.
type ApplicationService interface {
	// SubmitApplicationStage submits the caller's payload for its current stage.
	// The application stage creates the record.
	SubmitApplicationStage(ctx context.Context, p model.Principal, payload model.StagePayload) (model.Application, error)
	// ReviewApplication approves or rejects the pending submission of stage.
	ReviewApplication(ctx context.Context, p model.Principal, id uuid.UUID, stage model.Stage, action model.Action, reason string) (model.Application, error)
	// MyApplication returns the caller's own application.
	MyApplication(ctx context.Context, p model.Principal) (model.Application, error)
	// GetApplication returns an application visible to the caller.
	GetApplication(ctx context.Context, p model.Principal, id uuid.UUID) (model.Application, error)
	// ListApplications returns the admin review queue.
	ListApplications(ctx context.Context, p model.Principal, f model.ApplicationFilter) ([]model.Application, error)
	// History returns the audit trail of an application visible to the caller.
	History(ctx context.Context, p model.Principal, id uuid.UUID) ([]model.TransitionEvent, error)
}

type ApplicationServiceImpl struct {
	apps repository.ApplicationRepository
	options
}

var _ ApplicationService = (*ApplicationServiceImpl)(nil)

// NewApplicationService constructs ApplicationService.
func NewApplicationService(apps repository.ApplicationRepository, opts ...Option) *ApplicationServiceImpl {
	return &ApplicationServiceImpl{apps: apps, options: buildOptions(opts)}
}

// SubmitApplicationStage validates the payload through the state machine and
// persists the result with a compare-and-swap.
func (s *ApplicationServiceImpl) SubmitApplicationStage(
	ctx context.Context, p model.Principal, payload model.StagePayload,
) (model.Application, error) {
	if err := policy.Authorize(&p.Claims, policy.CaregiverOnly); err != nil {
		return model.Application{}, err
	}
	if !payload.Stage.Valid() {
		return model.Application{}, fmt.Errorf("%w: unknown stage %q", errs.ErrValidation, payload.Stage)
	}
	actor := p.Actor()
	now := s.now().UTC()
	cmd := onboarding.Submit(payload)

	if payload.Stage == model.StageApplication {
		return s.create(ctx, actor, cmd, now)
	}

	cur, err := s.apps.GetByOwner(ctx, actor.ID)
	if err != nil {
		if errs.Retryable(err) {
			return model.Application{}, err
		}
		return model.Application{}, fmt.Errorf("%w: no application to advance", errs.ErrInvalidTransition)
	}
	return s.transition(ctx, *cur, actor, cmd, now)
}

func (s *ApplicationServiceImpl) create(ctx context.Context, actor model.Actor, cmd onboarding.Command, now time.Time) (model.Application, error) {
	draft, err := onboarding.New(actor.ID, actor, now)
	if err != nil {
		return model.Application{}, err
	}
	next, err := onboarding.Advance(draft, actor, cmd)
	if err != nil {
		return model.Application{}, err
	}
	next.UpdatedAt = now
	ev := onboarding.Event(draft, next, actor, cmd, now)
	if err := s.apps.Create(ctx, &next, ev); err != nil {
		return model.Application{}, err
	}
	s.rec.RecordTransition(string(cmd.Action), string(draft.Stage), string(next.Stage))
	s.log.Info("application created",
		zap.String("application_id", next.ID.String()),
		zap.String("owner_id", actor.ID.String()),
	)
	return next, nil
}

// ReviewApplication is admin only; the role check comes before any lookup.
func (s *ApplicationServiceImpl) ReviewApplication(
	ctx context.Context, p model.Principal, id uuid.UUID, stage model.Stage, action model.Action, reason string,
) (model.Application, error) {
	if err := policy.Authorize(&p.Claims, policy.AdminOnly); err != nil {
		return model.Application{}, err
	}
	if action != model.ActionApprove && action != model.ActionReject {
		return model.Application{}, fmt.Errorf("%w: review action must be approve or reject", errs.ErrValidation)
	}
	if !stage.Valid() {
		return model.Application{}, fmt.Errorf("%w: unknown stage %q", errs.ErrValidation, stage)
	}
	cur, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return model.Application{}, err
	}
	return s.transition(ctx, *cur, p.Actor(), onboarding.Review(stage, action, reason), s.now().UTC())
}

func (s *ApplicationServiceImpl) transition(
	ctx context.Context, cur model.Application, actor model.Actor, cmd onboarding.Command, now time.Time,
) (model.Application, error) {
	next, err := onboarding.Advance(cur, actor, cmd)
	if err != nil {
		return model.Application{}, err
	}
	next.UpdatedAt = now
	ev := onboarding.Event(cur, next, actor, cmd, now)
	if err := s.apps.Transition(ctx, &next, repository.ExpectationOf(cur), ev); err != nil {
		return model.Application{}, err
	}
	s.rec.RecordTransition(string(cmd.Action), string(cur.Stage), string(next.Stage))
	s.log.Info("application transition",
		zap.String("application_id", next.ID.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("action", string(cmd.Action)),
		zap.String("from", string(cur.Stage)+"/"+string(cur.StageStatus)),
		zap.String("to", string(next.Stage)+"/"+string(next.StageStatus)),
	)
	return next, nil
}

func (s *ApplicationServiceImpl) MyApplication(ctx context.Context, p model.Principal) (model.Application, error) {
	if err := policy.Authorize(&p.Claims, policy.CaregiverOnly); err != nil {
		return model.Application{}, err
	}
	app, err := s.apps.GetByOwner(ctx, p.Claims.IdentityID)
	if err != nil {
		return model.Application{}, err
	}
	return *app, nil
}

func (s *ApplicationServiceImpl) GetApplication(ctx context.Context, p model.Principal, id uuid.UUID) (model.Application, error) {
	app, err := s.visible(ctx, p, id)
	if err != nil {
		return model.Application{}, err
	}
	return *app, nil
}

func (s *ApplicationServiceImpl) ListApplications(
	ctx context.Context, p model.Principal, f model.ApplicationFilter,
) ([]model.Application, error) {
	if err := policy.Authorize(&p.Claims, policy.AdminOnly); err != nil {
		return nil, err
	}
	if f.Stage != "" && !f.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", errs.ErrValidation, f.Stage)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, f.Status)
	}
	if f.Limit < 0 || f.Limit > maxListLimit || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit must be 0..%d and offset non-negative", errs.ErrValidation, maxListLimit)
	}
	return s.apps.List(ctx, f)
}

func (s *ApplicationServiceImpl) History(ctx context.Context, p model.Principal, id uuid.UUID) ([]model.TransitionEvent, error) {
	if _, err := s.visible(ctx, p, id); err != nil {
		return nil, err
	}
	return s.apps.Events(ctx, id)
}

// visible loads an application the caller may read: any for admins, only
// their own for caregivers.
func (s *ApplicationServiceImpl) visible(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Application, error) {
	if err := policy.Authorize(&p.Claims, policy.Roles(model.RoleAdmin, model.RoleCaregiver)); err != nil {
		return nil, err
	}
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Claims.Role != model.RoleAdmin && app.OwnerID != p.Claims.IdentityID {
		return nil, errs.ErrForbidden
	}
	return app, nil
}
