// Package onboarding implements the caregiver application state machine.
//
// Every transition goes through Advance, a pure function over an
// application value. Persisting the result atomically is the caller's job.
package onboarding

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
)

// Command is a single request against an application.
type Command struct {
	Action  model.Action
	Stage   model.Stage        // stage the command refers to
	Payload model.StagePayload // submit only
	Reason  string             // review only
}

// Submit builds a submit command for the payload's stage.
func Submit(p model.StagePayload) Command {
	return Command{Action: model.ActionSubmit, Stage: p.Stage, Payload: p}
}

// Review builds an approve or reject command.
func Review(stage model.Stage, action model.Action, reason string) Command {
	return Command{Action: action, Stage: stage, Reason: reason}
}

var pipeline = []model.Stage{
	model.StageApplication,
	model.StageInterview,
	model.StageTraining,
	model.StageInternship,
	model.StageHired,
}

// Pipeline returns the ordered non-terminal stages.
func Pipeline() []model.Stage {
	return append([]model.Stage(nil), pipeline...)
}

// Next returns the stage following s. The last stage and rejected have none.
func Next(s model.Stage) (model.Stage, bool) {
	for i, st := range pipeline {
		if st == s && i+1 < len(pipeline) {
			return pipeline[i+1], true
		}
	}
	return "", false
}

// Payload field names.
const (
	FieldResumeRef                 = "resume_ref"
	FieldCoverLetter               = "cover_letter"
	FieldAvailability              = "availability"
	FieldInterviewVideoRef         = "interview_video_ref"
	FieldTrainingAgreementAccepted = "training_agreement_accepted"
	FieldInternshipSelection       = "internship_selection"
	FieldCareerPath                = "career_path"
)

var fieldOwner = map[string]model.Stage{
	FieldResumeRef:                 model.StageApplication,
	FieldCoverLetter:               model.StageApplication,
	FieldAvailability:              model.StageApplication,
	FieldInterviewVideoRef:         model.StageInterview,
	FieldTrainingAgreementAccepted: model.StageTraining,
	FieldInternshipSelection:       model.StageInternship,
	FieldCareerPath:                model.StageHired,
}

// FieldOwner returns the stage that owns a payload field.
func FieldOwner(field string) (model.Stage, bool) {
	s, ok := fieldOwner[field]
	return s, ok
}

// New builds the initial application for a caregiver. Only the owner may start it.
func New(ownerID uuid.UUID, actor model.Actor, now time.Time) (model.Application, error) {
	if actor.Role != model.RoleCaregiver || actor.ID != ownerID {
		return model.Application{}, errs.ErrForbidden
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Application{}, err
	}
	return model.Application{
		ID:          id,
		OwnerID:     ownerID,
		Stage:       model.StageApplication,
		StageStatus: model.StageNotSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Advance applies cmd to app on behalf of actor and returns the new state.
// The role check precedes every state check.
func Advance(app model.Application, actor model.Actor, cmd Command) (model.Application, error) {
	switch cmd.Action {
	case model.ActionSubmit:
		if actor.Role != model.RoleCaregiver || actor.ID != app.OwnerID {
			return app, errs.ErrForbidden
		}
		if err := requireOpen(app, cmd.Stage, model.StageNotSubmitted); err != nil {
			return app, err
		}
		if err := validatePayload(app.Stage, cmd.Payload); err != nil {
			return app, err
		}
		next := merge(app, cmd.Payload)
		next.StageStatus = model.StagePendingReview
		next.Version++
		return next, nil

	case model.ActionApprove:
		if actor.Role != model.RoleAdmin {
			return app, errs.ErrForbidden
		}
		if err := requireOpen(app, cmd.Stage, model.StagePendingReview); err != nil {
			return app, err
		}
		next := app
		if s, ok := Next(app.Stage); ok {
			next.Stage = s
			next.StageStatus = model.StageNotSubmitted
		} else {
			next.StageStatus = model.StageApproved
		}
		next.Version++
		return next, nil

	case model.ActionReject:
		if actor.Role != model.RoleAdmin {
			return app, errs.ErrForbidden
		}
		if err := requireOpen(app, cmd.Stage, model.StagePendingReview); err != nil {
			return app, err
		}
		if app.Stage == model.StageHired {
			return app, fmt.Errorf("%w: hired cannot be rejected", errs.ErrInvalidTransition)
		}
		next := app
		next.Stage = model.StageRejected
		next.StageStatus = model.StageRejectedState
		next.Version++
		return next, nil

	default:
		return app, fmt.Errorf("%w: unknown action %q", errs.ErrValidation, cmd.Action)
	}
}

// Event describes the transition from prev to next as an audit record.
func Event(prev, next model.Application, actor model.Actor, cmd Command, at time.Time) model.TransitionEvent {
	return model.TransitionEvent{
		ApplicationID: next.ID,
		Actor:         actor,
		Action:        cmd.Action,
		FromStage:     prev.Stage,
		ToStage:       next.Stage,
		FromStatus:    prev.StageStatus,
		ToStatus:      next.StageStatus,
		Reason:        cmd.Reason,
		OccurredAt:    at,
	}
}

func requireOpen(app model.Application, stage model.Stage, status model.StageStatus) error {
	if app.Stage.Terminal() {
		return fmt.Errorf("%w: application is rejected", errs.ErrInvalidTransition)
	}
	if stage != app.Stage {
		return fmt.Errorf("%w: application is at %s, not %s", errs.ErrInvalidTransition, app.Stage, stage)
	}
	if app.StageStatus != status {
		return fmt.Errorf("%w: stage %s is %s", errs.ErrInvalidTransition, app.Stage, app.StageStatus)
	}
	return nil
}

// validatePayload requires the stage's mandatory fields and forbids fields
// owned by any other stage.
func validatePayload(stage model.Stage, p model.StagePayload) error {
	for field, set := range setFields(p) {
		if !set {
			continue
		}
		if owner := fieldOwner[field]; owner != stage {
			return fmt.Errorf("%w: %s belongs to stage %s", errs.ErrValidation, field, owner)
		}
	}

	var err error
	switch stage {
	case model.StageApplication:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.ResumeRef, validation.Required, validation.Length(1, 2048)),
			validation.Field(&p.CoverLetter, validation.Length(0, 10000)),
			validation.Field(&p.Availability, validation.NotNil),
		)
	case model.StageInterview:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.InterviewVideoRef, validation.Required, validation.Length(1, 2048)),
		)
	case model.StageTraining:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.TrainingAgreementAccepted, validation.Required),
		)
	case model.StageInternship:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.InternshipSelection, validation.Required, validation.Length(1, 256)),
		)
	case model.StageHired:
		err = validation.ValidateStruct(&p,
			validation.Field(&p.CareerPath, validation.Required, validation.Length(1, 256)),
		)
	default:
		return fmt.Errorf("%w: nothing to submit at stage %s", errs.ErrInvalidTransition, stage)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return nil
}

func setFields(p model.StagePayload) map[string]bool {
	return map[string]bool{
		FieldResumeRef:                 p.ResumeRef != "",
		FieldCoverLetter:               p.CoverLetter != "",
		FieldAvailability:              p.Availability != nil,
		FieldInterviewVideoRef:         p.InterviewVideoRef != "",
		FieldTrainingAgreementAccepted: p.TrainingAgreementAccepted,
		FieldInternshipSelection:       p.InternshipSelection != "",
		FieldCareerPath:                p.CareerPath != "",
	}
}

func merge(app model.Application, p model.StagePayload) model.Application {
	switch app.Stage {
	case model.StageApplication:
		app.ResumeRef = p.ResumeRef
		app.CoverLetter = p.CoverLetter
		if p.Availability != nil {
			a := *p.Availability
			app.Availability = &a
		}
	case model.StageInterview:
		app.InterviewVideoRef = p.InterviewVideoRef
	case model.StageTraining:
		app.TrainingAgreementAccepted = p.TrainingAgreementAccepted
	case model.StageInternship:
		app.InternshipSelection = p.InternshipSelection
	case model.StageHired:
		app.CareerPath = p.CareerPath
	}
	return app
}
