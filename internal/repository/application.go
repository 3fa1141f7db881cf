package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/model"
)

// Expectation is the state a transition was computed from.
type Expectation struct {
	Stage   model.Stage
	Status  model.StageStatus
	Version int64
}

// ExpectationOf captures the current state of app.
func ExpectationOf(app model.Application) Expectation {
	return Expectation{Stage: app.Stage, Status: app.StageStatus, Version: app.Version}
}

// ApplicationRepository stores caregiver applications and their audit trail.
type ApplicationRepository interface {
	// Create inserts the application and its first event; a second application for
	// the same owner yields errs.ErrDuplicateApplication.
	Create(ctx context.Context, app *model.Application, ev model.TransitionEvent) error
	// GetByID loads an application.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Application, error)
	// GetByOwner loads the application owned by a caregiver.
	GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.Application, error)
	// List returns applications matching the filter, oldest update first.
	List(ctx context.Context, f model.ApplicationFilter) ([]model.Application, error)
	// Transition replaces the stored state with next only if it still matches
	// expect, and appends ev atomically. A mismatch yields errs.ErrInvalidTransition.
	Transition(ctx context.Context, next *model.Application, expect Expectation, ev model.TransitionEvent) error
	// Events returns the audit trail of an application in occurrence order.
	Events(ctx context.Context, applicationID uuid.UUID) ([]model.TransitionEvent, error)
}
