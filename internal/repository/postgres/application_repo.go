package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ApplicationRepo implements ApplicationRepository using PostgreSQL.
type ApplicationRepo struct{ db *DB }

// NewApplicationRepo constructs an application repository.
func NewApplicationRepo(db *DB) *ApplicationRepo { return &ApplicationRepo{db: db} }

const applicationColumns = `id, owner_id, stage, stage_status, version, resume_ref, cover_letter, availability, interview_video_ref, training_agreement_accepted, internship_selection, career_path, created_at, updated_at`

const insertEvent = `
INSERT INTO application_events (application_id, actor_id, actor_role, action, from_stage, to_stage, from_status, to_status, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Create inserts the application together with its first audit event.
func (r *ApplicationRepo) Create(ctx context.Context, app *model.Application, ev model.TransitionEvent) error {
	avail, err := encodeAvailability(app.Availability)
	if err != nil {
		return err
	}
	return r.db.withTx(ctx, "create application", func(tx pgx.Tx) error {
		const ins = `
INSERT INTO applications (` + applicationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		_, err := tx.Exec(ctx, ins,
			app.ID, app.OwnerID, string(app.Stage), string(app.StageStatus), app.Version,
			app.ResumeRef, app.CoverLetter, avail, app.InterviewVideoRef,
			app.TrainingAgreementAccepted, app.InternshipSelection, app.CareerPath,
			app.CreatedAt, app.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return errs.ErrDuplicateApplication
		case isForeignKeyViolation(err):
			return fmt.Errorf("owner %s: %w", app.OwnerID, errs.ErrNotFound)
		case err != nil:
			return unavailable("insert application", err)
		}
		return appendEvent(ctx, tx, ev)
	})
}

// GetByID selects an application by ID.
func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Application, error) {
	const q = `SELECT ` + applicationColumns + ` FROM applications WHERE id=$1`
	return r.getOne(ctx, "get application", q, id)
}

// GetByOwner selects the application owned by a caregiver.
func (r *ApplicationRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID) (*model.Application, error) {
	const q = `SELECT ` + applicationColumns + ` FROM applications WHERE owner_id=$1`
	return r.getOne(ctx, "get application by owner", q, ownerID)
}

// List returns applications matching the filter, least recently updated first.
func (r *ApplicationRepo) List(ctx context.Context, f model.ApplicationFilter) ([]model.Application, error) {
	var (
		where []string
		args  []any
	)
	if f.Stage != "" {
		args = append(args, string(f.Stage))
		where = append(where, fmt.Sprintf("stage=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("stage_status=$%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + applicationColumns + ` FROM applications`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, ` ORDER BY updated_at ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, unavailable("list applications", err)
	}
	defer rows.Close()

	out := make([]model.Application, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, unavailable("scan application", err)
		}
		out = append(out, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list applications", err)
	}
	return out, nil
}

// Transition is a compare-and-swap on (stage, stage_status, version) plus an
// audit insert in one transaction.
func (r *ApplicationRepo) Transition(
	ctx context.Context, next *model.Application, expect repository.Expectation, ev model.TransitionEvent,
) error {
	avail, err := encodeAvailability(next.Availability)
	if err != nil {
		return err
	}
	return r.db.withTx(ctx, "transition application", func(tx pgx.Tx) error {
		const upd = `
UPDATE applications
SET stage=$2, stage_status=$3, version=$4, resume_ref=$5, cover_letter=$6, availability=$7,
    interview_video_ref=$8, training_agreement_accepted=$9, internship_selection=$10, career_path=$11, updated_at=$12
WHERE id=$1 AND stage=$13 AND stage_status=$14 AND version=$15`
		tag, err := tx.Exec(ctx, upd,
			next.ID, string(next.Stage), string(next.StageStatus), next.Version,
			next.ResumeRef, next.CoverLetter, avail, next.InterviewVideoRef,
			next.TrainingAgreementAccepted, next.InternshipSelection, next.CareerPath, next.UpdatedAt,
			string(expect.Stage), string(expect.Status), expect.Version)
		if err != nil {
			return unavailable("update application", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: application %s changed concurrently", errs.ErrInvalidTransition, next.ID)
		}
		return appendEvent(ctx, tx, ev)
	})
}

// Events returns the audit trail in insertion order.
func (r *ApplicationRepo) Events(ctx context.Context, applicationID uuid.UUID) ([]model.TransitionEvent, error) {
	const q = `
SELECT id, application_id, actor_id, actor_role, action, from_stage, to_stage, from_status, to_status, reason, occurred_at
FROM application_events
WHERE application_id=$1
ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, applicationID)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	defer rows.Close()

	out := make([]model.TransitionEvent, 0)
	for rows.Next() {
		var (
			ev                                     model.TransitionEvent
			role, action, fromSt, toSt, fromS, toS string
		)
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.Actor.ID, &role, &action,
			&fromSt, &toSt, &fromS, &toS, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, unavailable("scan event", err)
		}
		ev.Actor.Role = model.Role(role)
		ev.Action = model.Action(action)
		ev.FromStage, ev.ToStage = model.Stage(fromSt), model.Stage(toSt)
		ev.FromStatus, ev.ToStatus = model.StageStatus(fromS), model.StageStatus(toS)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list events", err)
	}
	return out, nil
}

func (r *ApplicationRepo) getOne(ctx context.Context, op, q string, arg any) (*model.Application, error) {
	app, err := scanApplication(r.db.Pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, unavailable(op, err)
	}
	return app, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, ev model.TransitionEvent) error {
	_, err := tx.Exec(ctx, insertEvent,
		ev.ApplicationID, ev.Actor.ID, string(ev.Actor.Role), string(ev.Action),
		string(ev.FromStage), string(ev.ToStage), string(ev.FromStatus), string(ev.ToStatus),
		ev.Reason, ev.OccurredAt)
	if err != nil {
		return unavailable("insert event", err)
	}
	return nil
}

func scanApplication(row pgx.Row) (*model.Application, error) {
	var (
		app           model.Application
		stage, status string
		avail         []byte
	)
	if err := row.Scan(&app.ID, &app.OwnerID, &stage, &status, &app.Version,
		&app.ResumeRef, &app.CoverLetter, &avail, &app.InterviewVideoRef,
		&app.TrainingAgreementAccepted, &app.InternshipSelection, &app.CareerPath,
		&app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.Stage = model.Stage(stage)
	app.StageStatus = model.StageStatus(status)
	if len(avail) > 0 {
		var a availabilityDoc
		if err := json.Unmarshal(avail, &a); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
		app.Availability = &model.Availability{Weekdays: a.Weekdays, Weekends: a.Weekends, Nights: a.Nights, LiveIn: a.LiveIn}
	}
	return &app, nil
}

type availabilityDoc struct {
	Weekdays bool `json:"weekdays"`
	Weekends bool `json:"weekends"`
	Nights   bool `json:"nights"`
	LiveIn   bool `json:"live_in"`
}

// encodeAvailability returns the jsonb document, or nil for SQL NULL.
func encodeAvailability(a *model.Availability) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(availabilityDoc{Weekdays: a.Weekdays, Weekends: a.Weekends, Nights: a.Nights, LiveIn: a.LiveIn})
	if err != nil {
		return nil, fmt.Errorf("encode availability: %w", err)
	}
	return b, nil
}
