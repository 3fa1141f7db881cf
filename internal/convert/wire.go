// Package convert maps domain values to the JSON wire messages shared by the
// HTTP API, the gRPC service and the CLI.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
	model "github.com/and161185/caregate/internal/model"
)

// --- requests (client -> server) ---

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token"`
	Role    string `json:"role,omitempty"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password,omitempty"`
	NewPassword string `json:"new_password"`
}

type Availability struct {
	Weekdays bool `json:"weekdays"`
	Weekends bool `json:"weekends"`
	Nights   bool `json:"nights"`
	LiveIn   bool `json:"live_in"`
}

type StagePayload struct {
	Stage                     string        `json:"stage"`
	ResumeRef                 string        `json:"resume_ref,omitempty"`
	CoverLetter               string        `json:"cover_letter,omitempty"`
	Availability              *Availability `json:"availability,omitempty"`
	InterviewVideoRef         string        `json:"interview_video_ref,omitempty"`
	TrainingAgreementAccepted bool          `json:"training_agreement_accepted,omitempty"`
	InternshipSelection       string        `json:"internship_selection,omitempty"`
	CareerPath                string        `json:"career_path,omitempty"`
}

// ReviewRequest carries ApplicationID over gRPC; HTTP takes it from the path.
type ReviewRequest struct {
	ApplicationID string `json:"application_id,omitempty"`
	Stage         string `json:"stage"`
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
}

type SetStatusRequest struct {
	IdentityID string `json:"identity_id,omitempty"`
	Status     string `json:"status"`
}

type ListApplicationsRequest struct {
	Stage  string `json:"stage,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type Empty struct{}

// --- responses (server -> client) ---

type Identity struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	GivenName   string     `json:"given_name,omitempty"`
	FamilyName  string     `json:"family_name,omitempty"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	HasPassword bool       `json:"has_password"`
	Federated   bool       `json:"federated"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Identity  `json:"identity"`
}

type Application struct {
	ID                        string        `json:"id"`
	OwnerID                   string        `json:"owner_id"`
	Stage                     string        `json:"stage"`
	StageStatus               string        `json:"stage_status"`
	Version                   int64         `json:"version"`
	ResumeRef                 string        `json:"resume_ref,omitempty"`
	CoverLetter               string        `json:"cover_letter,omitempty"`
	Availability              *Availability `json:"availability,omitempty"`
	InterviewVideoRef         string        `json:"interview_video_ref,omitempty"`
	TrainingAgreementAccepted bool          `json:"training_agreement_accepted"`
	InternshipSelection       string        `json:"internship_selection,omitempty"`
	CareerPath                string        `json:"career_path,omitempty"`
	CreatedAt                 *time.Time    `json:"created_at,omitempty"`
	UpdatedAt                 *time.Time    `json:"updated_at,omitempty"`
}

type Applications struct {
	Applications []Application `json:"applications"`
}

type Event struct {
	ID         int64     `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	FromStage  string    `json:"from_stage"`
	ToStage    string    `json:"to_stage"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Events struct {
	Events []Event `json:"events"`
}

// --- helpers ---

func ts(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrValidation, fmt.Sprintf(format, args...))
}

// ParseID parses a textual identifier.
func ParseID(s string) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil || id == u.Nil {
		return u.Nil, invalid("bad id %q", s)
	}
	return id, nil
}

// ParseOptionalRole parses a self-service role; empty stays empty.
func ParseOptionalRole(s string) (model.Role, error) {
	if s == "" {
		return "", nil
	}
	r, ok := model.ParseRole(s)
	if !ok {
		return "", invalid("unknown role %q", s)
	}
	return r, nil
}

// --- identities ---

// ToIdentity hides credential material.
func ToIdentity(i model.Identity) Identity {
	return Identity{
		ID:          i.ID.String(),
		Email:       i.Email,
		GivenName:   i.GivenName,
		FamilyName:  i.FamilyName,
		Role:        string(i.Role),
		Status:      string(i.Status),
		HasPassword: i.HasPassword(),
		Federated:   i.FederatedID != "",
		CreatedAt:   ts(i.CreatedAt),
	}
}

func ToSession(s model.Session) Session {
	return Session{Token: s.Token, ExpiresAt: s.ExpiresAt.UTC(), Identity: ToIdentity(s.Identity)}
}

// ParseStatus parses an identity status.
func ParseStatus(s string) (model.IdentityStatus, error) {
	st := model.IdentityStatus(s)
	if !st.Valid() {
		return "", invalid("unknown status %q", s)
	}
	return st, nil
}

// --- applications ---

// FromStagePayload converts a submitted payload.
func FromStagePayload(in StagePayload) (model.StagePayload, error) {
	stage, ok := model.ParseStage(in.Stage)
	if !ok {
		return model.StagePayload{}, invalid("unknown stage %q", in.Stage)
	}
	p := model.StagePayload{
		Stage:                     stage,
		ResumeRef:                 in.ResumeRef,
		CoverLetter:               in.CoverLetter,
		InterviewVideoRef:         in.InterviewVideoRef,
		TrainingAgreementAccepted: in.TrainingAgreementAccepted,
		InternshipSelection:       in.InternshipSelection,
		CareerPath:                in.CareerPath,
	}
	if in.Availability != nil {
		p.Availability = &model.Availability{
			Weekdays: in.Availability.Weekdays,
			Weekends: in.Availability.Weekends,
			Nights:   in.Availability.Nights,
			LiveIn:   in.Availability.LiveIn,
		}
	}
	return p, nil
}

// ToApplication converts an application for the wire.
func ToApplication(a model.Application) Application {
	out := Application{
		ID:                        a.ID.String(),
		OwnerID:                   a.OwnerID.String(),
		Stage:                     string(a.Stage),
		StageStatus:               string(a.StageStatus),
		Version:                   a.Version,
		ResumeRef:                 a.ResumeRef,
		CoverLetter:               a.CoverLetter,
		InterviewVideoRef:         a.InterviewVideoRef,
		TrainingAgreementAccepted: a.TrainingAgreementAccepted,
		InternshipSelection:       a.InternshipSelection,
		CareerPath:                a.CareerPath,
		CreatedAt:                 ts(a.CreatedAt),
		UpdatedAt:                 ts(a.UpdatedAt),
	}
	if a.Availability != nil {
		v := Availability(*a.Availability)
		out.Availability = &v
	}
	return out
}

// ToApplications converts a slice; nil becomes an empty list.
func ToApplications(as []model.Application) Applications {
	out := make([]Application, 0, len(as))
	for _, a := range as {
		out = append(out, ToApplication(a))
	}
	return Applications{Applications: out}
}

// FromReview parses the stage and action of a review. Only approve and reject
// are accepted.
func FromReview(in ReviewRequest) (model.Stage, model.Action, error) {
	stage, ok := model.ParseStage(in.Stage)
	if !ok {
		return "", "", invalid("unknown stage %q", in.Stage)
	}
	action, ok := model.ParseAction(in.Action)
	if !ok || action == model.ActionSubmit {
		return "", "", invalid("action must be approve or reject, got %q", in.Action)
	}
	return stage, action, nil
}

// FromListRequest converts queue filters.
func FromListRequest(in ListApplicationsRequest) (model.ApplicationFilter, error) {
	f := model.ApplicationFilter{Limit: in.Limit, Offset: in.Offset}
	if in.Stage != "" {
		s, ok := model.ParseStage(in.Stage)
		if !ok {
			return f, invalid("unknown stage %q", in.Stage)
		}
		f.Stage = s
	}
	if in.Status != "" {
		s, ok := model.ParseStageStatus(in.Status)
		if !ok {
			return f, invalid("unknown status %q", in.Status)
		}
		f.Status = s
	}
	return f, nil
}

// --- events ---

func ToEvent(e model.TransitionEvent) Event {
	return Event{
		ID:         e.ID,
		ActorID:    e.Actor.ID.String(),
		ActorRole:  string(e.Actor.Role),
		Action:     string(e.Action),
		FromStage:  string(e.FromStage),
		ToStage:    string(e.ToStage),
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt.UTC(),
	}
}

func ToEvents(es []model.TransitionEvent) Events {
	out := make([]Event, 0, len(es))
	for _, e := range es {
		out = append(out, ToEvent(e))
	}
	return Events{Events: out}
}
