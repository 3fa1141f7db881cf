package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Stage is a position in the caregiver onboarding pipeline.
type Stage string

const (
	StageApplication Stage = "application"
	StageInterview   Stage = "interview"
	StageTraining    Stage = "training"
	StageInternship  Stage = "internship"
	StageHired       Stage = "hired"
	StageRejected    Stage = "rejected"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageApplication, StageInterview, StageTraining, StageInternship, StageHired, StageRejected:
		return true
	default:
		return false
	}
}

var stageRank = map[Stage]int{
	StageApplication: 1,
	StageInterview:   2,
	StageTraining:    3,
	StageInternship:  4,
	StageHired:       5,
}

// Before reports whether s comes strictly before o in the pipeline order.
// The rejected stage is outside the order and is never before or after anything.
func (s Stage) Before(o Stage) bool {
	a, b := stageRank[s], stageRank[o]
	return a != 0 && b != 0 && a < b
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool { return s == StageRejected }

// ParseStage parses a stage name case-insensitively.
func ParseStage(v string) (Stage, bool) {
	s := Stage(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// StageStatus is the review state of the current stage's submission.
type StageStatus string

const (
	StageNotSubmitted  StageStatus = "not_submitted"
	StagePendingReview StageStatus = "pending_review"
	StageApproved      StageStatus = "approved"
	StageRejectedState StageStatus = "rejected"
)

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	switch s {
	case StageNotSubmitted, StagePendingReview, StageApproved, StageRejectedState:
		return true
	default:
		return false
	}
}

// ParseStageStatus parses a stage status case-insensitively.
func ParseStageStatus(v string) (StageStatus, bool) {
	s := StageStatus(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

// Action is a command applied to an application.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction parses a review or submit action.
func ParseAction(v string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(v)))
	switch a {
	case ActionSubmit, ActionApprove, ActionReject:
		return a, true
	default:
		return a, false
	}
}

// Availability flags collected with the initial application.
type Availability struct {
	Weekdays bool
	Weekends bool
	Nights   bool
	LiveIn   bool
}

// Application is a caregiver's onboarding record. One per caregiver identity.
type Application struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID // FK -> identities.id, unique
	Stage       Stage
	StageStatus StageStatus
	Version     int64 // bumped on every transition

	// application stage
	ResumeRef    string
	CoverLetter  string
	Availability *Availability
	// interview stage
	InterviewVideoRef string
	// training stage
	TrainingAgreementAccepted bool
	// internship stage
	InternshipSelection string
	// hired stage
	CareerPath string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StagePayload is what a caregiver submits for one stage. Only the fields owned
// by Stage may be set.
type StagePayload struct {
	Stage                     Stage
	ResumeRef                 string
	CoverLetter               string
	Availability              *Availability
	InterviewVideoRef         string
	TrainingAgreementAccepted bool
	InternshipSelection       string
	CareerPath                string
}

// TransitionEvent is one entry of an application's audit trail.
type TransitionEvent struct {
	ID            int64
	ApplicationID uuid.UUID
	Actor         Actor
	Action        Action
	FromStage     Stage
	ToStage       Stage
	FromStatus    StageStatus
	ToStatus      StageStatus
	Reason        string
	OccurredAt    time.Time
}

// ApplicationFilter narrows the admin review queue.
type ApplicationFilter struct {
	Stage  Stage       // empty: any
	Status StageStatus // empty: any
	Limit  int
	Offset int
}
