package model

import (
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, ok := ParseRole(" Caregiver "); !ok || r != RoleCaregiver {
		t.Fatalf("ParseRole caregiver: %q %v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatalf("owner must not parse")
	}
}

func TestRoleSet_Contains(t *testing.T) {
	t.Parallel()

	s := RoleSet{RoleAdmin, RoleCaregiver}
	if !s.Contains(RoleAdmin) || s.Contains(RoleClient) {
		t.Fatalf("unexpected membership")
	}
	if (RoleSet{}).Contains(RoleAdmin) {
		t.Fatalf("empty set contains nothing")
	}
}

func TestIdentityStatus_CanAuthenticate(t *testing.T) {
	t.Parallel()

	if !StatusActive.CanAuthenticate() || !StatusPending.CanAuthenticate() {
		t.Fatalf("active and pending must authenticate")
	}
	if StatusBlocked.CanAuthenticate() {
		t.Fatalf("blocked must not authenticate")
	}
}

func TestIdentity_Validate(t *testing.T) {
	t.Parallel()

	base := Identity{
		ID:     uuid.Must(uuid.NewV4()),
		Email:  "a@b.c",
		Role:   RoleClient,
		Status: StatusActive,
	}

	none := base
	if err := none.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error without credentials, got %v", err)
	}

	pwd := base
	pwd.PasswordHash = "h"
	if err := pwd.Validate(); err != nil {
		t.Fatalf("password identity: %v", err)
	}

	fed := base
	fed.Email = ""
	fed.FederatedID = "sub-1"
	if err := fed.Validate(); err != nil {
		t.Fatalf("federated-only identity: %v", err)
	}

	both := pwd
	both.FederatedID = "sub-2"
	if err := both.Validate(); err != nil {
		t.Fatalf("password+federated identity: %v", err)
	}

	badRole := pwd
	badRole.Role = "root"
	if err := badRole.Validate(); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on role, got %v", err)
	}
}

func TestParseStageAndStatus(t *testing.T) {
	t.Parallel()

	if s, ok := ParseStage("INTERVIEW"); !ok || s != StageInterview {
		t.Fatalf("ParseStage: %q %v", s, ok)
	}
	if _, ok := ParseStage("onboarding"); ok {
		t.Fatalf("unknown stage parsed")
	}
	if s, ok := ParseStageStatus("pending_review"); !ok || s != StagePendingReview {
		t.Fatalf("ParseStageStatus: %q %v", s, ok)
	}
	if _, ok := ParseAction("under_review"); ok {
		t.Fatalf("under_review is not an engine action")
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestStage_Before(t *testing.T) {
	t.Parallel()

	if !StageApplication.Before(StageInterview) || !StageInternship.Before(StageHired) {
		t.Fatalf("forward order broken")
	}
	if StageHired.Before(StageTraining) || StageTraining.Before(StageTraining) {
		t.Fatalf("order must be strict and forward")
	}
	if StageRejected.Before(StageHired) || StageApplication.Before(StageRejected) {
		t.Fatalf("rejected is outside the order")
	}
}
