package convert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
	model "github.com/and161185/caregate/internal/model"
)

func mustUUID(t *testing.T, s string) u.UUID {
	t.Helper()
	id, err := u.FromString(s)
	if err != nil {
		t.Fatalf("bad uuid %q: %v", s, err)
	}
	return id
}

func TestParseID(t *testing.T) {
	t.Parallel()

	want := "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"
	got, err := ParseID(want)
	if err != nil || got.String() != want {
		t.Fatalf("ParseID: %v %v", got, err)
	}
	for _, bad := range []string{"", "nope", u.Nil.String()} {
		if _, err := ParseID(bad); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("ParseID(%q): want validation error, got %v", bad, err)
		}
	}
}

func TestToIdentity_HidesCredentials(t *testing.T) {
	t.Parallel()

	id := model.Identity{
		ID:           mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		Email:        "a@x.io",
		PasswordHash: "$argon2id$v=19$secret",
		FederatedID:  "google-sub",
		Role:         model.RoleCaregiver,
		Status:       model.StatusActive,
	}
	raw, err := json.Marshal(ToIdentity(id))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "argon2id") || strings.Contains(s, "google-sub") {
		t.Fatalf("credential material on the wire: %s", s)
	}
	if !strings.Contains(s, `"has_password":true`) || !strings.Contains(s, `"federated":true`) {
		t.Fatalf("flags missing: %s", s)
	}
	if strings.Contains(s, "created_at") {
		t.Fatalf("zero time must be omitted: %s", s)
	}
}

func TestFromStagePayload(t *testing.T) {
	t.Parallel()

	p, err := FromStagePayload(StagePayload{
		Stage:        " Application ",
		ResumeRef:    "r1",
		Availability: &Availability{Weekends: true, LiveIn: true},
	})
	if err != nil {
		t.Fatalf("FromStagePayload: %v", err)
	}
	if p.Stage != model.StageApplication || p.ResumeRef != "r1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Availability == nil || !p.Availability.Weekends || !p.Availability.LiveIn || p.Availability.Nights {
		t.Fatalf("availability not copied: %+v", p.Availability)
	}

	if _, err := FromStagePayload(StagePayload{Stage: "onboarding"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestToApplication(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	a := model.Application{
		ID:           mustUUID(t, "6f1cbe8e-b2e7-4a3b-9f6e-2a2c0f2f9c11"),
		OwnerID:      mustUUID(t, "0b8e0b5e-1d7e-4c59-a1f4-2d0e7f9d3a10"),
		Stage:        model.StageInterview,
		StageStatus:  model.StagePendingReview,
		Version:      3,
		Availability: &model.Availability{Nights: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	w := ToApplication(a)
	if w.Stage != "interview" || w.StageStatus != "pending_review" || w.Version != 3 {
		t.Fatalf("unexpected: %+v", w)
	}
	if w.Availability == nil || !w.Availability.Nights {
		t.Fatalf("availability lost")
	}
	if w.UpdatedAt == nil || w.UpdatedAt.Location() != time.UTC || !w.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps must be UTC: %v", w.UpdatedAt)
	}

	// the wire copy is independent
	w.Availability.Nights = false
	if !a.Availability.Nights {
		t.Fatalf("wire value aliases the domain value")
	}

	if list := ToApplications(nil); list.Applications == nil || len(list.Applications) != 0 {
		t.Fatalf("nil list must become empty")
	}
}

func TestFromReview(t *testing.T) {
	t.Parallel()

	stage, action, err := FromReview(ReviewRequest{Stage: "training", Action: "APPROVE"})
	if err != nil || stage != model.StageTraining || action != model.ActionApprove {
		t.Fatalf("FromReview: %v %v %v", stage, action, err)
	}
	for _, in := range []ReviewRequest{
		{Stage: "training", Action: "submit"},
		{Stage: "training", Action: "under_review"},
		{Stage: "later", Action: "approve"},
	} {
		if _, _, err := FromReview(in); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("FromReview(%+v): want validation error, got %v", in, err)
		}
	}
}

func TestFromListRequest(t *testing.T) {
	t.Parallel()

	f, err := FromListRequest(ListApplicationsRequest{Stage: "hired", Status: "approved", Limit: 5, Offset: 10})
	if err != nil {
		t.Fatalf("FromListRequest: %v", err)
	}
	if f.Stage != model.StageHired || f.Status != model.StageApproved || f.Limit != 5 || f.Offset != 10 {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if _, err := FromListRequest(ListApplicationsRequest{Status: "waiting"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestParseStatusAndRole(t *testing.T) {
	t.Parallel()

	if s, err := ParseStatus("blocked"); err != nil || s != model.StatusBlocked {
		t.Fatalf("ParseStatus: %v %v", s, err)
	}
	if _, err := ParseStatus("frozen"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if r, err := ParseOptionalRole(""); err != nil || r != "" {
		t.Fatalf("empty role: %v %v", r, err)
	}
	if _, err := ParseOptionalRole("root"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestToEvents(t *testing.T) {
	t.Parallel()

	actor := model.Actor{ID: mustUUID(t, "0b8e0b5e-1d7e-4c59-a1f4-2d0e7f9d3a10"), Role: model.RoleAdmin}
	ev := model.TransitionEvent{
		ID: 7, Actor: actor, Action: model.ActionReject,
		FromStage: model.StageTraining, ToStage: model.StageRejected,
		FromStatus: model.StagePendingReview, ToStatus: model.StageRejectedState,
		Reason: "no show",
	}
	out := ToEvents([]model.TransitionEvent{ev})
	if len(out.Events) != 1 {
		t.Fatalf("len=%d", len(out.Events))
	}
	got := out.Events[0]
	if got.ID != 7 || got.ActorRole != "admin" || got.ToStage != "rejected" || got.Reason != "no show" {
		t.Fatalf("unexpected event: %+v", got)
	}
}
