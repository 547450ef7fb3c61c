package services

import (
	"errors"
	"testing"
	"time"

	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/sla"
	"github.com/slaguard/slaguard/internal/testhelpers"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func validPolicyInput() PolicyInput {
	return PolicyInput{
		Name:                    "urgent-incidents",
		RequestType:             "incident",
		Urgency:                 "high",
		AckTargetMinutes:        30,
		ResolutionTargetMinutes: 240,
		WarningThresholdPct:     intPtr(80),
		EscalationLevels: []EscalationLevelInput{
			{Level: 1, AfterMinutes: 0, NotifyRole: "supervisor"},
			{Level: 2, AfterMinutes: 30, NotifyRole: "admin"},
		},
	}
}

func TestCreatePolicy(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	policy, err := s.CreatePolicy(validPolicyInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if policy.Name != "urgent-incidents" {
		t.Errorf("name = %s", policy.Name)
	}
	if policy.WarningThresholdPct != 80 {
		t.Errorf("warning threshold = %d, want 80", policy.WarningThresholdPct)
	}
	if !policy.EscalationEnabled {
		t.Error("escalation should default to enabled")
	}
	if len(policy.EscalationLevels) != 2 {
		t.Fatalf("escalation levels = %d, want 2", len(policy.EscalationLevels))
	}
	if policy.EscalationLevels[0].Level != 1 || policy.EscalationLevels[1].Level != 2 {
		t.Error("escalation levels not ordered by level")
	}
}

func TestCreatePolicy_Validation(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	tests := []struct {
		name   string
		mutate func(*PolicyInput)
		field  string
	}{
		{"missing name", func(in *PolicyInput) { in.Name = "" }, "name"},
		{"zero ack target", func(in *PolicyInput) { in.AckTargetMinutes = 0 }, "acknowledgment_target"},
		{"negative resolution target", func(in *PolicyInput) { in.ResolutionTargetMinutes = -5 }, "resolution_target"},
		{"threshold over 100", func(in *PolicyInput) { in.WarningThresholdPct = intPtr(150) }, "warning_threshold_pct"},
		{"bad timezone", func(in *PolicyInput) { in.Timezone = "Not/AZone" }, "timezone"},
		{"duplicate levels", func(in *PolicyInput) {
			in.EscalationLevels = []EscalationLevelInput{
				{Level: 1, NotifyRole: "admin"},
				{Level: 1, NotifyRole: "supervisor"},
			}
		}, "escalation_levels"},
		{"decreasing delays", func(in *PolicyInput) {
			in.EscalationLevels = []EscalationLevelInput{
				{Level: 1, AfterMinutes: 60, NotifyRole: "supervisor"},
				{Level: 2, AfterMinutes: 30, NotifyRole: "admin"},
			}
		}, "escalation_levels"},
		{"level without recipient", func(in *PolicyInput) {
			in.EscalationLevels = []EscalationLevelInput{{Level: 1}}
		}, "escalation_levels"},
		{"unknown role", func(in *PolicyInput) {
			in.EscalationLevels = []EscalationLevelInput{{Level: 1, NotifyRole: "king"}}
		}, "escalation_levels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validPolicyInput()
			tt.mutate(&in)

			_, err := s.CreatePolicy(in)
			ve, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, found := ve.Fields[tt.field]; !found {
				t.Errorf("expected field %q in %v", tt.field, ve.Fields)
			}
		})
	}
}

func TestUpdatePolicy(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	policy, err := s.CreatePolicy(validPolicyInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := validPolicyInput()
	in.AckTargetMinutes = 15
	in.EscalationEnabled = boolPtr(false)
	in.EscalationLevels = []EscalationLevelInput{
		{Level: 1, AfterMinutes: 0, NotifyRole: "admin"},
	}

	updated, err := s.UpdatePolicy(policy.ID, in)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.AckTargetMinutes != 15 {
		t.Errorf("ack target = %d, want 15", updated.AckTargetMinutes)
	}
	if updated.EscalationEnabled {
		t.Error("escalation_enabled=false was not persisted")
	}
	if len(updated.EscalationLevels) != 1 {
		t.Fatalf("escalation levels = %d, want 1 (ladder replaced)", len(updated.EscalationLevels))
	}
	if updated.EscalationLevels[0].NotifyRole != "admin" {
		t.Errorf("notify role = %s, want admin", updated.EscalationLevels[0].NotifyRole)
	}
}

func TestUpdatePolicy_DefaultStaysWildcard(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	def, err := database.GetDefaultPolicy(db)
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}

	in := validPolicyInput()
	in.Name = database.DefaultPolicyName
	if _, err := s.UpdatePolicy(def.ID, in); err == nil {
		t.Error("expected error adding predicates to the default policy")
	}
}

func TestDeletePolicy_SoftDelete(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	policy, err := s.CreatePolicy(validPolicyInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeletePolicy(policy.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The row survives for audit; it just stops matching.
	stored, err := s.GetPolicy(policy.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if stored.IsActive {
		t.Error("deleted policy should be inactive")
	}
}

func TestDeletePolicy_DefaultRefused(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	def, err := database.GetDefaultPolicy(db)
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	if err := s.DeletePolicy(def.ID); err == nil {
		t.Error("deleting the default policy must be refused")
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	_, err := s.GetPolicy(9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecomputeDeadlines(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	s := NewPolicyService(db, sla.DefaultCalendar())

	policy, err := s.CreatePolicy(validPolicyInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	open := testhelpers.NewTrackedItemBuilder().WithPolicy(policy.ID).Create(t, db)
	resolvedAt := time.Now().UTC()
	closed := testhelpers.NewTrackedItemBuilder().WithPolicy(policy.ID).
		Resolved(resolvedAt).Create(t, db)

	in := validPolicyInput()
	in.ResolutionTargetMinutes = 600
	if _, err := s.UpdatePolicy(policy.ID, in); err != nil {
		t.Fatalf("update: %v", err)
	}

	n, err := s.RecomputeDeadlines(policy.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if n != 1 {
		t.Errorf("recomputed %d items, want 1 (resolved items untouched)", n)
	}

	var reloaded database.TrackedItem
	if err := db.First(&reloaded, open.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := reloaded.CreatedAt.Add(600 * time.Minute)
	if !reloaded.ResolutionDeadline.Equal(want) {
		t.Errorf("resolution deadline = %v, want %v", reloaded.ResolutionDeadline, want)
	}

	var untouched database.TrackedItem
	if err := db.First(&untouched, closed.ID).Error; err != nil {
		t.Fatalf("reload closed: %v", err)
	}
	if !untouched.ResolutionDeadline.Equal(closed.ResolutionDeadline) {
		t.Error("resolved item's deadline must not move")
	}
}
