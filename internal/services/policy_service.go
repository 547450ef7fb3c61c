package services

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"gorm.io/gorm"

	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/sla"
)

// PolicyService manages SLA policies and their escalation ladders.
type PolicyService struct {
	db       *gorm.DB
	defaults sla.Calendar
}

// NewPolicyService creates a policy service. The calendar supplies the
// default weekday set for business-hours deadline recomputation.
func NewPolicyService(db *gorm.DB, defaults sla.Calendar) *PolicyService {
	return &PolicyService{db: db, defaults: defaults}
}

// PolicyInput is the write model for creating or updating a policy.
type PolicyInput struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description"`

	RequestType string `json:"request_type"`
	Sensitivity string `json:"sensitivity"`
	Urgency     string `json:"urgency"`
	Priority    string `json:"priority"`

	AckTargetMinutes        int `json:"acknowledgment_target" validate:"required,gt=0"`
	ResolutionTargetMinutes int `json:"resolution_target" validate:"required,gt=0"`

	BusinessHoursOnly bool   `json:"business_hours_only"`
	Timezone          string `json:"timezone"`
	WorkdayStart      string `json:"workday_start"`
	WorkdayEnd        string `json:"workday_end"`

	WarningThresholdPct  *int                   `json:"warning_threshold_pct"`
	EscalationEnabled    *bool                  `json:"escalation_enabled"`
	NotificationChannels []string               `json:"notification_channels"`
	EscalationLevels     []EscalationLevelInput `json:"escalation_levels"`
}

// EscalationLevelInput is one step of the policy's escalation ladder.
type EscalationLevelInput struct {
	Level        int    `json:"level" validate:"required,gt=0"`
	AfterMinutes int    `json:"after_minutes" validate:"gte=0"`
	NotifyRole   string `json:"notify_role"`
	NotifyUserID *uint  `json:"notify_user_id"`
}

// ListPolicies returns all policies, active first, with their ladders.
func (s *PolicyService) ListPolicies(includeInactive bool) ([]database.SLAPolicy, error) {
	q := s.db.Preload("EscalationLevels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level ASC")
	}).Order("is_active DESC, name ASC")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}

	var policies []database.SLAPolicy
	if err := q.Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// GetPolicy retrieves a policy by ID with its escalation ladder.
func (s *PolicyService) GetPolicy(id uint) (*database.SLAPolicy, error) {
	var policy database.SLAPolicy
	err := s.db.Preload("EscalationLevels", func(db *gorm.DB) *gorm.DB {
		return db.Order("level ASC")
	}).First(&policy, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// CreatePolicy validates and stores a new policy.
func (s *PolicyService) CreatePolicy(in PolicyInput) (*database.SLAPolicy, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	policy := s.fromInput(in)
	policy.IsActive = true

	if err := s.db.Create(policy).Error; err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	log.Printf("Created SLA policy %q (ID: %d)", policy.Name, policy.ID)
	return s.GetPolicy(policy.ID)
}

// UpdatePolicy validates and replaces a policy's fields and ladder.
// Existing items keep their computed deadlines; RecomputeDeadlines applies
// the new targets to open items on demand.
func (s *PolicyService) UpdatePolicy(id uint, in PolicyInput) (*database.SLAPolicy, error) {
	existing, err := s.GetPolicy(id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(in); err != nil {
		return nil, err
	}

	updated := s.fromInput(in)
	updated.ID = existing.ID
	updated.IsActive = existing.IsActive
	updated.IsDefault = existing.IsDefault

	// The default policy must stay a catch-all.
	if existing.IsDefault && updated.Specificity() != 0 {
		return nil, NewValidationError("request_type", "the default policy cannot have match predicates")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("policy_id = ?", id).
			Delete(&database.PolicyEscalationLevel{}).Error; err != nil {
			return err
		}
		// A column map persists false/zero values that a struct update skips.
		cols := map[string]interface{}{
			"name":                      updated.Name,
			"description":               updated.Description,
			"request_type":              updated.RequestType,
			"sensitivity":               updated.Sensitivity,
			"urgency":                   updated.Urgency,
			"priority":                  updated.Priority,
			"ack_target_minutes":        updated.AckTargetMinutes,
			"resolution_target_minutes": updated.ResolutionTargetMinutes,
			"business_hours_only":       updated.BusinessHoursOnly,
			"timezone":                  updated.Timezone,
			"workday_start":             updated.WorkdayStart,
			"workday_end":               updated.WorkdayEnd,
			"warning_threshold_pct":     updated.WarningThresholdPct,
			"escalation_enabled":        updated.EscalationEnabled,
			"notification_channels":     updated.NotificationChannels,
		}
		if err := tx.Model(&database.SLAPolicy{}).Where("id = ?", id).
			Updates(cols).Error; err != nil {
			return err
		}
		for i := range updated.EscalationLevels {
			updated.EscalationLevels[i].PolicyID = id
			if err := tx.Create(&updated.EscalationLevels[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	return s.GetPolicy(id)
}

// DeletePolicy soft-deletes a policy by marking it inactive. The default
// policy cannot be deleted.
func (s *PolicyService) DeletePolicy(id uint) error {
	policy, err := s.GetPolicy(id)
	if err != nil {
		return err
	}
	if policy.IsDefault {
		return NewValidationError("id", "the default policy cannot be deleted")
	}
	if err := s.db.Model(policy).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate policy: %w", err)
	}
	log.Printf("Deactivated SLA policy %q (ID: %d)", policy.Name, policy.ID)
	return nil
}

// RecomputeDeadlines reapplies a policy's targets to its open items. Items
// already resolved keep their historical deadlines.
func (s *PolicyService) RecomputeDeadlines(id uint) (int, error) {
	policy, err := s.GetPolicy(id)
	if err != nil {
		return 0, err
	}

	var items []database.TrackedItem
	if err := s.db.Where("policy_id = ? AND resolved_at IS NULL", id).
		Find(&items).Error; err != nil {
		return 0, err
	}

	updated := 0
	for i := range items {
		item := &items[i]
		deadlines, err := sla.ComputeDeadlines(item.CreatedAt, policy, s.defaults)
		if err != nil {
			return updated, err
		}
		changes := map[string]interface{}{
			"resolution_deadline": deadlines.ResolutionDeadline,
		}
		// An already-acknowledged item keeps its ack deadline for the record.
		if item.AcknowledgedAt == nil {
			changes["ack_deadline"] = deadlines.AckDeadline
		}
		if err := s.db.Model(item).Updates(changes).Error; err != nil {
			return updated, err
		}
		updated++
	}

	log.Printf("Recomputed deadlines for %d open items under policy %d", updated, id)
	return updated, nil
}

func (s *PolicyService) fromInput(in PolicyInput) *database.SLAPolicy {
	policy := &database.SLAPolicy{
		Name:                    in.Name,
		Description:             in.Description,
		RequestType:             in.RequestType,
		Sensitivity:             in.Sensitivity,
		Urgency:                 in.Urgency,
		Priority:                in.Priority,
		AckTargetMinutes:        in.AckTargetMinutes,
		ResolutionTargetMinutes: in.ResolutionTargetMinutes,
		BusinessHoursOnly:       in.BusinessHoursOnly,
		Timezone:                in.Timezone,
		WorkdayStart:            in.WorkdayStart,
		WorkdayEnd:              in.WorkdayEnd,
		WarningThresholdPct:     75,
		EscalationEnabled:       true,
		NotificationChannels:    in.NotificationChannels,
	}
	if policy.Timezone == "" {
		policy.Timezone = "UTC"
	}
	if policy.WorkdayStart == "" {
		policy.WorkdayStart = "08:00"
	}
	if policy.WorkdayEnd == "" {
		policy.WorkdayEnd = "17:00"
	}
	if in.WarningThresholdPct != nil {
		policy.WarningThresholdPct = *in.WarningThresholdPct
	}
	if in.EscalationEnabled != nil {
		policy.EscalationEnabled = *in.EscalationEnabled
	}
	for _, lvl := range in.EscalationLevels {
		policy.EscalationLevels = append(policy.EscalationLevels, database.PolicyEscalationLevel{
			Level:        lvl.Level,
			AfterMinutes: lvl.AfterMinutes,
			NotifyRole:   lvl.NotifyRole,
			NotifyUserID: lvl.NotifyUserID,
		})
	}
	return policy
}

// validate checks the semantic constraints the struct tags cannot express.
func (s *PolicyService) validate(in PolicyInput) error {
	fields := map[string]string{}

	if in.Name == "" {
		fields["name"] = "name is required"
	}
	if in.AckTargetMinutes <= 0 {
		fields["acknowledgment_target"] = "must be a positive number of minutes"
	}
	if in.ResolutionTargetMinutes <= 0 {
		fields["resolution_target"] = "must be a positive number of minutes"
	}
	if in.WarningThresholdPct != nil && (*in.WarningThresholdPct < 0 || *in.WarningThresholdPct > 100) {
		fields["warning_threshold_pct"] = "must be between 0 and 100"
	}

	if _, err := sla.NewCalendar(in.Timezone, in.WorkdayStart, in.WorkdayEnd, nil); err != nil {
		fields["timezone"] = err.Error()
	}

	if err := validateLadder(in.EscalationLevels); err != nil {
		fields["escalation_levels"] = err.Error()
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// validateLadder enforces unique ascending levels with non-decreasing
// delays, each naming either a role or a specific user.
func validateLadder(levels []EscalationLevelInput) error {
	if len(levels) == 0 {
		return nil
	}

	sorted := make([]EscalationLevelInput, len(levels))
	copy(sorted, levels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	prevLevel := 0
	prevDelay := -1
	for _, lvl := range sorted {
		if lvl.Level <= 0 {
			return fmt.Errorf("level numbers must be positive")
		}
		if lvl.Level == prevLevel {
			return fmt.Errorf("duplicate level %d", lvl.Level)
		}
		if lvl.AfterMinutes < 0 {
			return fmt.Errorf("level %d: after_minutes must not be negative", lvl.Level)
		}
		if lvl.AfterMinutes < prevDelay {
			return fmt.Errorf("level %d: delays must not decrease across levels", lvl.Level)
		}
		if lvl.NotifyRole == "" && lvl.NotifyUserID == nil {
			return fmt.Errorf("level %d: a notify role or user is required", lvl.Level)
		}
		if lvl.NotifyRole != "" && !database.IsValidUserRole(lvl.NotifyRole) {
			return fmt.Errorf("level %d: unknown role %q", lvl.Level, lvl.NotifyRole)
		}
		prevLevel = lvl.Level
		prevDelay = lvl.AfterMinutes
	}
	return nil
}
