package database

import (
	"time"
)

// Wildcard is the predicate value that matches any item attribute.
// Stored as the empty string so unset columns behave as wildcards.
const Wildcard = ""

// SLAPolicy is a named rule set that attaches time-bound commitments to
// tracked items. Match predicates are either a concrete value or the
// wildcard; the resolver picks the most specific active policy.
type SLAPolicy struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// Match predicates. Empty string matches anything.
	RequestType string `gorm:"size:64;index" json:"request_type"`
	Sensitivity string `gorm:"size:64" json:"sensitivity"`
	Urgency     string `gorm:"size:64" json:"urgency"`
	Priority    string `gorm:"size:64" json:"priority"`

	// Targets, in minutes.
	AckTargetMinutes        int `gorm:"not null" json:"acknowledgment_target"`
	ResolutionTargetMinutes int `gorm:"not null" json:"resolution_target"`

	// Business-hours clock. When BusinessHoursOnly is set, target minutes
	// are consumed only inside the workday window in the policy's timezone.
	BusinessHoursOnly bool   `gorm:"not null" json:"business_hours_only"`
	Timezone          string `gorm:"size:64;default:'UTC'" json:"timezone"`
	WorkdayStart      string `gorm:"size:5;default:'08:00'" json:"workday_start"`
	WorkdayEnd        string `gorm:"size:5;default:'17:00'" json:"workday_end"`

	// Fraction of the target (0-100) at which an item becomes at_risk.
	WarningThresholdPct int `gorm:"default:75" json:"warning_threshold_pct"`

	// Bool columns carry no database default: a default would swallow an
	// explicit false on insert, since gorm omits zero values then.
	EscalationEnabled    bool       `gorm:"not null" json:"escalation_enabled"`
	NotificationChannels StringList `gorm:"type:text" json:"notification_channels"`
	IsActive             bool       `gorm:"not null;index" json:"is_active"`
	IsDefault            bool       `gorm:"not null" json:"is_default"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	EscalationLevels []PolicyEscalationLevel `gorm:"foreignKey:PolicyID" json:"escalation_levels,omitempty"`
}

func (SLAPolicy) TableName() string {
	return "sla_policies"
}

// TargetMinutes returns the target for the given target type.
func (p *SLAPolicy) TargetMinutes(target TargetType) int {
	if target == TargetAcknowledgment {
		return p.AckTargetMinutes
	}
	return p.ResolutionTargetMinutes
}

// Specificity counts the non-wildcard predicates of the policy.
func (p *SLAPolicy) Specificity() int {
	n := 0
	for _, v := range []string{p.RequestType, p.Sensitivity, p.Urgency, p.Priority} {
		if v != Wildcard {
			n++
		}
	}
	return n
}

// PolicyEscalationLevel is one step in a policy's notification ladder,
// fired AfterMinutes past the breach instant. Levels are unique per policy
// and sorted ascending by AfterMinutes.
type PolicyEscalationLevel struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PolicyID     uint      `gorm:"not null;uniqueIndex:idx_policy_level" json:"policy_id"`
	Level        int       `gorm:"not null;uniqueIndex:idx_policy_level" json:"level"`
	AfterMinutes int       `gorm:"not null" json:"after_minutes"`
	NotifyRole   string    `gorm:"size:32" json:"notify_role"`
	NotifyUserID *uint     `json:"notify_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (PolicyEscalationLevel) TableName() string {
	return "policy_escalation_levels"
}
