package database

import (
	"time"

	"gorm.io/gorm"
)

// ItemType identifies the kind of work item under SLA. The engine does not
// own the item's primary lifecycle; it only tracks the fields needed to
// evaluate SLA state.
type ItemType string

const (
	ItemTypeTicket     ItemType = "ticket"
	ItemTypeTask       ItemType = "task"
	ItemTypeCommitment ItemType = "commitment"
)

// IsValidItemType returns true if s is a known item type
func IsValidItemType(s string) bool {
	switch ItemType(s) {
	case ItemTypeTicket, ItemTypeTask, ItemTypeCommitment:
		return true
	}
	return false
}

// TargetType identifies which commitment a deadline or breach refers to
type TargetType string

const (
	TargetAcknowledgment TargetType = "acknowledgment"
	TargetResolution     TargetType = "resolution"
)

// SLAState is the classification of an item against one of its targets
type SLAState string

const (
	SLAStateOnTrack  SLAState = "on_track"
	SLAStateAtRisk   SLAState = "at_risk"
	SLAStateBreached SLAState = "breached"
)

// TrackedItem is a work item with SLA deadlines attached. Deadlines are
// immutable once computed unless the item's matching attributes change or
// an administrator triggers a recompute.
type TrackedItem struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	UUID     string   `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	ItemType ItemType `gorm:"type:varchar(32);not null;index" json:"item_type"`
	Title    string   `gorm:"size:255" json:"title"`

	// Attributes used for policy matching.
	RequestType string `gorm:"size:64;index" json:"request_type"`
	Sensitivity string `gorm:"size:64" json:"sensitivity"`
	Urgency     string `gorm:"size:64" json:"urgency"`
	Priority    string `gorm:"size:64" json:"priority"`
	AssigneeID  *uint  `gorm:"index" json:"assignee_id,omitempty"`

	// Opaque payload from the source system, stored as-is.
	Metadata JSONB `gorm:"type:jsonb" json:"metadata,omitempty"`

	// Computed deadlines and the policy that produced them.
	PolicyID           uint      `gorm:"not null;index" json:"policy_id"`
	AckDeadline        time.Time `gorm:"not null" json:"ack_deadline"`
	ResolutionDeadline time.Time `gorm:"not null" json:"resolution_deadline"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Policy   SLAPolicy `gorm:"foreignKey:PolicyID" json:"policy,omitempty"`
	Assignee *User     `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
}

func (TrackedItem) TableName() string {
	return "tracked_items"
}

// TargetSatisfied reports whether the action for the given target has
// already happened (acknowledged/resolved).
func (t *TrackedItem) TargetSatisfied(target TargetType) bool {
	if target == TargetAcknowledgment {
		return t.AcknowledgedAt != nil
	}
	return t.ResolvedAt != nil
}

// Deadline returns the stored deadline for the given target type.
func (t *TrackedItem) Deadline(target TargetType) time.Time {
	if target == TargetAcknowledgment {
		return t.AckDeadline
	}
	return t.ResolutionDeadline
}

// BreachStatus is the lifecycle of a breach chain. The chain is terminal
// once acknowledged or resolved; no further escalation levels fire.
type BreachStatus string

const (
	BreachStatusActive       BreachStatus = "active"
	BreachStatusAcknowledged BreachStatus = "acknowledged"
	BreachStatusResolved     BreachStatus = "resolved"
)

// BreachEvent records the first time a target deadline was crossed for an
// item. The unique index on (item_id, target_type) is the concurrency
// anchor: duplicate detector sweeps racing to create the same breach
// observe the constraint and treat the losing insert as a no-op.
type BreachEvent struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ItemID     uint       `gorm:"not null;uniqueIndex:idx_item_target" json:"item_id"`
	TargetType TargetType `gorm:"type:varchar(32);not null;uniqueIndex:idx_item_target" json:"target_type"`
	PolicyID   uint       `gorm:"not null;index" json:"policy_id"`
	BreachedAt time.Time  `gorm:"not null" json:"breached_at"`

	Status              BreachStatus `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	AcknowledgedAt      *time.Time   `json:"acknowledged_at,omitempty"`
	AcknowledgedBy      *uint        `json:"acknowledged_by,omitempty"`
	AcknowledgmentNotes string       `gorm:"type:text" json:"acknowledgment_notes,omitempty"`
	ResolvedAt          *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy          *uint        `json:"resolved_by,omitempty"`
	ResolutionNotes     string       `gorm:"type:text" json:"resolution_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Item TrackedItem `gorm:"foreignKey:ItemID" json:"item,omitempty"`
}

func (BreachEvent) TableName() string {
	return "breach_events"
}

// Terminal reports whether the breach chain has been acknowledged or resolved
func (b *BreachEvent) Terminal() bool {
	return b.Status != BreachStatusActive
}

// DeliveryStatus tracks the delivery of an escalation notification
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusNotified DeliveryStatus = "notified"
	DeliveryStatusFailed   DeliveryStatus = "failed"
)

// EscalationEvent records one fired escalation level. At most one exists
// per (breach, level); a failed delivery is retried by updating the same
// row on the next scheduling pass, never by inserting a second one.
// Events are never deleted: they are the audit trail.
type EscalationEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	BreachEventID  uint           `gorm:"not null;uniqueIndex:idx_breach_level" json:"breach_event_id"`
	Level          int            `gorm:"not null;uniqueIndex:idx_breach_level" json:"level"`
	NotifyRole     string         `gorm:"size:32" json:"notify_role"`
	NotifyUserID   *uint          `json:"notify_user_id,omitempty"`
	DeliveryStatus DeliveryStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"delivery_status"`
	NotifiedAt     *time.Time     `json:"notified_at,omitempty"`
	DeliveryError  string         `gorm:"type:text" json:"delivery_error,omitempty"`

	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy      *uint      `json:"acknowledged_by,omitempty"`
	AcknowledgmentNotes string     `gorm:"type:text" json:"acknowledgment_notes,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy          *uint      `json:"resolved_by,omitempty"`
	ResolutionNotes     string     `gorm:"type:text" json:"resolution_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	BreachEvent BreachEvent `gorm:"foreignKey:BreachEventID" json:"breach_event,omitempty"`
}

func (EscalationEvent) TableName() string {
	return "escalation_events"
}

// ScheduleStatus is the lifecycle of a pending escalation fire
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusFired     ScheduleStatus = "fired"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// EscalationSchedule is one pending escalation fire, scanned by the
// recurring sweep. Keeping the schedule in a table rather than in-process
// timers means escalation state survives process restarts. Acknowledge and
// resolve mark future rows cancelled instead of deleting them.
type EscalationSchedule struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	BreachEventID uint           `gorm:"not null;uniqueIndex:idx_sched_breach_level" json:"breach_event_id"`
	Level         int            `gorm:"not null;uniqueIndex:idx_sched_breach_level" json:"level"`
	FireAt        time.Time      `gorm:"not null;index" json:"fire_at"`
	Status        ScheduleStatus `gorm:"type:varchar(32);not null;default:'scheduled';index" json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (EscalationSchedule) TableName() string {
	return "escalation_schedules"
}

// BeforeCreate defaults FireAt to now for immediate levels
func (s *EscalationSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.FireAt.IsZero() {
		s.FireAt = time.Now()
	}
	return nil
}
