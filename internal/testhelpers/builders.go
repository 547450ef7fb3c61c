// Package testhelpers provides data builders and database setup for tests
package testhelpers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/slaguard/slaguard/internal/database"
)

// SetupTestDB opens an in-memory database, runs migrations and seeds the
// guaranteed default policy.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// An in-memory database exists per connection; pin the pool to one so
	// concurrent test goroutines share the same data.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	if err := database.EnsureDefaultPolicy(db); err != nil {
		t.Fatalf("failed to create default policy: %v", err)
	}
	return db
}

// ========================================
// Policy Builder
// ========================================

// PolicyBuilder builds SLAPolicy instances for testing
type PolicyBuilder struct {
	policy database.SLAPolicy
}

// NewPolicyBuilder creates a policy builder with sane defaults
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{
		policy: database.SLAPolicy{
			Name:                    "test-policy",
			AckTargetMinutes:        60,
			ResolutionTargetMinutes: 480,
			WarningThresholdPct:     75,
			EscalationEnabled:       true,
			Timezone:                "UTC",
			WorkdayStart:            "08:00",
			WorkdayEnd:              "17:00",
			IsActive:                true,
		},
	}
}

// WithName sets the policy name
func (b *PolicyBuilder) WithName(name string) *PolicyBuilder {
	b.policy.Name = name
	return b
}

// WithPredicates sets the match predicates
func (b *PolicyBuilder) WithPredicates(requestType, sensitivity, urgency, priority string) *PolicyBuilder {
	b.policy.RequestType = requestType
	b.policy.Sensitivity = sensitivity
	b.policy.Urgency = urgency
	b.policy.Priority = priority
	return b
}

// WithTargets sets the acknowledgment and resolution targets in minutes
func (b *PolicyBuilder) WithTargets(ack, resolution int) *PolicyBuilder {
	b.policy.AckTargetMinutes = ack
	b.policy.ResolutionTargetMinutes = resolution
	return b
}

// WithBusinessHours enables the business-hours clock
func (b *PolicyBuilder) WithBusinessHours() *PolicyBuilder {
	b.policy.BusinessHoursOnly = true
	return b
}

// WithWarningThreshold sets the at_risk warning threshold
func (b *PolicyBuilder) WithWarningThreshold(pct int) *PolicyBuilder {
	b.policy.WarningThresholdPct = pct
	return b
}

// EscalationDisabled turns off escalation beyond level 1
func (b *PolicyBuilder) EscalationDisabled() *PolicyBuilder {
	b.policy.EscalationEnabled = false
	return b
}

// WithLevel appends one escalation ladder step
func (b *PolicyBuilder) WithLevel(level, afterMinutes int, role string) *PolicyBuilder {
	b.policy.EscalationLevels = append(b.policy.EscalationLevels, database.PolicyEscalationLevel{
		Level:        level,
		AfterMinutes: afterMinutes,
		NotifyRole:   role,
	})
	return b
}

// WithChannels sets the notification channels
func (b *PolicyBuilder) WithChannels(channels ...string) *PolicyBuilder {
	b.policy.NotificationChannels = channels
	return b
}

// Build returns the constructed policy
func (b *PolicyBuilder) Build() database.SLAPolicy {
	return b.policy
}

// Create stores the policy and returns it
func (b *PolicyBuilder) Create(t *testing.T, db *gorm.DB) *database.SLAPolicy {
	t.Helper()
	policy := b.Build()
	if err := db.Create(&policy).Error; err != nil {
		t.Fatalf("failed to create policy %s: %v", policy.Name, err)
	}
	return &policy
}

// ========================================
// Tracked Item Builder
// ========================================

// TrackedItemBuilder builds TrackedItem instances for testing
type TrackedItemBuilder struct {
	item database.TrackedItem
}

// NewTrackedItemBuilder creates an item builder with defaults: a ticket
// created now with deadlines one and eight hours out.
func NewTrackedItemBuilder() *TrackedItemBuilder {
	now := time.Now().UTC()
	return &TrackedItemBuilder{
		item: database.TrackedItem{
			UUID:               uuid.NewString(),
			ItemType:           database.ItemTypeTicket,
			Title:              "test item",
			AckDeadline:        now.Add(time.Hour),
			ResolutionDeadline: now.Add(8 * time.Hour),
		},
	}
}

// WithType sets the item type
func (b *TrackedItemBuilder) WithType(itemType database.ItemType) *TrackedItemBuilder {
	b.item.ItemType = itemType
	return b
}

// WithTitle sets the title
func (b *TrackedItemBuilder) WithTitle(title string) *TrackedItemBuilder {
	b.item.Title = title
	return b
}

// WithPolicy binds the item to a policy
func (b *TrackedItemBuilder) WithPolicy(policyID uint) *TrackedItemBuilder {
	b.item.PolicyID = policyID
	return b
}

// WithAssignee sets the assignee
func (b *TrackedItemBuilder) WithAssignee(userID uint) *TrackedItemBuilder {
	b.item.AssigneeID = &userID
	return b
}

// WithDeadlines sets both deadlines
func (b *TrackedItemBuilder) WithDeadlines(ack, resolution time.Time) *TrackedItemBuilder {
	b.item.AckDeadline = ack
	b.item.ResolutionDeadline = resolution
	return b
}

// Acknowledged marks the item acknowledged at the given time
func (b *TrackedItemBuilder) Acknowledged(at time.Time) *TrackedItemBuilder {
	b.item.AcknowledgedAt = &at
	return b
}

// Resolved marks the item resolved at the given time
func (b *TrackedItemBuilder) Resolved(at time.Time) *TrackedItemBuilder {
	b.item.ResolvedAt = &at
	return b
}

// Build returns the constructed item
func (b *TrackedItemBuilder) Build() database.TrackedItem {
	return b.item
}

// Create stores the item and returns it
func (b *TrackedItemBuilder) Create(t *testing.T, db *gorm.DB) *database.TrackedItem {
	t.Helper()
	item := b.Build()
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("failed to create item %s: %v", item.UUID, err)
	}
	return &item
}

// ========================================
// User Builder
// ========================================

// UserBuilder builds User instances for testing
type UserBuilder struct {
	user database.User
}

// NewUserBuilder creates a user builder with agent defaults
func NewUserBuilder(username string) *UserBuilder {
	return &UserBuilder{
		user: database.User{
			Username:     username,
			PasswordHash: "x",
			Role:         database.UserRoleAgent,
			IsActive:     true,
		},
	}
}

// WithRole sets the role
func (b *UserBuilder) WithRole(role database.UserRole) *UserBuilder {
	b.user.Role = role
	return b
}

// WithSlackID sets the Slack member ID
func (b *UserBuilder) WithSlackID(id string) *UserBuilder {
	b.user.SlackUserID = id
	return b
}

// Inactive marks the user inactive
func (b *UserBuilder) Inactive() *UserBuilder {
	b.user.IsActive = false
	return b
}

// Create stores the user and returns it
func (b *UserBuilder) Create(t *testing.T, db *gorm.DB) *database.User {
	t.Helper()
	user := b.user
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", user.Username, err)
	}
	return &user
}
