package database

import (
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Connect establishes a connection to the PostgreSQL database
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established")
	return nil
}

// AutoMigrate runs database migrations
func AutoMigrate() error {
	return Migrate(DB)
}

// Migrate runs migrations against the given db. Accepts a db parameter so
// tests can migrate their own in-memory databases.
func Migrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
		&User{},
		&SLAPolicy{},
		&PolicyEscalationLevel{},
		&TrackedItem{},
		&BreachEvent{},
		&EscalationEvent{},
		&EscalationSchedule{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// DefaultPolicyName is the name of the guaranteed all-wildcard policy
const DefaultPolicyName = "default"

// InitializeDefaults creates default records if they don't exist. The
// all-wildcard default policy is a startup requirement: resolution falls
// back to it whenever no specific policy matches, so its absence is a fatal
// configuration error surfaced here, not at resolution time.
func InitializeDefaults(adminUsername, adminPasswordHash string) error {
	log.Println("Initializing default database records...")

	if err := EnsureDefaultPolicy(DB); err != nil {
		return err
	}

	// Create the admin user if it doesn't exist
	var count int64
	DB.Model(&User{}).Where("username = ?", adminUsername).Count(&count)
	if count == 0 {
		admin := &User{
			Username:     adminUsername,
			PasswordHash: adminPasswordHash,
			Role:         UserRoleAdmin,
			IsActive:     true,
		}
		if err := DB.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		log.Printf("Created admin user: %s", adminUsername)
	}

	return nil
}

// EnsureDefaultPolicy creates the all-wildcard default policy if missing.
func EnsureDefaultPolicy(db *gorm.DB) error {
	var existing SLAPolicy
	err := db.Where("is_default = ?", true).First(&existing).Error
	if err == nil {
		if !existing.IsActive {
			// The default must stay active; reactivate a soft-deleted default.
			if err := db.Model(&existing).Update("is_active", true).Error; err != nil {
				return fmt.Errorf("failed to reactivate default policy: %w", err)
			}
			log.Println("Reactivated default SLA policy")
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to look up default policy: %w", err)
	}

	def := &SLAPolicy{
		Name:                    DefaultPolicyName,
		Description:             "System default policy applied when no other policy matches",
		AckTargetMinutes:        240,
		ResolutionTargetMinutes: 1440,
		WarningThresholdPct:     75,
		EscalationEnabled:       true,
		Timezone:                "UTC",
		WorkdayStart:            "08:00",
		WorkdayEnd:              "17:00",
		IsActive:                true,
		IsDefault:               true,
		EscalationLevels: []PolicyEscalationLevel{
			{Level: 1, AfterMinutes: 0, NotifyRole: string(UserRoleSupervisor)},
		},
	}
	if err := db.Create(def).Error; err != nil {
		return fmt.Errorf("failed to create default policy: %w", err)
	}
	log.Printf("Created default SLA policy (ID: %d)", def.ID)
	return nil
}

// GetDefaultPolicy returns the guaranteed default policy.
func GetDefaultPolicy(db *gorm.DB) (*SLAPolicy, error) {
	var policy SLAPolicy
	if err := db.Preload("EscalationLevels").
		Where("is_default = ? AND is_active = ?", true, true).
		First(&policy).Error; err != nil {
		return nil, fmt.Errorf("default SLA policy missing: %w", err)
	}
	return &policy, nil
}

// ActivePolicies returns all active policies with their escalation levels.
func ActivePolicies(db *gorm.DB) ([]SLAPolicy, error) {
	var policies []SLAPolicy
	if err := db.Preload("EscalationLevels").
		Where("is_active = ?", true).
		Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// GetUserByUsername returns an active user by username.
func GetUserByUsername(db *gorm.DB, username string) (*User, error) {
	var user User
	if err := db.Where("username = ? AND is_active = ?", username, true).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UsersByRole returns all active users holding the given role. Membership
// is resolved at call time, not at policy-authoring time.
func UsersByRole(db *gorm.DB, role string) ([]User, error) {
	var users []User
	if err := db.Where("role = ? AND is_active = ?", role, true).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword checks if the provided password matches the hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
