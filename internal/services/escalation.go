package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slaguard/slaguard/internal/breaker"
	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/notify"
	"github.com/slaguard/slaguard/internal/utils"
)

// DefaultDispatchTimeout bounds one notification delivery attempt.
const DefaultDispatchTimeout = 10 * time.Second

// EscalationEngine fires due escalation schedules and handles the
// acknowledge/resolve commands that terminate a breach chain. Delivery
// goes through a circuit breaker; when the primary transport's circuit is
// open the fallback (process log) still records the notice.
type EscalationEngine struct {
	db         *gorm.DB
	dispatcher notify.Dispatcher
	fallback   notify.Dispatcher
	circuit    *breaker.Breaker

	DispatchTimeout time.Duration

	now func() time.Time // test hook
}

// NewEscalationEngine creates the engine. fallback may be nil when no
// degraded-mode transport is wanted.
func NewEscalationEngine(db *gorm.DB, dispatcher, fallback notify.Dispatcher, circuit *breaker.Breaker) *EscalationEngine {
	return &EscalationEngine{
		db:              db,
		dispatcher:      dispatcher,
		fallback:        fallback,
		circuit:         circuit,
		DispatchTimeout: DefaultDispatchTimeout,
		now:             time.Now,
	}
}

// FireSummary reports the outcome of one escalation pass.
type FireSummary struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Fallback  int `json:"fallback"`
}

// FireDue processes every schedule row whose fire time has passed. A
// terminated chain cancels its remaining rows; a delivery failure leaves
// the row scheduled so the next pass retries it.
func (e *EscalationEngine) FireDue(ctx context.Context) (FireSummary, error) {
	var summary FireSummary

	var due []database.EscalationSchedule
	err := e.db.Where("status = ? AND fire_at <= ?", database.ScheduleStatusScheduled, e.now().UTC()).
		Order("fire_at ASC").
		Find(&due).Error
	if err != nil {
		return summary, err
	}

	for i := range due {
		sched := &due[i]
		summary.Due++

		outcome, err := e.fireOne(ctx, sched)
		if err != nil {
			log.Printf("FireDue: schedule %d (breach %d level %d): %v",
				sched.ID, sched.BreachEventID, sched.Level, err)
			summary.Failed++
			continue
		}
		switch outcome {
		case fireDelivered:
			summary.Delivered++
		case fireFallback:
			summary.Delivered++
			summary.Fallback++
		case fireCancelled:
			summary.Cancelled++
		}
	}

	return summary, nil
}

type fireOutcome int

const (
	fireDelivered fireOutcome = iota
	fireFallback
	fireCancelled
	fireClaimed
	fireSkipped
)

func (e *EscalationEngine) fireOne(ctx context.Context, sched *database.EscalationSchedule) (fireOutcome, error) {
	var breach database.BreachEvent
	if err := e.db.Preload("Item.Policy").First(&breach, sched.BreachEventID).Error; err != nil {
		return fireSkipped, fmt.Errorf("failed to load breach: %w", err)
	}

	// A terminated chain never fires further levels.
	if breach.Terminal() {
		if err := e.db.Model(sched).Update("status", database.ScheduleStatusCancelled).Error; err != nil {
			return fireSkipped, err
		}
		return fireCancelled, nil
	}

	// Claim the row before dispatching. Overlapping passes race on this
	// conditional update; the losing pass sees zero rows and treats the
	// level as already handled, so a level never delivers twice.
	claim := e.db.Model(&database.EscalationSchedule{}).
		Where("id = ? AND status = ?", sched.ID, database.ScheduleStatusScheduled).
		Update("status", database.ScheduleStatusFired)
	if claim.Error != nil {
		return fireSkipped, claim.Error
	}
	if claim.RowsAffected == 0 {
		return fireClaimed, nil
	}

	var ladder database.PolicyEscalationLevel
	err := e.db.Where("policy_id = ? AND level = ?", breach.PolicyID, sched.Level).First(&ladder).Error
	if err != nil {
		return fireSkipped, e.releaseClaim(sched, fmt.Errorf("failed to load ladder level %d: %w", sched.Level, err))
	}

	event, err := e.upsertEvent(&breach, &ladder)
	if err != nil {
		return fireSkipped, e.releaseClaim(sched, err)
	}
	if event.DeliveryStatus == database.DeliveryStatusNotified {
		// Delivered by an earlier pass; the claim already settled the row.
		return fireDelivered, nil
	}

	notification, err := e.buildNotification(&breach, &ladder)
	if err != nil {
		return fireSkipped, e.releaseClaim(sched, err)
	}

	usedFallback, deliverErr := e.deliver(ctx, notification)
	now := e.now().UTC()

	if deliverErr != nil {
		// Release the claim: the next pass retries delivery against the
		// same event row.
		updates := map[string]interface{}{
			"delivery_status": database.DeliveryStatusFailed,
			"delivery_error":  deliverErr.Error(),
		}
		if err := e.db.Model(event).Updates(updates).Error; err != nil {
			return fireSkipped, err
		}
		return fireSkipped, e.releaseClaim(sched, fmt.Errorf("delivery failed: %w", deliverErr))
	}

	updates := map[string]interface{}{
		"delivery_status": database.DeliveryStatusNotified,
		"notified_at":     now,
		"delivery_error":  "",
	}
	if err := e.db.Model(event).Updates(updates).Error; err != nil {
		return fireSkipped, err
	}

	log.Printf("Escalation fired: breach %d level %d -> %s (fallback=%v)",
		breach.ID, sched.Level, e.dispatcher.Name(), usedFallback)
	if usedFallback {
		return fireFallback, nil
	}
	return fireDelivered, nil
}

// releaseClaim puts a claimed schedule row back to scheduled so a later
// pass retries it, then returns cause.
func (e *EscalationEngine) releaseClaim(sched *database.EscalationSchedule, cause error) error {
	if err := e.db.Model(sched).Update("status", database.ScheduleStatusScheduled).Error; err != nil {
		return fmt.Errorf("%v (failed to release schedule claim: %w)", cause, err)
	}
	return cause
}

// upsertEvent returns the one event row for (breach, level), creating a
// pending one when none exists. Retries update this row instead of
// inserting duplicates.
func (e *EscalationEngine) upsertEvent(breach *database.BreachEvent, ladder *database.PolicyEscalationLevel) (*database.EscalationEvent, error) {
	event := &database.EscalationEvent{
		BreachEventID:  breach.ID,
		Level:          ladder.Level,
		NotifyRole:     ladder.NotifyRole,
		NotifyUserID:   ladder.NotifyUserID,
		DeliveryStatus: database.DeliveryStatusPending,
	}
	err := e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "breach_event_id"}, {Name: "level"}},
		DoNothing: true,
	}).Create(event).Error
	if err != nil {
		return nil, err
	}

	var stored database.EscalationEvent
	err = e.db.Where("breach_event_id = ? AND level = ?", breach.ID, ladder.Level).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// buildNotification resolves recipients at fire time so role membership
// changes between breach and escalation are honored.
func (e *EscalationEngine) buildNotification(breach *database.BreachEvent, ladder *database.PolicyEscalationLevel) (notify.Notification, error) {
	var recipients []database.User
	if ladder.NotifyUserID != nil {
		var user database.User
		if err := e.db.First(&user, *ladder.NotifyUserID).Error; err == nil && user.IsActive {
			recipients = append(recipients, user)
		}
	} else if ladder.NotifyRole != "" {
		users, err := database.UsersByRole(e.db, ladder.NotifyRole)
		if err != nil {
			return notify.Notification{}, err
		}
		recipients = users
	}

	n := notify.Notification{
		ItemUUID:   breach.Item.UUID,
		ItemTitle:  breach.Item.Title,
		ItemType:   string(breach.Item.ItemType),
		TargetType: string(breach.TargetType),
		Level:      ladder.Level,
		Role:       ladder.NotifyRole,
		Channels:   breach.Item.Policy.NotificationChannels,
		Target:     utils.FormatMinutes(breach.Item.Policy.TargetMinutes(breach.TargetType)),
		BreachedAt: breach.BreachedAt,
		Deadline:   breach.Item.Deadline(breach.TargetType),
	}
	for _, u := range recipients {
		n.RecipientNames = append(n.RecipientNames, u.Username)
		if u.SlackUserID != "" {
			n.RecipientSlackIDs = append(n.RecipientSlackIDs, u.SlackUserID)
		}
	}
	return n, nil
}

// deliver sends through the circuit breaker with a bounded timeout.
func (e *EscalationEngine) deliver(ctx context.Context, n notify.Notification) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.DispatchTimeout)
	defer cancel()

	primary := func(ctx context.Context) error {
		return e.dispatcher.Send(ctx, n)
	}
	var fallback func(context.Context) error
	if e.fallback != nil {
		fallback = func(ctx context.Context) error {
			return e.fallback.Send(ctx, n)
		}
	}
	return e.circuit.Do(ctx, primary, fallback)
}

// ========== Chain commands ==========

// Acknowledge terminates the escalation chain behind the given escalation
// event: the breach is marked acknowledged, pending schedule rows are
// cancelled and the item's acknowledgment is recorded. Notes are optional.
// Acknowledging an already-acknowledged chain is a no-op; a resolved chain
// is a conflict.
func (e *EscalationEngine) Acknowledge(eventID, userID uint, notes string) (*database.EscalationEvent, error) {
	event, breach, err := e.loadChain(eventID)
	if err != nil {
		return nil, err
	}

	switch breach.Status {
	case database.BreachStatusAcknowledged:
		return event, nil
	case database.BreachStatusResolved:
		return nil, fmt.Errorf("%w: escalation chain is already resolved", ErrConflict)
	}

	notes = utils.SanitizeNotes(notes)

	now := e.now().UTC()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(breach).Updates(map[string]interface{}{
			"status":               database.BreachStatusAcknowledged,
			"acknowledged_at":      now,
			"acknowledged_by":      userID,
			"acknowledgment_notes": notes,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(event).Updates(map[string]interface{}{
			"acknowledged_at":      now,
			"acknowledged_by":      userID,
			"acknowledgment_notes": notes,
		}).Error; err != nil {
			return err
		}
		if err := e.cancelPending(tx, breach.ID); err != nil {
			return err
		}
		// The chain command doubles as the item acknowledgment.
		return tx.Model(&database.TrackedItem{}).
			Where("id = ? AND acknowledged_at IS NULL", breach.ItemID).
			Update("acknowledged_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Escalation chain %d acknowledged by user %d", breach.ID, userID)
	return e.getEvent(eventID)
}

// Resolve terminates the escalation chain and records resolution notes.
// Notes are required. Resolving an already-resolved chain is a no-op that
// keeps the original notes.
func (e *EscalationEngine) Resolve(eventID, userID uint, notes string) (*database.EscalationEvent, error) {
	event, breach, err := e.loadChain(eventID)
	if err != nil {
		return nil, err
	}

	if breach.Status == database.BreachStatusResolved {
		return event, nil
	}

	notes = utils.SanitizeNotes(notes)
	if notes == "" {
		return nil, NewValidationError("notes", "resolution notes are required")
	}

	now := e.now().UTC()
	err = e.db.Transaction(func(tx *gorm.DB) error {
		breachUpdates := map[string]interface{}{
			"status":           database.BreachStatusResolved,
			"resolved_at":      now,
			"resolved_by":      userID,
			"resolution_notes": notes,
		}
		if breach.AcknowledgedAt == nil {
			breachUpdates["acknowledged_at"] = now
			breachUpdates["acknowledged_by"] = userID
		}
		if err := tx.Model(breach).Updates(breachUpdates).Error; err != nil {
			return err
		}
		if err := tx.Model(event).Updates(map[string]interface{}{
			"resolved_at":      now,
			"resolved_by":      userID,
			"resolution_notes": notes,
		}).Error; err != nil {
			return err
		}
		if err := e.cancelPending(tx, breach.ID); err != nil {
			return err
		}
		itemUpdates := map[string]interface{}{"resolved_at": now}
		return tx.Model(&database.TrackedItem{}).
			Where("id = ? AND resolved_at IS NULL", breach.ItemID).
			Updates(itemUpdates).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Escalation chain %d resolved by user %d", breach.ID, userID)
	return e.getEvent(eventID)
}

// ListEscalations returns escalation events, newest first. The status
// filter accepts a delivery status (pending, notified, failed) or a chain
// state (acknowledged, resolved), the latter matching through the owning
// breach.
func (e *EscalationEngine) ListEscalations(status string, limit, offset int) ([]database.EscalationEvent, int64, error) {
	q := e.db.Model(&database.EscalationEvent{})
	switch status {
	case "":
	case string(database.BreachStatusAcknowledged), string(database.BreachStatusResolved):
		q = q.Joins("JOIN breach_events ON breach_events.id = escalation_events.breach_event_id").
			Where("breach_events.status = ?", status)
	default:
		q = q.Where("delivery_status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []database.EscalationEvent
	err := q.Preload("BreachEvent.Item").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (e *EscalationEngine) cancelPending(tx *gorm.DB, breachID uint) error {
	return tx.Model(&database.EscalationSchedule{}).
		Where("breach_event_id = ? AND status = ?", breachID, database.ScheduleStatusScheduled).
		Update("status", database.ScheduleStatusCancelled).Error
}

func (e *EscalationEngine) loadChain(eventID uint) (*database.EscalationEvent, *database.BreachEvent, error) {
	event, err := e.getEvent(eventID)
	if err != nil {
		return nil, nil, err
	}
	var breach database.BreachEvent
	if err := e.db.First(&breach, event.BreachEventID).Error; err != nil {
		return nil, nil, err
	}
	return event, &breach, nil
}

func (e *EscalationEngine) getEvent(eventID uint) (*database.EscalationEvent, error) {
	var event database.EscalationEvent
	err := e.db.Preload("BreachEvent.Item").First(&event, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}
