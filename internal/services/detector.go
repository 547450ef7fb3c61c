package services

import (
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/sla"
	"github.com/slaguard/slaguard/internal/utils"
)

// Detector evaluates open items against their deadlines and records
// breaches. Inserting a breach is idempotent: the unique (item, target)
// index absorbs duplicate sweeps, so overlapping runs never double-record.
type Detector struct {
	db       *gorm.DB
	defaults sla.Calendar

	now func() time.Time // test hook
}

// NewDetector creates a breach detector.
func NewDetector(db *gorm.DB, defaults sla.Calendar) *Detector {
	return &Detector{db: db, defaults: defaults, now: time.Now}
}

// SweepSummary reports the outcome of one detection pass.
type SweepSummary struct {
	Checked     int `json:"checked"`
	OnTrack     int `json:"on_track"`
	AtRisk      int `json:"at_risk"`
	Breached    int `json:"breached"`
	NewBreaches int `json:"new_breaches"`
	Errors      int `json:"errors"`
}

// ItemStatus is the live classification of one item against one target.
// Remaining and Overdue carry a human-readable duration, whichever side of
// the deadline the item is on.
type ItemStatus struct {
	Item       database.TrackedItem `json:"item"`
	TargetType database.TargetType  `json:"target_type"`
	State      database.SLAState    `json:"state"`
	ElapsedPct float64              `json:"elapsed_pct"`
	Deadline   time.Time            `json:"deadline"`
	Remaining  string               `json:"remaining,omitempty"`
	Overdue    string               `json:"overdue,omitempty"`
}

// Sweep evaluates every open item against both targets, records new
// breaches and plants their escalation schedules. Per-item failures are
// counted and logged, never aborting the rest of the pass.
func (d *Detector) Sweep() (SweepSummary, error) {
	var summary SweepSummary

	var items []database.TrackedItem
	err := d.db.Preload("Policy.EscalationLevels").
		Where("resolved_at IS NULL").
		Find(&items).Error
	if err != nil {
		return summary, err
	}

	now := d.now().UTC()
	for i := range items {
		item := &items[i]
		summary.Checked++

		for _, target := range []database.TargetType{database.TargetAcknowledgment, database.TargetResolution} {
			if item.TargetSatisfied(target) {
				continue
			}

			state, _, err := d.classify(now, item, target)
			if err != nil {
				log.Printf("Sweep: failed to classify item %s (%s): %v", item.UUID, target, err)
				summary.Errors++
				continue
			}

			switch state {
			case database.SLAStateOnTrack:
				summary.OnTrack++
			case database.SLAStateAtRisk:
				summary.AtRisk++
			case database.SLAStateBreached:
				summary.Breached++
				created, err := d.recordBreach(item, target)
				if err != nil {
					log.Printf("Sweep: failed to record breach for item %s (%s): %v", item.UUID, target, err)
					summary.Errors++
					continue
				}
				if created {
					summary.NewBreaches++
				}
			}
		}
	}

	return summary, nil
}

// AtRiskItems returns the open item/target pairs currently at risk or
// breached, for the warning dashboard.
func (d *Detector) AtRiskItems() ([]ItemStatus, error) {
	var items []database.TrackedItem
	err := d.db.Preload("Policy").
		Where("resolved_at IS NULL").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	var out []ItemStatus
	for i := range items {
		item := &items[i]
		for _, target := range []database.TargetType{database.TargetAcknowledgment, database.TargetResolution} {
			if item.TargetSatisfied(target) {
				continue
			}
			state, pct, err := d.classify(now, item, target)
			if err != nil {
				return nil, err
			}
			if state == database.SLAStateOnTrack {
				continue
			}
			status := ItemStatus{
				Item:       *item,
				TargetType: target,
				State:      state,
				ElapsedPct: pct,
				Deadline:   item.Deadline(target),
			}
			if now.Before(status.Deadline) {
				status.Remaining = utils.FormatDuration(status.Deadline.Sub(now))
			} else {
				status.Overdue = utils.FormatDuration(now.Sub(status.Deadline))
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func (d *Detector) classify(now time.Time, item *database.TrackedItem, target database.TargetType) (database.SLAState, float64, error) {
	// The stored deadline is authoritative for the breach decision; the
	// elapsed percentage feeds the at_risk warning band.
	pct, err := sla.ElapsedPct(now, item.CreatedAt, item.Policy.TargetMinutes(target), &item.Policy, d.defaults)
	if err != nil {
		return "", 0, err
	}
	if !now.Before(item.Deadline(target)) {
		return database.SLAStateBreached, pct, nil
	}
	return sla.Classify(pct, item.Policy.WarningThresholdPct), pct, nil
}

// recordBreach inserts the breach event if it does not exist yet and, for
// a fresh breach, plants the escalation schedule rows. Returns true when
// this sweep created the breach.
func (d *Detector) recordBreach(item *database.TrackedItem, target database.TargetType) (bool, error) {
	breach := &database.BreachEvent{
		ItemID:     item.ID,
		TargetType: target,
		PolicyID:   item.PolicyID,
		BreachedAt: item.Deadline(target),
		Status:     database.BreachStatusActive,
	}

	res := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_id"}, {Name: "target_type"}},
		DoNothing: true,
	}).Create(breach)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// A concurrent or earlier sweep already recorded this breach.
		return false, nil
	}

	log.Printf("Breach recorded: item %s missed its %s deadline (%s)",
		item.UUID, target, breach.BreachedAt.Format(time.RFC3339))

	if err := d.scheduleEscalations(breach, &item.Policy); err != nil {
		return true, err
	}
	return true, nil
}

// scheduleEscalations plants one schedule row per ladder level. With
// escalation disabled only level 1 is planted, so the initial notice still
// goes out. Rows survive restarts; the engine fires them when due.
func (d *Detector) scheduleEscalations(breach *database.BreachEvent, policy *database.SLAPolicy) error {
	levels := policy.EscalationLevels
	if len(levels) == 0 {
		log.Printf("Policy %q has no escalation ladder; breach %d will not notify", policy.Name, breach.ID)
		return nil
	}

	for _, lvl := range levels {
		if !policy.EscalationEnabled && lvl.Level != 1 {
			continue
		}
		sched := &database.EscalationSchedule{
			BreachEventID: breach.ID,
			Level:         lvl.Level,
			FireAt:        breach.BreachedAt.Add(time.Duration(lvl.AfterMinutes) * time.Minute),
			Status:        database.ScheduleStatusScheduled,
		}
		err := d.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "breach_event_id"}, {Name: "level"}},
			DoNothing: true,
		}).Create(sched).Error
		if err != nil {
			return err
		}
	}
	return nil
}
