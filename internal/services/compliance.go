package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/slaguard/slaguard/internal/database"
)

// ComplianceService aggregates breach history into compliance percentages.
// An item is compliant when no breach event exists for it within the
// window, so a backlog of open breached items drags the percentage down
// instead of hiding behind unresolved state.
type ComplianceService struct {
	db *gorm.DB
}

// NewComplianceService creates a compliance service.
func NewComplianceService(db *gorm.DB) *ComplianceService {
	return &ComplianceService{db: db}
}

// ComplianceRecord is one aggregation bucket. An empty bucket reports
// 100%: no commitments means none were missed.
type ComplianceRecord struct {
	Key           string  `json:"key"`
	TotalItems    int     `json:"total_items"`
	Compliant     int     `json:"compliant"`
	Breached      int     `json:"breached"`
	CompliancePct float64 `json:"compliance_pct"`

	// Per-target breach counts. An item can miss both targets; it still
	// counts once in Breached.
	AckBreaches        int `json:"ack_breaches"`
	ResolutionBreaches int `json:"resolution_breaches"`
}

// Overview is the dashboard headline: totals across all items active in
// the window plus the current live counts.
type Overview struct {
	WindowFrom     time.Time        `json:"window_from"`
	WindowTo       time.Time        `json:"window_to"`
	Overall        ComplianceRecord `json:"overall"`
	OpenItems      int64            `json:"open_items"`
	ActiveBreaches int64            `json:"active_breaches"`
}

// ByType aggregates compliance per item type over the window.
func (s *ComplianceService) ByType(from, to time.Time) ([]ComplianceRecord, error) {
	items, breached, err := s.windowData(from, to)
	if err != nil {
		return nil, err
	}
	return aggregate(items, breached, func(item *database.TrackedItem) string {
		return string(item.ItemType)
	}), nil
}

// ByAssignee aggregates compliance per assignee over the window. Items
// without an assignee land in the "unassigned" bucket.
func (s *ComplianceService) ByAssignee(from, to time.Time) ([]ComplianceRecord, error) {
	items, breached, err := s.windowData(from, to)
	if err != nil {
		return nil, err
	}

	names := map[uint]string{}
	var users []database.User
	if err := s.db.Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}

	return aggregate(items, breached, func(item *database.TrackedItem) string {
		if item.AssigneeID == nil {
			return "unassigned"
		}
		if name, ok := names[*item.AssigneeID]; ok {
			return name
		}
		return fmt.Sprintf("user-%d", *item.AssigneeID)
	}), nil
}

// GetOverview builds the dashboard headline for the window.
func (s *ComplianceService) GetOverview(from, to time.Time) (*Overview, error) {
	items, breached, err := s.windowData(from, to)
	if err != nil {
		return nil, err
	}

	overall := bucketOf(items, breached)
	overall.Key = "overall"

	var openItems int64
	if err := s.db.Model(&database.TrackedItem{}).
		Where("resolved_at IS NULL").Count(&openItems).Error; err != nil {
		return nil, err
	}

	var activeBreaches int64
	if err := s.db.Model(&database.BreachEvent{}).
		Where("status = ?", database.BreachStatusActive).Count(&activeBreaches).Error; err != nil {
		return nil, err
	}

	return &Overview{
		WindowFrom:     from,
		WindowTo:       to,
		Overall:        overall,
		OpenItems:      openItems,
		ActiveBreaches: activeBreaches,
	}, nil
}

// windowData loads the items active in the window plus the set of targets
// each of them breached within it. Active means created before the window
// closes and not resolved before it opens, so open breached items count.
func (s *ComplianceService) windowData(from, to time.Time) ([]database.TrackedItem, map[uint]map[database.TargetType]bool, error) {
	var items []database.TrackedItem
	err := s.db.
		Where("created_at < ? AND (resolved_at IS NULL OR resolved_at >= ?)", to, from).
		Find(&items).Error
	if err != nil {
		return nil, nil, err
	}

	var breaches []database.BreachEvent
	err = s.db.
		Where("breached_at >= ? AND breached_at < ?", from, to).
		Find(&breaches).Error
	if err != nil {
		return nil, nil, err
	}

	breached := map[uint]map[database.TargetType]bool{}
	for _, b := range breaches {
		if breached[b.ItemID] == nil {
			breached[b.ItemID] = map[database.TargetType]bool{}
		}
		breached[b.ItemID][b.TargetType] = true
	}
	return items, breached, nil
}

func aggregate(items []database.TrackedItem, breached map[uint]map[database.TargetType]bool, keyFn func(*database.TrackedItem) string) []ComplianceRecord {
	buckets := map[string][]database.TrackedItem{}
	var order []string
	for i := range items {
		key := keyFn(&items[i])
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], items[i])
	}

	records := make([]ComplianceRecord, 0, len(order))
	for _, key := range order {
		rec := bucketOf(buckets[key], breached)
		rec.Key = key
		records = append(records, rec)
	}
	return records
}

// bucketOf counts compliant and breached items within one bucket.
func bucketOf(items []database.TrackedItem, breached map[uint]map[database.TargetType]bool) ComplianceRecord {
	rec := ComplianceRecord{TotalItems: len(items)}
	for i := range items {
		targets := breached[items[i].ID]
		if len(targets) == 0 {
			rec.Compliant++
			continue
		}
		rec.Breached++
		if targets[database.TargetAcknowledgment] {
			rec.AckBreaches++
		}
		if targets[database.TargetResolution] {
			rec.ResolutionBreaches++
		}
	}
	rec.CompliancePct = pct(rec.Compliant, rec.TotalItems)
	return rec
}

// pct returns 100 for an empty denominator: zero commitments, zero misses.
func pct(compliant, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(compliant) / float64(total) * 100
}
