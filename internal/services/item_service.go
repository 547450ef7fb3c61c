package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/sla"
)

// ItemService manages tracked items: registration, lifecycle updates and
// the policy binding that produces their deadlines.
type ItemService struct {
	db       *gorm.DB
	resolver *sla.Resolver
	defaults sla.Calendar
}

// NewItemService creates an item service.
func NewItemService(db *gorm.DB, defaults sla.Calendar) *ItemService {
	return &ItemService{
		db:       db,
		resolver: sla.NewResolver(db),
		defaults: defaults,
	}
}

// ItemInput is the write model for registering a tracked item.
type ItemInput struct {
	ItemType    string                 `json:"item_type" validate:"required"`
	Title       string                 `json:"title" validate:"max=255"`
	RequestType string                 `json:"request_type"`
	Sensitivity string                 `json:"sensitivity"`
	Urgency     string                 `json:"urgency"`
	Priority    string                 `json:"priority"`
	AssigneeID  *uint                  `json:"assignee_id"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// RegisterItem resolves the matching policy, computes both deadlines and
// stores the item. The policy binding is recorded so later policy edits do
// not silently move existing deadlines.
func (s *ItemService) RegisterItem(in ItemInput) (*database.TrackedItem, error) {
	if !database.IsValidItemType(in.ItemType) {
		return nil, NewValidationError("item_type",
			fmt.Sprintf("unknown item type %q", in.ItemType))
	}

	policy, err := s.resolver.Resolve(sla.ItemAttributes{
		RequestType: in.RequestType,
		Sensitivity: in.Sensitivity,
		Urgency:     in.Urgency,
		Priority:    in.Priority,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deadlines, err := sla.ComputeDeadlines(now, policy, s.defaults)
	if err != nil {
		return nil, err
	}

	item := &database.TrackedItem{
		UUID:               uuid.NewString(),
		ItemType:           database.ItemType(in.ItemType),
		Title:              in.Title,
		RequestType:        in.RequestType,
		Sensitivity:        in.Sensitivity,
		Urgency:            in.Urgency,
		Priority:           in.Priority,
		AssigneeID:         in.AssigneeID,
		Metadata:           database.JSONB(in.Metadata),
		PolicyID:           policy.ID,
		AckDeadline:        deadlines.AckDeadline,
		ResolutionDeadline: deadlines.ResolutionDeadline,
	}
	if err := s.db.Create(item).Error; err != nil {
		return nil, fmt.Errorf("failed to register item: %w", err)
	}

	log.Printf("Registered %s %s under policy %q (ack by %s, resolve by %s)",
		item.ItemType, item.UUID, policy.Name,
		item.AckDeadline.Format(time.RFC3339),
		item.ResolutionDeadline.Format(time.RFC3339))
	return item, nil
}

// GetItem retrieves a tracked item by UUID.
func (s *ItemService) GetItem(itemUUID string) (*database.TrackedItem, error) {
	var item database.TrackedItem
	err := s.db.Preload("Policy").Where("uuid = ?", itemUUID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems returns tracked items, newest first, optionally filtered to
// open (unresolved) ones.
func (s *ItemService) ListItems(openOnly bool, limit, offset int) ([]database.TrackedItem, int64, error) {
	q := s.db.Model(&database.TrackedItem{})
	if openOnly {
		q = q.Where("resolved_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []database.TrackedItem
	if err := q.Preload("Policy").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// AcknowledgeItem marks the item acknowledged. Acknowledging twice is a
// no-op returning the stored item; an acknowledgment after resolution is a
// conflict.
func (s *ItemService) AcknowledgeItem(itemUUID string, userID uint) (*database.TrackedItem, error) {
	item, err := s.GetItem(itemUUID)
	if err != nil {
		return nil, err
	}
	if item.AcknowledgedAt != nil {
		return item, nil
	}
	if item.ResolvedAt != nil {
		return nil, fmt.Errorf("%w: item is already resolved", ErrConflict)
	}

	now := time.Now().UTC()
	if err := s.db.Model(item).Update("acknowledged_at", now).Error; err != nil {
		return nil, err
	}
	item.AcknowledgedAt = &now

	log.Printf("Item %s acknowledged by user %d", itemUUID, userID)
	return item, nil
}

// ResolveItem marks the item resolved, implying acknowledgment when none
// was recorded. Resolving twice is a no-op returning the stored item.
func (s *ItemService) ResolveItem(itemUUID string, userID uint) (*database.TrackedItem, error) {
	item, err := s.GetItem(itemUUID)
	if err != nil {
		return nil, err
	}
	if item.ResolvedAt != nil {
		return item, nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"resolved_at": now}
	if item.AcknowledgedAt == nil {
		updates["acknowledged_at"] = now
	}
	if err := s.db.Model(item).Updates(updates).Error; err != nil {
		return nil, err
	}
	item.ResolvedAt = &now
	if item.AcknowledgedAt == nil {
		item.AcknowledgedAt = &now
	}

	log.Printf("Item %s resolved by user %d", itemUUID, userID)
	return item, nil
}

// UpdateItemAttributes changes the item's matching attributes, re-resolves
// the policy and recomputes deadlines from the item's registration time.
// Resolved items are immutable.
func (s *ItemService) UpdateItemAttributes(itemUUID string, in ItemInput) (*database.TrackedItem, error) {
	item, err := s.GetItem(itemUUID)
	if err != nil {
		return nil, err
	}
	if item.ResolvedAt != nil {
		return nil, fmt.Errorf("%w: resolved items cannot be edited", ErrConflict)
	}

	policy, err := s.resolver.Resolve(sla.ItemAttributes{
		RequestType: in.RequestType,
		Sensitivity: in.Sensitivity,
		Urgency:     in.Urgency,
		Priority:    in.Priority,
	})
	if err != nil {
		return nil, err
	}

	deadlines, err := sla.ComputeDeadlines(item.CreatedAt, policy, s.defaults)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"request_type":        in.RequestType,
		"sensitivity":         in.Sensitivity,
		"urgency":             in.Urgency,
		"priority":            in.Priority,
		"policy_id":           policy.ID,
		"resolution_deadline": deadlines.ResolutionDeadline,
	}
	if in.Title != "" {
		updates["title"] = in.Title
	}
	if in.AssigneeID != nil {
		updates["assignee_id"] = *in.AssigneeID
	}
	if in.Metadata != nil {
		updates["metadata"] = database.JSONB(in.Metadata)
	}
	if item.AcknowledgedAt == nil {
		updates["ack_deadline"] = deadlines.AckDeadline
	}
	if err := s.db.Model(item).Updates(updates).Error; err != nil {
		return nil, err
	}

	return s.GetItem(itemUUID)
}
