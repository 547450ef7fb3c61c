package sla

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/slaguard/slaguard/internal/database"
)

// ItemAttributes are the matching attributes of a trackable item.
type ItemAttributes struct {
	RequestType string
	Sensitivity string
	Urgency     string
	Priority    string
}

// Resolver selects the single most specific active policy for an item.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a policy resolver backed by the given database.
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the active policy matching the item's attributes.
// Candidates are all active policies whose non-wildcard predicates all
// equal the item's corresponding attribute. Specificity is the count of
// non-wildcard predicates; ties break by most recently updated, then by
// the tighter (lower) resolution target. When nothing matches, the
// guaranteed all-wildcard default policy is returned.
func (r *Resolver) Resolve(attrs ItemAttributes) (*database.SLAPolicy, error) {
	policies, err := database.ActivePolicies(r.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load active policies: %w", err)
	}

	var best *database.SLAPolicy
	for i := range policies {
		p := &policies[i]
		if p.IsDefault || !matches(p, attrs) {
			continue
		}
		if best == nil || moreSpecific(p, best) {
			best = p
		}
	}

	if best != nil {
		return best, nil
	}

	def, err := database.GetDefaultPolicy(r.db)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// matches reports whether every non-wildcard predicate of p equals the
// item's corresponding attribute.
func matches(p *database.SLAPolicy, attrs ItemAttributes) bool {
	pairs := [][2]string{
		{p.RequestType, attrs.RequestType},
		{p.Sensitivity, attrs.Sensitivity},
		{p.Urgency, attrs.Urgency},
		{p.Priority, attrs.Priority},
	}
	for _, pair := range pairs {
		if pair[0] != database.Wildcard && pair[0] != pair[1] {
			return false
		}
	}
	return true
}

// moreSpecific reports whether a should win over b. Higher specificity
// wins; then the more recently updated policy; then the lower resolution
// target (the tighter policy favors the caller's safety).
func moreSpecific(a, b *database.SLAPolicy) bool {
	if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
		return sa > sb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ResolutionTargetMinutes < b.ResolutionTargetMinutes
}
