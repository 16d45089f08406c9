// Package hierarchy models the reviewer role hierarchy: a total order over
// roles and the monetary authorization ceiling attached to each. Limits are
// configuration, loaded and validated at startup, never derived per request.
package hierarchy

import (
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
)

// Role is one authorization tier in the reviewer hierarchy.
type Role string

const (
	RoleCategoryBuyer      Role = "category_buyer"
	RolePricingAnalyst     Role = "pricing_analyst"
	RoleCommercialManager  Role = "commercial_manager"
	RoleCommercialDirector Role = "commercial_director"
	RolePricingDirector    Role = "pricing_director"
	RoleVPCommercial       Role = "vp_commercial"
	RoleAdmin              Role = "admin"
)

// order is the fixed enumeration order. Limits attach to it from config.
var order = []Role{
	RoleCategoryBuyer,
	RolePricingAnalyst,
	RoleCommercialManager,
	RoleCommercialDirector,
	RolePricingDirector,
	RoleVPCommercial,
	RoleAdmin,
}

// TopApprovalTier is the last role that participates in approval routing.
// Admin ranks above it but is an actor role only, never a routing target.
const TopApprovalTier = RoleVPCommercial

// Hierarchy binds the role order to configured authorization limits.
// Limits are in cents; a nil limit means no ceiling (admin only).
type Hierarchy struct {
	ranks  map[Role]int
	limits map[Role]*int64
}

// New validates the configured limit table and builds a Hierarchy.
// Every role except admin must carry a limit, and limits must be
// monotonically non-decreasing in enumeration order.
func New(limits map[Role]int64) (*Hierarchy, error) {
	h := &Hierarchy{
		ranks:  make(map[Role]int, len(order)),
		limits: make(map[Role]*int64, len(order)),
	}

	for i, role := range order {
		h.ranks[role] = i
		if role == RoleAdmin {
			// Admin has no effective ceiling regardless of configuration.
			h.limits[role] = nil
			continue
		}
		limit, ok := limits[role]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"no authorization limit configured for role %q", role)
		}
		if limit < 0 {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"authorization limit for role %q is negative", role)
		}
		h.limits[role] = &limit
	}

	for role := range limits {
		if _, ok := h.ranks[role]; !ok {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"limit configured for unknown role %q", role)
		}
	}

	// Monotonicity: a later role's limit must cover every earlier role's.
	var prev int64
	for _, role := range order {
		limit := h.limits[role]
		if limit == nil {
			continue
		}
		if *limit < prev {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"limit for role %q (%d) is below the preceding tier's limit (%d)", role, *limit, prev)
		}
		prev = *limit
	}

	return h, nil
}

// IsKnown reports whether role is part of the hierarchy.
func (h *Hierarchy) IsKnown(role Role) bool {
	_, ok := h.ranks[role]
	return ok
}

// Rank returns the role's position in the total order.
func (h *Hierarchy) Rank(role Role) (int, error) {
	rank, ok := h.ranks[role]
	if !ok {
		return 0, errors.UnknownRole(string(role))
	}
	return rank, nil
}

// Limit returns the role's authorization ceiling in cents.
// A nil limit means the role has no ceiling.
func (h *Hierarchy) Limit(role Role) (*int64, error) {
	limit, ok := h.limits[role]
	if !ok {
		return nil, errors.UnknownRole(string(role))
	}
	return limit, nil
}

// Covers reports whether role's limit covers the given amount.
func (h *Hierarchy) Covers(role Role, amount int64) (bool, error) {
	limit, err := h.Limit(role)
	if err != nil {
		return false, err
	}
	return limit == nil || amount <= *limit, nil
}

// CanAuthorize reports whether an actor may decide a request addressed to
// requiredRole for the given amount. Both rank and limit must hold; a
// higher-ranked role with a limit below the amount is still refused.
// Any indeterminate check fails closed.
func (h *Hierarchy) CanAuthorize(actorRole, requiredRole Role, amount int64) (bool, error) {
	actorRank, err := h.Rank(actorRole)
	if err != nil {
		return false, err
	}
	requiredRank, err := h.Rank(requiredRole)
	if err != nil {
		return false, err
	}
	if actorRank < requiredRank {
		return false, nil
	}
	return h.Covers(actorRole, amount)
}

// RequiredRoleForAmount returns the initial routing tier for a fresh
// submission: the lowest role whose limit covers the amount. An amount above
// every configured limit routes to the top approval tier.
func (h *Hierarchy) RequiredRoleForAmount(amount int64) Role {
	for _, role := range order {
		if role == TopApprovalTier {
			break
		}
		if limit := h.limits[role]; limit != nil && amount <= *limit {
			return role
		}
	}
	return TopApprovalTier
}

// Next returns the next routing tier after role. Review is sequential once
// started: each subsequent stage is exactly one tier up. ok is false at the
// top approval tier.
func (h *Hierarchy) Next(role Role) (next Role, ok bool) {
	rank, exists := h.ranks[role]
	if !exists || role == TopApprovalTier || rank+1 >= len(order) {
		return "", false
	}
	return order[rank+1], true
}

// IsTopApprovalTier reports whether role is the terminal routing tier.
func (h *Hierarchy) IsTopApprovalTier(role Role) bool {
	return role == TopApprovalTier
}

// Roles returns the enumeration order, lowest tier first.
func Roles() []Role {
	out := make([]Role, len(order))
	copy(out, order)
	return out
}
