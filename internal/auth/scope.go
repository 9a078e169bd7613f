package auth

import (
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Scope is the data-visibility filter computed for an actor, enforced on
// every list, read and write. Fail-closed: a human actor with no regions and
// no global-admin flag can see nothing.
type Scope struct {
	// AllRegions grants visibility across every region (global admins and
	// SYSTEM pipeline actors; region validity is still checked downstream).
	AllRegions bool
	// RegionIDs is the explicit visible-region set when AllRegions is false.
	RegionIDs map[types.ID]struct{}
	// DCAID restricts visibility to cases assigned to that DCA when non-zero.
	DCAID types.ID
}

// ScopeFor computes the visibility scope for an actor.
func ScopeFor(a Actor) Scope {
	if a.IsSystem() {
		// The ingestion pipeline operates across regions; each payload's
		// region is validated against the region registry separately.
		return Scope{AllRegions: true}
	}

	if a.IsGlobalAdmin {
		return Scope{AllRegions: true}
	}

	s := Scope{RegionIDs: make(map[types.ID]struct{}, len(a.AccessibleRegions))}
	for _, r := range a.AccessibleRegions {
		if !r.IsZero() {
			s.RegionIDs[r] = struct{}{}
		}
	}
	if IsDCARole(a.Role) {
		s.DCAID = a.DCAID
	}
	return s
}

// CanAccessRegion reports whether the scope covers a region. Empty scope
// means access to nothing, never everything.
func (s Scope) CanAccessRegion(regionID types.ID) bool {
	if s.AllRegions {
		return true
	}
	if regionID.IsZero() {
		return false
	}
	_, ok := s.RegionIDs[regionID]
	return ok
}

// CanAccessCase checks both the region boundary and, for DCA-scoped actors,
// the assignment boundary.
func (s Scope) CanAccessCase(regionID, assignedDCAID types.ID) bool {
	if !s.CanAccessRegion(regionID) {
		return false
	}
	if !s.DCAID.IsZero() && assignedDCAID != s.DCAID {
		return false
	}
	return true
}

// RegionList returns the explicit region set for query filters, nil when the
// scope is unrestricted.
func (s Scope) RegionList() []types.ID {
	if s.AllRegions {
		return nil
	}
	out := make([]types.ID, 0, len(s.RegionIDs))
	for r := range s.RegionIDs {
		out = append(out, r)
	}
	return out
}
