package dca

import (
	"time"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Status is the lifecycle state of a collection agency.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusSuspended       Status = "SUSPENDED"
	StatusTerminated      Status = "TERMINATED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
)

// DCA is a debt collection agency partner. capacity_used counts open
// allocations and is only ever moved by the allocation engine's conditional
// increment, never by a read-modify-write.
type DCA struct {
	ID            types.ID  `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	CapacityLimit int       `json:"capacity_limit"`
	CapacityUsed  int       `json:"capacity_used"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UtilizationPct is the agency's current load as a percentage of capacity.
func (d *DCA) UtilizationPct() float64 {
	if d.CapacityLimit <= 0 {
		return 100
	}
	return float64(d.CapacityUsed) / float64(d.CapacityLimit) * 100
}

// RegionAssignment links a DCA to a region it may receive cases from,
// carrying the per-region performance facts the allocation engine ranks on.
type RegionAssignment struct {
	ID                 types.ID   `json:"id"`
	DCAID              types.ID   `json:"dca_id"`
	RegionID           types.ID   `json:"region_id"`
	IsActive           bool       `json:"is_active"`
	SuspendedAt        *time.Time `json:"suspended_at,omitempty"`
	AllocationPriority int        `json:"allocation_priority"`
	SLACompliance      float64    `json:"region_sla_compliance"`
	RecoveryRate       float64    `json:"region_recovery_rate"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Candidate is one allocation-eligible agency for a region: the agency's
// capacity state joined with its per-region performance stats.
type Candidate struct {
	DCAID         types.ID `json:"dca_id"`
	Name          string   `json:"name"`
	CapacityLimit int      `json:"capacity_limit"`
	CapacityUsed  int      `json:"capacity_used"`
	SLACompliance float64  `json:"sla_compliance"`
	RecoveryRate  float64  `json:"recovery_rate"`
}

// UtilizationPct mirrors DCA.UtilizationPct for the joined row.
func (c *Candidate) UtilizationPct() float64 {
	if c.CapacityLimit <= 0 {
		return 100
	}
	return float64(c.CapacityUsed) / float64(c.CapacityLimit) * 100
}
