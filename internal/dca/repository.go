package dca

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Repository stores agencies and their region assignments.
type Repository struct {
	db *database.DB
}

// NewRepository creates a DCA repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const dcaColumns = `id, name, status, capacity_limit, capacity_used, COALESCE(contact_email, ''), created_at, updated_at`

// GetByID loads one agency.
func (r *Repository) GetByID(ctx context.Context, id types.ID) (*DCA, error) {
	var d DCA
	err := r.db.Pool.QueryRow(ctx,
		`SELECT `+dcaColumns+` FROM governance.dcas WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Status, &d.CapacityLimit, &d.CapacityUsed, &d.ContactEmail, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dca", id.String())
		}
		return nil, apperrors.Wrap(err, "get dca")
	}
	return &d, nil
}

// List returns all agencies.
func (r *Repository) List(ctx context.Context) ([]DCA, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+dcaColumns+` FROM governance.dcas ORDER BY name`)
	if err != nil {
		return nil, apperrors.Wrap(err, "list dcas")
	}
	defer rows.Close()

	var out []DCA
	for rows.Next() {
		var d DCA
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.CapacityLimit, &d.CapacityUsed,
			&d.ContactEmail, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, apperrors.Wrap(err, "scan dca")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Create inserts an agency, defaulting to PENDING_APPROVAL.
func (r *Repository) Create(ctx context.Context, d *DCA) error {
	if d.ID.IsZero() {
		d.ID = types.NewID()
	}
	if d.Status == "" {
		d.Status = StatusPendingApproval
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO governance.dcas (id, name, status, capacity_limit, capacity_used, contact_email)
		VALUES ($1, $2, $3, $4, 0, $5)
	`, d.ID, d.Name, d.Status, d.CapacityLimit, d.ContactEmail)
	if err != nil {
		return apperrors.Wrap(err, "create dca")
	}
	return nil
}

// UpdateStatus moves an agency between lifecycle states.
func (r *Repository) UpdateStatus(ctx context.Context, id types.ID, status Status) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.dcas SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return apperrors.Wrap(err, "update dca status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dca", id.String())
	}
	return nil
}

// UpdateCapacityLimit resizes an agency's capacity ceiling. The check
// constraint rejects limits below the current usage.
func (r *Repository) UpdateCapacityLimit(ctx context.Context, id types.ID, limit int) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.dcas SET capacity_limit = $2, updated_at = NOW() WHERE id = $1
	`, id, limit)
	if err != nil {
		return apperrors.Wrap(err, "update dca capacity limit")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dca", id.String())
	}
	return nil
}

// TryIncrementCapacity reserves one unit of capacity. The ceiling check is in
// the WHERE clause, so two concurrent allocations can never push usage past
// the limit; the loser simply sees zero rows affected.
func (r *Repository) TryIncrementCapacity(ctx context.Context, id types.ID) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.dcas
		SET capacity_used = capacity_used + 1, updated_at = NOW()
		WHERE id = $1 AND capacity_used < capacity_limit AND status = 'ACTIVE'
	`, id)
	if err != nil {
		return false, apperrors.Wrap(err, "increment dca capacity")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseCapacity frees one unit when a case leaves an agency.
func (r *Repository) ReleaseCapacity(ctx context.Context, id types.ID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.dcas
		SET capacity_used = GREATEST(capacity_used - 1, 0), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return apperrors.Wrap(err, "release dca capacity")
	}
	return nil
}

// AssignRegion links an agency to a region.
func (r *Repository) AssignRegion(ctx context.Context, a *RegionAssignment) error {
	if a.ID.IsZero() {
		a.ID = types.NewID()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO governance.region_dca_assignments
			(id, dca_id, region_id, is_active, allocation_priority, region_sla_compliance, region_recovery_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dca_id, region_id) DO UPDATE
		SET is_active = EXCLUDED.is_active,
		    suspended_at = NULL,
		    allocation_priority = EXCLUDED.allocation_priority,
		    region_sla_compliance = EXCLUDED.region_sla_compliance,
		    region_recovery_rate = EXCLUDED.region_recovery_rate
	`, a.ID, a.DCAID, a.RegionID, a.IsActive, a.AllocationPriority, a.SLACompliance, a.RecoveryRate)
	if err != nil {
		return apperrors.Wrap(err, "assign region")
	}
	return nil
}

// SuspendAssignment marks a region assignment suspended without removing it.
func (r *Repository) SuspendAssignment(ctx context.Context, dcaID, regionID types.ID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.region_dca_assignments
		SET suspended_at = NOW()
		WHERE dca_id = $1 AND region_id = $2
	`, dcaID, regionID)
	if err != nil {
		return apperrors.Wrap(err, "suspend assignment")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("region assignment", dcaID.String()+"/"+regionID.String())
	}
	return nil
}

// AssignmentsByDCA returns an agency's region assignments.
func (r *Repository) AssignmentsByDCA(ctx context.Context, dcaID types.ID) ([]RegionAssignment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, dca_id, region_id, is_active, suspended_at,
		       allocation_priority, region_sla_compliance, region_recovery_rate, created_at
		FROM governance.region_dca_assignments
		WHERE dca_id = $1
		ORDER BY created_at
	`, dcaID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list assignments")
	}
	defer rows.Close()

	var out []RegionAssignment
	for rows.Next() {
		var a RegionAssignment
		if err := rows.Scan(&a.ID, &a.DCAID, &a.RegionID, &a.IsActive, &a.SuspendedAt,
			&a.AllocationPriority, &a.SLACompliance, &a.RecoveryRate, &a.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "scan assignment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EligibleForRegion returns the allocation candidates for a region: active
// assignment, not suspended, agency ACTIVE, spare capacity. Ordered by
// allocation priority then name so ranking ties break deterministically.
func (r *Repository) EligibleForRegion(ctx context.Context, regionID types.ID) ([]Candidate, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT d.id, d.name, d.capacity_limit, d.capacity_used,
		       a.region_sla_compliance, a.region_recovery_rate
		FROM governance.region_dca_assignments a
		JOIN governance.dcas d ON d.id = a.dca_id
		WHERE a.region_id = $1
		  AND a.is_active
		  AND a.suspended_at IS NULL
		  AND d.status = 'ACTIVE'
		  AND d.capacity_used < d.capacity_limit
		ORDER BY a.allocation_priority DESC, d.name
	`, regionID)
	if err != nil {
		return nil, apperrors.Wrap(err, "query eligible dcas")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.DCAID, &c.Name, &c.CapacityLimit, &c.CapacityUsed,
			&c.SLACompliance, &c.RecoveryRate); err != nil {
			return nil, apperrors.Wrap(err, "scan candidate")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
