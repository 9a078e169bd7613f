package region

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Repository provides region registry lookups.
type Repository struct {
	db *database.DB
}

// NewRepository creates a region repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const regionColumns = `id, region_code, name, timezone, business_start, business_end, business_days, is_active, created_at`

// GetByCode looks up a region by its code. Inactive regions are returned too;
// the ingestion pipeline distinguishes unknown from inactive.
func (r *Repository) GetByCode(ctx context.Context, code string) (*Region, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+regionColumns+` FROM governance.regions WHERE region_code = $1`, code)
	return scanRegion(row, code)
}

// GetByID looks up a region by id.
func (r *Repository) GetByID(ctx context.Context, id types.ID) (*Region, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+regionColumns+` FROM governance.regions WHERE id = $1`, id)
	return scanRegion(row, id.String())
}

// ListActive returns all active regions.
func (r *Repository) ListActive(ctx context.Context) ([]*Region, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+regionColumns+` FROM governance.regions WHERE is_active ORDER BY region_code`)
	if err != nil {
		return nil, apperrors.Wrap(err, "list regions")
	}
	defer rows.Close()

	var out []*Region
	for rows.Next() {
		reg, err := scanRegionRow(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "scan region")
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// Create inserts a region.
func (r *Repository) Create(ctx context.Context, reg *Region) error {
	if reg.ID.IsZero() {
		reg.ID = types.NewID()
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO governance.regions (id, region_code, name, timezone, business_start, business_end, business_days, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reg.ID, reg.RegionCode, reg.Name, reg.Timezone,
		reg.BusinessStart, reg.BusinessEnd, reg.BusinessDays, reg.IsActive)
	if err != nil {
		return apperrors.Wrap(err, "create region")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegion(row rowScanner, key string) (*Region, error) {
	reg, err := scanRegionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("region", key)
		}
		return nil, apperrors.Wrap(err, "get region")
	}
	return reg, nil
}

func scanRegionRow(row rowScanner) (*Region, error) {
	var reg Region
	err := row.Scan(&reg.ID, &reg.RegionCode, &reg.Name, &reg.Timezone,
		&reg.BusinessStart, &reg.BusinessEnd, &reg.BusinessDays, &reg.IsActive, &reg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}
