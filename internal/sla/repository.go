package sla

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Repository stores SLA templates and per-case timing logs.
type Repository struct {
	db *database.DB
}

// NewRepository creates an SLA repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// TightestActiveTemplate returns the active template of the given type with
// the smallest duration. pgx.ErrNoRows maps to NotFound; callers that treat a
// missing template as non-fatal check for that.
func (r *Repository) TightestActiveTemplate(ctx context.Context, slaType string) (*Template, error) {
	var t Template
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, sla_type, duration_hours, business_hours_only, is_active, created_at
		FROM governance.sla_templates
		WHERE sla_type = $1 AND is_active
		ORDER BY duration_hours ASC, created_at ASC
		LIMIT 1
	`, slaType).Scan(&t.ID, &t.Name, &t.SLAType, &t.DurationHours, &t.BusinessHoursOnly, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("sla template", slaType)
		}
		return nil, apperrors.Wrap(err, "load sla template")
	}
	return &t, nil
}

// CreateTemplate inserts a template.
func (r *Repository) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID.IsZero() {
		t.ID = types.NewID()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO governance.sla_templates (id, name, sla_type, duration_hours, business_hours_only, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.SLAType, t.DurationHours, t.BusinessHoursOnly, t.IsActive)
	if err != nil {
		return apperrors.Wrap(err, "create sla template")
	}
	return nil
}

// CreateLog inserts a PENDING timing record. The unique (case_id, sla_type)
// constraint keeps re-ingestion from double-binding an SLA.
func (r *Repository) CreateLog(ctx context.Context, l *Log) error {
	if l.ID.IsZero() {
		l.ID = types.NewID()
	}
	if l.Status == "" {
		l.Status = StatusPending
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO governance.sla_logs (id, case_id, template_id, sla_type, status, started_at, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.CaseID, l.TemplateID, l.SLAType, l.Status, l.StartedAt, l.DueAt)
	if err != nil {
		return apperrors.Wrap(err, "create sla log")
	}
	return nil
}

// LogsByCase returns all timing records for a case.
func (r *Repository) LogsByCase(ctx context.Context, caseID types.ID) ([]Log, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, case_id, template_id, sla_type, status, started_at, due_at, completed_at, created_at
		FROM governance.sla_logs
		WHERE case_id = $1
		ORDER BY created_at
	`, caseID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list sla logs")
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.CaseID, &l.TemplateID, &l.SLAType, &l.Status,
			&l.StartedAt, &l.DueAt, &l.CompletedAt, &l.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "scan sla log")
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpdateStatus moves a log out of PENDING. Completed timestamps are set for
// MET; BREACHED logs stay open until resolved.
func (r *Repository) UpdateStatus(ctx context.Context, id types.ID, status string) error {
	completedExpr := "completed_at"
	if status == StatusMet {
		completedExpr = "NOW()"
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.sla_logs
		SET status = $2, completed_at = `+completedExpr+`
		WHERE id = $1 AND status = 'PENDING'
	`, id, status)
	if err != nil {
		return apperrors.Wrap(err, "update sla log")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("SLA_NOT_PENDING", "sla log is not pending")
	}
	return nil
}
