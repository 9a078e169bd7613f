package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fedex-dca/control-tower/internal/case/domain"
	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// PostgresRepository implements domain.Repository over pgx.
type PostgresRepository struct {
	db *database.DB
}

// NewPostgresRepository creates the case repository.
func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const caseColumns = `id, case_number, case_type, status, priority,
	region_id, region_code, assigned_dca_id,
	outstanding_amount, recovered_amount, currency,
	customer_name, COALESCE(customer_email, ''), COALESCE(customer_phone, ''), COALESCE(customer_address, ''),
	due_date, risk_level, priority_score, score_model,
	actor_type, source_system, external_case_id, metadata,
	created_at, updated_at`

// Create inserts a case. Only a unique-key violation on the idempotency
// columns (source_system, external_case_id) maps to DUPLICATE_CASE; a clash
// on the generated case number is a distinct conflict so the caller can
// regenerate instead of wrongly treating the delivery as already ingested.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Case) error {
	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return apperrors.Wrap(err, "marshal case metadata")
	}

	query := `
		INSERT INTO governance.cases (
			id, case_number, case_type, status, priority,
			region_id, region_code, assigned_dca_id,
			outstanding_amount, recovered_amount, currency,
			customer_name, customer_email, customer_phone, customer_address,
			due_date, risk_level, priority_score, score_model,
			actor_type, source_system, external_case_id, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)`

	_, err = r.db.Pool.Exec(ctx, query,
		c.ID, c.CaseNumber, c.Type, c.Status, c.Priority,
		c.RegionID, c.RegionCode, c.AssignedDCAID,
		c.OutstandingAmount, c.RecoveredAmount, c.Currency,
		c.CustomerName, c.CustomerEmail, c.CustomerPhone, c.CustomerAddress,
		c.DueDate, c.RiskLevel, c.PriorityScore, c.ScoreModel,
		c.ActorType, c.SourceSystem, c.ExternalCaseID, metadataJSON,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "cases_ingest_key":
				return apperrors.Conflict("DUPLICATE_CASE",
					fmt.Sprintf("case already ingested for %s/%s", c.SourceSystem, c.ExternalCaseID))
			case "cases_case_number_key":
				return apperrors.Conflict("CASE_NUMBER_CLASH",
					fmt.Sprintf("case number %s already in use", c.CaseNumber))
			}
		}
		return apperrors.Wrap(err, "create case")
	}
	return nil
}

// GetByID loads one case.
func (r *PostgresRepository) GetByID(ctx context.Context, id types.ID) (*domain.Case, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM governance.cases WHERE id = $1`, id)
	return scanCase(row, id.String())
}

// GetByNumber loads a case by its public case number.
func (r *PostgresRepository) GetByNumber(ctx context.Context, caseNumber string) (*domain.Case, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM governance.cases WHERE case_number = $1`, caseNumber)
	return scanCase(row, caseNumber)
}

// List returns cases inside the caller's visibility scope, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Case, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.RegionIDs != nil {
		conditions = append(conditions, fmt.Sprintf("region_id = ANY($%d)", argNum))
		args = append(args, filter.RegionIDs)
		argNum++
	}
	if !filter.DCAID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("assigned_dca_id = $%d", argNum))
		args = append(args, filter.DCAID)
		argNum++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM governance.cases %s", whereClause)
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, "count cases")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 200 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM governance.cases
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, caseColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "list cases")
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCaseRow(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, "scan case")
		}
		cases = append(cases, *c)
	}
	return cases, total, rows.Err()
}

// UpdateStatus persists a status transition. The expected from-status is in
// the WHERE clause: a concurrent transition makes this a no-op, reported as a
// conflict rather than silently overwriting.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id types.ID, from, to domain.Status) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.cases
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return apperrors.Wrap(err, "update case status")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("STATUS_CHANGED", "case status changed concurrently")
	}
	return nil
}

// BindAllocation applies an allocation decision: assigned agency, status
// PENDING_CONTACT, and the scoring context folded into metadata.
func (r *PostgresRepository) BindAllocation(ctx context.Context, caseID, dcaID types.ID, score float64, reason string) error {
	assignment, err := json.Marshal(map[string]any{
		"allocation_score": score,
		"selection_reason": reason,
	})
	if err != nil {
		return apperrors.Wrap(err, "marshal allocation metadata")
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.cases
		SET assigned_dca_id = $2,
		    status = $3,
		    metadata = metadata || $4::jsonb,
		    updated_at = NOW()
		WHERE id = $1
	`, caseID, dcaID, domain.StatusPendingContact, assignment)
	if err != nil {
		return apperrors.Wrap(err, "bind allocation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("case", caseID.String())
	}
	return nil
}

func scanCase(row pgx.Row, key string) (*domain.Case, error) {
	c, err := scanCaseRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("case", key)
		}
		return nil, apperrors.Wrap(err, "load case")
	}
	return c, nil
}

func scanCaseRow(row pgx.Row) (*domain.Case, error) {
	c := &domain.Case{}
	var metadataJSON []byte

	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.Type, &c.Status, &c.Priority,
		&c.RegionID, &c.RegionCode, &c.AssignedDCAID,
		&c.OutstandingAmount, &c.RecoveredAmount, &c.Currency,
		&c.CustomerName, &c.CustomerEmail, &c.CustomerPhone, &c.CustomerAddress,
		&c.DueDate, &c.RiskLevel, &c.PriorityScore, &c.ScoreModel,
		&c.ActorType, &c.SourceSystem, &c.ExternalCaseID, &metadataJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			c.Metadata = nil
		}
	}
	return c, nil
}

// PostgresTimelineRepository implements domain.TimelineRepository.
type PostgresTimelineRepository struct {
	db *database.DB
}

// NewPostgresTimelineRepository creates the timeline repository.
func NewPostgresTimelineRepository(db *database.DB) *PostgresTimelineRepository {
	return &PostgresTimelineRepository{db: db}
}

// Append inserts a timeline entry. Entries with a deterministic id (ingestion
// idempotency keys) conflict on re-delivery; that conflict is swallowed so a
// redelivered event never duplicates history.
func (r *PostgresTimelineRepository) Append(ctx context.Context, entry *domain.TimelineEntry) error {
	if entry.ID.IsZero() {
		entry.ID = types.NewID()
	}

	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return apperrors.Wrap(err, "marshal timeline data")
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO governance.case_timeline (id, case_id, category, event_type, actor_id, description, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.CaseID, entry.Category, entry.EventType, entry.ActorID, entry.Description, dataJSON)
	if err != nil {
		return apperrors.Wrap(err, "append timeline entry")
	}
	return nil
}

// ListByCase returns a case's history in insertion order.
func (r *PostgresTimelineRepository) ListByCase(ctx context.Context, caseID types.ID) ([]domain.TimelineEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, case_id, category, event_type, actor_id, description, data, created_at
		FROM governance.case_timeline
		WHERE case_id = $1
		ORDER BY created_at
	`, caseID)
	if err != nil {
		return nil, apperrors.Wrap(err, "list timeline")
	}
	defer rows.Close()

	var entries []domain.TimelineEntry
	for rows.Next() {
		var e domain.TimelineEntry
		var dataJSON []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Category, &e.EventType, &e.ActorID,
			&e.Description, &dataJSON, &e.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "scan timeline entry")
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &e.Data); err != nil {
				e.Data = nil
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
