package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Repository provides append-only audit log storage. Entries are never
// updated or deleted; the hash chain state is kept in memory and seeded from
// the database on startup.
type Repository struct {
	db       *database.DB
	mu       sync.Mutex
	lastHash string
}

// NewRepository creates an audit repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Initialize loads the tip of the hash chain.
func (r *Repository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT hash FROM audit.entries
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)

	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(err, "load last audit hash")
	}

	r.lastHash = hash
	return nil
}

// Append links the entry to the chain and persists it. Thread-safe: the mutex
// serializes chain extension so prev_hash assignments cannot interleave.
func (r *Repository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.PrevHash = r.lastHash
	entry.Hash = entry.computeHash()

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return apperrors.Wrap(err, "marshal audit details")
	}

	query := `
		INSERT INTO audit.entries (
			id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_email, service_name,
			action, resource_type, resource_id, details
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		) RETURNING sequence`

	err = r.db.Pool.QueryRow(ctx, query,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorType, entry.ActorID, nullable(entry.ActorEmail), nullable(entry.ServiceName),
		entry.Action, entry.ResourceType, nullable(entry.ResourceID), detailsJSON,
	).Scan(&entry.Sequence)

	if err != nil {
		return apperrors.Wrap(err, "append audit entry")
	}

	r.lastHash = entry.Hash
	return nil
}

const entryColumns = `id, sequence, timestamp, hash, COALESCE(prev_hash, ''),
	actor_type, actor_id, COALESCE(actor_email, ''), COALESCE(service_name, ''),
	action, resource_type, COALESCE(resource_id, ''), details`

// List returns entries matching the filter, newest first, with the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argNum))
		args = append(args, filter.ActorID)
		argNum++
	}
	if filter.ActorType != nil {
		conditions = append(conditions, fmt.Sprintf("actor_type = $%d", argNum))
		args = append(args, *filter.ActorType)
		argNum++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action LIKE $%d", argNum))
		args = append(args, filter.Action+"%")
		argNum++
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argNum))
		args = append(args, filter.ResourceType)
		argNum++
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argNum))
		args = append(args, filter.ResourceID)
		argNum++
	}
	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}
	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit.entries %s", whereClause)
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, "count audit entries")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 200 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM audit.entries
		%s
		ORDER BY sequence DESC
		LIMIT $%d OFFSET $%d`, entryColumns, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "list audit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, "scan audit entry")
		}
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}

// FindByID loads a single entry.
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*Entry, error) {
	row := r.db.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM audit.entries WHERE id = $1`, entryColumns), id)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("audit entry", id.String())
		}
		return nil, apperrors.Wrap(err, "find audit entry")
	}
	return &e, nil
}

// VerifyResult summarizes a chain verification run.
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentValid   int      `json:"content_valid"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageValid   int      `json:"linkage_valid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}

// VerifyChain checks the most recent entries two ways: each entry's stored
// hash must match its recomputed content hash, and each entry's hash must
// match the prev_hash recorded by its successor.
func (r *Repository) VerifyChain(ctx context.Context, limit int) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM audit.entries
		ORDER BY sequence DESC
		LIMIT $1
	`, entryColumns), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "query audit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "scan audit entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "read audit entries")
	}

	result := &VerifyResult{Valid: true}

	// Entries are in DESC order: expectedHash is the prev_hash claimed by the
	// entry that follows this one in time.
	var expectedHash string
	for i, e := range entries {
		if !e.VerifyHash() {
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("content tampered: entry %s (seq %d)", e.ID, e.Sequence))
		} else {
			result.ContentValid++
		}

		if i > 0 && expectedHash != "" && e.Hash != expectedHash {
			result.LinkageInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("chain broken: entry %s (seq %d) hash does not match successor's prev_hash", e.ID, e.Sequence))
		} else if i > 0 {
			result.LinkageValid++
		}

		expectedHash = e.PrevHash
		result.Checked++
	}

	return result, nil
}

// GetByResource returns the audit trail for one resource.
func (r *Repository) GetByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, _, err := r.List(ctx, ListFilter{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Limit:        limit,
	})
	return entries, err
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var e Entry
	var detailsJSON []byte
	err := row.Scan(
		&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &e.PrevHash,
		&e.ActorType, &e.ActorID, &e.ActorEmail, &e.ServiceName,
		&e.Action, &e.ResourceType, &e.ResourceID, &detailsJSON,
	)
	if err != nil {
		return Entry{}, err
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
			e.Details = nil
		}
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
