package user

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/shared/database"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Repository stores platform accounts. It also implements
// auth.UserDirectory so the actor-resolution middleware can hydrate human
// actors from session identity.
type Repository struct {
	db *database.DB
}

// NewRepository creates a user repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email, full_name, role, dca_id, COALESCE(state_code, ''),
	accessible_regions, is_global_admin, can_create_agents, is_active,
	created_by, created_at, updated_at`

// Create inserts an account. Duplicate emails map to EMAIL_EXISTS.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if u.ID.IsZero() {
		u.ID = types.NewID()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO governance.users
			(id, email, full_name, role, dca_id, state_code, accessible_regions,
			 is_global_admin, can_create_agents, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Email, u.FullName, u.Role, nullableID(u.DCAID), nullableString(u.StateCode),
		u.AccessibleRegions, u.IsGlobalAdmin, u.CanCreateAgents, u.IsActive, nullableID(u.CreatedBy))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.Conflict("EMAIL_EXISTS", "an account with this email already exists")
		}
		return apperrors.Wrap(err, "create user")
	}
	return nil
}

// GetByID loads one account.
func (r *Repository) GetByID(ctx context.Context, id types.ID) (*User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM governance.users WHERE id = $1`, id)
	return scanUser(row, id.String())
}

// GetByEmail loads one account by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM governance.users WHERE email = $1`, email)
	return scanUser(row, email)
}

// List returns accounts, optionally restricted to one agency.
func (r *Repository) List(ctx context.Context, dcaID types.ID) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM governance.users ORDER BY created_at DESC`
	args := []any{}
	if !dcaID.IsZero() {
		query = `SELECT ` + userColumns + ` FROM governance.users WHERE dca_id = $1 ORDER BY created_at DESC`
		args = append(args, dcaID)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "list users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "scan user")
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetActive activates or deactivates an account.
func (r *Repository) SetActive(ctx context.Context, id types.ID, active bool) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.users SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return apperrors.Wrap(err, "update user active flag")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id.String())
	}
	return nil
}

// SetCanCreateAgents grants or revokes the agent-creation delegation for a
// DCA manager. Revocation takes effect on the next provisioning attempt.
func (r *Repository) SetCanCreateAgents(ctx context.Context, id types.ID, allowed bool) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE governance.users
		SET can_create_agents = $2, updated_at = NOW()
		WHERE id = $1 AND role = $3
	`, id, allowed, auth.RoleDCAManager)
	if err != nil {
		return apperrors.Wrap(err, "update agent-creation delegation")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dca manager", id.String())
	}
	return nil
}

// ResolveActor implements auth.UserDirectory: it turns an authenticated
// session's user id into a fully hydrated human actor. Every access field is
// resolved from the current row, never from client-supplied claims.
func (r *Repository) ResolveActor(ctx context.Context, userID types.ID) (auth.Actor, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return auth.Actor{}, err
	}
	if !u.IsActive {
		return auth.Actor{}, apperrors.Unauthorized("account is deactivated")
	}

	return auth.Actor{
		Type:              auth.ActorTypeHuman,
		UserID:            u.ID,
		Email:             u.Email,
		Role:              u.Role,
		DCAID:             u.DCAID,
		AccessibleRegions: u.AccessibleRegions,
		IsGlobalAdmin:     u.IsGlobalAdmin,
	}, nil
}

func scanUser(row pgx.Row, key string) (*User, error) {
	u, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", key)
		}
		return nil, apperrors.Wrap(err, "load user")
	}
	return u, nil
}

func scanUserRow(row pgx.Row) (*User, error) {
	u := &User{}
	var dcaID, createdBy *types.ID

	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &dcaID, &u.StateCode,
		&u.AccessibleRegions, &u.IsGlobalAdmin, &u.CanCreateAgents, &u.IsActive,
		&createdBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if dcaID != nil {
		u.DCAID = *dcaID
	}
	if createdBy != nil {
		u.CreatedBy = *createdBy
	}
	return u, nil
}

func nullableID(id types.ID) any {
	if id.IsZero() {
		return nil
	}
	return id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
