package user

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/region"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Store is the account persistence the service depends on.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id types.ID) (*User, error)
	SetActive(ctx context.Context, id types.ID, active bool) error
	SetCanCreateAgents(ctx context.Context, id types.ID, allowed bool) error
}

type regionSource interface {
	GetByID(ctx context.Context, id types.ID) (*region.Region, error)
}

// Service executes governed account provisioning. Every attempt, denied or
// accepted, is written to the audit trail with its full decision context:
// attempted privilege escalation matters as much as successful provisioning.
type Service struct {
	store    Store
	regions  regionSource
	auditor  *audit.Logger
	validate *validator.Validate
}

// NewService wires the provisioning service.
func NewService(store Store, regions regionSource, auditor *audit.Logger) *Service {
	return &Service{
		store:    store,
		regions:  regions,
		auditor:  auditor,
		validate: validator.New(),
	}
}

// Provision creates an account on behalf of a human creator. The creator's
// state is loaded live: a revoked delegation denies the attempt even when the
// creator's session predates the revocation.
func (s *Service) Provision(ctx context.Context, actor auth.Actor, req ProvisionRequest) (*User, error) {
	if actor.IsSystem() || actor.UserID.IsZero() {
		return nil, apperrors.Forbidden("", "provisioning requires a human creator")
	}

	creator, err := s.store.GetByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, s.deny(ctx, actor, creator, req, apperrors.Validation("SCHEMA_VALIDATION", "invalid provisioning request", nil))
	}
	if err := CanProvision(creator, req.Role); err != nil {
		return nil, s.deny(ctx, actor, creator, req, err)
	}
	if err := ValidateEmailDomain(req.Role, req.Email); err != nil {
		return nil, s.deny(ctx, actor, creator, req, err)
	}
	if err := ApplyInheritance(creator, &req); err != nil {
		return nil, s.deny(ctx, actor, creator, req, err)
	}
	if err := ValidateRegionAssignment(req.Role, req.AccessibleRegions); err != nil {
		return nil, s.deny(ctx, actor, creator, req, err)
	}
	if auth.IsFedExRole(req.Role) {
		for _, regionID := range req.AccessibleRegions {
			reg, err := s.regions.GetByID(ctx, regionID)
			if err != nil || !reg.IsActive {
				return nil, s.deny(ctx, actor, creator, req,
					apperrors.Validation("INVALID_REGION",
						fmt.Sprintf("region %s is unknown or inactive", regionID), nil))
			}
		}
	}

	u := &User{
		Email:             req.Email,
		FullName:          req.FullName,
		Role:              req.Role,
		DCAID:             req.DCAID,
		StateCode:         req.StateCode,
		AccessibleRegions: req.AccessibleRegions,
		IsActive:          true,
		CreatedBy:         actor.UserID,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	metrics.ProvisioningDecision(string(creator.Role), string(req.Role), "created")
	s.auditor.LogUserAction(ctx, actor, audit.ActionUserCreated, "user", u.ID.String(), map[string]any{
		"creator_role": creator.Role,
		"target_role":  req.Role,
		"email_domain": emailDomain(req.Email),
		"dca_id":       u.DCAID,
		"state_code":   u.StateCode,
	})

	return u, nil
}

// Deactivate disables an account. Management seniority is checked against the
// general hierarchy; agency-side actors stay inside their own agency.
func (s *Service) Deactivate(ctx context.Context, actor auth.Actor, userID types.ID) error {
	target, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !auth.CanManageRole(actor.Role, target.Role) {
		return s.denyUpdate(ctx, actor, target, "ROLE_NOT_MANAGEABLE")
	}
	if auth.IsDCARole(actor.Role) && target.DCAID != actor.DCAID {
		return s.denyUpdate(ctx, actor, target, "NOT_IN_USER_DCA")
	}

	if err := s.store.SetActive(ctx, userID, false); err != nil {
		return err
	}

	s.auditor.LogUserAction(ctx, actor, audit.ActionUserDeactivated, "user", userID.String(), map[string]any{
		"target_role": target.Role,
	})
	return nil
}

// SetAgentDelegation grants or revokes a DCA manager's agent-creation
// privilege. Only the manager's own DCA admin, or enterprise administration,
// may flip it.
func (s *Service) SetAgentDelegation(ctx context.Context, actor auth.Actor, managerID types.ID, allowed bool) error {
	target, err := s.store.GetByID(ctx, managerID)
	if err != nil {
		return err
	}

	if !auth.CanManageRole(actor.Role, auth.RoleDCAManager) {
		return s.denyUpdate(ctx, actor, target, "ROLE_NOT_MANAGEABLE")
	}
	if actor.Role == auth.RoleDCAAdmin && target.DCAID != actor.DCAID {
		return s.denyUpdate(ctx, actor, target, "NOT_IN_USER_DCA")
	}

	if err := s.store.SetCanCreateAgents(ctx, managerID, allowed); err != nil {
		return err
	}

	s.auditor.LogUserAction(ctx, actor, audit.ActionUserUpdated, "user", managerID.String(), map[string]any{
		"can_create_agents": allowed,
	})
	return nil
}

// deny audits a provisioning denial before returning it. The audit write is
// mandatory: a denial that cannot be recorded fails the whole request.
func (s *Service) deny(ctx context.Context, actor auth.Actor, creator *User, req ProvisionRequest, denial error) error {
	reason := apperrors.CodeOf(denial)
	metrics.ProvisioningDecision(string(creator.Role), string(req.Role), "denied")

	entry := audit.DenialEntry(actor, audit.ActionUserCreateDenied, "user", req.Email, reason)
	entry.Details["creator_role"] = string(creator.Role)
	entry.Details["target_role"] = string(req.Role)
	entry.Details["email_domain"] = emailDomain(req.Email)
	if err := s.auditor.MustRecord(ctx, entry); err != nil {
		logging.WithComponent("provisioning").
			WithField("reason", reason).
			WithError(err).Error("denial audit failed")
		return apperrors.Internal(fmt.Errorf("audit log required for provisioning denial: %w", err))
	}
	return denial
}

func (s *Service) denyUpdate(ctx context.Context, actor auth.Actor, target *User, reason string) error {
	entry := audit.DenialEntry(actor, audit.ActionUserUpdateDenied, "user", target.ID.String(), reason)
	if err := s.auditor.MustRecord(ctx, entry); err != nil {
		return apperrors.Internal(fmt.Errorf("audit log required for governance denial: %w", err))
	}
	return apperrors.Forbidden(reason, "operation not permitted on this account")
}
