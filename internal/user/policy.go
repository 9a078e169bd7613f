package user

import (
	"fmt"
	"strings"

	"github.com/fedex-dca/control-tower/internal/auth"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// creatorMatrix is the provisioning matrix: which roles each creator role may
// provision. It is narrower than the general management hierarchy:
// FEDEX_MANAGER manages analysts day to day but provisions no one, and
// nobody provisions SUPER_ADMIN through this path.
var creatorMatrix = map[auth.Role][]auth.Role{
	auth.RoleSuperAdmin: {
		auth.RoleFedExAdmin, auth.RoleFedExManager, auth.RoleFedExAnalyst,
		auth.RoleFedExAuditor, auth.RoleAuditor, auth.RoleReadOnly,
		auth.RoleDCAAdmin,
	},
	auth.RoleFedExAdmin: {
		auth.RoleFedExManager, auth.RoleFedExAnalyst,
		auth.RoleFedExAuditor, auth.RoleAuditor, auth.RoleReadOnly,
		auth.RoleDCAAdmin,
	},
	auth.RoleFedExManager: {},
	auth.RoleDCAAdmin:     {auth.RoleDCAManager, auth.RoleDCAAgent},
	auth.RoleDCAManager:   {auth.RoleDCAAgent},
}

const (
	enterpriseDomain  = "fedex.com"
	placeholderDomain = "fedex-dca.com"
)

// personalDomains is the fixed blocklist for agency accounts: collection work
// runs on agency infrastructure, never personal mailboxes.
var personalDomains = map[string]bool{
	"gmail.com":      true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"aol.com":        true,
	"icloud.com":     true,
	"mail.com":       true,
	"protonmail.com": true,
	"yandex.com":     true,
	"zoho.com":       true,
}

// CanProvision checks the creator matrix. The creator is the live user row,
// not the login-time session: a DCA manager's can_create_agents flag is a
// revocable delegation and must be honored at the moment of the attempt.
func CanProvision(creator *User, targetRole auth.Role) error {
	if !auth.IsValidRole(targetRole) {
		return apperrors.Validation("INVALID_ROLE", fmt.Sprintf("%q is not a role", targetRole), nil)
	}

	allowed, ok := creatorMatrix[creator.Role]
	if !ok {
		return provisioningDenied(creator.Role, targetRole)
	}
	for _, r := range allowed {
		if r != targetRole {
			continue
		}
		if creator.Role == auth.RoleDCAManager && targetRole == auth.RoleDCAAgent && !creator.CanCreateAgents {
			return apperrors.Forbidden("AGENT_CREATION_REVOKED",
				"agent creation privilege has been revoked for this manager")
		}
		return nil
	}
	return provisioningDenied(creator.Role, targetRole)
}

func provisioningDenied(creator, target auth.Role) error {
	return apperrors.Forbidden("ROLE_NOT_ASSIGNABLE",
		fmt.Sprintf("role %s may not provision %s accounts", creator, target))
}

// ValidateEmailDomain enforces the server-side email governance rules.
// AUDITOR and READONLY are exempt: external auditors legitimately work from
// their own firms' (or personal) domains.
func ValidateEmailDomain(targetRole auth.Role, email string) error {
	domain := emailDomain(email)
	if domain == "" {
		return apperrors.Validation("INVALID_EMAIL", "email has no domain", nil)
	}

	if targetRole == auth.RoleAuditor || targetRole == auth.RoleReadOnly {
		return nil
	}

	if auth.IsFedExRole(targetRole) {
		if domain != enterpriseDomain {
			return apperrors.Validation("EMAIL_DOMAIN_INVALID",
				fmt.Sprintf("enterprise roles require an @%s address", enterpriseDomain), nil)
		}
		return nil
	}

	// DCA-side roles.
	switch {
	case domain == enterpriseDomain:
		return apperrors.Validation("EMAIL_DOMAIN_INVALID",
			"agency accounts must not use the enterprise domain", nil)
	case domain == placeholderDomain:
		return apperrors.Validation("EMAIL_DOMAIN_INVALID",
			"placeholder domains are not accepted for agency accounts", nil)
	case personalDomains[domain]:
		return apperrors.Validation("EMAIL_DOMAIN_INVALID",
			fmt.Sprintf("personal email domain %s is not accepted for agency accounts", domain), nil)
	}
	return nil
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// ProvisionRequest is the provisioning input after schema decoding. DCA and
// state placement may be overridden by inheritance before persistence.
type ProvisionRequest struct {
	Email             string     `json:"email" validate:"required,email"`
	FullName          string     `json:"full_name" validate:"required,max=255"`
	Role              auth.Role  `json:"role" validate:"required"`
	DCAID             types.ID   `json:"dca_id,omitempty"`
	StateCode         string     `json:"state_code,omitempty"`
	AccessibleRegions []types.ID `json:"accessible_regions,omitempty"`
}

// ApplyInheritance rewrites placement fields per the creator's position.
// Client-supplied dca_id is never trusted when the creator is agency-side.
func ApplyInheritance(creator *User, req *ProvisionRequest) error {
	switch creator.Role {
	case auth.RoleDCAAdmin:
		req.DCAID = creator.DCAID
		if req.Role == auth.RoleDCAManager && req.StateCode == "" {
			return apperrors.Validation("MANAGER_STATE_REQUIRED",
				"a DCA manager must supervise an explicit state", nil)
		}
	case auth.RoleDCAManager:
		req.DCAID = creator.DCAID
		req.StateCode = creator.StateCode
	}
	return nil
}

// ValidateRegionAssignment enforces the enterprise-side region rules: only
// FEDEX_ADMIN accounts may hold a multi-region list.
func ValidateRegionAssignment(targetRole auth.Role, regions []types.ID) error {
	if len(regions) > 1 && targetRole != auth.RoleFedExAdmin {
		return apperrors.Validation("MULTI_REGION_NOT_ALLOWED",
			fmt.Sprintf("role %s may hold at most one region", targetRole), nil)
	}
	return nil
}
