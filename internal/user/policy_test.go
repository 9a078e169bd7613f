package user

import (
	"testing"

	"github.com/fedex-dca/control-tower/internal/auth"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

func creator(role auth.Role) *User {
	return &User{ID: types.NewID(), Role: role, DCAID: types.NewID(), StateCode: "MH"}
}

func TestProvisioningMatrix(t *testing.T) {
	tests := []struct {
		creator auth.Role
		target  auth.Role
		allowed bool
	}{
		{auth.RoleSuperAdmin, auth.RoleFedExAdmin, true},
		{auth.RoleSuperAdmin, auth.RoleDCAAdmin, true},
		{auth.RoleSuperAdmin, auth.RoleAuditor, true},
		{auth.RoleSuperAdmin, auth.RoleReadOnly, true},
		{auth.RoleSuperAdmin, auth.RoleSuperAdmin, false},
		{auth.RoleSuperAdmin, auth.RoleDCAAgent, false},

		// FEDEX_ADMIN provisions the same set minus itself.
		{auth.RoleFedExAdmin, auth.RoleFedExManager, true},
		{auth.RoleFedExAdmin, auth.RoleDCAAdmin, true},
		{auth.RoleFedExAdmin, auth.RoleFedExAdmin, false},

		// FEDEX_MANAGER provisions no one.
		{auth.RoleFedExManager, auth.RoleFedExAnalyst, false},
		{auth.RoleFedExManager, auth.RoleReadOnly, false},

		{auth.RoleDCAAdmin, auth.RoleDCAManager, true},
		{auth.RoleDCAAdmin, auth.RoleDCAAgent, true},
		{auth.RoleDCAAdmin, auth.RoleDCAAdmin, false},
		{auth.RoleDCAAdmin, auth.RoleFedExAdmin, false},

		// Roles outside the matrix provision no one.
		{auth.RoleDCAAgent, auth.RoleDCAAgent, false},
		{auth.RoleAuditor, auth.RoleReadOnly, false},
		{auth.RoleFedExAnalyst, auth.RoleReadOnly, false},
	}

	for _, tt := range tests {
		err := CanProvision(creator(tt.creator), tt.target)
		if (err == nil) != tt.allowed {
			t.Errorf("%s creating %s: err=%v, want allowed=%v", tt.creator, tt.target, err, tt.allowed)
		}
	}
}

func TestManagerDelegationCheckedLive(t *testing.T) {
	manager := creator(auth.RoleDCAManager)

	manager.CanCreateAgents = true
	if err := CanProvision(manager, auth.RoleDCAAgent); err != nil {
		t.Errorf("delegated manager should create agents: %v", err)
	}

	// Revocation takes effect immediately, regardless of session age.
	manager.CanCreateAgents = false
	err := CanProvision(manager, auth.RoleDCAAgent)
	if apperrors.CodeOf(err) != "AGENT_CREATION_REVOKED" {
		t.Errorf("error code = %s, want AGENT_CREATION_REVOKED", apperrors.CodeOf(err))
	}

	if err := CanProvision(manager, auth.RoleDCAManager); apperrors.CodeOf(err) != "ROLE_NOT_ASSIGNABLE" {
		t.Errorf("manager creating manager: code = %s, want ROLE_NOT_ASSIGNABLE", apperrors.CodeOf(err))
	}
}

func TestEmailDomainGovernance(t *testing.T) {
	tests := []struct {
		name  string
		role  auth.Role
		email string
		code  string // empty = accepted
	}{
		{"fedex role with corporate domain", auth.RoleFedExManager, "jan@fedex.com", ""},
		{"fedex role with personal domain", auth.RoleFedExManager, "jan@gmail.com", "EMAIL_DOMAIN_INVALID"},
		{"fedex role with agency domain", auth.RoleFedExAnalyst, "jan@collectpro.example", "EMAIL_DOMAIN_INVALID"},

		{"dca role with agency domain", auth.RoleDCAAgent, "rita@collectpro.example", ""},
		{"dca role with corporate domain", auth.RoleDCAAgent, "rita@fedex.com", "EMAIL_DOMAIN_INVALID"},
		{"dca role with placeholder domain", auth.RoleDCAManager, "rita@fedex-dca.com", "EMAIL_DOMAIN_INVALID"},
		{"dca role with gmail", auth.RoleDCAAgent, "rita@gmail.com", "EMAIL_DOMAIN_INVALID"},
		{"dca role with yandex", auth.RoleDCAAgent, "rita@yandex.com", "EMAIL_DOMAIN_INVALID"},
		{"dca role with uppercase blocklisted domain", auth.RoleDCAAgent, "rita@GMAIL.COM", "EMAIL_DOMAIN_INVALID"},

		// External-auditor carve-out: support roles may use any domain.
		{"auditor with personal domain", auth.RoleAuditor, "sam@gmail.com", ""},
		{"readonly with personal domain", auth.RoleReadOnly, "sam@yahoo.com", ""},
		{"auditor with firm domain", auth.RoleAuditor, "sam@auditfirm.example", ""},

		{"no domain at all", auth.RoleDCAAgent, "rita", "INVALID_EMAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmailDomain(tt.role, tt.email)
			if got := codeOrEmpty(err); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestInheritanceForDCAAdmin(t *testing.T) {
	admin := creator(auth.RoleDCAAdmin)

	// Client-supplied dca_id is overwritten with the creator's own.
	req := ProvisionRequest{Role: auth.RoleDCAAgent, DCAID: types.NewID()}
	if err := ApplyInheritance(admin, &req); err != nil {
		t.Fatalf("inheritance: %v", err)
	}
	if req.DCAID != admin.DCAID {
		t.Error("dca_id must be forced to the creator's agency")
	}

	// A new manager needs an explicit state to supervise.
	req = ProvisionRequest{Role: auth.RoleDCAManager}
	if err := ApplyInheritance(admin, &req); apperrors.CodeOf(err) != "MANAGER_STATE_REQUIRED" {
		t.Errorf("code = %s, want MANAGER_STATE_REQUIRED", apperrors.CodeOf(err))
	}

	req = ProvisionRequest{Role: auth.RoleDCAManager, StateCode: "KA"}
	if err := ApplyInheritance(admin, &req); err != nil {
		t.Errorf("manager with explicit state: %v", err)
	}
}

func TestInheritanceForDCAManager(t *testing.T) {
	manager := creator(auth.RoleDCAManager)

	// Both dca_id and state_code inherit, non-overridable.
	req := ProvisionRequest{Role: auth.RoleDCAAgent, DCAID: types.NewID(), StateCode: "TN"}
	if err := ApplyInheritance(manager, &req); err != nil {
		t.Fatalf("inheritance: %v", err)
	}
	if req.DCAID != manager.DCAID {
		t.Error("agent must inherit the creator's dca_id")
	}
	if req.StateCode != manager.StateCode {
		t.Errorf("state_code = %s, want inherited %s", req.StateCode, manager.StateCode)
	}
}

func TestRegionAssignmentRules(t *testing.T) {
	one := []types.ID{types.NewID()}
	many := []types.ID{types.NewID(), types.NewID()}

	if err := ValidateRegionAssignment(auth.RoleFedExAdmin, many); err != nil {
		t.Errorf("FEDEX_ADMIN multi-region: %v", err)
	}
	if err := ValidateRegionAssignment(auth.RoleFedExManager, one); err != nil {
		t.Errorf("single region for manager: %v", err)
	}
	if err := ValidateRegionAssignment(auth.RoleFedExManager, many); apperrors.CodeOf(err) != "MULTI_REGION_NOT_ALLOWED" {
		t.Errorf("code = %s, want MULTI_REGION_NOT_ALLOWED", apperrors.CodeOf(err))
	}
}

func codeOrEmpty(err error) string {
	if err == nil {
		return ""
	}
	return apperrors.CodeOf(err)
}
