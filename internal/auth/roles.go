// Package auth provides authentication and authorization types for the
// control tower: the static role catalog, actor resolution, and access scoping.
package auth

// Role represents a user role in the system.
type Role string

// Enterprise roles - FedEx side
const (
	RoleSuperAdmin   Role = "SUPER_ADMIN"   // Full platform access
	RoleFedExAdmin   Role = "FEDEX_ADMIN"   // Enterprise administration
	RoleFedExManager Role = "FEDEX_MANAGER" // Regional oversight
	RoleFedExAnalyst Role = "FEDEX_ANALYST" // Case analysis
	RoleFedExAuditor Role = "FEDEX_AUDITOR" // Internal audit
	RoleFedExViewer  Role = "FEDEX_VIEWER"  // Read-only enterprise access
)

// Agency roles - DCA side
const (
	RoleDCAAdmin   Role = "DCA_ADMIN"   // Manage agency users, settings
	RoleDCAManager Role = "DCA_MANAGER" // Supervise agents, escalations
	RoleDCAAgent   Role = "DCA_AGENT"   // Work assigned cases
)

// Support roles - branchless, external-auditor carve-out
const (
	RoleAuditor  Role = "AUDITOR"  // External audit access
	RoleReadOnly Role = "READONLY" // Read-only access
)

// Permission represents a specific action on a resource.
type Permission string

// Case permissions
const (
	PermCasesRead       Permission = "cases:read"
	PermCasesCreate     Permission = "cases:create"
	PermCasesUpdate     Permission = "cases:update"
	PermCasesTransition Permission = "cases:transition"
	PermCasesAllocate   Permission = "cases:allocate"
	PermCasesExport     Permission = "cases:export"
)

// DCA permissions
const (
	PermDCAsRead   Permission = "dcas:read"
	PermDCAsCreate Permission = "dcas:create"
	PermDCAsUpdate Permission = "dcas:update"
)

// User and admin permissions
const (
	PermUsersRead     Permission = "users:read"
	PermUsersCreate   Permission = "users:create"
	PermUsersUpdate   Permission = "users:update"
	PermAuditRead     Permission = "audit:read"
	PermAuditExport   Permission = "audit:export"
	PermSLARead       Permission = "sla:read"
	PermReportsRead   Permission = "reports:read"
	PermAdminSettings Permission = "admin:settings"
)

// RolePermissions maps roles to their static permission sets. Granting is a
// pure function of this table: no database lookups, no per-user overrides.
var RolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermCasesRead, PermCasesCreate, PermCasesUpdate, PermCasesTransition,
		PermCasesAllocate, PermCasesExport,
		PermDCAsRead, PermDCAsCreate, PermDCAsUpdate,
		PermUsersRead, PermUsersCreate, PermUsersUpdate,
		PermAuditRead, PermAuditExport, PermSLARead, PermReportsRead,
		PermAdminSettings,
	},
	RoleFedExAdmin: {
		PermCasesRead, PermCasesCreate, PermCasesUpdate, PermCasesTransition,
		PermCasesAllocate, PermCasesExport,
		PermDCAsRead, PermDCAsCreate, PermDCAsUpdate,
		PermUsersRead, PermUsersCreate, PermUsersUpdate,
		PermAuditRead, PermSLARead, PermReportsRead,
	},
	RoleFedExManager: {
		PermCasesRead, PermCasesUpdate, PermCasesExport,
		PermDCAsRead, PermUsersRead,
		PermSLARead, PermReportsRead,
	},
	RoleFedExAnalyst: {
		PermCasesRead, PermCasesExport, PermDCAsRead, PermSLARead, PermReportsRead,
	},
	RoleFedExAuditor: {
		PermCasesRead, PermAuditRead, PermAuditExport, PermSLARead, PermReportsRead,
	},
	RoleFedExViewer: {
		PermCasesRead, PermDCAsRead, PermSLARead,
	},
	RoleDCAAdmin: {
		PermCasesRead, PermCasesUpdate, PermCasesTransition,
		PermUsersRead, PermUsersCreate, PermUsersUpdate,
		PermSLARead, PermReportsRead,
	},
	RoleDCAManager: {
		PermCasesRead, PermCasesUpdate, PermCasesTransition,
		PermUsersRead, PermUsersCreate,
		PermSLARead,
	},
	RoleDCAAgent: {
		PermCasesRead, PermCasesUpdate, PermCasesTransition,
	},
	RoleAuditor: {
		PermCasesRead, PermAuditRead, PermAuditExport,
	},
	RoleReadOnly: {
		PermCasesRead,
	},
}

// branch identifies which management hierarchy a role belongs to. The FedEx
// and DCA hierarchies are disjoint: no cross-branch management is ever legal.
type branch int

const (
	branchNone branch = iota
	branchFedEx
	branchDCA
)

type rolePosition struct {
	branch branch
	rank   int // higher outranks lower within the same branch
}

// roleHierarchy places every role. AUDITOR and READONLY sit at leaf rank on
// the FedEx side: they are enterprise-provisioned support roles. SUPER_ADMIN
// is handled specially and outranks both branches.
var roleHierarchy = map[Role]rolePosition{
	RoleFedExAdmin:   {branchFedEx, 3},
	RoleFedExManager: {branchFedEx, 2},
	RoleFedExAnalyst: {branchFedEx, 1},
	RoleFedExAuditor: {branchFedEx, 1},
	RoleFedExViewer:  {branchFedEx, 1},
	RoleAuditor:      {branchFedEx, 1},
	RoleReadOnly:     {branchFedEx, 1},
	RoleDCAAdmin:     {branchDCA, 3},
	RoleDCAManager:   {branchDCA, 2},
	RoleDCAAgent:     {branchDCA, 1},
}

// allRoles in stable order, used to derive assignable sets deterministically.
var allRoles = []Role{
	RoleSuperAdmin,
	RoleFedExAdmin, RoleFedExManager, RoleFedExAnalyst, RoleFedExAuditor, RoleFedExViewer,
	RoleDCAAdmin, RoleDCAManager, RoleDCAAgent,
	RoleAuditor, RoleReadOnly,
}

// IsValidRole reports whether the role is part of the catalog.
func IsValidRole(role Role) bool {
	if role == RoleSuperAdmin {
		return true
	}
	_, ok := roleHierarchy[role]
	return ok
}

// HasPermission checks if a role has a specific permission. Unknown, empty,
// or null-ish roles never have any permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAnyPermission checks if the role holds at least one of the permissions.
func HasAnyPermission(role Role, perms []Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions checks if the role holds every one of the permissions.
func HasAllPermissions(role Role, perms []Permission) bool {
	for _, p := range perms {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// CanManageRole reports whether manager may create or manage accounts holding
// target. True only when manager is strictly senior to target within the same
// branch. SUPER_ADMIN is senior to every role except itself.
func CanManageRole(manager, target Role) bool {
	if !IsValidRole(manager) || !IsValidRole(target) {
		return false
	}
	if manager == RoleSuperAdmin {
		return target != RoleSuperAdmin
	}
	if target == RoleSuperAdmin {
		return false
	}

	mp, tp := roleHierarchy[manager], roleHierarchy[target]
	if mp.branch != tp.branch {
		return false
	}
	return mp.rank > tp.rank
}

// AssignableRoles returns the exact set of roles a role may create or manage.
// Empty for leaf roles.
func AssignableRoles(role Role) []Role {
	var out []Role
	for _, r := range allRoles {
		if CanManageRole(role, r) {
			out = append(out, r)
		}
	}
	return out
}

// IsFedExRole reports whether the role belongs to the enterprise side.
// SUPER_ADMIN counts as enterprise-side; AUDITOR and READONLY are support
// roles and belong to neither side.
func IsFedExRole(role Role) bool {
	switch role {
	case RoleSuperAdmin, RoleFedExAdmin, RoleFedExManager, RoleFedExAnalyst,
		RoleFedExAuditor, RoleFedExViewer:
		return true
	}
	return false
}

// IsDCARole reports whether the role belongs to a collection agency.
func IsDCARole(role Role) bool {
	switch role {
	case RoleDCAAdmin, RoleDCAManager, RoleDCAAgent:
		return true
	}
	return false
}
