package user

import (
	"time"

	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// User is a provisioned platform account. Accounts are never hard-deleted;
// deactivation flips is_active.
type User struct {
	ID       types.ID  `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     auth.Role `json:"role"`

	// DCA-side placement. Zero/empty for enterprise and support roles.
	DCAID     types.ID `json:"dca_id,omitempty"`
	StateCode string   `json:"state_code,omitempty"`

	// Enterprise-side visibility.
	AccessibleRegions []types.ID `json:"accessible_regions,omitempty"`
	IsGlobalAdmin     bool       `json:"is_global_admin"`

	// Delegable, revocable privilege for DCA managers, checked live at
	// provisioning time rather than cached at login.
	CanCreateAgents bool `json:"can_create_agents"`

	IsActive  bool      `json:"is_active"`
	CreatedBy types.ID  `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
