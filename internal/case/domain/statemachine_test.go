package domain

import (
	"testing"

	"github.com/fedex-dca/control-tower/internal/auth"
)

func TestAgentTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusOpen, StatusInProgress, true},
		{StatusInProgress, StatusContacted, true},
		{StatusContacted, StatusPromiseToPay, true},
		{StatusContacted, StatusFailed, true},
		{StatusPromiseToPay, StatusPartiallyRecovered, true},
		{StatusPromiseToPay, StatusFailed, true},
		{StatusPartiallyRecovered, StatusRecovered, true},
		{StatusPartiallyRecovered, StatusFailed, true},

		// no skipping, no reversing, no escalation, no closing
		{StatusOpen, StatusContacted, false},
		{StatusContacted, StatusOpen, false},
		{StatusOpen, StatusEscalated, false},
		{StatusRecovered, StatusClosed, false},
		{StatusRecovered, StatusFailed, false},
		{StatusFailed, StatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := IsTransitionAllowed(auth.RoleDCAAgent, tt.from, tt.to); got != tt.allowed {
				t.Errorf("agent %s→%s = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestManagerEscalatesFromEveryNonTerminal(t *testing.T) {
	escalatable := []Status{
		StatusOpen, StatusInProgress, StatusContacted, StatusPromiseToPay,
		StatusPartiallyRecovered, StatusRecovered, StatusFailed,
	}
	for _, from := range escalatable {
		if !IsTransitionAllowed(auth.RoleDCAManager, from, StatusEscalated) {
			t.Errorf("manager should escalate from %s", from)
		}
	}

	// Managers hold every agent edge too.
	if !IsTransitionAllowed(auth.RoleDCAManager, StatusOpen, StatusInProgress) {
		t.Error("manager should hold the agent's edges")
	}

	// But cannot close or re-escalate an escalation.
	if IsTransitionAllowed(auth.RoleDCAManager, StatusRecovered, StatusClosed) {
		t.Error("manager must not close cases")
	}
	if IsTransitionAllowed(auth.RoleDCAManager, StatusEscalated, StatusEscalated) {
		t.Error("ESCALATED is not escalatable")
	}
}

func TestAdminTransitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusRecovered, StatusClosed, true},
		{StatusFailed, StatusClosed, true},
		{StatusEscalated, StatusInProgress, true},
		{StatusEscalated, StatusClosed, true},

		{StatusOpen, StatusInProgress, false},
		{StatusOpen, StatusClosed, false},
		{StatusContacted, StatusClosed, false},
	}

	for _, tt := range tests {
		if got := IsTransitionAllowed(auth.RoleFedExAdmin, tt.from, tt.to); got != tt.allowed {
			t.Errorf("admin %s→%s = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestRolesWithoutTransitions(t *testing.T) {
	noEdgeRoles := []auth.Role{
		auth.RoleSuperAdmin, auth.RoleFedExManager, auth.RoleFedExAnalyst,
		auth.RoleFedExViewer, auth.RoleDCAAdmin, auth.RoleAuditor,
		auth.RoleReadOnly, auth.Role("UNKNOWN"), auth.Role(""),
	}

	for _, role := range noEdgeRoles {
		for _, from := range allStatuses {
			for _, to := range allStatuses {
				if IsTransitionAllowed(role, from, to) {
					t.Fatalf("role %q must have no transitions, but %s→%s allowed", role, from, to)
				}
			}
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range allStatuses {
		if !IsValidStatus(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []Status{"", "open", "DELETED", "PENDING"} {
		if IsValidStatus(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}

func TestAllowedTargets(t *testing.T) {
	targets := AllowedTargets(auth.RoleDCAAgent, StatusContacted)
	if len(targets) != 2 {
		t.Fatalf("agent targets from CONTACTED = %v, want 2", targets)
	}

	if got := AllowedTargets(auth.RoleReadOnly, StatusOpen); got != nil {
		t.Errorf("READONLY targets = %v, want nil", got)
	}
}
