package domain

import (
	"github.com/fedex-dca/control-tower/internal/auth"
)

// allStatuses is the canonical status list across both layers.
var allStatuses = []Status{
	StatusPendingAllocation, StatusAllocated, StatusPendingContact,
	StatusOpen, StatusInProgress, StatusContacted, StatusPromiseToPay,
	StatusPartiallyRecovered, StatusRecovered, StatusFailed,
	StatusEscalated, StatusClosed,
}

// IsValidStatus membership-tests the canonical status list.
func IsValidStatus(s Status) bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// agentEdges is the linear recovery workflow a collection agent walks.
var agentEdges = map[Status][]Status{
	StatusOpen:               {StatusInProgress},
	StatusInProgress:         {StatusContacted},
	StatusContacted:          {StatusPromiseToPay, StatusFailed},
	StatusPromiseToPay:       {StatusPartiallyRecovered, StatusFailed},
	StatusPartiallyRecovered: {StatusRecovered, StatusFailed},
}

// managerEscalatable: a DCA manager may escalate from any of these.
var managerEscalatable = []Status{
	StatusOpen, StatusInProgress, StatusContacted, StatusPromiseToPay,
	StatusPartiallyRecovered, StatusRecovered, StatusFailed,
}

// adminEdges: FedEx administrators close finished work and resolve
// escalations; they never drive the recovery workflow itself.
var adminEdges = map[Status][]Status{
	StatusRecovered: {StatusClosed},
	StatusFailed:    {StatusClosed},
	StatusEscalated: {StatusInProgress, StatusClosed},
}

// transitionTable returns the directed edge table for a role. Roles without
// an entry have no legal transitions at all.
func transitionTable(role auth.Role) map[Status][]Status {
	switch role {
	case auth.RoleDCAAgent:
		return agentEdges
	case auth.RoleDCAManager:
		table := make(map[Status][]Status, len(agentEdges)+len(managerEscalatable))
		for from, tos := range agentEdges {
			table[from] = append([]Status(nil), tos...)
		}
		for _, from := range managerEscalatable {
			table[from] = append(table[from], StatusEscalated)
		}
		return table
	case auth.RoleFedExAdmin:
		return adminEdges
	default:
		return nil
	}
}

// IsTransitionAllowed checks whether a role may move a case along the
// from→to edge. Any edge not listed is illegal; unknown roles have no edges.
func IsTransitionAllowed(role auth.Role, from, to Status) bool {
	table := transitionTable(role)
	if table == nil {
		return false
	}
	for _, target := range table[from] {
		if target == to {
			return true
		}
	}
	return false
}

// AllowedTargets lists the legal destinations for a role from a state, used
// in INVALID_TRANSITION error details.
func AllowedTargets(role auth.Role, from Status) []Status {
	table := transitionTable(role)
	if table == nil {
		return nil
	}
	return table[from]
}
