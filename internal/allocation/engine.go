package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/dca"
	"github.com/fedex-dca/control-tower/internal/shared/events"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// Ranking weights. Capacity balance dominates so under-utilized agencies are
// not starved while strong performers are overloaded; SLA compliance outranks
// raw recovery because timeliness is the platform's primary mandate.
const (
	weightCapacity      = 0.40
	weightSLACompliance = 0.35
	weightRecoveryRate  = 0.25
)

// Outcome of an allocation attempt.
type Outcome string

const (
	OutcomeAllocated Outcome = "ALLOCATED"
	OutcomePending   Outcome = "PENDING"
)

// CandidateSource lists the eligible agencies for a region.
type CandidateSource interface {
	EligibleForRegion(ctx context.Context, regionID types.ID) ([]dca.Candidate, error)
}

// CapacityReserver performs the conditional capacity increment.
type CapacityReserver interface {
	TryIncrementCapacity(ctx context.Context, id types.ID) (bool, error)
}

// CaseBinder applies the selected agency to the case record and its timeline.
type CaseBinder interface {
	BindAllocation(ctx context.Context, caseID, dcaID types.ID, score float64, reason string) error
}

// Request identifies the case to place.
type Request struct {
	CaseID     types.ID
	CaseNumber string
	RegionID   types.ID
}

// Result reports the decision. A pending result with zero candidates is a
// normal outcome, not an error: the case waits in PENDING_ALLOCATION.
type Result struct {
	Outcome             Outcome  `json:"outcome"`
	DCAID               types.ID `json:"dca_id,omitempty"`
	DCAName             string   `json:"dca_name,omitempty"`
	Score               float64  `json:"score,omitempty"`
	SelectionReason     string   `json:"selection_reason,omitempty"`
	CandidatesEvaluated int      `json:"candidates_evaluated"`
	CapacityAfter       int      `json:"capacity_after,omitempty"`
	CapacityLimit       int      `json:"capacity_limit,omitempty"`
}

// Engine places newly created cases with eligible agencies.
type Engine struct {
	candidates CandidateSource
	capacity   CapacityReserver
	binder     CaseBinder
	auditor    *audit.Logger
	emitter    *events.Emitter
}

// NewEngine creates an allocation engine.
func NewEngine(candidates CandidateSource, capacity CapacityReserver, binder CaseBinder, auditor *audit.Logger, emitter *events.Emitter) *Engine {
	return &Engine{
		candidates: candidates,
		capacity:   capacity,
		binder:     binder,
		auditor:    auditor,
		emitter:    emitter,
	}
}

// scored pairs a candidate with its computed ranking score.
type scored struct {
	dca.Candidate
	score float64
}

// Score computes the ranking score for one candidate.
func Score(c dca.Candidate) float64 {
	return weightCapacity*(100-c.UtilizationPct()) +
		weightSLACompliance*c.SLACompliance +
		weightRecoveryRate*c.RecoveryRate
}

// Allocate selects the best eligible agency for the case's region and binds
// it. Capacity is reserved with a conditional increment before the case is
// touched, so a concurrent allocation that takes the last slot simply pushes
// selection to the next-ranked candidate.
func (e *Engine) Allocate(ctx context.Context, req Request) (*Result, error) {
	candidates, err := e.candidates.EligibleForRegion(ctx, req.RegionID)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		metrics.AllocationAttempted("pending")
		e.auditor.LogSystemAction(ctx, "allocation-engine", audit.ActionCaseAllocationPending, "case", req.CaseNumber, map[string]any{
			"region_id":            req.RegionID,
			"candidates_evaluated": 0,
		})
		return &Result{Outcome: OutcomePending, CandidatesEvaluated: 0}, nil
	}

	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{Candidate: c, score: Score(c)}
	}
	// Stable: equal scores keep the repository's deterministic input order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	for _, candidate := range ranked {
		reserved, err := e.capacity.TryIncrementCapacity(ctx, candidate.DCAID)
		if err != nil {
			return nil, err
		}
		if !reserved {
			// Lost a capacity race since the eligibility query; next in rank.
			continue
		}

		reason := selectionReason(candidate, len(ranked))

		if err := e.binder.BindAllocation(ctx, req.CaseID, candidate.DCAID, candidate.score, reason); err != nil {
			return nil, err
		}

		metrics.AllocationAttempted("allocated")
		e.auditor.LogSystemAction(ctx, "allocation-engine", audit.ActionCaseAllocated, "case", req.CaseNumber, map[string]any{
			"dca_id":               candidate.DCAID,
			"dca_name":             candidate.Name,
			"score":                candidate.score,
			"selection_reason":     reason,
			"candidates_evaluated": len(ranked),
			"capacity_after":       candidate.CapacityUsed + 1,
			"capacity_limit":       candidate.CapacityLimit,
		})
		e.emitter.Emit("case.assigned", "allocation-engine", "SYSTEM", map[string]any{
			"case_id":     req.CaseID,
			"case_number": req.CaseNumber,
			"dca_id":      candidate.DCAID,
			"score":       candidate.score,
		})

		return &Result{
			Outcome:             OutcomeAllocated,
			DCAID:               candidate.DCAID,
			DCAName:             candidate.Name,
			Score:               candidate.score,
			SelectionReason:     reason,
			CandidatesEvaluated: len(ranked),
			CapacityAfter:       candidate.CapacityUsed + 1,
			CapacityLimit:       candidate.CapacityLimit,
		}, nil
	}

	// Every candidate filled up between the query and the reserve.
	metrics.AllocationAttempted("pending")
	e.auditor.LogSystemAction(ctx, "allocation-engine", audit.ActionCaseAllocationPending, "case", req.CaseNumber, map[string]any{
		"region_id":            req.RegionID,
		"candidates_evaluated": len(ranked),
		"note":                 "all candidates at capacity",
	})
	return &Result{Outcome: OutcomePending, CandidatesEvaluated: len(ranked)}, nil
}

// selectionReason explains the decision in plain language. Every automated
// assignment must be explainable after the fact, so the numbers that drove
// the ranking are spelled out.
func selectionReason(c scored, evaluated int) string {
	return fmt.Sprintf(
		"selected %s with score %.1f (utilization %.0f%%, SLA compliance %.0f%%, recovery rate %.0f%%) out of %d eligible candidate(s)",
		c.Name, c.score, c.UtilizationPct(), c.SLACompliance, c.RecoveryRate, evaluated)
}
