package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/domain"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/events"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
	"github.com/fedex-dca/control-tower/internal/shared/types"
	"github.com/fedex-dca/control-tower/internal/sla"
)

// TransitionRequest moves a case to a new workflow status.
type TransitionRequest struct {
	ToStatus string `json:"to_status"`
	Notes    string `json:"notes,omitempty"`
}

// slaCompleter closes pending timing records once the obligation is met.
type slaCompleter interface {
	LogsByCase(ctx context.Context, caseID types.ID) ([]sla.Log, error)
	UpdateStatus(ctx context.Context, id types.ID, status string) error
}

// Transitioner executes governed case status transitions. Every rejection is
// audit-logged before it is returned; a denial that cannot be recorded fails
// the whole request.
type Transitioner struct {
	cases    domain.Repository
	timeline domain.TimelineRepository
	slas     slaCompleter
	auditor  *audit.Logger
	emitter  *events.Emitter
	now      func() time.Time
}

// NewTransitioner wires the transition service.
func NewTransitioner(cases domain.Repository, timeline domain.TimelineRepository, slas slaCompleter, auditor *audit.Logger, emitter *events.Emitter) *Transitioner {
	return &Transitioner{
		cases:    cases,
		timeline: timeline,
		slas:     slas,
		auditor:  auditor,
		emitter:  emitter,
		now:      time.Now,
	}
}

// Transition validates and applies a status change. The status update is the
// authoritative write; timeline, audit, and event emission afterwards are
// best-effort.
func (t *Transitioner) Transition(ctx context.Context, actor auth.Actor, caseID types.ID, req TransitionRequest) (*domain.Case, error) {
	c, err := t.cases.GetByID(ctx, caseID)
	if err != nil {
		if denyErr := t.deny(ctx, actor, caseID.String(), "CASE_NOT_FOUND"); denyErr != nil {
			return nil, denyErr
		}
		return nil, apperrors.NotFound("case", caseID.String())
	}

	to := domain.Status(req.ToStatus)
	if !domain.IsValidStatus(to) {
		if denyErr := t.deny(ctx, actor, c.CaseNumber, "INVALID_STATUS"); denyErr != nil {
			return nil, denyErr
		}
		return nil, apperrors.Validation("INVALID_STATUS",
			fmt.Sprintf("%q is not a case status", req.ToStatus), nil)
	}

	// DCA-side actors may only touch cases assigned to their own agency.
	if auth.IsDCARole(actor.Role) {
		if c.AssignedDCAID.IsZero() {
			if denyErr := t.deny(ctx, actor, c.CaseNumber, "CASE_NOT_ASSIGNED"); denyErr != nil {
				return nil, denyErr
			}
			return nil, apperrors.Forbidden("CASE_NOT_ASSIGNED", "case is not assigned to any agency")
		}
		if c.AssignedDCAID != actor.DCAID {
			if denyErr := t.deny(ctx, actor, c.CaseNumber, "NOT_ASSIGNED_TO_USER_DCA"); denyErr != nil {
				return nil, denyErr
			}
			return nil, apperrors.Forbidden("NOT_ASSIGNED_TO_USER_DCA", "case is assigned to a different agency")
		}
	}

	if !domain.IsTransitionAllowed(actor.Role, c.Status, to) {
		if denyErr := t.deny(ctx, actor, c.CaseNumber, "INVALID_TRANSITION"); denyErr != nil {
			return nil, denyErr
		}
		return nil, invalidTransition(actor.Role, c.Status, to)
	}

	// Authoritative write: the from-status guard turns a concurrent
	// transition into a conflict instead of a lost update.
	from := c.Status
	if err := t.cases.UpdateStatus(ctx, c.ID, from, to); err != nil {
		return nil, err
	}
	c.Status = to

	metrics.CaseTransitioned(string(from), string(to))

	// Reaching the customer completes the first-contact obligation.
	if to == domain.StatusContacted {
		t.completeFirstContact(ctx, c)
	}

	description := fmt.Sprintf("status changed %s → %s", from, to)
	if req.Notes != "" {
		description += ": " + req.Notes
	}
	if err := t.timeline.Append(ctx, &domain.TimelineEntry{
		CaseID:      c.ID,
		Category:    domain.TimelineCategoryUser,
		EventType:   domain.TimelineEventStatusChanged,
		ActorID:     actor.ActorID(),
		Description: description,
		Data: map[string]any{
			"from": from,
			"to":   to,
		},
	}); err != nil {
		logging.WithComponent("transition").
			WithField("case_number", c.CaseNumber).
			WithError(err).Warn("timeline append failed")
	}

	t.auditor.LogUserAction(ctx, actor, audit.ActionCaseTransitioned, "case", c.ID.String(), map[string]any{
		"case_number": c.CaseNumber,
		"from":        from,
		"to":          to,
		"notes":       req.Notes,
	})

	t.emitter.Emit("case.status.changed", actor.ActorID(), string(domain.ActorTypeHuman), map[string]any{
		"case_id":     c.ID,
		"case_number": c.CaseNumber,
		"from":        from,
		"to":          to,
	})

	return c, nil
}

// completeFirstContact closes the pending FIRST_CONTACT timing record and
// judges it against its deadline. Best-effort: the transition already
// succeeded; a late contact is recorded as a breach, not an error.
func (t *Transitioner) completeFirstContact(ctx context.Context, c *domain.Case) {
	if t.slas == nil {
		return
	}

	logs, err := t.slas.LogsByCase(ctx, c.ID)
	if err != nil {
		logging.WithComponent("transition").
			WithField("case_number", c.CaseNumber).
			WithError(err).Warn("sla lookup failed, first-contact sla left pending")
		return
	}

	for _, l := range logs {
		if l.SLAType != sla.TypeFirstContact || l.Status != sla.StatusPending {
			continue
		}

		status := sla.StatusMet
		if t.now().UTC().After(l.DueAt) {
			status = sla.StatusBreached
			metrics.SLABreached(l.SLAType)
			t.auditor.LogSystemAction(ctx, "sla-engine", audit.ActionSLABreached, "sla", l.ID.String(), map[string]any{
				"case_number": c.CaseNumber,
				"sla_type":    l.SLAType,
				"due_at":      l.DueAt,
			})
		}
		if err := t.slas.UpdateStatus(ctx, l.ID, status); err != nil {
			logging.WithComponent("transition").
				WithField("case_number", c.CaseNumber).
				WithError(err).Warn("sla completion failed")
		}
	}
}

// deny records the rejection before the caller returns it. Losing a denial
// record is worse than failing the request, so an audit failure escalates.
func (t *Transitioner) deny(ctx context.Context, actor auth.Actor, resourceID, reason string) error {
	entry := audit.DenialEntry(actor, audit.ActionCaseTransitionDenied, "case", resourceID, reason)
	if err := t.auditor.MustRecord(ctx, entry); err != nil {
		logging.WithComponent("transition").
			WithField("reason", reason).
			WithError(err).Error("denial audit failed")
		return apperrors.Internal(fmt.Errorf("audit log required for governance denial: %w", err))
	}
	return nil
}

// invalidTransition carries the from/to pair and the actor's legal targets so
// the caller can act without guessing.
func invalidTransition(role auth.Role, from, to domain.Status) error {
	targets := domain.AllowedTargets(role, from)
	names := make([]string, len(targets))
	for i, s := range targets {
		names[i] = string(s)
	}
	return apperrors.Forbidden("INVALID_TRANSITION",
		fmt.Sprintf("role %s cannot move a case from %s to %s", role, from, to)).
		WithDetail("from", string(from)).
		WithDetail("to", string(to)).
		WithDetail("allowed", strings.Join(names, ","))
}
