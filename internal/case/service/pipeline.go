package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fedex-dca/control-tower/internal/allocation"
	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/domain"
	"github.com/fedex-dca/control-tower/internal/region"
	"github.com/fedex-dca/control-tower/internal/scoring"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/events"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
	"github.com/fedex-dca/control-tower/internal/shared/types"
	"github.com/fedex-dca/control-tower/internal/sla"
)

// amountTolerance is the floating tolerance for the total = principal + tax
// check.
const amountTolerance = 0.01

// caseNumberRetries bounds regeneration attempts on a case-number clash.
const caseNumberRetries = 3

// IngestPayload is the fixed ingestion schema. Workflow and assignment fields
// (status, assigned_dca_id, sla_due_at, actor_type) have no representation
// here at all: the struct shape drops them at the decode boundary, so an
// injection attempt never survives into the pipeline.
type IngestPayload struct {
	CaseType          string `json:"case_type" validate:"required,oneof=INVOICE CONTRACT SERVICE OTHER"`
	SourceSystem      string `json:"source_system" validate:"required,max=64"`
	SourceReferenceID string `json:"source_reference_id" validate:"required,max=128"`
	Region            string `json:"region" validate:"required,max=20"`
	Currency          string `json:"currency" validate:"required,oneof=USD EUR GBP INR AED SGD AUD CAD JPY CNY"`

	PrincipalAmount float64 `json:"principal_amount" validate:"required,gt=0"`
	TaxAmount       float64 `json:"tax_amount" validate:"gte=0"`
	TotalDue        float64 `json:"total_due" validate:"required,gt=0"`

	CustomerName    string `json:"customer_name" validate:"required,max=255"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone   string `json:"customer_phone" validate:"omitempty,max=50"`
	CustomerAddress string `json:"customer_address" validate:"omitempty"`
	CustomerSegment string `json:"customer_segment" validate:"omitempty,max=64"`

	DueDate *time.Time `json:"due_date" validate:"omitempty"`
}

// summary is the audit-safe projection of a payload: enough to trace the
// rejected delivery, never the customer identity fields.
func (p IngestPayload) summary() map[string]any {
	return map[string]any{
		"case_type":           p.CaseType,
		"source_system":       p.SourceSystem,
		"source_reference_id": p.SourceReferenceID,
		"region":              p.Region,
		"currency":            p.Currency,
		"total_due":           p.TotalDue,
	}
}

// IngestResult reports everything the pipeline produced for one delivery.
type IngestResult struct {
	Case       *domain.Case       `json:"case"`
	SLA        *sla.Log           `json:"sla,omitempty"`
	Allocation *allocation.Result `json:"allocation"`
}

// Narrow dependency interfaces so tests run the full pipeline over fakes.
type regionResolver interface {
	GetByCode(ctx context.Context, code string) (*region.Region, error)
}

type riskScorer interface {
	Score(ctx context.Context, req scoring.Request) *scoring.Result
}

type slaTemplateSource interface {
	TightestActiveTemplate(ctx context.Context, slaType string) (*sla.Template, error)
}

type slaTimer interface {
	CalculateTiming(ctx context.Context, regionID types.ID, durationHours int, businessHoursOnly bool) (*sla.Timing, error)
}

type slaLogWriter interface {
	CreateLog(ctx context.Context, l *sla.Log) error
}

type allocator interface {
	Allocate(ctx context.Context, req allocation.Request) (*allocation.Result, error)
}

// Pipeline is the SYSTEM-only case ingestion pipeline: schema validation,
// business rules, risk scoring, SLA binding, persistence, timeline, audit,
// event emission, and synchronous allocation, strictly in that order.
type Pipeline struct {
	cases     domain.Repository
	timeline  domain.TimelineRepository
	regions   regionResolver
	scorer    riskScorer
	templates slaTemplateSource
	timing    slaTimer
	slaLogs   slaLogWriter
	allocator allocator
	auditor   *audit.Logger
	emitter   *events.Emitter
	validate  *validator.Validate
	now       func() time.Time
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(
	cases domain.Repository,
	timeline domain.TimelineRepository,
	regions regionResolver,
	scorer riskScorer,
	templates slaTemplateSource,
	timing slaTimer,
	slaLogs slaLogWriter,
	alloc allocator,
	auditor *audit.Logger,
	emitter *events.Emitter,
) *Pipeline {
	return &Pipeline{
		cases:     cases,
		timeline:  timeline,
		regions:   regions,
		scorer:    scorer,
		templates: templates,
		timing:    timing,
		slaLogs:   slaLogs,
		allocator: alloc,
		auditor:   auditor,
		emitter:   emitter,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Ingest runs the pipeline for one delivery. Failures before persistence
// leave nothing behind; after the case row exists, side-effect failures are
// logged but never surface, and a failed allocation leaves the case in
// PENDING_ALLOCATION for later retry.
func (p *Pipeline) Ingest(ctx context.Context, actor auth.Actor, payload IngestPayload) (*IngestResult, error) {
	if !actor.IsSystem() {
		metrics.CaseIngested(payload.SourceSystem, "rejected")
		return nil, p.reject(ctx, actor, payload, apperrors.Forbidden("SYSTEM_ONLY", "case ingestion is restricted to service identities"))
	}
	serviceName := actor.ActorID()

	// 1. Schema validation.
	if err := p.validate.Struct(payload); err != nil {
		metrics.CaseIngested(payload.SourceSystem, "rejected")
		return nil, p.reject(ctx, actor, payload, schemaError(err))
	}

	// 2. Business rules: the amounts must reconcile, the region must exist
	// and be active.
	if math.Abs(payload.TotalDue-(payload.PrincipalAmount+payload.TaxAmount)) > amountTolerance {
		metrics.CaseIngested(payload.SourceSystem, "rejected")
		return nil, p.reject(ctx, actor, payload,
			apperrors.Validation("AMOUNT_MISMATCH",
				fmt.Sprintf("total_due %.2f does not equal principal_amount + tax_amount %.2f",
					payload.TotalDue, payload.PrincipalAmount+payload.TaxAmount), nil))
	}

	reg, err := p.regions.GetByCode(ctx, payload.Region)
	if err != nil || !reg.IsActive {
		metrics.CaseIngested(payload.SourceSystem, "rejected")
		return nil, p.reject(ctx, actor, payload,
			apperrors.Validation("INVALID_REGION",
				fmt.Sprintf("region %q is unknown or inactive", payload.Region), nil))
	}

	now := p.now().UTC()
	c := &domain.Case{
		ID:                types.NewID(),
		CaseNumber:        domain.NewCaseNumber(reg.RegionCode, now),
		Type:              domain.CaseType(payload.CaseType),
		Status:            domain.StatusPendingAllocation,
		RegionID:          reg.ID,
		RegionCode:        reg.RegionCode,
		OutstandingAmount: payload.TotalDue,
		Currency:          payload.Currency,
		CustomerName:      payload.CustomerName,
		CustomerEmail:     payload.CustomerEmail,
		CustomerPhone:     payload.CustomerPhone,
		CustomerAddress:   payload.CustomerAddress,
		DueDate:           payload.DueDate,
		ActorType:         domain.ActorTypeSystem,
		SourceSystem:      payload.SourceSystem,
		ExternalCaseID:    payload.SourceReferenceID,
		Metadata: map[string]any{
			"principal_amount": payload.PrincipalAmount,
			"tax_amount":       payload.TaxAmount,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 3. Risk scoring. Score never fails: on live-service trouble the
	// deterministic stub answers, tagged with its own model version.
	score := p.scorer.Score(ctx, scoring.Request{
		CaseID:            c.ID.String(),
		OutstandingAmount: c.OutstandingAmount,
		DaysPastDue:       c.DaysPastDue(now),
		Segment:           payload.CustomerSegment,
	})
	c.RiskLevel = score.RiskLevel
	c.PriorityScore = score.PriorityScore
	c.ScoreModel = score.ModelVersion
	c.Priority = domain.PriorityFromRisk(score.RiskLevel)

	// 4. SLA auto-bind: tightest active first-contact template. A missing
	// template is non-fatal; a failed lookup is not, since nothing has been
	// persisted yet and the delivery can be retried.
	slaLog, slaTiming, err := p.prepareSLA(ctx, c)
	if err != nil {
		metrics.CaseIngested(payload.SourceSystem, "failed")
		p.auditor.LogSystemAction(ctx, serviceName, audit.ActionCaseCreationFailed, "case", payload.SourceReferenceID, payload.summary())
		return nil, apperrors.Internal(err)
	}

	// 5. Persist the case row: the authoritative write. A duplicate
	// idempotency key surfaces as DUPLICATE_CASE, never a generic failure.
	// A clash on the generated case number is not a duplicate delivery:
	// regenerate and retry a few times before giving up.
	for attempt := 0; ; attempt++ {
		err := p.cases.Create(ctx, c)
		if err == nil {
			break
		}
		if apperrors.CodeOf(err) == "CASE_NUMBER_CLASH" && attempt < caseNumberRetries {
			c.CaseNumber = domain.NewCaseNumber(reg.RegionCode, now)
			continue
		}
		if apperrors.CodeOf(err) == "DUPLICATE_CASE" {
			metrics.CaseIngested(payload.SourceSystem, "duplicate")
			return nil, err
		}
		metrics.CaseIngested(payload.SourceSystem, "failed")
		p.auditor.LogSystemAction(ctx, serviceName, audit.ActionCaseCreationFailed, "case", payload.SourceReferenceID, payload.summary())
		return nil, apperrors.Internal(err)
	}

	// The SLA log row references the case, so the insert lands here even
	// though the binding decision was made in step 4.
	if slaLog != nil {
		slaLog.CaseID = c.ID
		if err := p.slaLogs.CreateLog(ctx, slaLog); err != nil {
			logging.WithComponent("ingestion").
				WithField("case_number", c.CaseNumber).
				WithError(err).Warn("sla binding failed, case created without sla")
			slaLog = nil
		} else {
			p.auditor.LogSystemAction(ctx, serviceName, audit.ActionSLABound, "sla", slaLog.ID.String(), map[string]any{
				"case_number": c.CaseNumber,
				"sla_type":    slaLog.SLAType,
				"due_at":      slaLog.DueAt,
			})
		}
	}

	// 6. Timeline entry with a deterministic id so a redelivered event never
	// duplicates history.
	entry := &domain.TimelineEntry{
		ID:          types.NewDeterministicID(payload.SourceSystem, payload.SourceReferenceID),
		CaseID:      c.ID,
		Category:    domain.TimelineCategorySystem,
		EventType:   domain.TimelineEventCreated,
		ActorID:     serviceName,
		Description: fmt.Sprintf("case %s created from %s", c.CaseNumber, payload.SourceSystem),
		Data: map[string]any{
			"source_system":       payload.SourceSystem,
			"source_reference_id": payload.SourceReferenceID,
			"priority":            c.Priority,
			"risk_level":          c.RiskLevel,
		},
	}
	p.appendTimeline(ctx, c.CaseNumber, entry)

	if slaLog != nil {
		p.appendTimeline(ctx, c.CaseNumber, &domain.TimelineEntry{
			CaseID:      c.ID,
			Category:    domain.TimelineCategorySystem,
			EventType:   domain.TimelineEventSLABound,
			ActorID:     serviceName,
			Description: fmt.Sprintf("%s sla bound, due %s", slaLog.SLAType, slaLog.DueAt.Format(time.RFC3339)),
			Data: map[string]any{
				"sla_log_id": slaLog.ID,
				"due_at":     slaLog.DueAt,
			},
		})
	}

	// 7. Audit with the full scoring and SLA context.
	auditDetails := map[string]any{
		"case_number":    c.CaseNumber,
		"region":         c.RegionCode,
		"priority":       c.Priority,
		"risk_level":     score.RiskLevel,
		"priority_score": score.PriorityScore,
		"score_model":    score.ModelVersion,
		"sla_bound":      slaLog != nil,
	}
	if slaTiming != nil && slaLog != nil {
		auditDetails["sla_due_at"] = slaTiming.DueAt
	}
	p.auditor.LogSystemAction(ctx, serviceName, audit.ActionCaseCreated, "case", c.ID.String(), auditDetails)

	// 8. Domain event, fire-and-forget.
	p.emitter.Emit("case.created", serviceName, "SYSTEM", map[string]any{
		"case_id":     c.ID,
		"case_number": c.CaseNumber,
		"region":      c.RegionCode,
		"priority":    c.Priority,
	})

	// 9. Synchronous allocation. Failure never rolls back the case; it stays
	// PENDING_ALLOCATION for a later retry.
	allocResult, err := p.allocator.Allocate(ctx, allocation.Request{
		CaseID:     c.ID,
		CaseNumber: c.CaseNumber,
		RegionID:   c.RegionID,
	})
	if err != nil {
		logging.WithComponent("ingestion").
			WithField("case_number", c.CaseNumber).
			WithError(err).Warn("allocation failed, case left pending")
		allocResult = &allocation.Result{Outcome: allocation.OutcomePending}
	}
	if allocResult.Outcome == allocation.OutcomeAllocated {
		c.AssignedDCAID = allocResult.DCAID
		c.Status = domain.StatusPendingContact
		p.appendTimeline(ctx, c.CaseNumber, &domain.TimelineEntry{
			CaseID:      c.ID,
			Category:    domain.TimelineCategorySystem,
			EventType:   domain.TimelineEventAllocated,
			ActorID:     "allocation-engine",
			Description: allocResult.SelectionReason,
			Data: map[string]any{
				"dca_id": allocResult.DCAID,
				"score":  allocResult.Score,
			},
		})
	}

	metrics.CaseIngested(payload.SourceSystem, "created")
	return &IngestResult{Case: c, SLA: slaLog, Allocation: allocResult}, nil
}

// appendTimeline records case history best-effort; the case row is already
// authoritative by the time any timeline entry is written.
func (p *Pipeline) appendTimeline(ctx context.Context, caseNumber string, entry *domain.TimelineEntry) {
	if err := p.timeline.Append(ctx, entry); err != nil {
		logging.WithComponent("ingestion").
			WithField("case_number", caseNumber).
			WithError(err).Warn("timeline append failed")
	}
}

// prepareSLA resolves the tightest first-contact template and computes the
// due instant. Returns a log row ready for insertion, or nil when no active
// template exists. Only NOT_FOUND means "no template": a failed lookup is
// returned to the caller so a transient store error does not silently strip
// the SLA from the case.
func (p *Pipeline) prepareSLA(ctx context.Context, c *domain.Case) (*sla.Log, *sla.Timing, error) {
	tmpl, err := p.templates.TightestActiveTemplate(ctx, sla.TypeFirstContact)
	if err != nil {
		if apperrors.CodeOf(err) == "NOT_FOUND" {
			logging.WithComponent("ingestion").
				WithField("case_number", c.CaseNumber).
				Warn("no active first-contact sla template, case created without sla")
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("sla template lookup: %w", err)
	}

	timing, err := p.timing.CalculateTiming(ctx, c.RegionID, tmpl.DurationHours, tmpl.BusinessHoursOnly)
	if err != nil {
		logging.WithComponent("ingestion").
			WithField("case_number", c.CaseNumber).
			WithError(err).Warn("sla timing failed, case created without sla")
		return nil, nil, nil
	}

	return &sla.Log{
		ID:         types.NewID(),
		TemplateID: tmpl.ID,
		SLAType:    tmpl.SLAType,
		Status:     sla.StatusPending,
		StartedAt:  timing.StartedAt,
		DueAt:      timing.DueAt,
	}, timing, nil
}

// reject audits a pre-persistence rejection and returns the error. The audit
// entry carries the payload summary, never the customer identity fields.
func (p *Pipeline) reject(ctx context.Context, actor auth.Actor, payload IngestPayload, rejection error) error {
	details := payload.summary()
	details["denied"] = true
	details["reason"] = apperrors.CodeOf(rejection)
	p.auditor.LogSystemAction(ctx, actor.ActorID(), audit.ActionCaseCreateRejected, "case", payload.SourceReferenceID, details)
	return rejection
}

// schemaError flattens validator output into one actionable validation error.
func schemaError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Validation("SCHEMA_VALIDATION", "payload failed schema validation", nil)
	}
	details := make(map[string]string, len(fieldErrs))
	var fields []string
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
		fields = append(fields, fe.Field())
	}
	return apperrors.Validation("SCHEMA_VALIDATION",
		"payload failed schema validation: "+strings.Join(fields, ", "), details)
}
