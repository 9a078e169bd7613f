package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fedex-dca/control-tower/internal/scoring"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// CaseType classifies the underlying receivable.
type CaseType string

const (
	CaseTypeInvoice  CaseType = "INVOICE"
	CaseTypeContract CaseType = "CONTRACT"
	CaseTypeService  CaseType = "SERVICE"
	CaseTypeOther    CaseType = "OTHER"
)

// ValidCaseType membership-tests the type enum.
func ValidCaseType(t CaseType) bool {
	switch t {
	case CaseTypeInvoice, CaseTypeContract, CaseTypeService, CaseTypeOther:
		return true
	}
	return false
}

// Status is a case status. Two vocabularies share the column: the allocation
// layer tracks assignment progress (PENDING_ALLOCATION → ALLOCATED →
// PENDING_CONTACT), the workflow layer tracks recovery effort (OPEN through
// CLOSED). The state machine governs only the workflow layer.
type Status string

const (
	// Allocation layer
	StatusPendingAllocation Status = "PENDING_ALLOCATION"
	StatusAllocated         Status = "ALLOCATED"
	StatusPendingContact    Status = "PENDING_CONTACT"

	// Workflow layer
	StatusOpen               Status = "OPEN"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusContacted          Status = "CONTACTED"
	StatusPromiseToPay       Status = "PROMISE_TO_PAY"
	StatusPartiallyRecovered Status = "PARTIALLY_RECOVERED"
	StatusRecovered          Status = "RECOVERED"
	StatusFailed             Status = "FAILED"
	StatusEscalated          Status = "ESCALATED"
	StatusClosed             Status = "CLOSED"
)

// Priority of a case, derived from the risk level at creation.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// PriorityFromRisk maps the scoring service's risk levels onto case priority.
// MINIMAL folds into LOW: the workflow has no use for a fifth band.
func PriorityFromRisk(risk scoring.RiskLevel) Priority {
	switch risk {
	case scoring.RiskCritical:
		return PriorityCritical
	case scoring.RiskHigh:
		return PriorityHigh
	case scoring.RiskMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ActorType records which identity class created the case.
type ActorType string

const (
	ActorTypeSystem ActorType = "SYSTEM"
	ActorTypeHuman  ActorType = "HUMAN"
)

// Case is the central recoverable-debt record. Cases are created exclusively
// by the ingestion pipeline and never hard-deleted; closing is a status
// transition.
type Case struct {
	ID         types.ID `json:"id"`
	CaseNumber string   `json:"case_number"`
	Type       CaseType `json:"case_type"`
	Status     Status   `json:"status"`
	Priority   Priority `json:"priority"`

	RegionID      types.ID `json:"region_id"`
	RegionCode    string   `json:"region_code"`
	AssignedDCAID types.ID `json:"assigned_dca_id,omitempty"`

	OutstandingAmount float64 `json:"outstanding_amount"`
	RecoveredAmount   float64 `json:"recovered_amount"`
	Currency          string  `json:"currency"`

	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	CustomerAddress string `json:"customer_address,omitempty"`

	DueDate *time.Time `json:"due_date,omitempty"`

	RiskLevel     scoring.RiskLevel `json:"risk_level"`
	PriorityScore int               `json:"priority_score"`
	ScoreModel    string            `json:"score_model"`

	// Immutable provenance columns: who created the case and which upstream
	// record it mirrors. Together source system and external id form the
	// ingestion idempotency key.
	ActorType      ActorType `json:"actor_type"`
	SourceSystem   string    `json:"source_system"`
	ExternalCaseID string    `json:"external_case_id"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DaysPastDue computes the ageing input for scoring, zero when the case has
// no due date or is not yet due.
func (c *Case) DaysPastDue(now time.Time) int {
	if c.DueDate == nil {
		return 0
	}
	days := int(now.Sub(*c.DueDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// NewCaseNumber generates a globally unique case number embedding the region
// code and year-month, e.g. DCA-IN-N-202608-7C4F2A91. The 4-byte suffix gives
// each region-month 2^32 values; a clash is possible in principle, so the
// persistence path still detects it and the pipeline regenerates.
func NewCaseNumber(regionCode string, now time.Time) string {
	var suffix [4]byte
	rand.Read(suffix[:])
	return fmt.Sprintf("DCA-%s-%s-%s",
		strings.ToUpper(regionCode),
		now.UTC().Format("200601"),
		strings.ToUpper(hex.EncodeToString(suffix[:])))
}

// Timeline categories.
const (
	TimelineCategorySystem = "SYSTEM"
	TimelineCategoryUser   = "USER"
)

// Timeline event types.
const (
	TimelineEventCreated       = "CASE_CREATED"
	TimelineEventStatusChanged = "STATUS_CHANGED"
	TimelineEventAllocated     = "CASE_ALLOCATED"
	TimelineEventSLABound      = "SLA_BOUND"
)

// TimelineEntry is one immutable row in a case's history.
type TimelineEntry struct {
	ID          types.ID       `json:"id"`
	CaseID      types.ID       `json:"case_id"`
	Category    string         `json:"category"`
	EventType   string         `json:"event_type"`
	ActorID     string         `json:"actor_id"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
