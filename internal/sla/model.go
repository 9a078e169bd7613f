package sla

import (
	"time"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

// SLA types tracked per case.
const (
	TypeFirstContact = "FIRST_CONTACT"
	TypeResolution   = "RESOLUTION"
	TypePaymentPlan  = "PAYMENT_PLAN"
)

// Log statuses.
const (
	StatusPending  = "PENDING"
	StatusMet      = "MET"
	StatusBreached = "BREACHED"
	StatusExempt   = "EXEMPT"
	StatusWaived   = "WAIVED"
)

// Template defines a reusable SLA duration. The pipeline binds the tightest
// active FIRST_CONTACT template to every new case.
type Template struct {
	ID                types.ID  `json:"id"`
	Name              string    `json:"name"`
	SLAType           string    `json:"sla_type"`
	DurationHours     int       `json:"duration_hours"`
	BusinessHoursOnly bool      `json:"business_hours_only"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// Log is one active timing record per case per SLA type.
type Log struct {
	ID          types.ID   `json:"id"`
	CaseID      types.ID   `json:"case_id"`
	TemplateID  types.ID   `json:"template_id,omitempty"`
	SLAType     string     `json:"sla_type"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	DueAt       time.Time  `json:"due_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
