package scoring

// RiskLevel is the scoring service's risk classification.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
	RiskMinimal  RiskLevel = "MINIMAL"
)

var riskRank = map[RiskLevel]int{
	RiskMinimal:  1,
	RiskLow:      2,
	RiskMedium:   3,
	RiskHigh:     4,
	RiskCritical: 5,
}

// AtLeast raises the level to floor if it currently ranks below it.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if riskRank[r] < riskRank[floor] {
		return floor
	}
	return r
}

// Model version tags. Degraded scoring must be auditable, so the stub carries
// a version string that can never be confused with the live model's.
const (
	ModelVersionLive = "priority-ml-v2"
	ModelVersionStub = "deterministic-stub-v1"
)

// Request is the scoring input for one case.
type Request struct {
	CaseID            string  `json:"case_id"`
	OutstandingAmount float64 `json:"outstanding_amount"`
	DaysPastDue       int     `json:"days_past_due"`
	Segment           string  `json:"segment,omitempty"`
}

// Result is a completed risk assessment.
type Result struct {
	PriorityScore  int       `json:"priority_score"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Factors        []string  `json:"factors"`
	Recommendation string    `json:"recommendation"`
	Confidence     float64   `json:"confidence"`
	ModelVersion   string    `json:"model_version"`
}
