package scoring

import "fmt"

// StubScorer is the deterministic fallback used when the scoring service is
// disabled or unreachable. Same inputs always produce the same output, and the
// result is tagged with the stub model version so degraded scoring is visible
// in the audit trail.
type StubScorer struct{}

// Score applies fixed amount and ageing thresholds.
func (StubScorer) Score(req Request) *Result {
	score := 50
	risk := RiskLow
	var factors []string

	switch {
	case req.OutstandingAmount > 100_000:
		score += 30
		risk = RiskCritical
		factors = append(factors, fmt.Sprintf("outstanding amount %.2f exceeds 100000", req.OutstandingAmount))
	case req.OutstandingAmount > 50_000:
		score += 20
		risk = RiskHigh
		factors = append(factors, fmt.Sprintf("outstanding amount %.2f exceeds 50000", req.OutstandingAmount))
	case req.OutstandingAmount > 10_000:
		score += 10
		risk = RiskMedium
		factors = append(factors, fmt.Sprintf("outstanding amount %.2f exceeds 10000", req.OutstandingAmount))
	}

	switch {
	case req.DaysPastDue > 90:
		score += 20
		risk = RiskCritical
		factors = append(factors, fmt.Sprintf("%d days past due exceeds 90", req.DaysPastDue))
	case req.DaysPastDue > 60:
		score += 15
		risk = risk.AtLeast(RiskHigh)
		factors = append(factors, fmt.Sprintf("%d days past due exceeds 60", req.DaysPastDue))
	case req.DaysPastDue > 30:
		score += 10
		factors = append(factors, fmt.Sprintf("%d days past due exceeds 30", req.DaysPastDue))
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return &Result{
		PriorityScore:  score,
		RiskLevel:      risk,
		Factors:        factors,
		Recommendation: recommendationFor(risk),
		Confidence:     0.5,
		ModelVersion:   ModelVersionStub,
	}
}

func recommendationFor(risk RiskLevel) string {
	switch risk {
	case RiskCritical:
		return "Escalate immediately and assign to a senior collector"
	case RiskHigh:
		return "Prioritize for contact within the first SLA window"
	case RiskMedium:
		return "Schedule standard collection workflow"
	default:
		return "Handle in routine queue order"
	}
}
