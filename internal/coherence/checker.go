// Package coherence cross-checks arithmetic and logical consistency among a
// deal's accepted facts and grades how much the factual record can be
// trusted.
package coherence

import (
	"fmt"
	"math"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Issue types.
const (
	TypeInconsistency = "inconsistency"
	TypeMissing       = "missing"
	TypeImplausible   = "implausible"
	TypeContradiction = "contradiction"
)

// Recommendation is the checker's verdict on how to proceed.
type Recommendation string

const (
	Proceed              Recommendation = "PROCEED"
	ProceedWithCaution   Recommendation = "PROCEED_WITH_CAUTION"
	RequestClarification Recommendation = "REQUEST_CLARIFICATION"
	DataUnreliable       Recommendation = "DATA_UNRELIABLE"
)

// Issue is one detected consistency problem.
type Issue struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Report is the checker's full output.
type Report struct {
	CoherenceScore   int            `json:"coherence_score"`
	Issues           []Issue        `json:"issues"`
	ReliabilityGrade string         `json:"reliability_grade"`
	Recommendation   Recommendation `json:"recommendation"`
}

// Divergence thresholds for arithmetic identities, in percent.
const (
	arithmeticWarningPct  = 5.0
	arithmeticCriticalPct = 20.0
)

// Score penalties per issue severity.
const (
	penaltyCritical = 25
	penaltyWarning  = 10
	penaltyInfo     = 2
)

// Check runs all consistency rules over the deal's current facts.
func Check(facts []model.CurrentFact) *Report {
	byKey := make(map[model.FactKey]model.CurrentFact, len(facts))
	for _, f := range facts {
		byKey[f.Key] = f
	}

	var issues []Issue
	issues = append(issues, checkRevenueArithmetic(byKey)...)
	issues = append(issues, checkRunwayArithmetic(byKey)...)
	issues = append(issues, checkUnitEconomics(byKey)...)
	issues = append(issues, checkBounds(byKey)...)
	issues = append(issues, checkMissing(byKey)...)
	issues = append(issues, checkDisputed(facts)...)

	score := 100
	criticalCount := 0
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityCritical:
			score -= penaltyCritical
			criticalCount++
		case SeverityWarning:
			score -= penaltyWarning
		case SeverityInfo:
			score -= penaltyInfo
		}
	}
	if score < 0 {
		score = 0
	}

	return &Report{
		CoherenceScore:   score,
		Issues:           issues,
		ReliabilityGrade: grade(score, criticalCount),
		Recommendation:   recommend(score, criticalCount),
	}
}

// grade derives the reliability grade from the score band, overridden by the
// critical-issue count: three or more force an F, two cap the grade at D.
func grade(score, criticalCount int) string {
	if criticalCount >= 3 {
		return "F"
	}

	var byScore string
	switch {
	case score >= 90:
		byScore = "A"
	case score >= 80:
		byScore = "B"
	case score >= 70:
		byScore = "C"
	case score >= 60:
		byScore = "D"
	default:
		byScore = "F"
	}

	if criticalCount >= 2 {
		switch byScore {
		case "A", "B", "C":
			return "D"
		}
	}
	return byScore
}

func recommend(score, criticalCount int) Recommendation {
	switch {
	case criticalCount >= 3:
		return DataUnreliable
	case criticalCount >= 1:
		return RequestClarification
	case score >= 85:
		return Proceed
	default:
		return ProceedWithCaution
	}
}

func checkRevenueArithmetic(byKey map[model.FactKey]model.CurrentFact) []Issue {
	mrr, okMRR := numericFact(byKey, "mrr")
	arr, okARR := numericFact(byKey, "arr")
	if !okMRR || !okARR || mrr <= 0 {
		return nil
	}

	expected := mrr * 12
	delta := math.Abs(arr-expected) / expected * 100
	if delta <= arithmeticWarningPct {
		return nil
	}

	severity := SeverityWarning
	if delta > arithmeticCriticalPct {
		severity = SeverityCritical
	}
	return []Issue{{
		Type:     TypeInconsistency,
		Severity: severity,
		Category: "financial",
		Description: fmt.Sprintf(
			"ARR %.0f diverges %.1f%% from 12x MRR (expected %.0f)", arr, delta, expected),
		Recommendation: "Reconcile the claimed ARR against monthly revenue figures",
	}}
}

func checkRunwayArithmetic(byKey map[model.FactKey]model.CurrentFact) []Issue {
	cash, okCash := numericFact(byKey, "cash_balance")
	burn, okBurn := numericFact(byKey, "burn_rate_monthly")
	claimed, okRunway := numericFact(byKey, "runway_months")
	if !okCash || !okBurn || !okRunway || burn <= 0 {
		return nil
	}

	implied := cash / burn
	if implied <= 0 {
		return nil
	}
	delta := math.Abs(claimed-implied) / implied * 100
	if delta <= 25 {
		return nil
	}

	severity := SeverityWarning
	if delta > 50 {
		severity = SeverityCritical
	}
	return []Issue{{
		Type:     TypeInconsistency,
		Severity: severity,
		Category: "financial",
		Description: fmt.Sprintf(
			"claimed runway %.0f months vs %.1f implied by cash/burn", claimed, implied),
		Recommendation: "Ask for the cash-flow model behind the runway claim",
	}}
}

func checkUnitEconomics(byKey map[model.FactKey]model.CurrentFact) []Issue {
	ltv, okLTV := numericFact(byKey, "ltv")
	cac, okCAC := numericFact(byKey, "cac")
	if !okLTV || !okCAC || cac <= 0 {
		return nil
	}

	ratio := ltv / cac
	switch {
	case ratio < 1:
		return []Issue{{
			Type:           TypeImplausible,
			Severity:       SeverityWarning,
			Category:       "financial",
			Description:    fmt.Sprintf("LTV/CAC ratio %.2f is below 1: every customer loses money", ratio),
			Recommendation: "Verify the LTV methodology and acquisition cost breakdown",
		}}
	case ratio > 100:
		return []Issue{{
			Type:           TypeImplausible,
			Severity:       SeverityWarning,
			Category:       "financial",
			Description:    fmt.Sprintf("LTV/CAC ratio %.0f is implausibly high", ratio),
			Recommendation: "Check whether CAC excludes sales and marketing overhead",
		}}
	}
	return nil
}

func checkBounds(byKey map[model.FactKey]model.CurrentFact) []Issue {
	var issues []Issue

	if churn, ok := numericFact(byKey, "churn_rate_monthly_pct"); ok {
		if churn < 0 || churn > 100 {
			issues = append(issues, Issue{
				Type:           TypeImplausible,
				Severity:       SeverityCritical,
				Category:       "financial",
				Description:    fmt.Sprintf("monthly churn %.1f%% is outside the possible range", churn),
				Recommendation: "Request the cohort data behind the churn figure",
			})
		}
	}

	if margin, ok := numericFact(byKey, "gross_margin_pct"); ok {
		if margin < -100 || margin > 100 {
			issues = append(issues, Issue{
				Type:           TypeImplausible,
				Severity:       SeverityCritical,
				Category:       "financial",
				Description:    fmt.Sprintf("gross margin %.1f%% is outside the possible range", margin),
				Recommendation: "Request the income statement behind the margin figure",
			})
		}
	}

	if growth, ok := numericFact(byKey, "market_growth_rate_pct"); ok && growth > 200 {
		issues = append(issues, Issue{
			Type:           TypeImplausible,
			Severity:       SeverityInfo,
			Category:       "market",
			Description:    fmt.Sprintf("claimed market CAGR %.0f%% is extraordinary", growth),
			Recommendation: "Cross-check the market growth claim against third-party research",
		})
	}

	return issues
}

func checkMissing(byKey map[model.FactKey]model.CurrentFact) []Issue {
	hasRevenue := false
	for _, key := range []model.FactKey{"mrr", "arr", "annual_revenue"} {
		if _, ok := byKey[key]; ok {
			hasRevenue = true
			break
		}
	}
	if hasRevenue {
		return nil
	}
	return []Issue{{
		Type:           TypeMissing,
		Severity:       SeverityWarning,
		Category:       "financial",
		Description:    "no revenue fact (MRR, ARR or annual revenue) on record",
		Recommendation: "Request current revenue figures before scoring",
	}}
}

func checkDisputed(facts []model.CurrentFact) []Issue {
	var issues []Issue
	for _, f := range facts {
		if !f.Disputed {
			continue
		}
		issues = append(issues, Issue{
			Type:           TypeContradiction,
			Severity:       SeverityWarning,
			Category:       string(f.Category),
			Description:    fmt.Sprintf("fact %q has contradicting sources on record", f.Key),
			Recommendation: "Resolve the source disagreement before relying on this value",
		})
	}
	return issues
}

func numericFact(byKey map[model.FactKey]model.CurrentFact, key model.FactKey) (float64, bool) {
	f, ok := byKey[key]
	if !ok {
		return 0, false
	}
	switch v := f.Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
