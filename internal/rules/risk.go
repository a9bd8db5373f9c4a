package rules

import (
	"fmt"
	"strings"

	"loan-lifecycle/internal/models"
)

// Weights of the additive risk model.
const (
	IncomePressureWeight = 30.0
	CreditPressureWeight = 40.0
	UnemployedSurcharge  = 20.0
	PartTimeSurcharge    = 10.0
	LargeLoanSurcharge   = 10.0
	LargeLoanThreshold   = 100000.0
	MaxRiskScore         = 100.0
	MaxAcceptableRisk    = 50.0
)

type RiskResult struct {
	Score           float64
	Acceptable      bool
	RejectionReason string
}

// RiskScore sums the pressure terms and clamps the total to [0, 100].
func RiskScore(app *models.LoanApplication) float64 {
	score := 0.0

	if app.LoanAmount != nil && app.AnnualIncome != nil && *app.AnnualIncome > 0 {
		score += (*app.LoanAmount / *app.AnnualIncome) * IncomePressureWeight
	}

	if app.CreditScore != nil {
		score += (float64(MaxCreditScore-*app.CreditScore) / float64(MaxCreditScore)) * CreditPressureWeight
	}

	switch strings.ToUpper(strings.TrimSpace(app.EmploymentStatus)) {
	case models.EmploymentUnemployed:
		score += UnemployedSurcharge
	case models.EmploymentPartTime:
		score += PartTimeSurcharge
	}

	if app.LoanAmount != nil && *app.LoanAmount > LargeLoanThreshold {
		score += LargeLoanSurcharge
	}

	if score > MaxRiskScore {
		score = MaxRiskScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Risk scores the application and applies the acceptance threshold.
func Risk(app *models.LoanApplication) RiskResult {
	return RiskVerdict(RiskScore(app))
}

// RiskVerdict applies the threshold to an already computed score.
func RiskVerdict(score float64) RiskResult {
	res := RiskResult{Score: score, Acceptable: score <= MaxAcceptableRisk}
	if !res.Acceptable {
		res.RejectionReason = fmt.Sprintf("Risk score too high: %.2f. Maximum acceptable: %.2f", score, MaxAcceptableRisk)
	}
	return res
}
