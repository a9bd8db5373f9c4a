// Package rules holds the pure decision functions applied at each lifecycle stage.
package rules

import (
	"strings"

	"loan-lifecycle/internal/models"
)

// Human-readable names of the required fields, in the order they are checked.
const (
	FieldApplicantName    = "Applicant name"
	FieldEmail            = "Email address"
	FieldLoanAmount       = "Loan amount"
	FieldAnnualIncome     = "Annual income"
	FieldEmploymentStatus = "Employment status"
)

// CompletenessResult lists which required fields are absent.
type CompletenessResult struct {
	Complete bool
	Missing  []string
}

// MissingDocuments renders the missing field names as stored on the record.
func (r CompletenessResult) MissingDocuments() string {
	return strings.Join(r.Missing, ", ")
}

// Completeness checks the five required fields. Blank strings count as missing.
func Completeness(app *models.LoanApplication) CompletenessResult {
	var missing []string
	if isBlank(app.ApplicantName) {
		missing = append(missing, FieldApplicantName)
	}
	if isBlank(app.Email) {
		missing = append(missing, FieldEmail)
	}
	if app.LoanAmount == nil {
		missing = append(missing, FieldLoanAmount)
	}
	if app.AnnualIncome == nil {
		missing = append(missing, FieldAnnualIncome)
	}
	if isBlank(app.EmploymentStatus) {
		missing = append(missing, FieldEmploymentStatus)
	}
	return CompletenessResult{Complete: len(missing) == 0, Missing: missing}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
