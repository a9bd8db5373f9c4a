package models

import (
	"strings"
	"time"
)

// ApplicationStatus is the lifecycle position of a loan application.
type ApplicationStatus string

const (
	StatusSubmitted                ApplicationStatus = "SUBMITTED"
	StatusUnderReview              ApplicationStatus = "UNDER_REVIEW"
	StatusMissingInformation       ApplicationStatus = "MISSING_INFORMATION"
	StatusRiskAssessmentInProgress ApplicationStatus = "RISK_ASSESSMENT_IN_PROGRESS"
	StatusRiskApproved             ApplicationStatus = "RISK_APPROVED"
	StatusRiskRejected             ApplicationStatus = "RISK_REJECTED"
	StatusCreditApproved           ApplicationStatus = "CREDIT_APPROVED"
	StatusCreditRejected           ApplicationStatus = "CREDIT_REJECTED"
	StatusLoanApproved             ApplicationStatus = "LOAN_APPROVED"
	StatusAgreementPrepared        ApplicationStatus = "AGREEMENT_PREPARED"
	StatusAgreementSigned          ApplicationStatus = "AGREEMENT_SIGNED"
	StatusFundsDisbursed           ApplicationStatus = "FUNDS_DISBURSED"
	StatusRejected                 ApplicationStatus = "REJECTED"
)

var allStatuses = []ApplicationStatus{
	StatusSubmitted,
	StatusUnderReview,
	StatusMissingInformation,
	StatusRiskAssessmentInProgress,
	StatusRiskApproved,
	StatusRiskRejected,
	StatusCreditApproved,
	StatusCreditRejected,
	StatusLoanApproved,
	StatusAgreementPrepared,
	StatusAgreementSigned,
	StatusFundsDisbursed,
	StatusRejected,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (ApplicationStatus, bool) {
	candidate := ApplicationStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == candidate {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further stage may run.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusFundsDisbursed || s == StatusRejected
}

// IsRejection reports whether the status carries a rejection reason.
func (s ApplicationStatus) IsRejection() bool {
	return s == StatusCreditRejected || s == StatusRiskRejected || s == StatusRejected
}

// Employment categories with a risk surcharge. Anything else counts as full time.
const (
	EmploymentUnemployed = "UNEMPLOYED"
	EmploymentPartTime   = "PART_TIME"
)

// LoanApplication is one loan request and its projected lifecycle state.
type LoanApplication struct {
	ID                        string            `json:"id" db:"id" gorm:"primaryKey;size:36;column:id"`
	ApplicantName             string            `json:"applicantName" db:"applicant_name" gorm:"size:255;column:applicant_name;index"`
	Email                     string            `json:"email" db:"email" gorm:"size:255;column:email"`
	LoanAmount                *float64          `json:"loanAmount" db:"loan_amount" gorm:"type:decimal(18,2);column:loan_amount"`
	AnnualIncome              *float64          `json:"annualIncome" db:"annual_income" gorm:"type:decimal(18,2);column:annual_income"`
	EmploymentStatus          string            `json:"employmentStatus" db:"employment_status" gorm:"size:64;column:employment_status"`
	CreditScore               *int              `json:"creditScore" db:"credit_score" gorm:"column:credit_score"`
	RiskScore                 *float64          `json:"riskScore" db:"risk_score" gorm:"column:risk_score"`
	Status                    ApplicationStatus `json:"status" db:"status" gorm:"size:40;column:status;index"`
	ProcessInstanceID         string            `json:"processInstanceId" db:"process_instance_id" gorm:"size:64;column:process_instance_id;index"`
	MissingDocuments          *string           `json:"missingDocuments,omitempty" db:"missing_documents" gorm:"type:text;column:missing_documents"`
	RejectionReason           *string           `json:"rejectionReason,omitempty" db:"rejection_reason" gorm:"type:text;column:rejection_reason"`
	AgreementSigned           bool              `json:"agreementSigned" db:"agreement_signed" gorm:"column:agreement_signed"`
	FundsDisbursed            bool              `json:"fundsDisbursed" db:"funds_disbursed" gorm:"column:funds_disbursed"`
	DisbursementTransactionID *string           `json:"disbursementTransactionId,omitempty" db:"disbursement_transaction_id" gorm:"size:64;column:disbursement_transaction_id"`
	SubmissionDate            time.Time         `json:"submissionDate" db:"submission_date" gorm:"column:submission_date"`
	LastUpdated               time.Time         `json:"lastUpdated" db:"last_updated" gorm:"column:last_updated"`
}

func (LoanApplication) TableName() string { return "loan_applications" }

// Clone returns a deep copy so callers can mutate without aliasing pointer fields.
func (a *LoanApplication) Clone() *LoanApplication {
	if a == nil {
		return nil
	}
	out := *a
	out.LoanAmount = cloneFloat(a.LoanAmount)
	out.AnnualIncome = cloneFloat(a.AnnualIncome)
	out.RiskScore = cloneFloat(a.RiskScore)
	out.CreditScore = cloneInt(a.CreditScore)
	out.MissingDocuments = cloneString(a.MissingDocuments)
	out.RejectionReason = cloneString(a.RejectionReason)
	out.DisbursementTransactionID = cloneString(a.DisbursementTransactionID)
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float64Ptr, IntPtr and StringPtr build optional fields.
func Float64Ptr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }
