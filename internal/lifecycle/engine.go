// Package lifecycle computes loan application transitions. Every entry point
// works on a copy of the record and returns a Decision describing the new
// state and the outcome variables for the orchestrator; nothing here talks to
// storage or the network.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/rules"
)

// DefaultRejectionReason is used when neither the caller nor the record gives one.
const DefaultRejectionReason = "Application did not meet approval criteria"

// Outcome variable names reported to the orchestrator.
const (
	VarApplicationComplete    = "applicationComplete"
	VarMissingDocuments       = "missingDocuments"
	VarCreditScore            = "creditScore"
	VarCreditApproved         = "creditApproved"
	VarRejectionReason        = "rejectionReason"
	VarRiskScore              = "riskScore"
	VarRiskAcceptable         = "riskAcceptable"
	VarRiskAssessmentComplete = "riskAssessmentComplete"
	VarLoanApproved           = "loanApproved"
	VarAgreementPrepared      = "agreementPrepared"
	VarAgreementSigned        = "agreementSigned"
	VarTransactionID          = "transactionId"
	VarFundsDisbursed         = "fundsDisbursed"
	VarDisbursementDate       = "disbursementDate"
	VarNotificationSent       = "notificationSent"
	VarFinalStatus            = "finalStatus"
)

// DisbursementDateLayout formats the disbursement timestamp in outcome variables.
const DisbursementDateLayout = "2006-01-02 15:04:05"

// Decision is the result of one stage evaluation.
type Decision struct {
	Stage Stage
	From  models.ApplicationStatus
	To    models.ApplicationStatus
	// Trail lists every status the record passed through, ending with To.
	Trail []models.ApplicationStatus
	// Record is the mutated copy to persist.
	Record *models.LoanApplication
	// Variables are reported to the orchestrator when the task is completed.
	Variables map[string]interface{}
	// Reentry is true when the stage had already been applied and the
	// decision repeats the stored outcome.
	Reentry bool
}

// WithTransaction records the payment confirmation on a disbursement decision.
func (d *Decision) WithTransaction(transactionID string, at time.Time) {
	d.Record.DisbursementTransactionID = models.StringPtr(transactionID)
	d.Variables[VarTransactionID] = transactionID
	d.Variables[VarDisbursementDate] = at.Format(DisbursementDateLayout)
}

// Engine sequences the rule evaluators behind stage entry points.
type Engine struct {
	scorer                    rules.CreditScorer
	mirrorRiskIntoCreditScore bool
}

type Option func(*Engine)

// WithRiskMirroredIntoCreditScore also writes the rounded risk score into the
// credit score field after risk assessment, as older deployments expect.
func WithRiskMirroredIntoCreditScore(enabled bool) Option {
	return func(e *Engine) { e.mirrorRiskIntoCreditScore = enabled }
}

func NewEngine(scorer rules.CreditScorer, opts ...Option) *Engine {
	if scorer == nil {
		scorer = rules.NewRandomScorer(0)
	}
	e := &Engine{scorer: scorer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Review checks completeness and moves the record to UNDER_REVIEW or
// MISSING_INFORMATION.
func (e *Engine) Review(app *models.LoanApplication) (*Decision, error) {
	d, err := e.begin(StageReview, app)
	if err != nil {
		return nil, err
	}

	res := rules.Completeness(d.Record)
	d.Variables[VarApplicationComplete] = res.Complete
	if res.Complete {
		d.Record.MissingDocuments = nil
		d.move(models.StatusUnderReview)
		return d, nil
	}

	missing := res.MissingDocuments()
	d.Record.MissingDocuments = models.StringPtr(missing)
	d.Variables[VarMissingDocuments] = missing
	d.move(models.StatusMissingInformation)
	return d, nil
}

// CreditCheck scores the applicant. A score already on the record wins over
// supplied, and supplied wins over the injected scorer.
func (e *Engine) CreditCheck(ctx context.Context, app *models.LoanApplication, supplied *int) (*Decision, error) {
	d, err := e.begin(StageCreditCheck, app)
	if err != nil {
		return nil, err
	}

	res, err := rules.Credit(ctx, d.Record, supplied, e.scorer)
	if err != nil {
		return nil, errors.NewCollaboratorError("credit-scorer", err).WithContext(app.ID, string(StageCreditCheck))
	}

	d.Record.CreditScore = models.IntPtr(res.Score)
	d.Reentry = res.Reused && (app.Status == models.StatusCreditApproved || app.Status == models.StatusCreditRejected)
	d.Variables[VarCreditScore] = res.Score
	d.Variables[VarCreditApproved] = res.Approved
	if res.Approved {
		d.move(models.StatusCreditApproved)
		return d, nil
	}
	d.Record.RejectionReason = models.StringPtr(res.RejectionReason)
	d.Variables[VarRejectionReason] = res.RejectionReason
	d.move(models.StatusCreditRejected)
	return d, nil
}

// RiskAssess scores the application risk. The record passes through
// RISK_ASSESSMENT_IN_PROGRESS before landing on the verdict. Repeating the
// stage reuses the stored risk score.
func (e *Engine) RiskAssess(app *models.LoanApplication) (*Decision, error) {
	d, err := e.begin(StageRiskAssessment, app)
	if err != nil {
		return nil, err
	}

	var res rules.RiskResult
	assessed := app.Status == models.StatusRiskApproved || app.Status == models.StatusRiskRejected
	if assessed && app.RiskScore != nil {
		res = rules.RiskVerdict(*app.RiskScore)
		d.Reentry = true
	} else {
		res = rules.Risk(d.Record)
	}

	d.step(models.StatusRiskAssessmentInProgress)
	d.Record.RiskScore = models.Float64Ptr(res.Score)
	if e.mirrorRiskIntoCreditScore && !d.Reentry {
		d.Record.CreditScore = models.IntPtr(int(math.Round(res.Score)))
	}

	d.Variables[VarRiskScore] = res.Score
	d.Variables[VarRiskAcceptable] = res.Acceptable
	d.Variables[VarRiskAssessmentComplete] = true
	if res.Acceptable {
		d.move(models.StatusRiskApproved)
		return d, nil
	}
	d.Record.RejectionReason = models.StringPtr(res.RejectionReason)
	d.Variables[VarRejectionReason] = res.RejectionReason
	d.move(models.StatusRiskRejected)
	return d, nil
}

// Approve moves the record to LOAN_APPROVED. The pending approval task is the only gate.
func (e *Engine) Approve(app *models.LoanApplication) (*Decision, error) {
	d, err := e.begin(StageApproval, app)
	if err != nil {
		return nil, err
	}
	d.Variables[VarLoanApproved] = true
	d.move(models.StatusLoanApproved)
	return d, nil
}

func (e *Engine) PrepareAgreement(app *models.LoanApplication) (*Decision, error) {
	d, err := e.begin(StageAgreementPreparation, app)
	if err != nil {
		return nil, err
	}
	d.Variables[VarAgreementPrepared] = true
	d.move(models.StatusAgreementPrepared)
	return d, nil
}

// SignAgreement requires a prepared agreement and sets agreementSigned.
func (e *Engine) SignAgreement(app *models.LoanApplication) (*Decision, error) {
	d, err := e.begin(StageAgreementSigning, app)
	if err != nil {
		return nil, err
	}

	switch {
	case app.Status == models.StatusAgreementSigned && app.AgreementSigned:
		d.Reentry = true
	case app.Status != models.StatusAgreementPrepared:
		return nil, errors.NewPreconditionError(app.ID, string(StageAgreementSigning),
			fmt.Sprintf("agreement must be prepared before signing, status is %s", app.Status))
	}

	d.Record.AgreementSigned = true
	d.Variables[VarAgreementSigned] = true
	d.move(models.StatusAgreementSigned)
	return d, nil
}

// Disburse requires a signed agreement and marks the funds disbursed. The
// caller attaches the payment confirmation with WithTransaction; on re-entry
// the stored confirmation is already in the variables. FUNDS_DISBURSED is
// terminal, so the record's LastUpdated is the disbursement time.
func (e *Engine) Disburse(app *models.LoanApplication) (*Decision, error) {
	if app.Status == models.StatusFundsDisbursed && app.FundsDisbursed {
		d := e.open(StageDisbursement, app)
		d.Reentry = true
		d.disbursed()
		if app.DisbursementTransactionID != nil {
			d.Variables[VarTransactionID] = *app.DisbursementTransactionID
		}
		d.Variables[VarDisbursementDate] = app.LastUpdated.Format(DisbursementDateLayout)
		d.move(models.StatusFundsDisbursed)
		return d, nil
	}

	d, err := e.begin(StageDisbursement, app)
	if err != nil {
		return nil, err
	}
	if !app.AgreementSigned {
		return nil, errors.NewPreconditionError(app.ID, string(StageDisbursement),
			"loan agreement must be signed before funds are disbursed")
	}

	d.Record.FundsDisbursed = true
	d.disbursed()
	d.move(models.StatusFundsDisbursed)
	return d, nil
}

// Reject moves the record to REJECTED. The reason is taken from the argument,
// then the record, then DefaultRejectionReason. A record already in REJECTED
// ignores the argument, so a retried rejection reports what was committed.
func (e *Engine) Reject(app *models.LoanApplication, reason string) (*Decision, error) {
	var d *Decision
	if app.Status == models.StatusRejected {
		d = e.open(StageRejection, app)
		d.Reentry = true
		reason = ""
	} else {
		var err error
		if d, err = e.begin(StageRejection, app); err != nil {
			return nil, err
		}
	}

	switch {
	case reason != "":
	case app.RejectionReason != nil && *app.RejectionReason != "":
		reason = *app.RejectionReason
	default:
		reason = DefaultRejectionReason
	}

	d.Record.RejectionReason = models.StringPtr(reason)
	d.Variables[VarRejectionReason] = reason
	d.Variables[VarFinalStatus] = string(models.StatusRejected)
	d.move(models.StatusRejected)
	return d, nil
}

// begin refuses any stage on a record in a terminal status.
func (e *Engine) begin(stage Stage, app *models.LoanApplication) (*Decision, error) {
	if app == nil {
		return nil, errors.NewPreconditionError("", string(stage), "no application record")
	}
	if app.Status.IsTerminal() {
		return nil, errors.NewPreconditionError(app.ID, string(stage),
			fmt.Sprintf("application is in terminal status %s", app.Status))
	}
	return e.open(stage, app), nil
}

func (e *Engine) open(stage Stage, app *models.LoanApplication) *Decision {
	return &Decision{
		Stage:     stage,
		From:      app.Status,
		Record:    app.Clone(),
		Variables: map[string]interface{}{},
	}
}

func (d *Decision) disbursed() {
	d.Variables[VarFundsDisbursed] = true
	d.Variables[VarFinalStatus] = string(models.StatusFundsDisbursed)
}

// step records an intermediate status without making it final.
func (d *Decision) step(status models.ApplicationStatus) {
	d.Trail = append(d.Trail, status)
}

// move sets the final status and keeps the rejection reason consistent with it.
func (d *Decision) move(status models.ApplicationStatus) {
	d.step(status)
	d.To = status
	d.Record.Status = status
	if !status.IsRejection() {
		d.Record.RejectionReason = nil
	}
}
