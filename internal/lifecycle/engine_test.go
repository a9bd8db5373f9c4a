package lifecycle

import (
	"context"
	"testing"
	"time"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func submittedApplication() *models.LoanApplication {
	return &models.LoanApplication{
		ID:               "app-001",
		ApplicantName:    "Jane Doe",
		Email:            "jane@example.com",
		LoanAmount:       models.Float64Ptr(40000),
		AnnualIncome:     models.Float64Ptr(50000),
		EmploymentStatus: "FULL_TIME",
		Status:           models.StatusSubmitted,
	}
}

func newTestEngine() *Engine {
	return NewEngine(rules.FixedScorer(720))
}

// ==========================
// Review
// ==========================

func TestReview_CompleteRecord(t *testing.T) {
	app := submittedApplication()

	d, err := newTestEngine().Review(app)

	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, d.Record.Status)
	assert.Equal(t, true, d.Variables[VarApplicationComplete])
	_, present := d.Variables[VarMissingDocuments]
	assert.False(t, present)
	assert.Nil(t, d.Record.MissingDocuments)
	assert.Equal(t, models.StatusSubmitted, app.Status, "input record must not be mutated")
}

func TestReview_IncompleteThenCompleted(t *testing.T) {
	app := submittedApplication()
	app.Email = " "
	app.AnnualIncome = nil
	engine := newTestEngine()

	d, err := engine.Review(app)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMissingInformation, d.To)
	assert.Equal(t, "Email address, Annual income", d.Variables[VarMissingDocuments])
	require.NotNil(t, d.Record.MissingDocuments)
	assert.Equal(t, "Email address, Annual income", *d.Record.MissingDocuments)

	fixed := d.Record
	fixed.Email = "jane@example.com"
	fixed.AnnualIncome = models.Float64Ptr(50000)
	d, err = engine.Review(fixed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderReview, d.To)
	assert.Nil(t, d.Record.MissingDocuments)
}

// ==========================
// Credit check
// ==========================

func TestCreditCheck_LowScoreRejects(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusUnderReview
	app.CreditScore = models.IntPtr(600)

	d, err := newTestEngine().CreditCheck(context.Background(), app, nil)

	require.NoError(t, err)
	assert.Equal(t, models.StatusCreditRejected, d.Record.Status)
	assert.Equal(t, false, d.Variables[VarCreditApproved])
	assert.Equal(t, "Credit score too low: 600. Minimum required: 650", d.Variables[VarRejectionReason])
	require.NotNil(t, d.Record.RejectionReason)
	assert.Equal(t, "Credit score too low: 600. Minimum required: 650", *d.Record.RejectionReason)
}

func TestCreditCheck_SuppliedScoreApproves(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusUnderReview

	d, err := NewEngine(rules.FixedScorer(400)).CreditCheck(context.Background(), app, models.IntPtr(700))

	require.NoError(t, err)
	assert.Equal(t, models.StatusCreditApproved, d.To)
	assert.Equal(t, 700, *d.Record.CreditScore)
	assert.Nil(t, d.Record.RejectionReason)
	_, present := d.Variables[VarRejectionReason]
	assert.False(t, present)
}

func TestCreditCheck_ReentryKeepsScore(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusUnderReview
	engine := NewEngine(rules.NewRandomScorer(7))

	first, err := engine.CreditCheck(context.Background(), app, nil)
	require.NoError(t, err)
	second, err := engine.CreditCheck(context.Background(), first.Record, models.IntPtr(300))
	require.NoError(t, err)

	assert.Equal(t, *first.Record.CreditScore, *second.Record.CreditScore)
	assert.Equal(t, first.To, second.To)
	assert.True(t, second.Reentry)
}

// ==========================
// Risk assessment
// ==========================

func TestRiskAssess_PassesThroughInProgress(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusCreditApproved
	app.CreditScore = models.IntPtr(700)

	d, err := newTestEngine().RiskAssess(app)

	require.NoError(t, err)
	assert.Equal(t, []models.ApplicationStatus{
		models.StatusRiskAssessmentInProgress,
		models.StatusRiskApproved,
	}, d.Trail)
	assert.InDelta(t, 31.06, d.Variables[VarRiskScore].(float64), 0.01)
	assert.Equal(t, true, d.Variables[VarRiskAcceptable])
	assert.Equal(t, 700, *d.Record.CreditScore, "credit score is kept by default")
	require.NotNil(t, d.Record.RiskScore)
}

func TestRiskAssess_MirrorIntoCreditScore(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusCreditApproved
	app.CreditScore = models.IntPtr(700)

	d, err := NewEngine(rules.FixedScorer(700), WithRiskMirroredIntoCreditScore(true)).RiskAssess(app)

	require.NoError(t, err)
	assert.Equal(t, 31, *d.Record.CreditScore)
}

func TestRiskAssess_RejectsHighRiskAndReentryIsStable(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusCreditApproved
	app.LoanAmount = models.Float64Ptr(200000)
	app.AnnualIncome = models.Float64Ptr(40000)
	app.EmploymentStatus = "part_time"
	engine := newTestEngine()

	first, err := engine.RiskAssess(app)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRiskRejected, first.To)
	require.NotNil(t, first.Record.RejectionReason)
	assert.Equal(t, "Risk score too high: 100.00. Maximum acceptable: 50.00", *first.Record.RejectionReason)

	// A changed input must not change the stored verdict on re-entry.
	again := first.Record.Clone()
	again.LoanAmount = models.Float64Ptr(1000)
	second, err := engine.RiskAssess(again)
	require.NoError(t, err)
	assert.True(t, second.Reentry)
	assert.Equal(t, *first.Record.RiskScore, *second.Record.RiskScore)
	assert.Equal(t, models.StatusRiskRejected, second.To)
}

// ==========================
// Agreement and disbursement
// ==========================

func TestSignAgreement_RequiresPreparedAgreement(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusLoanApproved

	_, err := newTestEngine().SignAgreement(app)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed))
	assert.False(t, app.AgreementSigned)
}

func TestDisburse_WithoutSignatureFails(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusAgreementPrepared

	d, err := newTestEngine().Disburse(app)

	require.Error(t, err)
	assert.Nil(t, d)
	assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed))
	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, "app-001", stdErr.ApplicationID())
	assert.Equal(t, string(StageDisbursement), stdErr.Stage())
	assert.Equal(t, models.StatusAgreementPrepared, app.Status)
	assert.False(t, app.FundsDisbursed)
}

func TestDisburse_ReentryReportsStoredTransaction(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusFundsDisbursed
	app.AgreementSigned = true
	app.FundsDisbursed = true
	app.DisbursementTransactionID = models.StringPtr("TXN-20240101-abcdef12")

	d, err := newTestEngine().Disburse(app)

	require.NoError(t, err)
	assert.True(t, d.Reentry)
	assert.Equal(t, "TXN-20240101-abcdef12", d.Variables[VarTransactionID])
	assert.Equal(t, models.StatusFundsDisbursed, d.To)
}

func TestDisburse_ReentryReportsSameVariables(t *testing.T) {
	engine := newTestEngine()
	paidAt := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	app := submittedApplication()
	app.Status = models.StatusAgreementSigned
	app.AgreementSigned = true
	first, err := engine.Disburse(app)
	require.NoError(t, err)
	first.WithTransaction("TXN-20240101-abcdef12", paidAt)
	stored := first.Record
	stored.LastUpdated = paidAt

	again, err := engine.Disburse(stored)
	require.NoError(t, err)

	assert.True(t, again.Reentry)
	assert.Equal(t, first.Variables, again.Variables)
	assert.Equal(t, "2024-01-01 09:30:00", again.Variables[VarDisbursementDate])
}

func TestTerminalStatusRefusesTransitions(t *testing.T) {
	engine := newTestEngine()
	for _, status := range []models.ApplicationStatus{models.StatusFundsDisbursed, models.StatusRejected} {
		app := submittedApplication()
		app.Status = status

		_, err := engine.Review(app)
		assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed), status)
		_, err = engine.Approve(app)
		assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed), status)
		_, err = engine.CreditCheck(context.Background(), app, nil)
		assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed), status)
	}

	rejected := submittedApplication()
	rejected.Status = models.StatusRejected
	_, err := engine.Disburse(rejected)
	assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed))

	disbursed := submittedApplication()
	disbursed.Status = models.StatusFundsDisbursed
	disbursed.FundsDisbursed = true
	_, err = engine.Reject(disbursed, "late")
	assert.True(t, errors.IsCode(err, errors.ErrCodePreconditionFailed))
}

// ==========================
// Rejection
// ==========================

func TestReject_ReasonPrecedence(t *testing.T) {
	engine := newTestEngine()

	app := submittedApplication()
	app.Status = models.StatusCreditRejected
	app.RejectionReason = models.StringPtr("Credit score too low: 600. Minimum required: 650")

	d, err := engine.Reject(app, "Manual decision")
	require.NoError(t, err)
	assert.Equal(t, "Manual decision", *d.Record.RejectionReason)

	d, err = engine.Reject(app, "")
	require.NoError(t, err)
	assert.Equal(t, "Credit score too low: 600. Minimum required: 650", *d.Record.RejectionReason)

	plain := submittedApplication()
	plain.Status = models.StatusUnderReview
	d, err = engine.Reject(plain, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRejectionReason, *d.Record.RejectionReason)
	assert.Equal(t, "REJECTED", d.Variables[VarFinalStatus])
	assert.Equal(t, models.StatusRejected, d.Record.Status)
}

func TestReject_ReentryOnRejected(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusRejected
	app.RejectionReason = models.StringPtr("Risk score too high: 70.00. Maximum acceptable: 50.00")

	d, err := newTestEngine().Reject(app, "")

	require.NoError(t, err)
	assert.True(t, d.Reentry)
	assert.Equal(t, *app.RejectionReason, *d.Record.RejectionReason)
}

func TestReject_ReentryKeepsStoredReason(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusRejected
	app.RejectionReason = models.StringPtr("Old reason")

	d, err := newTestEngine().Reject(app, "New reason")

	require.NoError(t, err)
	assert.True(t, d.Reentry)
	assert.Equal(t, "Old reason", d.Variables[VarRejectionReason])
	assert.Equal(t, "Old reason", *d.Record.RejectionReason)
}

func TestReject_ReentryWithoutStoredReasonUsesDefault(t *testing.T) {
	app := submittedApplication()
	app.Status = models.StatusRejected

	d, err := newTestEngine().Reject(app, "Officer declined")

	require.NoError(t, err)
	assert.True(t, d.Reentry)
	assert.Equal(t, DefaultRejectionReason, d.Variables[VarRejectionReason])
}

// ==========================
// Full forward chain
// ==========================

func TestRoundTrip_ForwardChain(t *testing.T) {
	engine := NewEngine(rules.FixedScorer(300))
	app := submittedApplication()
	ctx := context.Background()

	steps := []struct {
		run  func(*models.LoanApplication) (*Decision, error)
		want models.ApplicationStatus
	}{
		{func(a *models.LoanApplication) (*Decision, error) { return engine.Review(a) }, models.StatusUnderReview},
		{func(a *models.LoanApplication) (*Decision, error) {
			return engine.CreditCheck(ctx, a, models.IntPtr(700))
		}, models.StatusCreditApproved},
		{func(a *models.LoanApplication) (*Decision, error) { return engine.RiskAssess(a) }, models.StatusRiskApproved},
		{func(a *models.LoanApplication) (*Decision, error) { return engine.Approve(a) }, models.StatusLoanApproved},
		{func(a *models.LoanApplication) (*Decision, error) { return engine.PrepareAgreement(a) }, models.StatusAgreementPrepared},
		{func(a *models.LoanApplication) (*Decision, error) { return engine.SignAgreement(a) }, models.StatusAgreementSigned},
		{func(a *models.LoanApplication) (*Decision, error) { return engine.Disburse(a) }, models.StatusFundsDisbursed},
	}

	current := app
	for i, step := range steps {
		d, err := step.run(current)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.want, d.To, "step %d", i)
		assert.False(t, d.Reentry, "step %d", i)
		assert.Nil(t, d.Record.RejectionReason, "step %d", i)
		if step.want != models.StatusFundsDisbursed {
			assert.False(t, d.Record.FundsDisbursed, "step %d", i)
		}
		current = d.Record
	}

	assert.True(t, current.AgreementSigned)
	assert.True(t, current.FundsDisbursed)
	assert.Equal(t, 700, *current.CreditScore)

	d, err := engine.Disburse(current)
	require.NoError(t, err)
	d.WithTransaction("TXN-20240102-0badc0de", time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC))
	assert.Equal(t, "2024-01-02 15:04:05", d.Variables[VarDisbursementDate])
	assert.Equal(t, "TXN-20240102-0badc0de", *d.Record.DisbursementTransactionID)
}

// ==========================
// Stage keys
// ==========================

func TestStageKeys(t *testing.T) {
	keys := DefaultStageKeys()
	require.NoError(t, keys.Validate())

	st, ok := keys.StageFor("loan-agreement-signing")
	assert.True(t, ok)
	assert.Equal(t, StageAgreementSigning, st)

	_, ok = keys.StageFor("unknown")
	assert.False(t, ok)

	keys[StageApproval] = keys[StageReview]
	assert.Error(t, keys.Validate())

	delete(keys, StageApproval)
	_, err := keys.Key(StageApproval)
	assert.Error(t, err)
	assert.False(t, Stage("bogus").Valid())
}
