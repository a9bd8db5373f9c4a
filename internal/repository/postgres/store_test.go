package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var columns = []string{
	"id", "applicant_name", "email", "loan_amount", "annual_income", "employment_status",
	"credit_score", "risk_score", "status", "process_instance_id", "missing_documents", "rejection_reason",
	"agreement_signed", "funds_disbursed", "disbursement_transaction_id", "submission_date", "last_updated",
}

var submitted = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func createTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func applicationRow(rows *sqlmock.Rows, id string, status models.ApplicationStatus) *sqlmock.Rows {
	return rows.AddRow(
		id, "Jane Doe", "jane@example.com", 40000.0, 50000.0, "FULL_TIME",
		int64(700), nil, string(status), "2251799813685249", nil, nil,
		false, false, nil, submitted, submitted,
	)
}

func createApplication() *models.LoanApplication {
	return &models.LoanApplication{
		ID:               "app-001",
		ApplicantName:    "Jane Doe",
		Email:            "jane@example.com",
		LoanAmount:       models.Float64Ptr(40000),
		AnnualIncome:     models.Float64Ptr(50000),
		EmploymentStatus: "FULL_TIME",
		Status:           models.StatusSubmitted,
		SubmissionDate:   submitted,
		LastUpdated:      submitted,
	}
}

// ==========================
// Reads
// ==========================

func TestStore_FindByID(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM loan_applications WHERE id = $1`)).
		WithArgs("app-001").
		WillReturnRows(applicationRow(sqlmock.NewRows(columns), "app-001", models.StatusUnderReview))

	app, err := store.FindByID(context.Background(), "app-001")

	require.NoError(t, err)
	assert.Equal(t, "app-001", app.ID)
	assert.Equal(t, models.StatusUnderReview, app.Status)
	require.NotNil(t, app.LoanAmount)
	assert.Equal(t, 40000.0, *app.LoanAmount)
	require.NotNil(t, app.CreditScore)
	assert.Equal(t, 700, *app.CreditScore)
	assert.Nil(t, app.RiskScore)
	assert.Nil(t, app.RejectionReason)
	assert.Equal(t, submitted, app.SubmissionDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByID_NotFound(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := store.FindByID(context.Background(), "missing")

	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByStatus(t *testing.T) {
	store, mock := createTestStore(t)

	rows := sqlmock.NewRows(columns)
	applicationRow(rows, "app-001", models.StatusCreditRejected)
	applicationRow(rows, "app-002", models.StatusCreditRejected)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = $1 ORDER BY submission_date, id`)).
		WithArgs("CREDIT_REJECTED").
		WillReturnRows(rows)

	apps, err := store.FindByStatus(context.Background(), models.StatusCreditRejected)

	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "app-002", apps[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindAll_Empty(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY submission_date, id`)).
		WillReturnRows(sqlmock.NewRows(columns))

	apps, err := store.FindAll(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, apps)
	assert.Empty(t, apps)
}

func TestStore_FindByProcessInstanceID_QueryError(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE process_instance_id = $1`)).
		WithArgs("42").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByProcessInstanceID(context.Background(), "42")

	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

// ==========================
// Writes
// ==========================

func TestStore_Create(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO loan_applications`)).
		WithArgs(anyArgs(17)...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), createApplication()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Save_UnknownRow(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE loan_applications SET`)).
		WithArgs(anyArgs(17)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), createApplication())

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// ==========================
// Transactions
// ==========================

func TestStore_WithinApplicationTx_Commits(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 FOR UPDATE`)).
		WithArgs("app-001").
		WillReturnRows(applicationRow(sqlmock.NewRows(columns), "app-001", models.StatusSubmitted))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE loan_applications SET`)).
		WithArgs(anyArgs(17)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithinApplicationTx(context.Background(), "app-001",
		func(repo repository.Repository, app *models.LoanApplication) error {
			app.Status = models.StatusUnderReview
			return repo.Save(context.Background(), app)
		})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinApplicationTx_RollsBackOnError(t *testing.T) {
	store, mock := createTestStore(t)
	boom := errors.New("orchestrator unavailable")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("app-001").
		WillReturnRows(applicationRow(sqlmock.NewRows(columns), "app-001", models.StatusSubmitted))
	mock.ExpectRollback()

	err := store.WithinApplicationTx(context.Background(), "app-001",
		func(repository.Repository, *models.LoanApplication) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinApplicationTx_NotFoundSkipsCallback(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	called := false
	err := store.WithinApplicationTx(context.Background(), "nope",
		func(repository.Repository, *models.LoanApplication) error {
			called = true
			return nil
		})

	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Migrate(t *testing.T) {
	store, mock := createTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS loan_applications`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
