// Package postgres stores loan applications in PostgreSQL through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository"
)

const Schema = `
CREATE TABLE IF NOT EXISTS loan_applications (
	id                          VARCHAR(36) PRIMARY KEY,
	applicant_name              VARCHAR(255) NOT NULL DEFAULT '',
	email                       VARCHAR(255) NOT NULL DEFAULT '',
	loan_amount                 NUMERIC(18,2),
	annual_income               NUMERIC(18,2),
	employment_status           VARCHAR(64) NOT NULL DEFAULT '',
	credit_score                INTEGER,
	risk_score                  DOUBLE PRECISION,
	status                      VARCHAR(40) NOT NULL,
	process_instance_id         VARCHAR(64) NOT NULL DEFAULT '',
	missing_documents           TEXT,
	rejection_reason            TEXT,
	agreement_signed            BOOLEAN NOT NULL DEFAULT FALSE,
	funds_disbursed             BOOLEAN NOT NULL DEFAULT FALSE,
	disbursement_transaction_id VARCHAR(64),
	submission_date             TIMESTAMPTZ NOT NULL,
	last_updated                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loan_applications_status ON loan_applications (status);
CREATE INDEX IF NOT EXISTS idx_loan_applications_process ON loan_applications (process_instance_id);
`

const selectColumns = `SELECT id, applicant_name, email, loan_amount, annual_income, employment_status,
	credit_score, risk_score, status, process_instance_id, missing_documents, rejection_reason,
	agreement_signed, funds_disbursed, disbursement_transaction_id, submission_date, last_updated
	FROM loan_applications`

const insertApplication = `INSERT INTO loan_applications (id, applicant_name, email, loan_amount, annual_income,
	employment_status, credit_score, risk_score, status, process_instance_id, missing_documents, rejection_reason,
	agreement_signed, funds_disbursed, disbursement_transaction_id, submission_date, last_updated)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

const updateApplication = `UPDATE loan_applications SET applicant_name = $2, email = $3, loan_amount = $4,
	annual_income = $5, employment_status = $6, credit_score = $7, risk_score = $8, status = $9,
	process_instance_id = $10, missing_documents = $11, rejection_reason = $12, agreement_signed = $13,
	funds_disbursed = $14, disbursement_transaction_id = $15, submission_date = $16, last_updated = $17
	WHERE id = $1`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Migrate creates the table and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate loan_applications: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, app *models.LoanApplication) error {
	if _, err := s.q.ExecContext(ctx, insertApplication, args(app)...); err != nil {
		return fmt.Errorf("insert loan application %s: %w", app.ID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, app *models.LoanApplication) error {
	res, err := s.q.ExecContext(ctx, updateApplication, args(app)...)
	if err != nil {
		return fmt.Errorf("update loan application %s: %w", app.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update loan application %s: %w", app.ID, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*models.LoanApplication, error) {
	return s.findOne(ctx, selectColumns+` WHERE id = $1`, id)
}

func (s *Store) FindByProcessInstanceID(ctx context.Context, processRef string) (*models.LoanApplication, error) {
	return s.findOne(ctx, selectColumns+` WHERE process_instance_id = $1`, processRef)
}

func (s *Store) FindByStatus(ctx context.Context, status models.ApplicationStatus) ([]*models.LoanApplication, error) {
	return s.findMany(ctx, selectColumns+` WHERE status = $1 ORDER BY submission_date, id`, string(status))
}

func (s *Store) FindAll(ctx context.Context) ([]*models.LoanApplication, error) {
	return s.findMany(ctx, selectColumns+` ORDER BY submission_date, id`)
}

func (s *Store) WithinTx(ctx context.Context, fn func(repo repository.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) WithinApplicationTx(ctx context.Context, id string, fn func(repo repository.Repository, app *models.LoanApplication) error) error {
	return s.WithinTx(ctx, func(repo repository.Repository) error {
		txStore := repo.(*Store)
		app, err := txStore.findOne(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		return fn(txStore, app)
	})
}

func (s *Store) findOne(ctx context.Context, query string, arg interface{}) (*models.LoanApplication, error) {
	app, err := scan(s.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select loan application: %w", err)
	}
	return app, nil
}

func (s *Store) findMany(ctx context.Context, query string, queryArgs ...interface{}) ([]*models.LoanApplication, error) {
	rows, err := s.q.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("select loan applications: %w", err)
	}
	defer rows.Close()

	out := []*models.LoanApplication{}
	for rows.Next() {
		app, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan application: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loan applications: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scan(row rowScanner) (*models.LoanApplication, error) {
	var (
		app                                   models.LoanApplication
		status                                string
		loanAmount, annualIncome, riskScore   sql.NullFloat64
		creditScore                           sql.NullInt64
		missingDocs, rejection, transactionID sql.NullString
	)
	err := row.Scan(
		&app.ID, &app.ApplicantName, &app.Email, &loanAmount, &annualIncome, &app.EmploymentStatus,
		&creditScore, &riskScore, &status, &app.ProcessInstanceID, &missingDocs, &rejection,
		&app.AgreementSigned, &app.FundsDisbursed, &transactionID, &app.SubmissionDate, &app.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	app.Status = models.ApplicationStatus(status)
	if loanAmount.Valid {
		app.LoanAmount = models.Float64Ptr(loanAmount.Float64)
	}
	if annualIncome.Valid {
		app.AnnualIncome = models.Float64Ptr(annualIncome.Float64)
	}
	if riskScore.Valid {
		app.RiskScore = models.Float64Ptr(riskScore.Float64)
	}
	if creditScore.Valid {
		app.CreditScore = models.IntPtr(int(creditScore.Int64))
	}
	if missingDocs.Valid {
		app.MissingDocuments = models.StringPtr(missingDocs.String)
	}
	if rejection.Valid {
		app.RejectionReason = models.StringPtr(rejection.String)
	}
	if transactionID.Valid {
		app.DisbursementTransactionID = models.StringPtr(transactionID.String)
	}
	return &app, nil
}

func args(app *models.LoanApplication) []interface{} {
	return []interface{}{
		app.ID,
		app.ApplicantName,
		app.Email,
		nullFloat(app.LoanAmount),
		nullFloat(app.AnnualIncome),
		app.EmploymentStatus,
		nullInt(app.CreditScore),
		nullFloat(app.RiskScore),
		string(app.Status),
		app.ProcessInstanceID,
		nullString(app.MissingDocuments),
		nullString(app.RejectionReason),
		app.AgreementSigned,
		app.FundsDisbursed,
		nullString(app.DisbursementTransactionID),
		app.SubmissionDate,
		app.LastUpdated,
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
