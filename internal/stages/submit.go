package stages

import (
	"context"
	"fmt"
	"strings"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/validation"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository"

	"github.com/google/uuid"
)

// SubmitRequest is an incoming loan application. The credit score is the
// only optional field.
type SubmitRequest struct {
	ApplicantName    string   `json:"applicantName"`
	Email            string   `json:"email"`
	LoanAmount       *float64 `json:"loanAmount"`
	AnnualIncome     *float64 `json:"annualIncome"`
	EmploymentStatus string   `json:"employmentStatus"`
	CreditScore      *int     `json:"creditScore"`
}

// submissionSchema requires the five applicant fields. Nil amounts encode as
// null and fail the number type; blank strings fail the \S pattern.
var submissionSchema = validation.MustCompile(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["applicantName", "email", "loanAmount", "annualIncome", "employmentStatus"],
	"properties": {
		"applicantName":    {"type": "string", "maxLength": 255, "pattern": "\\S"},
		"email":            {"type": "string", "maxLength": 255, "pattern": "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"},
		"loanAmount":       {"type": "number", "exclusiveMinimum": 0},
		"annualIncome":     {"type": "number", "exclusiveMinimum": 0},
		"employmentStatus": {"type": "string", "maxLength": 64, "pattern": "\\S"},
		"creditScore":      {"type": ["integer", "null"], "minimum": 300, "maximum": 850}
	}
}`)

func newApplicationID() string {
	return uuid.NewString()
}

// Submit stores a new application in SUBMITTED and starts its process
// instance. The record and the process reference commit together: if the
// process cannot be started nothing is stored.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.LoanApplication, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	now := s.now()
	app := &models.LoanApplication{
		ID:               s.newID(),
		ApplicantName:    strings.TrimSpace(req.ApplicantName),
		Email:            strings.TrimSpace(req.Email),
		LoanAmount:       req.LoanAmount,
		AnnualIncome:     req.AnnualIncome,
		EmploymentStatus: strings.ToUpper(strings.TrimSpace(req.EmploymentStatus)),
		CreditScore:      req.CreditScore,
		Status:           models.StatusSubmitted,
		SubmissionDate:   now,
		LastUpdated:      now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.store.WithinTx(ctx, func(repo repository.Repository) error {
		if err := repo.Create(ctx, app); err != nil {
			return errors.NewPersistenceError("create application", err)
		}
		ref, err := s.orch.StartProcess(ctx, s.processID, map[string]interface{}{
			"applicationId": app.ID,
			"applicantName": app.ApplicantName,
			"loanAmount":    app.LoanAmount,
		})
		if err != nil {
			return errors.NewCollaboratorError(collaboratorOrchestrator, fmt.Errorf("start process: %w", err))
		}
		app.ProcessInstanceID = ref
		if err := repo.Save(ctx, app); err != nil {
			return errors.NewPersistenceError("save process reference", err)
		}
		return nil
	})
	if err != nil {
		stdErr := errors.Normalize(storeError(err, app.ID, "submit")).WithContext(app.ID, "submission")
		s.log.Warn("Application submission failed", map[string]interface{}{
			"applicationId": app.ID,
			"errorCode":     string(stdErr.Code),
			"error":         stdErr.Error(),
		})
		return nil, stdErr
	}

	metrics.ApplicationsSubmitted.Inc()
	s.log.Info("Application submitted", map[string]interface{}{
		"applicationId":     app.ID,
		"processInstanceId": app.ProcessInstanceID,
	})
	return app, nil
}

func validateSubmission(req SubmitRequest) error {
	result, err := submissionSchema.Validate(req)
	if err != nil {
		return errors.NewValidationError(err.Error())
	}
	if result.Valid {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return errors.NewValidationError(strings.Join(msgs, "; "))
}
