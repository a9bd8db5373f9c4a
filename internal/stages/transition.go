package stages

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/lock"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/search"
	"loan-lifecycle/internal/lifecycle"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository"
)

// Input carries the optional caller data some stages accept.
type Input struct {
	// CreditScore is a bureau score supplied with the credit-check stage.
	CreditScore *int
	// Reason is the rejection reason for the rejection stage.
	Reason string
}

// Result is what a completed transition reports back to the caller.
type Result struct {
	ApplicationID string                   `json:"applicationId"`
	Stage         lifecycle.Stage          `json:"stage"`
	Status        models.ApplicationStatus `json:"status"`
	TaskID        string                   `json:"taskId"`
	Variables     map[string]interface{}   `json:"variables"`
	Reentry       bool                     `json:"reentry"`
	Record        *models.LoanApplication  `json:"-"`
}

func (s *Service) Review(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageReview, Input{})
}

func (s *Service) CreditCheck(ctx context.Context, id string, supplied *int) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageCreditCheck, Input{CreditScore: supplied})
}

func (s *Service) RiskAssess(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageRiskAssessment, Input{})
}

func (s *Service) Approve(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageApproval, Input{})
}

func (s *Service) PrepareAgreement(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageAgreementPreparation, Input{})
}

func (s *Service) SignAgreement(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageAgreementSigning, Input{})
}

func (s *Service) Disburse(ctx context.Context, id string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageDisbursement, Input{})
}

func (s *Service) Reject(ctx context.Context, id, reason string) (*Result, error) {
	return s.Transition(ctx, id, lifecycle.StageRejection, Input{Reason: reason})
}

// Transition runs stage against the pending orchestrator task for it and
// completes that task once the new state is committed.
func (s *Service) Transition(ctx context.Context, id string, stage lifecycle.Stage, in Input) (*Result, error) {
	return s.run(ctx, id, stage, in, nil)
}

// TransitionForTask runs stage for a task the caller already holds, such as
// an activated job. The caller completes the task with the returned variables.
func (s *Service) TransitionForTask(ctx context.Context, id string, stage lifecycle.Stage, in Input, task models.Task) (*Result, error) {
	return s.run(ctx, id, stage, in, &task)
}

func (s *Service) run(ctx context.Context, id string, stage lifecycle.Stage, in Input, held *models.Task) (*Result, error) {
	start := time.Now()
	log := logger.ForTransition(s.log, id, string(stage))

	res, err := s.execute(ctx, id, stage, in, held, log)
	elapsed := time.Since(start)
	metrics.StageTransitionDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	if err != nil {
		stdErr := errors.Normalize(err).WithContext(id, string(stage))
		metrics.StageTransitions.WithLabelValues(string(stage), metrics.OutcomeFailed).Inc()
		metrics.StageErrors.WithLabelValues(string(stage), string(stdErr.Code)).Inc()
		s.obs.RecordTransition(ctx, string(stage), metrics.OutcomeFailed, elapsed)
		log.Warn("Stage transition failed", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"error":     stdErr.Error(),
		})
		return nil, stdErr
	}

	outcome := metrics.OutcomeCompleted
	if res.Reentry {
		outcome = metrics.OutcomeReentry
	}
	metrics.StageTransitions.WithLabelValues(string(stage), outcome).Inc()
	s.obs.RecordTransition(ctx, string(stage), outcome, elapsed)
	log.Info("Stage transition completed", map[string]interface{}{
		"status":     string(res.Status),
		"reentry":    res.Reentry,
		"taskId":     res.TaskID,
		"durationMs": elapsed.Milliseconds(),
	})
	return res, nil
}

func (s *Service) execute(ctx context.Context, id string, stage lifecycle.Stage, in Input, held *models.Task, log logger.Logger) (*Result, error) {
	key, err := s.keys.Key(stage)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		if stderrors.Is(err, lock.ErrLockBusy) {
			return nil, errors.NewTransitionInProgressError(id)
		}
		return nil, errors.NewCollaboratorError(collaboratorLock, err)
	}
	defer release()

	var (
		decision *lifecycle.Decision
		task     models.Task
	)
	err = s.store.WithinApplicationTx(ctx, id, func(repo repository.Repository, app *models.LoanApplication) error {
		if held != nil {
			task = *held
		} else {
			found, err := s.pendingTask(ctx, app, stage, key)
			if err != nil {
				return err
			}
			task = found
		}

		d, err := s.decide(ctx, stage, app, in)
		if err != nil {
			return err
		}
		if !d.Reentry {
			d.Record.LastUpdated = s.now()
		}
		if err := s.beforeCommit(ctx, d); err != nil {
			return err
		}
		if d.Reentry {
			decision = d
			return nil
		}

		if err := repo.Save(ctx, d.Record); err != nil {
			return errors.NewPersistenceError("save application", err)
		}
		decision = d
		return nil
	})
	if err != nil {
		return nil, storeError(err, id, "transition")
	}

	if err := s.afterCommit(ctx, decision); err != nil {
		return nil, err
	}

	if held == nil {
		if err := s.orch.CompleteTask(ctx, task.ID, decision.Variables); err != nil {
			return nil, errors.NewCollaboratorError(collaboratorOrchestrator,
				fmt.Errorf("complete task %s: %w", task.ID, err))
		}
	}

	s.recordAudit(ctx, decision, task, log)

	return &Result{
		ApplicationID: id,
		Stage:         stage,
		Status:        decision.To,
		TaskID:        task.ID,
		Variables:     decision.Variables,
		Reentry:       decision.Reentry,
		Record:        decision.Record,
	}, nil
}

// pendingTask finds the orchestrator task waiting on stage for app.
func (s *Service) pendingTask(ctx context.Context, app *models.LoanApplication, stage lifecycle.Stage, key string) (models.Task, error) {
	if app.ProcessInstanceID == "" {
		return models.Task{}, errors.NewTaskNotFoundError(app.ID, string(stage), key)
	}
	tasks, err := s.orch.ListPendingTasks(ctx, app.ProcessInstanceID)
	if err != nil {
		return models.Task{}, errors.NewCollaboratorError(collaboratorOrchestrator,
			fmt.Errorf("list pending tasks: %w", err))
	}
	for _, t := range tasks {
		if t.StageKey == key {
			return t, nil
		}
	}
	return models.Task{}, errors.NewTaskNotFoundError(app.ID, string(stage), key)
}

func (s *Service) decide(ctx context.Context, stage lifecycle.Stage, app *models.LoanApplication, in Input) (*lifecycle.Decision, error) {
	switch stage {
	case lifecycle.StageReview:
		return s.engine.Review(app)
	case lifecycle.StageCreditCheck:
		return s.engine.CreditCheck(ctx, app, in.CreditScore)
	case lifecycle.StageRiskAssessment:
		return s.engine.RiskAssess(app)
	case lifecycle.StageApproval:
		return s.engine.Approve(app)
	case lifecycle.StageAgreementPreparation:
		return s.engine.PrepareAgreement(app)
	case lifecycle.StageAgreementSigning:
		return s.engine.SignAgreement(app)
	case lifecycle.StageDisbursement:
		return s.engine.Disburse(app)
	case lifecycle.StageRejection:
		return s.engine.Reject(app, in.Reason)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown stage %q", stage))
	}
}

// beforeCommit pays out a disbursement. A failed payment rolls the
// transition back, so the record never claims funds that did not move. The
// gateway receives the application id as its idempotency key, so a retry
// after a failed commit does not pay twice.
func (s *Service) beforeCommit(ctx context.Context, d *lifecycle.Decision) error {
	if d.Stage != lifecycle.StageDisbursement || d.Reentry {
		return nil
	}
	at := d.Record.LastUpdated
	if d.Record.DisbursementTransactionID != nil && *d.Record.DisbursementTransactionID != "" {
		d.WithTransaction(*d.Record.DisbursementTransactionID, at)
		return nil
	}
	if s.payment == nil {
		return errors.NewCollaboratorError(collaboratorPayment, stderrors.New("no payment gateway configured"))
	}
	txn, err := s.payment.Disburse(ctx, d.Record)
	if err != nil {
		return errors.NewCollaboratorError(collaboratorPayment, err)
	}
	d.WithTransaction(txn, at)
	return nil
}

// afterCommit sends the applicant notifications of the terminal stages.
// notificationSent is true only when a notifier accepted the rejection.
func (s *Service) afterCommit(ctx context.Context, d *lifecycle.Decision) error {
	switch d.Stage {
	case lifecycle.StageRejection:
		reason, _ := d.Variables[lifecycle.VarRejectionReason].(string)
		sent, err := s.notify(func() error { return s.notifier.NotifyRejection(ctx, d.Record, reason) })
		d.Variables[lifecycle.VarNotificationSent] = sent
		if err != nil {
			return err
		}
	case lifecycle.StageDisbursement:
		txn, _ := d.Variables[lifecycle.VarTransactionID].(string)
		if _, err := s.notify(func() error { return s.notifier.NotifyDisbursement(ctx, d.Record, txn) }); err != nil {
			return err
		}
	}
	return nil
}

// notify reports whether a notification went out. Without a notifier nothing
// is sent and nothing fails.
func (s *Service) notify(send func() error) (bool, error) {
	if s.notifier == nil {
		return false, nil
	}
	if err := send(); err != nil {
		return false, errors.NewCollaboratorError(collaboratorNotification, err)
	}
	return true, nil
}

// recordAudit indexes the transition. The audit trail is best effort.
func (s *Service) recordAudit(ctx context.Context, d *lifecycle.Decision, task models.Task, log logger.Logger) {
	trail := make([]string, len(d.Trail))
	for i, st := range d.Trail {
		trail[i] = string(st)
	}
	err := s.audit.Record(ctx, search.Transition{
		ApplicationID:     d.Record.ID,
		ProcessInstanceID: d.Record.ProcessInstanceID,
		Stage:             string(d.Stage),
		From:              string(d.From),
		To:                string(d.To),
		Trail:             trail,
		Reentry:           d.Reentry,
		TaskID:            task.ID,
		Variables:         d.Variables,
		OccurredAt:        s.now(),
	})
	if err != nil {
		log.Warn("Failed to record transition in audit index", map[string]interface{}{"error": err.Error()})
	}
}
