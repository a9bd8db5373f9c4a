package stages

import (
	"context"
	stderrors "errors"
	"fmt"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/search"
	"loan-lifecycle/internal/models"
)

func (s *Service) Get(ctx context.Context, id string) (*models.LoanApplication, error) {
	app, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, id, "find application")
	}
	return app, nil
}

func (s *Service) List(ctx context.Context) ([]*models.LoanApplication, error) {
	apps, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, storeError(err, "", "list applications")
	}
	return apps, nil
}

// ListByStatus accepts the status name in any case.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]*models.LoanApplication, error) {
	st, ok := models.ParseStatus(status)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown application status %q", status))
	}
	apps, err := s.store.FindByStatus(ctx, st)
	if err != nil {
		return nil, storeError(err, "", "list applications by status")
	}
	return apps, nil
}

func (s *Service) FindByProcessInstance(ctx context.Context, processRef string) (*models.LoanApplication, error) {
	app, err := s.store.FindByProcessInstanceID(ctx, processRef)
	if err != nil {
		return nil, storeError(err, "", "find application by process instance")
	}
	return app, nil
}

// Tasks lists the orchestrator tasks pending for an application.
func (s *Service) Tasks(ctx context.Context, id string) ([]models.Task, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.ProcessInstanceID == "" {
		return []models.Task{}, nil
	}
	tasks, err := s.orch.ListPendingTasks(ctx, app.ProcessInstanceID)
	if err != nil {
		return nil, errors.NewCollaboratorError(collaboratorOrchestrator, err).WithContext(id, "")
	}
	return tasks, nil
}

// ClaimTask assigns a pending task to a user.
func (s *Service) ClaimTask(ctx context.Context, taskID, assignee string) (models.Task, error) {
	if assignee == "" {
		return models.Task{}, errors.NewValidationError("assignee is required")
	}
	if s.board == nil {
		return models.Task{}, errors.NewCollaboratorError(collaboratorOrchestrator,
			stderrors.New("task assignment is not supported"))
	}
	task, err := s.board.ClaimTask(ctx, taskID, assignee)
	if err != nil {
		if _, ok := errors.AsStandard(err); ok {
			return models.Task{}, err
		}
		return models.Task{}, errors.NewCollaboratorError(collaboratorOrchestrator, err)
	}
	return task, nil
}

func (s *Service) TasksForAssignee(ctx context.Context, assignee string) ([]models.Task, error) {
	if s.board == nil {
		return []models.Task{}, nil
	}
	tasks, err := s.board.TasksForAssignee(ctx, assignee)
	if err != nil {
		return nil, errors.NewCollaboratorError(collaboratorOrchestrator, err)
	}
	return tasks, nil
}

// History returns the recorded transitions of an application, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]search.Transition, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.audit.History(ctx, id)
	if err != nil {
		return nil, errors.NewExternalServiceError("elasticsearch", err).WithContext(id, "")
	}
	return history, nil
}
