package camunda

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
)

// commandSender issues the two broker commands the orchestrator needs.
type commandSender interface {
	CreateInstance(ctx context.Context, bpmnProcessID string, vars map[string]interface{}) (int64, error)
	CompleteJob(ctx context.Context, jobKey int64, vars map[string]interface{}) error
}

type zeebeSender struct {
	c *Client
}

func (z zeebeSender) CreateInstance(ctx context.Context, bpmnProcessID string, vars map[string]interface{}) (int64, error) {
	res, err := z.c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := z.c.client.NewCreateInstanceCommand().
			BPMNProcessId(bpmnProcessID).
			LatestVersion().
			VariablesFromMap(vars)
		if err != nil {
			return nil, fmt.Errorf("encode process variables: %w", err)
		}
		return cmd.Send(ctx)
	}, "create-process-instance")
	if err != nil {
		return 0, err
	}
	return res.(*pb.CreateProcessInstanceResponse).GetProcessInstanceKey(), nil
}

func (z zeebeSender) CompleteJob(ctx context.Context, jobKey int64, vars map[string]interface{}) error {
	_, err := z.c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := z.c.client.NewCompleteJobCommand().
			JobKey(jobKey).
			VariablesFromMap(vars)
		if err != nil {
			return nil, fmt.Errorf("encode job variables: %w", err)
		}
		return cmd.Send(ctx)
	}, "complete-job")
	return err
}

// Orchestrator fronts the Zeebe broker for the lifecycle: it starts one
// process instance per application, serves pending user tasks from the inbox
// and completes them with stage outcome variables.
type Orchestrator struct {
	sender commandSender
	inbox  *Inbox
	log    logger.Logger
}

func NewOrchestrator(client *Client, inbox *Inbox, log logger.Logger) *Orchestrator {
	return newOrchestrator(zeebeSender{c: client}, inbox, log)
}

func newOrchestrator(sender commandSender, inbox *Inbox, log logger.Logger) *Orchestrator {
	return &Orchestrator{sender: sender, inbox: inbox, log: log}
}

// StartProcess creates a process instance and returns its key as the process reference.
func (o *Orchestrator) StartProcess(ctx context.Context, processKey string, vars map[string]interface{}) (string, error) {
	key, err := o.sender.CreateInstance(ctx, processKey, vars)
	if err != nil {
		return "", err
	}
	ref := strconv.FormatInt(key, 10)
	o.log.Info("Process instance started", map[string]interface{}{
		"bpmnProcessId":      processKey,
		"processInstanceKey": ref,
	})
	return ref, nil
}

func (o *Orchestrator) ListPendingTasks(ctx context.Context, processRef string) ([]models.Task, error) {
	return o.inbox.List(ctx, processRef)
}

// CompleteTask completes the parked job and drops it from the inbox. The
// inbox entry survives a failed completion so the stage can be retried.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string, vars map[string]interface{}) error {
	jobKey, err := strconv.ParseInt(taskID, 10, 64)
	if err != nil {
		return fmt.Errorf("task id %q is not a job key: %w", taskID, err)
	}
	if err := o.sender.CompleteJob(ctx, jobKey, vars); err != nil {
		return err
	}
	if err := o.inbox.Remove(ctx, taskID); err != nil {
		// The job is gone from the broker; a stale entry only costs a failed completion later.
		o.log.Warn("Failed to remove completed task from inbox", map[string]interface{}{
			"taskId": taskID,
			"error":  err.Error(),
		})
	}
	return nil
}

// ClaimTask assigns a pending task to a user. Unknown tasks map to NOT_FOUND
// and tasks held by someone else to PRECONDITION_FAILED.
func (o *Orchestrator) ClaimTask(ctx context.Context, taskID, assignee string) (models.Task, error) {
	task, err := o.inbox.Claim(ctx, taskID, assignee)
	switch {
	case stderrors.Is(err, ErrTaskNotFound):
		return models.Task{}, errors.NewTaskNotFoundError("", "", taskID)
	case stderrors.Is(err, ErrTaskAlreadyClaimed):
		return models.Task{}, errors.NewPreconditionError("", "", err.Error())
	}
	return task, err
}

// TasksForAssignee lists tasks claimed by assignee; "" lists unclaimed tasks.
func (o *Orchestrator) TasksForAssignee(ctx context.Context, assignee string) ([]models.Task, error) {
	return o.inbox.ListByAssignee(ctx, assignee)
}
