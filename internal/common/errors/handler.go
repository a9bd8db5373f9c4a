package errors

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler fails or throws Zeebe jobs for errors raised by stage workers.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleJobError fails the job with a decremented retry count when the error is
// transient and retries remain; otherwise it throws a BPMN error.
// extraVars are merged into the variables sent with either command.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error, extraVars map[string]interface{}) {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)
	for k, v := range extraVars {
		bpmnErr.ErrorVariables[k] = v
	}

	remaining := RemainingRetries(job.Retries, bpmnErr.Retries)
	h.logError(job, stdErr, bpmnErr, remaining)

	if bpmnErr.Retryable && remaining > 0 {
		h.failJobWithRetries(ctx, client, job, bpmnErr, remaining)
		return
	}
	h.throwBPMNError(ctx, client, job, bpmnErr)
}

// RemainingRetries decrements the job's retry budget, capped by the policy for the error.
func RemainingRetries(jobRetries int32, policy int) int32 {
	if policy <= 0 || jobRetries <= 1 {
		return 0
	}
	remaining := jobRetries - 1
	if remaining > int32(policy) {
		remaining = int32(policy)
	}
	return remaining
}

func (h *ErrorHandler) failJobWithRetries(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError, retries int32) {
	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(retries).
		ErrorMessage(bpmnErr.Message)

	withVars, err := cmd.VariablesFromMap(bpmnErr.ToErrorVariables())
	if err != nil {
		h.logger.Error("failed to attach error variables", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		if _, sendErr := cmd.Send(ctx); sendErr != nil {
			h.logSendFailure(job, "fail", sendErr)
		}
		return
	}
	if _, err := withVars.Send(ctx); err != nil {
		h.logSendFailure(job, "fail", err)
	}
}

func (h *ErrorHandler) throwBPMNError(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError) {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	withVars, err := cmd.VariablesFromMap(bpmnErr.ToErrorVariables())
	if err != nil {
		if _, sendErr := cmd.Send(ctx); sendErr != nil {
			h.logSendFailure(job, "throw", sendErr)
		}
		return
	}
	if _, err := withVars.Send(ctx); err != nil {
		h.logSendFailure(job, "throw", err)
	}
}

func (h *ErrorHandler) logSendFailure(job entities.Job, command string, err error) {
	h.logger.Error("failed to send job error command", map[string]interface{}{
		"jobKey":  job.Key,
		"command": command,
		"error":   err.Error(),
	})
}

func (h *ErrorHandler) logError(job entities.Job, stdErr *StandardError, bpmnErr *BPMNError, remaining int32) {
	h.logger.Error("Job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        string(stdErr.Code),
		"bpmnErrorCode":    bpmnErr.Code,
		"message":          bpmnErr.Message,
		"details":          stdErr.Details,
		"retryable":        stdErr.Retryable,
		"retriesRemaining": remaining,
		"errorCategory":    GetErrorCategory(stdErr.Code),
		"applicationId":    stdErr.ApplicationID(),
		"stage":            stdErr.Stage(),
		"workflowInstance": job.ProcessInstanceKey,
	})
}
