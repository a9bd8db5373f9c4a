// internal/workers/loan/assess-risk/handler.go
package assessrisk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loan-lifecycle/internal/common/camunda"
	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/observability"
	"loan-lifecycle/internal/lifecycle"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/stages"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "assess-loan-risk"

	// ErrorVariable carries the failure message back to the process.
	ErrorVariable = "riskAssessmentError"
)

// StageRunner applies a lifecycle stage for a job this worker holds.
type StageRunner interface {
	TransitionForTask(ctx context.Context, id string, stage lifecycle.Stage, in stages.Input, task models.Task) (*stages.Result, error)
}

type Handler struct {
	config       *Config
	runner       StageRunner
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
	logger       logger.Logger
}

func NewHandler(config *Config, runner StageRunner, obs *observability.Observability, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
		errorHandler: errors.NewErrorHandler(l),
		obs:          obs,
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, errors.NewValidationError(fmt.Sprintf("parse input: %v", err)), start)
		return
	}

	output, err := h.execute(ctx, job, &input)
	if err != nil {
		h.fail(ctx, client, job, err, start)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobProcessed(ctx, TaskType, "completed", time.Since(start))
}

func (h *Handler) execute(ctx context.Context, job entities.Job, input *Input) (map[string]interface{}, error) {
	if input.ApplicationID == "" {
		return nil, errors.NewValidationError("applicationId is required")
	}

	res, err := h.runner.TransitionForTask(ctx, input.ApplicationID, lifecycle.StageRiskAssessment,
		stages.Input{}, camunda.TaskFromJob(job, time.Now()))
	if err != nil {
		return nil, err
	}

	h.logger.Info("risk assessed", map[string]interface{}{
		"applicationId":  input.ApplicationID,
		"status":         string(res.Status),
		"riskScore":      res.Variables[lifecycle.VarRiskScore],
		"riskAcceptable": res.Variables[lifecycle.VarRiskAcceptable],
	})
	return res.Variables, nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(code)).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed", time.Since(start))
	h.errorHandler.HandleJobError(ctx, client, job, err, map[string]interface{}{
		ErrorVariable: err.Error(),
	})
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output map[string]interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromMap(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(ctx)
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

// Execute runs the risk stage for job without talking to the broker.
func (h *Handler) Execute(ctx context.Context, job entities.Job, input *Input) (map[string]interface{}, error) {
	return h.execute(ctx, job, input)
}
