package camunda

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// TaskParker activates the jobs of human stages and parks them in the inbox
// instead of completing them. The job stays locked at the broker for the
// worker timeout; the stage handler completes it by key.
type TaskParker struct {
	inbox *Inbox
	log   logger.Logger
	now   func() time.Time
}

func NewTaskParker(inbox *Inbox, log logger.Logger) *TaskParker {
	return &TaskParker{
		inbox: inbox,
		log:   log.WithFields(map[string]interface{}{"component": "task-parker"}),
		now:   time.Now,
	}
}

func (p *TaskParker) Handle(client worker.JobClient, job entities.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Park(ctx, job); err != nil {
		p.failJob(ctx, client, job, err)
	}
}

// TaskFromJob describes an activated job as a lifecycle task. The job key is
// the task id and the job type is the stage key.
func TaskFromJob(job entities.Job, activatedAt time.Time) models.Task {
	return models.Task{
		ID:         strconv.FormatInt(job.Key, 10),
		StageKey:   job.Type,
		ProcessRef: strconv.FormatInt(job.ProcessInstanceKey, 10),
		ElementID:  job.ElementId,
		CreatedAt:  activatedAt.UTC(),
	}
}

// Park records job as a pending task for its process instance.
func (p *TaskParker) Park(ctx context.Context, job entities.Job) error {
	task := TaskFromJob(job, p.now())
	if err := p.inbox.Park(ctx, task); err != nil {
		return err
	}
	p.log.Info("task parked", map[string]interface{}{
		"taskId":     task.ID,
		"stageKey":   task.StageKey,
		"processRef": task.ProcessRef,
	})
	return nil
}

func (p *TaskParker) failJob(ctx context.Context, client worker.JobClient, job entities.Job, cause error) {
	retries := job.Retries - 1
	if retries < 0 {
		retries = 0
	}
	p.log.Error("failed to park task", map[string]interface{}{
		"jobKey":  job.Key,
		"jobType": job.Type,
		"retries": retries,
		"error":   cause,
	})
	_, err := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(retries).
		ErrorMessage(fmt.Sprintf("park task: %v", cause)).
		Send(ctx)
	if err != nil {
		p.log.Error("failed to send fail job command", map[string]interface{}{"error": err})
	}
}
