// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// HandlerFunc is the Zeebe job callback every worker package exposes.
type HandlerFunc func(client worker.JobClient, job entities.Job)

// WorkerSet opens job workers against one broker client and closes them together.
type WorkerSet struct {
	client  zbc.Client
	log     logger.Logger
	workers []worker.JobWorker
	types   []string
}

func NewWorkerSet(client zbc.Client, log logger.Logger) *WorkerSet {
	return &WorkerSet{client: client, log: log}
}

// Start opens a worker for taskType unless it is disabled in config.
func (s *WorkerSet) Start(taskType string, wcfg config.WorkerConfig, handler HandlerFunc) {
	if !wcfg.Enabled {
		s.log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}

	jw := s.client.NewJobWorker().
		JobType(taskType).
		Handler(worker.JobHandler(handler)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	s.workers = append(s.workers, jw)
	s.types = append(s.types, taskType)
	s.log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
}

// Types lists the job types with an open worker.
func (s *WorkerSet) Types() []string {
	return append([]string(nil), s.types...)
}

// Close stops every worker and waits for in-flight handlers.
func (s *WorkerSet) Close() {
	for i, w := range s.workers {
		w.Close()
		w.AwaitClose()
		s.log.Info("worker stopped", map[string]interface{}{"taskType": s.types[i]})
	}
	s.workers = nil
	s.types = nil
}
