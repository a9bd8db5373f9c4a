// Package stages runs loan application stage transitions. A transition locks
// the application, matches the orchestrator's pending task, lets the
// lifecycle engine decide, commits the new state and only then signals the
// orchestrator.
package stages

import (
	"context"
	stderrors "errors"
	"time"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/lock"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/observability"
	"loan-lifecycle/internal/common/search"
	"loan-lifecycle/internal/lifecycle"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/notification"
	"loan-lifecycle/internal/payment"
	"loan-lifecycle/internal/repository"
)

// Orchestrator is the workflow engine that owns stage sequencing.
type Orchestrator interface {
	StartProcess(ctx context.Context, processKey string, vars map[string]interface{}) (string, error)
	ListPendingTasks(ctx context.Context, processRef string) ([]models.Task, error)
	CompleteTask(ctx context.Context, taskID string, vars map[string]interface{}) error
}

// TaskBoard lets users claim pending tasks. Optional.
type TaskBoard interface {
	ClaimTask(ctx context.Context, taskID, assignee string) (models.Task, error)
	TasksForAssignee(ctx context.Context, assignee string) ([]models.Task, error)
}

const (
	collaboratorOrchestrator = "orchestrator"
	collaboratorPayment      = "payment"
	collaboratorNotification = "notification"
	collaboratorLock         = "lock"
)

// defaultLockWait bounds how long an in-process transition waits for the
// application lock when no Locker is configured.
const defaultLockWait = 2 * time.Second

// Deps collects the collaborators of a Service.
type Deps struct {
	Store        repository.Store
	Orchestrator Orchestrator
	Board        TaskBoard
	Engine       *lifecycle.Engine
	Keys         lifecycle.StageKeys
	// Locker defaults to an in-process MemoryLocker.
	Locker       lock.Locker
	Payment      payment.Gateway
	Notifier     notification.Notifier
	Audit        search.Recorder
	Obs          *observability.Observability
	Logger       logger.Logger

	// ProcessID is the BPMN process started for every submission.
	ProcessID string
	// Timeout bounds one transition including collaborator calls.
	Timeout time.Duration
}

type Service struct {
	store     repository.Store
	orch      Orchestrator
	board     TaskBoard
	engine    *lifecycle.Engine
	keys      lifecycle.StageKeys
	locker    lock.Locker
	payment   payment.Gateway
	notifier  notification.Notifier
	audit     search.Recorder
	obs       *observability.Observability
	log       logger.Logger
	processID string
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		orch:      d.Orchestrator,
		board:     d.Board,
		engine:    d.Engine,
		keys:      d.Keys,
		locker:    d.Locker,
		payment:   d.Payment,
		notifier:  d.Notifier,
		audit:     d.Audit,
		obs:       d.Obs,
		log:       d.Logger,
		processID: d.ProcessID,
		timeout:   d.Timeout,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     newApplicationID,
	}
	if s.engine == nil {
		s.engine = lifecycle.NewEngine(nil)
	}
	if s.keys == nil {
		s.keys = lifecycle.DefaultStageKeys()
	}
	if s.audit == nil {
		s.audit = search.NopRecorder{}
	}
	if s.log == nil {
		s.log = logger.NewNoOpLogger()
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.locker == nil {
		s.locker = lock.NewMemoryLocker(defaultLockWait)
	}
	return s
}

// withTimeout bounds ctx by the transition timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// storeError maps repository failures onto lifecycle error kinds.
func storeError(err error, applicationID, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsStandard(err); ok {
		return err
	}
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NewApplicationNotFoundError(applicationID)
	}
	return errors.NewPersistenceError(operation, err).WithContext(applicationID, "")
}
