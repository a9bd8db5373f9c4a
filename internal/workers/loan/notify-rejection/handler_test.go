// internal/workers/loan/notify-rejection/handler_test.go
package notifyrejection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/lock"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/lifecycle"
	"loan-lifecycle/internal/models"
	"loan-lifecycle/internal/repository/gormstore"
	"loan-lifecycle/internal/stages"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	reasons []string
	err     error
}

func (n *recordingNotifier) NotifyRejection(_ context.Context, _ *models.LoanApplication, reason string) error {
	if n.err != nil {
		return n.err
	}
	n.reasons = append(n.reasons, reason)
	return nil
}

func (n *recordingNotifier) NotifyDisbursement(context.Context, *models.LoanApplication, string) error {
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return LoadConfig(config.WorkerConfig{Enabled: true, Timeout: 5000})
}

func createMockJob(variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                501,
		Type:               TaskType,
		ProcessInstanceKey: 500,
		ElementId:          "Activity_NotifyRejection",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

// newStageService runs the real stage service on an in-memory database
// holding one application in status.
func newStageService(t *testing.T, status models.ApplicationStatus, reason *string, notifier *recordingNotifier) (*stages.Service, *gormstore.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := gormstore.NewStore(db)
	ctx := context.Background()
	require.NoError(t, store.AutoMigrate(ctx))
	now := time.Now().UTC()
	require.NoError(t, store.Create(ctx, &models.LoanApplication{
		ID:                "app-1",
		ApplicantName:     "Jane Doe",
		Email:             "jane@example.com",
		LoanAmount:        models.Float64Ptr(40000),
		Status:            status,
		RejectionReason:   reason,
		ProcessInstanceID: "500",
		SubmissionDate:    now,
		LastUpdated:       now,
	}))

	svc := stages.NewService(stages.Deps{
		Store:    store,
		Locker:   lock.NewMemoryLocker(time.Second),
		Notifier: notifier,
		Logger:   logger.NewTestLogger(t),
	})
	return svc, store
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_UsesStoredReason(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newStageService(t, models.StatusCreditRejected,
		models.StringPtr("Credit score too low: 600. Minimum required: 650"), notifier)
	handler := NewHandler(createTestConfig(), svc, nil, logger.NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createMockJob(nil), &Input{ApplicationID: "app-1"})

	require.NoError(t, err)
	assert.Equal(t, true, output[lifecycle.VarNotificationSent])
	assert.Equal(t, "REJECTED", output[lifecycle.VarFinalStatus])
	assert.Equal(t, []string{"Credit score too low: 600. Minimum required: 650"}, notifier.reasons)

	app, err := store.FindByID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, app.Status)
}

func TestHandler_Execute_ReasonFromProcess(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newStageService(t, models.StatusRiskRejected, nil, notifier)
	handler := NewHandler(createTestConfig(), svc, nil, logger.NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createMockJob(nil),
		&Input{ApplicationID: "app-1", RejectionReason: "Risk score too high: 61.00. Maximum acceptable: 50.00"})

	require.NoError(t, err)
	assert.Equal(t, "Risk score too high: 61.00. Maximum acceptable: 50.00", output[lifecycle.VarRejectionReason])
}

func TestHandler_Execute_NotificationFailure(t *testing.T) {
	notifier := &recordingNotifier{err: stderrors.New("MessageRejected")}
	svc, store := newStageService(t, models.StatusCreditRejected, nil, notifier)
	handler := NewHandler(createTestConfig(), svc, nil, logger.NewTestLogger(t))

	_, err := handler.Execute(context.Background(), createMockJob(nil), &Input{ApplicationID: "app-1"})

	assert.True(t, errors.IsCode(err, errors.ErrCodeCollaboratorFailed))
	app, err := store.FindByID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, app.Status)
}

func TestHandler_Execute_UnknownApplication(t *testing.T) {
	svc, _ := newStageService(t, models.StatusCreditRejected, nil, &recordingNotifier{})
	handler := NewHandler(createTestConfig(), svc, nil, logger.NewTestLogger(t))

	_, err := handler.Execute(context.Background(), createMockJob(nil), &Input{ApplicationID: "app-2"})

	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}
