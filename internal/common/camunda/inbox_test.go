package camunda

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestInbox(t *testing.T) (*Inbox, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewInbox(client, "loan"), mr
}

func createMockJob(key int64, jobType string, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     jobType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "loan-application-process",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_" + jobType,
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  3,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

func task(id, processRef, stageKey string, createdAt time.Time) models.Task {
	return models.Task{ID: id, ProcessRef: processRef, StageKey: stageKey, CreatedAt: createdAt}
}

// ==========================
// Inbox
// ==========================

func TestInbox_ParkAndList(t *testing.T) {
	inbox, _ := newTestInbox(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, inbox.Park(ctx, task("22", "100", "loan-approval", base.Add(time.Minute))))
	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", base)))
	require.NoError(t, inbox.Park(ctx, task("33", "200", "loan-review", base)))

	tasks, err := inbox.List(ctx, "100")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "11", tasks[0].ID)
	assert.Equal(t, "22", tasks[1].ID)

	empty, err := inbox.List(ctx, "999")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInbox_ReparkKeepsAssigneeAndCreatedAt(t *testing.T) {
	inbox, _ := newTestInbox(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", first)))
	_, err := inbox.Claim(ctx, "11", "alice")
	require.NoError(t, err)

	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", first.Add(time.Hour))))

	got, err := inbox.Get(ctx, "11")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Assignee)
	assert.True(t, got.CreatedAt.Equal(first))
}

func TestInbox_Remove(t *testing.T) {
	inbox, mr := newTestInbox(t)
	ctx := context.Background()

	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", time.Now())))
	require.NoError(t, inbox.Remove(ctx, "11"))

	_, err := inbox.Get(ctx, "11")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, mr.Exists("loan:tasks:100"))

	assert.NoError(t, inbox.Remove(ctx, "unknown"))
}

func TestInbox_Claim(t *testing.T) {
	inbox, _ := newTestInbox(t)
	ctx := context.Background()
	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", time.Now())))

	claimed, err := inbox.Claim(ctx, "11", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", claimed.Assignee)

	_, err = inbox.Claim(ctx, "11", "alice")
	assert.NoError(t, err)

	_, err = inbox.Claim(ctx, "11", "bob")
	assert.ErrorIs(t, err, ErrTaskAlreadyClaimed)

	_, err = inbox.Claim(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestInbox_ListByAssignee(t *testing.T) {
	inbox, _ := newTestInbox(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, inbox.Park(ctx, task("11", "100", "loan-review", base)))
	require.NoError(t, inbox.Park(ctx, task("22", "200", "loan-review", base.Add(time.Second))))
	require.NoError(t, inbox.Park(ctx, task("33", "200", "loan-approval", base.Add(2*time.Second))))
	_, err := inbox.Claim(ctx, "22", "alice")
	require.NoError(t, err)

	mine, err := inbox.ListByAssignee(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "22", mine[0].ID)

	open, err := inbox.ListByAssignee(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "11", open[0].ID)
	assert.Equal(t, "33", open[1].ID)
}

// ==========================
// Task Parker
// ==========================

func TestTaskParker_Park(t *testing.T) {
	inbox, _ := newTestInbox(t)
	parker := NewTaskParker(inbox, logger.NewNoOpLogger())
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	parker.now = func() time.Time { return fixed }

	job := createMockJob(7, "loan-review", map[string]interface{}{"applicationId": "app-1"})
	require.NoError(t, parker.Park(context.Background(), job))

	tasks, err := inbox.List(context.Background(), "70")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "7", tasks[0].ID)
	assert.Equal(t, "loan-review", tasks[0].StageKey)
	assert.Equal(t, "Activity_loan-review", tasks[0].ElementID)
	assert.True(t, tasks[0].CreatedAt.Equal(fixed))
}

func TestTaskParker_ParkRedisDown(t *testing.T) {
	inbox, mr := newTestInbox(t)
	parker := NewTaskParker(inbox, logger.NewNoOpLogger())
	mr.Close()

	err := parker.Park(context.Background(), createMockJob(7, "loan-review", nil))
	assert.Error(t, err)
}
