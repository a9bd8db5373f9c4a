package camunda

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"

	"loan-lifecycle/internal/models"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTaskNotFound       = stderrors.New("task not found")
	ErrTaskAlreadyClaimed = stderrors.New("task already claimed by another user")
)

// Inbox keeps activated user-task jobs in Redis until a stage handler
// completes them. Tasks are grouped per process instance in a hash, and a
// second hash maps task ids back to their process instance.
type Inbox struct {
	client redis.UniversalClient
	prefix string
}

func NewInbox(client redis.UniversalClient, prefix string) *Inbox {
	return &Inbox{client: client, prefix: prefix}
}

func (i *Inbox) processKey(processRef string) string {
	return fmt.Sprintf("%s:tasks:%s", i.prefix, processRef)
}

func (i *Inbox) indexKey() string {
	return i.prefix + ":task-index"
}

// Park stores or refreshes a task. A re-activated job keeps its assignee.
func (i *Inbox) Park(ctx context.Context, task models.Task) error {
	if existing, err := i.Get(ctx, task.ID); err == nil {
		if task.Assignee == "" {
			task.Assignee = existing.Assignee
		}
		if !existing.CreatedAt.IsZero() {
			task.CreatedAt = existing.CreatedAt
		}
	} else if !stderrors.Is(err, ErrTaskNotFound) {
		return err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	_, err = i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, i.processKey(task.ProcessRef), task.ID, payload)
		pipe.HSet(ctx, i.indexKey(), task.ID, task.ProcessRef)
		return nil
	})
	if err != nil {
		return fmt.Errorf("park task %s: %w", task.ID, err)
	}
	return nil
}

// List returns the pending tasks of one process instance, oldest first.
func (i *Inbox) List(ctx context.Context, processRef string) ([]models.Task, error) {
	raw, err := i.client.HGetAll(ctx, i.processKey(processRef)).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", processRef, err)
	}
	tasks := make([]models.Task, 0, len(raw))
	for id, payload := range raw {
		var t models.Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}

// Get looks a task up by id.
func (i *Inbox) Get(ctx context.Context, taskID string) (models.Task, error) {
	processRef, err := i.client.HGet(ctx, i.indexKey(), taskID).Result()
	if stderrors.Is(err, redis.Nil) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("lookup task %s: %w", taskID, err)
	}
	payload, err := i.client.HGet(ctx, i.processKey(processRef), taskID).Result()
	if stderrors.Is(err, redis.Nil) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("load task %s: %w", taskID, err)
	}
	var t models.Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return models.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return t, nil
}

// Remove drops a task. Removing an unknown task is not an error.
func (i *Inbox) Remove(ctx context.Context, taskID string) error {
	processRef, err := i.client.HGet(ctx, i.indexKey(), taskID).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup task %s: %w", taskID, err)
	}
	_, err = i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, i.processKey(processRef), taskID)
		pipe.HDel(ctx, i.indexKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove task %s: %w", taskID, err)
	}
	return nil
}

// Claim assigns a task to a user. Claiming a task already held by the same
// user succeeds.
func (i *Inbox) Claim(ctx context.Context, taskID, assignee string) (models.Task, error) {
	processRef, err := i.client.HGet(ctx, i.indexKey(), taskID).Result()
	if stderrors.Is(err, redis.Nil) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("lookup task %s: %w", taskID, err)
	}

	key := i.processKey(processRef)
	var claimed models.Task
	err = i.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.HGet(ctx, key, taskID).Result()
		if stderrors.Is(err, redis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(payload), &claimed); err != nil {
			return err
		}
		if claimed.Assignee != "" && claimed.Assignee != assignee {
			return ErrTaskAlreadyClaimed
		}
		claimed.Assignee = assignee
		updated, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, taskID, updated)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return models.Task{}, err
	}
	return claimed, nil
}

// ListByAssignee returns every pending task for assignee. An empty assignee
// selects unclaimed tasks.
func (i *Inbox) ListByAssignee(ctx context.Context, assignee string) ([]models.Task, error) {
	index, err := i.client.HGetAll(ctx, i.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("scan task index: %w", err)
	}

	seen := map[string]bool{}
	out := []models.Task{}
	for _, processRef := range index {
		if seen[processRef] {
			continue
		}
		seen[processRef] = true
		tasks, err := i.List(ctx, processRef)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Assignee == assignee {
				out = append(out, t)
			}
		}
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(a, b int) bool {
		if !tasks[a].CreatedAt.Equal(tasks[b].CreatedAt) {
			return tasks[a].CreatedAt.Before(tasks[b].CreatedAt)
		}
		return tasks[a].ID < tasks[b].ID
	})
}
