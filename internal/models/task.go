package models

import "time"

// Task is a unit of work the orchestrator is waiting on for one process instance.
type Task struct {
	ID         string    `json:"taskId"`
	StageKey   string    `json:"stageKey"`
	ProcessRef string    `json:"processRef"`
	ElementID  string    `json:"elementId,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
