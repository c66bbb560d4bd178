package models

import "time"

// TaskObservation records that the execution telemetry feed has seen a task
// type run under a workflow. Observations back the registry's candidates()
// discovery aid; they carry no policy weight of their own.
type TaskObservation struct {
	TaskType   string    `json:"task_type" db:"task_type"`
	WorkflowID string    `json:"workflow_id" db:"workflow_id"`
	Count      int64     `json:"count" db:"count"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}

// TableName returns the table name for the TaskObservation model
func (TaskObservation) TableName() string {
	return "task_observations"
}
